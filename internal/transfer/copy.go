package transfer

import (
	"context"
	"path"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/internal/catalog"
	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// Copy copies a data object to another logical path on the server. The
// overwrite policy applies to dst as it does for Put.
func (d *DataObjects) Copy(ctx context.Context, src, dst string, state *ControlState, listener StatusListener) error {
	if state == nil {
		state = d.NewControlState()
	}
	if err := precheck(ctx, state, "copy"); err != nil {
		return err
	}
	source := catalog.Clean(src)
	info, err := d.resolver.Stat(ctx, source)
	if err != nil {
		return fault.WithPath(err, source)
	}
	if info.IsCollection() {
		return errors.Errorf("copy %s: source is a collection", source)
	}

	target := catalog.Clean(dst)
	existing, exists, err := catalog.Lookup(ctx, d.resolver, target)
	if err != nil {
		return fault.WithPath(err, target)
	}
	if exists && existing.IsCollection() {
		target = catalog.Join(target, path.Base(source))
		if existing, exists, err = catalog.Lookup(ctx, d.resolver, target); err != nil {
			return fault.WithPath(err, target)
		}
		if exists && existing.IsCollection() {
			return fault.WithPath(fault.New(fault.OverwriteConflict, "copy", "target is a collection"), target)
		}
	}
	if target == source {
		return fault.WithPath(fault.New(fault.OverwriteConflict, "copy", "source and target are the same object"), target)
	}

	run := d.newRun("copy", source, target, state, listener)
	run.total = info.Size
	decision, err := evaluateOverwrite(state, listener, source, target, exists, false, run.log)
	if err != nil {
		return run.finish(0, err)
	}
	if decision == skipFile {
		run.skipped()
		return nil
	}

	run.notify(PhaseStart, 0, nil)
	_, err = d.conn.Call(ctx, control.Exchange{
		Request: protocol.CopyRequest(source, target, d.cfg.Resource, decision == proceedWithForce),
	})
	if err != nil {
		return run.finish(0, err)
	}
	return run.finish(info.Size, nil)
}

// Replicate makes a new replica of remote on resource. An empty resource
// means the configured default.
func (d *DataObjects) Replicate(ctx context.Context, remote, resource string) error {
	if resource == "" {
		resource = d.cfg.Resource
	}
	p := catalog.Clean(remote)
	if resource == "" {
		return fault.WithPath(fault.New(fault.ConfigurationError, "replicate", "no target resource"), p)
	}
	_, err := d.conn.Call(ctx, control.Exchange{Request: protocol.ReplicateRequest(p, resource)})
	if err != nil {
		return fault.WithPath(err, p)
	}
	d.log.Info("replicated", "path", p, "resource", resource)
	return nil
}

// Checksum asks the server to compute (or return the registered) checksum
// of remote.
func (d *DataObjects) Checksum(ctx context.Context, remote string) (string, error) {
	p := catalog.Clean(remote)
	resp, err := d.conn.Call(ctx, control.Exchange{Request: protocol.ChecksumRequest(p)})
	if err != nil {
		return "", fault.WithPath(err, p)
	}
	sum, err := protocol.DecodeStr(resp.Body)
	if err != nil {
		return "", err
	}
	return sum, nil
}
