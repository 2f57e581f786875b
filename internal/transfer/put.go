package transfer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/internal/catalog"
	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// Put uploads the local file to remote. A remote collection receives the
// file under its base name. state may be nil; listener may be nil and, if it
// implements OverwriteArbiter, is asked about existing targets.
func (d *DataObjects) Put(ctx context.Context, local, remote string, state *ControlState, listener StatusListener) error {
	if state == nil {
		state = d.NewControlState()
	}
	if err := precheck(ctx, state, "put"); err != nil {
		return err
	}
	fi, err := statSource(local)
	if err != nil {
		return err
	}

	target := catalog.Clean(remote)
	info, exists, err := catalog.Lookup(ctx, d.resolver, target)
	if err != nil {
		return fault.WithPath(err, target)
	}
	if exists && info.IsCollection() {
		target = catalog.Join(target, filepath.Base(local))
		if info, exists, err = catalog.Lookup(ctx, d.resolver, target); err != nil {
			return fault.WithPath(err, target)
		}
		if exists && info.IsCollection() {
			return fault.WithPath(fault.New(fault.OverwriteConflict, "put", "target is a collection"), target)
		}
	}

	run := d.newRun("put", local, target, state, listener)
	run.total = fi.Size()
	decision, err := evaluateOverwrite(state, listener, local, target, exists, false, run.log)
	if err != nil {
		return run.finish(0, err)
	}
	if decision == skipFile {
		run.skipped()
		return nil
	}

	opts := state.Options()
	run.notify(PhaseStart, 0, nil)
	done, err := d.put(ctx, run, fi, opts, decision == proceedWithForce, true)
	return run.finish(done, err)
}

// PutClientSide uploads without consulting the catalog: no target
// resolution, no overwrite questions and no checksum negotiation. It serves
// uploads requested by server-side rules, where extra queries would
// interleave with the rule's own exchange.
func (d *DataObjects) PutClientSide(ctx context.Context, local, remote string, opts Options) error {
	state := NewControlState(opts)
	if err := precheck(ctx, state, "put"); err != nil {
		return err
	}
	fi, err := statSource(local)
	if err != nil {
		return err
	}
	run := d.newRun("put", local, catalog.Clean(remote), state, nil)
	run.total = fi.Size()
	done, err := d.put(ctx, run, fi, opts, opts.Force == UseForce, false)
	return run.finish(done, err)
}

// statSource checks the local source before anything is sent.
func statSource(local string) (os.FileInfo, error) {
	fi, err := os.Stat(local)
	if os.IsNotExist(err) {
		return nil, fault.WithPath(fault.Wrap(fault.ObjectNotFound, "put", err), local)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", local)
	}
	if fi.IsDir() {
		return nil, errors.Errorf("put %s: source is a directory", local)
	}
	return fi, nil
}

func (d *DataObjects) put(ctx context.Context, run *fileRun, fi os.FileInfo, opts Options, force, withChecksum bool) (int64, error) {
	var kv protocol.KeyVals
	if force {
		kv.Set(protocol.KeyForce, "")
	}
	if d.cfg.Resource != "" {
		kv.Set(protocol.KeyDestResc, d.cfg.Resource)
	}
	if withChecksum && (opts.ComputeChecksum || opts.ComputeAndVerifyChecksum) {
		enc, err := d.encoding(ctx)
		if err != nil {
			return 0, err
		}
		sum, err := checksum.ComputeFile(run.source, enc)
		if err != nil {
			return 0, err
		}
		run.log.Debug("local checksum", "encoding", enc, "checksum", sum)
		if opts.ComputeAndVerifyChecksum {
			kv.Set(protocol.KeyVerifyChksum, sum)
		} else {
			kv.Set(protocol.KeyRegChksum, sum)
		}
	}

	f, err := os.Open(run.source)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", run.source)
	}
	defer f.Close()

	rep := run.reporter(opts)
	defer rep.Close()

	size := fi.Size()
	executable := fi.Mode()&0o111 != 0
	if size < d.cfg.SingleBufferThreshold {
		kv.Set(protocol.KeyDataIncluded, "")
		run.log.Debug("single-stream put", "bytes", size)
		_, err := d.conn.Call(ctx, control.Exchange{
			Request:  protocol.PutRequest(run.target, size, 0, executable, kv),
			Input:    &countingReader{r: f, add: rep.Add},
			InputLen: size,
		})
		return rep.Done(), err
	}

	threads := d.requestThreads(opts)
	resp, err := d.conn.Call(ctx, control.Exchange{
		Request: protocol.PutRequest(run.target, size, threads, executable, kv),
	})
	if err != nil {
		return 0, err
	}
	out, err := protocol.DecodePortalOprOut(resp.Body)
	if err != nil {
		return 0, err
	}
	if err := checkGrant(threads, out.NumThreads); err != nil {
		return 0, err
	}
	run.log.Debug("put opened", "handle", out.Handle, "threads", out.NumThreads)

	if out.NumThreads == 0 {
		err = d.writeLoop(ctx, run.state, f, out.Handle, size, rep)
	} else {
		var h ParallelHandle
		if h, err = parallelHandle(out, d.conn.Account().Host); err == nil {
			err = d.coordinator.Run(ctx, h, f, Upload, size, run.state, rep.Add)
		}
	}
	if err != nil {
		return rep.Done(), err
	}
	return rep.Done(), d.complete(ctx, out.Handle)
}

// complete finalises a server descriptor. Handles <= 0 were never opened.
func (d *DataObjects) complete(ctx context.Context, handle int) error {
	if handle <= 0 {
		return nil
	}
	return d.conn.OperationComplete(ctx, handle)
}
