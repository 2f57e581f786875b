package transfer

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/internal/catalog"
	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// unknownLength marks a GET whose object length was not looked up.
const unknownLength = -1

// Get downloads remote into local. A local directory receives the object
// under its base name. state and listener behave as for Put.
func (d *DataObjects) Get(ctx context.Context, remote, local string, state *ControlState, listener StatusListener) error {
	if state == nil {
		state = d.NewControlState()
	}
	if err := precheck(ctx, state, "get"); err != nil {
		return err
	}
	source := catalog.Clean(remote)
	info, err := d.resolver.Stat(ctx, source)
	if err != nil {
		return fault.WithPath(err, source)
	}
	if info.IsCollection() {
		return errors.Errorf("get %s: source is a collection", source)
	}
	target, exists, err := localTarget(local, source)
	if err != nil {
		return err
	}

	run := d.newRun("get", source, target, state, listener)
	run.total = info.Size
	decision, err := evaluateOverwrite(state, listener, source, target, exists, false, run.log)
	if err != nil {
		return run.finish(0, err)
	}
	if decision == skipFile {
		run.skipped()
		return nil
	}

	opts := state.Options()
	run.notify(PhaseStart, 0, nil)
	_, done, err := d.get(ctx, run, opts, info.Size, exists, true)
	if err == nil && opts.ComputeAndVerifyChecksum {
		err = d.verifyLocal(ctx, source, target)
	}
	if err == nil && info.Executable() {
		err = errors.Wrapf(os.Chmod(target, 0o755), "chmod %s", target)
	}
	return run.finish(done, err)
}

// GetClientSide downloads without any catalog or checksum lookups, for
// downloads requested by server-side rules. The object length is not
// known, so parallel transfer is not requested and a descriptor-based read
// runs until the server has no more data. The server descriptor is returned
// and left open; the caller completes it.
func (d *DataObjects) GetClientSide(ctx context.Context, remote, local string, opts Options) (int, error) {
	opts.UseParallelTransfer = false
	state := NewControlState(opts)
	if err := precheck(ctx, state, "get"); err != nil {
		return 0, err
	}
	source := catalog.Clean(remote)
	target, exists, err := localTarget(local, source)
	if err != nil {
		return 0, err
	}
	run := d.newRun("get", source, target, state, nil)
	decision, err := evaluateOverwrite(state, nil, source, target, exists, false, run.log)
	if err != nil {
		return 0, run.finish(0, err)
	}
	if decision == skipFile {
		run.skipped()
		return 0, nil
	}
	handle, done, err := d.get(ctx, run, opts, unknownLength, exists, false)
	return handle, run.finish(done, err)
}

// localTarget resolves where a download lands and whether it exists.
func localTarget(local, source string) (string, bool, error) {
	target := local
	if fi, err := os.Stat(local); err == nil && fi.IsDir() {
		target = filepath.Join(local, path.Base(source))
	}
	fi, err := os.Stat(target)
	switch {
	case os.IsNotExist(err):
		return target, false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "stat %s", target)
	case fi.IsDir():
		return "", false, fault.WithPath(fault.New(fault.OverwriteConflict, "get", "target is a directory"), target)
	}
	return target, true, nil
}

// get issues DATA_OBJ_GET and runs whichever data phase the reply calls
// for. With complete set, an opened descriptor is completed on success.
func (d *DataObjects) get(ctx context.Context, run *fileRun, opts Options, size int64, existed, complete bool) (int, int64, error) {
	out := &localFile{path: run.target, existed: existed}
	rep := run.reporter(opts)
	defer rep.Close()

	handle, err := d.receive(ctx, run, out, opts, size, rep)
	if err == nil {
		err = out.Close()
	}
	if err != nil {
		out.discard()
		return handle, rep.Done(), err
	}
	if complete {
		err = d.complete(ctx, handle)
	}
	return handle, rep.Done(), err
}

func (d *DataObjects) receive(ctx context.Context, run *fileRun, out *localFile, opts Options, size int64, rep *reporter) (int, error) {
	var kv protocol.KeyVals
	if d.cfg.Resource != "" {
		kv.Set(protocol.KeyResc, d.cfg.Resource)
	}
	threads := d.requestThreads(opts)
	resp, err := d.conn.Call(ctx, control.Exchange{
		Request: protocol.GetRequest(run.source, max(size, 0), threads, kv),
		Output:  &countingWriter{w: out, add: rep.Add},
	})
	if err != nil {
		return 0, err
	}

	hdr := resp.Header
	if resp.Body == nil {
		if !hdr.HasBsLen || hdr.BsLen == 0 {
			return 0, fault.New(fault.ObjectNotFound, "get", "server returned neither data nor a descriptor")
		}
		run.log.Debug("single-stream get", "bytes", resp.StreamLen)
		return 0, nil
	}
	reply, err := protocol.DecodePortalOprOut(resp.Body)
	if err != nil {
		return 0, err
	}
	if reply.NumThreads < 0 {
		return 0, fault.Newf(fault.ProtocolViolation, "get", "server returned %d threads", reply.NumThreads)
	}

	switch {
	case !hdr.HasBsLen:
		run.log.Debug("get returned no length, writing placeholder", "handle", reply.Handle)
		_, err := out.open()
		return reply.Handle, err
	case hdr.BsLen > 0 && reply.NumThreads > 0:
		return 0, fault.Newf(fault.ProtocolViolation, "get",
			"server sent %d bytes inline and also granted %d threads", hdr.BsLen, reply.NumThreads)
	case hdr.BsLen > 0:
		run.log.Debug("single-stream get", "bytes", resp.StreamLen, "handle", reply.Handle)
		return reply.Handle, nil
	case reply.NumThreads > 0:
		if err := checkGrant(threads, reply.NumThreads); err != nil {
			return 0, err
		}
		h, err := parallelHandle(reply, d.conn.Account().Host)
		if err != nil {
			return 0, err
		}
		f, err := out.open()
		if err != nil {
			return 0, err
		}
		if err := f.Truncate(size); err != nil {
			return 0, errors.Wrapf(err, "size %s", out.path)
		}
		run.log.Debug("parallel get", "handle", h.FileHandle, "threads", h.Threads)
		return reply.Handle, d.coordinator.Run(ctx, h, f, Download, size, run.state, rep.Add)
	case size == 0:
		_, err := out.open()
		return reply.Handle, err
	}

	// The server vetoed parallel transfer but opened a descriptor.
	run.log.Debug("server declined parallel get, reading on descriptor", "handle", reply.Handle)
	f, err := out.open()
	if err != nil {
		return 0, err
	}
	return reply.Handle, d.readLoop(ctx, run.state, f, reply.Handle, size, rep)
}

// verifyLocal compares the downloaded file with the server's checksum.
func (d *DataObjects) verifyLocal(ctx context.Context, source, target string) error {
	remote, err := d.Checksum(ctx, source)
	if err != nil {
		return err
	}
	local, err := checksum.ComputeFile(target, checksum.EncodingOf(remote))
	if err != nil {
		return err
	}
	if !checksum.Equal(local, remote) {
		return fault.Newf(fault.FileIntegrityFailure, "verify checksum",
			"local checksum %s does not match server checksum %s", local, remote)
	}
	return nil
}
