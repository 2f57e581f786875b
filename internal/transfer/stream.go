package transfer

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// writeLoop sends size bytes from r with DATA_OBJ_WRITE on an open handle.
func (d *DataObjects) writeLoop(ctx context.Context, state *ControlState, r io.Reader, handle int, size int64, rep *reporter) error {
	if handle <= 0 {
		return fault.Newf(fault.ProtocolViolation, "write", "no descriptor for single-connection put (handle %d)", handle)
	}
	buf := d.pool.Get()
	defer d.pool.Put(buf)

	var sent int64
	for sent < size {
		if err := precheck(ctx, state, "write"); err != nil {
			return err
		}
		chunk := buf[:d.pool.ChunkLen(size-sent)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return errors.Wrapf(err, "read local file at %d", sent)
		}
		resp, err := d.conn.Call(ctx, control.Exchange{
			Request:  protocol.WriteRequest(handle, len(chunk)),
			Input:    bytes.NewReader(chunk),
			InputLen: int64(len(chunk)),
		})
		if err != nil {
			return err
		}
		if resp.Status() != len(chunk) {
			return fault.Newf(fault.ProtocolViolation, "write", "server wrote %d of %d bytes", resp.Status(), len(chunk))
		}
		sent += int64(len(chunk))
		rep.Add(int64(len(chunk)))
	}
	return nil
}

// readLoop receives into w with DATA_OBJ_READ on an open handle. A negative
// size reads until the server returns no more data.
func (d *DataObjects) readLoop(ctx context.Context, state *ControlState, w io.Writer, handle int, size int64, rep *reporter) error {
	if handle <= 0 {
		return fault.Newf(fault.ProtocolViolation, "read", "no descriptor for single-connection get (handle %d)", handle)
	}
	sink := &countingWriter{w: w, add: rep.Add}
	var got int64
	for size < 0 || got < size {
		if err := precheck(ctx, state, "read"); err != nil {
			return err
		}
		want := d.pool.BufSize()
		if size >= 0 {
			want = d.pool.ChunkLen(size - got)
		}
		resp, err := d.conn.Call(ctx, control.Exchange{
			Request: protocol.ReadRequest(handle, want),
			Output:  sink,
		})
		if err != nil {
			return err
		}
		if resp.StreamLen != int64(resp.Status()) || resp.StreamLen > int64(want) {
			return fault.Newf(fault.ProtocolViolation, "read",
				"server reported %d bytes, sent %d, asked for %d", resp.Status(), resp.StreamLen, want)
		}
		if resp.StreamLen == 0 {
			if size < 0 {
				return nil
			}
			return fault.Newf(fault.ProtocolViolation, "read", "object ended at %d of %d bytes", got, size)
		}
		got += resp.StreamLen
	}
	return nil
}

// localFile creates the download target on first use, so a failed request
// leaves nothing behind.
type localFile struct {
	path string
	// existed marks a target that was there before the transfer; it is
	// never removed.
	existed bool
	f       *os.File
	opened  bool
}

func (l *localFile) open() (*os.File, error) {
	if l.f != nil {
		return l.f, nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", l.path)
	}
	l.f = f
	l.opened = true
	return f, nil
}

func (l *localFile) Write(p []byte) (int, error) {
	f, err := l.open()
	if err != nil {
		return 0, err
	}
	return f.Write(p)
}

func (l *localFile) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return errors.Wrapf(err, "close %s", l.path)
}

// discard removes the file if this transfer created it.
func (l *localFile) discard() {
	_ = l.Close()
	if l.opened && !l.existed {
		_ = os.Remove(l.path)
	}
}
