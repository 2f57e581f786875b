package transfer

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/gridflux/internal/bufpool"
	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// Direction says which way bytes flow on the data sockets.
type Direction int

const (
	// Upload reads the local file and sends it (PUT).
	Upload Direction = iota
	// Download receives into the local file (GET).
	Download
)

func (d Direction) opr() int32 {
	if d == Download {
		return protocol.OprGet
	}
	return protocol.OprPut
}

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// ParallelHandle is what the server handed out for a parallel transfer.
type ParallelHandle struct {
	Host       string
	Port       int
	Cookie     int
	Threads    int
	FileHandle int
}

// Address returns host:port of the data port.
func (h ParallelHandle) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// parallelHandle builds a handle from a transfer reply. An empty portal host
// means the control connection's host.
func parallelHandle(out protocol.PortalOprOut, controlHost string) (ParallelHandle, error) {
	if out.Portal == nil {
		return ParallelHandle{}, fault.Newf(fault.ProtocolViolation, "parallel transfer",
			"server granted %d threads without a port list", out.NumThreads)
	}
	h := ParallelHandle{
		Host:       out.Portal.Host,
		Port:       out.Portal.Port,
		Cookie:     out.Portal.Cookie,
		Threads:    out.NumThreads,
		FileHandle: out.Handle,
	}
	if h.Host == "" {
		h.Host = controlHost
	}
	return h, nil
}

// File is the local side of a parallel transfer.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// Coordinator moves one file over several data sockets at once.
type Coordinator struct {
	pool        *bufpool.Pool
	maxThreads  int
	dialTimeout time.Duration
	ioTimeout   time.Duration
	log         *slog.Logger
}

// NewCoordinator creates a coordinator. A server grant above maxThreads is
// rejected; maxThreads <= 0 means no limit.
func NewCoordinator(pool *bufpool.Pool, maxThreads int, dialTimeout, ioTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		pool:        pool,
		maxThreads:  maxThreads,
		dialTimeout: dialTimeout,
		ioTimeout:   ioTimeout,
		log:         logging.OrDiscard(logger),
	}
}

// Run opens h.Threads data sockets, gives each one range of [0, total) and
// waits for all of them. The first failure cancels the others and is
// returned; nothing is retried. Run does not complete the handle.
func (c *Coordinator) Run(ctx context.Context, h ParallelHandle, file File, dir Direction, total int64, state *ControlState, onBytes func(int64)) error {
	if h.Threads <= 0 {
		return fault.Newf(fault.ProtocolViolation, "parallel transfer", "invalid thread count %d", h.Threads)
	}
	if c.maxThreads > 0 && h.Threads > c.maxThreads {
		return fault.Newf(fault.ProtocolViolation, "parallel transfer",
			"server granted %d threads, limit is %d", h.Threads, c.maxThreads)
	}
	if onBytes == nil {
		onBytes = func(int64) {}
	}

	ranges := Partition(total, h.Threads)
	started := time.Now()
	c.log.Debug("parallel transfer starting", "direction", dir, "threads", h.Threads,
		"address", h.Address(), "bytes", total)

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		g.Go(func() error {
			if err := c.worker(gctx, h, file, dir, r, state, onBytes); err != nil {
				return errors.Wrapf(err, "worker %d (%d+%d)", i, r.Offset, r.Length)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("parallel transfer failed", "direction", dir, "error", err)
		return c.classify(ctx, state, err)
	}
	c.log.Debug("parallel transfer finished", "direction", dir, "elapsed", time.Since(started))
	return nil
}

func (c *Coordinator) classify(ctx context.Context, state *ControlState, err error) error {
	switch {
	case fault.KindOf(err) != fault.Unknown:
		return err
	case ctx.Err() != nil:
		return fault.Wrap(fault.Cancelled, "parallel transfer", err)
	case state != nil && state.Cancelled():
		return fault.Wrap(fault.Cancelled, "parallel transfer", err)
	}
	return fault.Wrap(fault.ConnectionFailure, "parallel transfer", err)
}

func (c *Coordinator) worker(ctx context.Context, h ParallelHandle, file File, dir Direction, r Range, state *ControlState, onBytes func(int64)) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", h.Address())
	if err != nil {
		return errors.Wrapf(err, "connect to %s", h.Address())
	}
	defer nc.Close()
	sock := &dataSocket{Conn: nc, ioTimeout: c.ioTimeout}
	stop := context.AfterFunc(ctx, sock.abort)
	defer stop()

	if err := sock.extend(); err != nil {
		return err
	}
	if err := protocol.WriteCookie(nc, h.Cookie); err != nil {
		return err
	}
	if r.Length > 0 {
		hdr := protocol.DataHeader{Opr: dir.opr(), Offset: r.Offset, Length: r.Length}
		if err := protocol.WriteDataHeader(nc, hdr); err != nil {
			return err
		}
		if err := c.copyRange(sock, file, dir, r, state, onBytes); err != nil {
			return err
		}
	}
	return protocol.WriteDataHeader(nc, protocol.DataHeader{Opr: protocol.OprDone})
}

func (c *Coordinator) copyRange(nc *dataSocket, file File, dir Direction, r Range, state *ControlState, onBytes func(int64)) error {
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	offset := r.Offset
	for offset < r.End() {
		if state != nil && state.Cancelled() {
			return fault.New(fault.Cancelled, "parallel transfer", "cancelled")
		}
		if err := nc.extend(); err != nil {
			return err
		}
		chunk := buf[:c.pool.ChunkLen(r.End()-offset)]
		switch dir {
		case Upload:
			n, err := file.ReadAt(chunk, offset)
			if n < len(chunk) {
				if err == nil || err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return errors.Wrapf(err, "read local file at %d", offset)
			}
			if _, err := nc.Write(chunk); err != nil {
				return errors.Wrap(err, "data socket write")
			}
		case Download:
			if _, err := io.ReadFull(nc, chunk); err != nil {
				return errors.Wrap(err, "data socket read")
			}
			if _, err := file.WriteAt(chunk, offset); err != nil {
				return errors.Wrapf(err, "write local file at %d", offset)
			}
		}
		offset += int64(len(chunk))
		onBytes(int64(len(chunk)))
	}
	return nil
}

// dataSocket is a data connection whose deadline is pushed forward per
// chunk until abort, after which it stays in the past.
type dataSocket struct {
	net.Conn
	ioTimeout time.Duration

	mu      sync.Mutex
	aborted bool
}

func (s *dataSocket) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	_ = s.SetDeadline(time.Unix(1, 0))
}

func (s *dataSocket) extend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return context.Canceled
	}
	if s.ioTimeout > 0 {
		return s.SetDeadline(time.Now().Add(s.ioTimeout))
	}
	return nil
}
