package transfer

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		total   int64
		threads int
		last    int64
	}{
		{10007, 4, 2504},
		{100, 3, 34},
		{3, 8, 3},
		{0, 2, 0},
		{1 << 20, 1, 1 << 20},
	}
	for _, tt := range tests {
		got := Partition(tt.total, tt.threads)
		if len(got) != tt.threads {
			t.Fatalf("Partition(%d, %d) returned %d ranges", tt.total, tt.threads, len(got))
		}
		var next int64
		for i, r := range got {
			if r.Offset != next || r.Length < 0 {
				t.Fatalf("Partition(%d, %d)[%d] = %+v, want offset %d", tt.total, tt.threads, i, r, next)
			}
			next = r.End()
		}
		if next != tt.total {
			t.Fatalf("Partition(%d, %d) covers %d bytes", tt.total, tt.threads, next)
		}
		if l := got[len(got)-1].Length; l != tt.last {
			t.Fatalf("Partition(%d, %d) last length = %d, want %d", tt.total, tt.threads, l, tt.last)
		}
	}
	if got := Partition(10, 0); got != nil {
		t.Fatalf("Partition(10, 0) = %v, want nil", got)
	}
}

// memFile is a File backed by a fixed slice.
type memFile struct{ b []byte }

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.b[off:], p), nil
}

// dataServer speaks the server side of the data socket protocol over a
// shared buffer.
type dataServer struct {
	ln     net.Listener
	cookie int
	buf    []byte
	conns  atomic.Int32
	served atomic.Int32
}

func startDataServer(t *testing.T, cookie int, buf []byte) *dataServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &dataServer{ln: ln, cookie: cookie, buf: buf}
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(nc)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *dataServer) serve(nc net.Conn) {
	defer s.served.Add(1)
	defer nc.Close()
	if c, err := protocol.ReadCookie(nc); err != nil || c != s.cookie {
		return
	}
	s.conns.Add(1)
	for {
		hdr, err := protocol.ReadDataHeader(nc)
		if err != nil || hdr.Opr == protocol.OprDone {
			return
		}
		region := s.buf[hdr.Offset : hdr.Offset+hdr.Length]
		switch hdr.Opr {
		case protocol.OprPut:
			if _, err := io.ReadFull(nc, region); err != nil {
				return
			}
		case protocol.OprGet:
			if _, err := nc.Write(region); err != nil {
				return
			}
		}
	}
}

// waitServed waits until n connections have been handled to the end.
func (s *dataServer) waitServed(t *testing.T, n int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.served.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("served %d connections, want %d", s.served.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *dataServer) handle(threads int) ParallelHandle {
	addr := s.ln.Addr().(*net.TCPAddr)
	return ParallelHandle{Host: addr.IP.String(), Port: addr.Port, Cookie: s.cookie, Threads: threads, FileHandle: 3}
}

func testCoordinator() *Coordinator {
	return NewCoordinator(chunkPoolFor(testBufSize), 8, time.Second, 5*time.Second, nil)
}

func TestCoordinatorRoundTrip(t *testing.T) {
	for _, threads := range []int{1, 3, 8} {
		data := pattern(largeSize)
		remote := make([]byte, largeSize)
		srv := startDataServer(t, 42, remote)
		c := testCoordinator()

		var sent atomic.Int64
		err := c.Run(context.Background(), srv.handle(threads), &memFile{b: data}, Upload, largeSize, nil, func(n int64) { sent.Add(n) })
		if err != nil {
			t.Fatalf("threads %d: upload error = %v", threads, err)
		}
		srv.waitServed(t, int32(threads))
		if !bytes.Equal(remote, data) || sent.Load() != largeSize {
			t.Fatalf("threads %d: upload mismatch, reported %d bytes", threads, sent.Load())
		}

		back := &memFile{b: make([]byte, largeSize)}
		if err := c.Run(context.Background(), srv.handle(threads), back, Download, largeSize, nil, nil); err != nil {
			t.Fatalf("threads %d: download error = %v", threads, err)
		}
		if !bytes.Equal(back.b, data) {
			t.Fatalf("threads %d: download mismatch", threads)
		}
		srv.waitServed(t, int32(2*threads))
		if n := srv.conns.Load(); n != int32(2*threads) {
			t.Fatalf("threads %d: connections = %d", threads, n)
		}
	}
}

func TestCoordinatorEmptyRanges(t *testing.T) {
	srv := startDataServer(t, 7, make([]byte, 2))
	err := testCoordinator().Run(context.Background(), srv.handle(4), &memFile{b: []byte{1, 2}}, Upload, 2, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	srv.waitServed(t, 4)
	if n := srv.conns.Load(); n != 4 {
		t.Fatalf("connections = %d, want 4", n)
	}
}

func TestCoordinatorRejectsThreadCounts(t *testing.T) {
	c := testCoordinator()
	for _, threads := range []int{0, -2, 9} {
		h := ParallelHandle{Host: "127.0.0.1", Port: 1, Threads: threads}
		err := c.Run(context.Background(), h, &memFile{}, Download, 10, nil, nil)
		if !fault.Is(err, fault.ProtocolViolation) {
			t.Errorf("threads %d: error = %v, want protocol violation", threads, err)
		}
	}
}

func TestCoordinatorConnectionFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			nc.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	h := ParallelHandle{Host: "127.0.0.1", Port: addr.Port, Cookie: 1, Threads: 2}

	err = testCoordinator().Run(context.Background(), h, &memFile{b: make([]byte, 4096)}, Download, 4096, nil, nil)
	if !fault.Is(err, fault.ConnectionFailure) {
		t.Fatalf("Run() error = %v, want connection failure", err)
	}
}

func TestCoordinatorCancelled(t *testing.T) {
	srv := startDataServer(t, 9, make([]byte, largeSize))
	state := NewControlState(Options{})
	state.Cancel()

	err := testCoordinator().Run(context.Background(), srv.handle(2), &memFile{b: pattern(largeSize)}, Upload, largeSize, state, nil)
	if !fault.Is(err, fault.Cancelled) {
		t.Fatalf("Run() with cancelled state = %v, want cancelled", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = testCoordinator().Run(ctx, srv.handle(2), &memFile{b: pattern(largeSize)}, Upload, largeSize, nil, nil)
	if !fault.Is(err, fault.Cancelled) {
		t.Fatalf("Run() with cancelled context = %v, want cancelled", err)
	}
}

func TestParallelHandle(t *testing.T) {
	_, err := parallelHandle(protocol.PortalOprOut{Handle: 3, NumThreads: 2}, "grid.example.org")
	if !fault.Is(err, fault.ProtocolViolation) {
		t.Fatalf("missing portal: error = %v", err)
	}
	h, err := parallelHandle(protocol.PortalOprOut{
		Handle:     3,
		NumThreads: 2,
		Portal:     &protocol.PortList{Port: 20000, Cookie: 5},
	}, "grid.example.org")
	if err != nil {
		t.Fatal(err)
	}
	if h.Address() != "grid.example.org:20000" || h.Cookie != 5 || h.FileHandle != 3 {
		t.Fatalf("handle = %+v", h)
	}
}
