package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/gridflux/internal/capability"
	"github.com/sheerbytes/gridflux/internal/catalog"
	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/internal/gridtest"
)

const (
	testThreshold = 1024
	testBufSize   = 512
	largeSize     = 10007
)

type harness struct {
	srv *gridtest.Server
	do  *DataObjects
	dir string
}

func testConfig() Config {
	return Config{
		SingleBufferThreshold: testThreshold,
		MaxParallelThreads:    4,
		BufferSize:            testBufSize,
		DialTimeout:           time.Second,
		IOTimeout:             10 * time.Second,
	}
}

func newHarness(t *testing.T, cfg Config, opts ...gridtest.Option) *harness {
	t.Helper()
	srv := gridtest.Start(t, opts...)
	conn, err := control.Dial(context.Background(), control.Account{
		Host: srv.Host, Port: srv.Port, User: srv.User, Zone: srv.Zone, Password: srv.Password,
	}, control.Options{ConnectTimeout: time.Second, IOTimeout: 10 * time.Second}, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	neg := checksum.NewNegotiator(capability.NewCache(), config.Defaults(), conn, nil)
	return &harness{
		srv: srv,
		do:  NewDataObjects(conn, catalog.NewStatResolver(conn), neg, cfg, nil),
		dir: t.TempDir(),
	}
}

func (h *harness) writeLocal(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func (h *harness) remote(name string) string {
	return h.srv.Home() + "/" + name
}

func (h *harness) assertObject(t *testing.T, path string, want []byte) {
	t.Helper()
	obj, ok := h.srv.Object(path)
	if !ok {
		t.Fatalf("object %s not stored", path)
	}
	if !bytes.Equal(obj.Data, want) {
		t.Fatalf("object %s: got %d bytes, want %d (contents differ)", path, len(obj.Data), len(want))
	}
}

func assertLocal(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("file %s: got %d bytes, want %d (contents differ)", path, len(got), len(want))
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// recorder collects notifications and answers overwrite questions from a
// queue, defaulting to NoThisFile.
type recorder struct {
	mu      sync.Mutex
	answers []CallbackResponse
	asked   []string
	events  []Status
}

func (r *recorder) StatusCallback(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) AskToForce(source string, isCollection bool) CallbackResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked = append(r.asked, source)
	if len(r.answers) == 0 {
		return NoThisFile
	}
	a := r.answers[0]
	r.answers = r.answers[1:]
	return a
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, len(r.events))
	for i, e := range r.events {
		out[i] = e.Phase
	}
	return out
}

func (r *recorder) asks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.asked)
}

func TestConfigFrom(t *testing.T) {
	p := config.Defaults()
	p.Transfer.Force = "ask"
	p.Account.DefaultResource = "demoResc"

	cfg, err := ConfigFrom(p)
	if err != nil {
		t.Fatalf("ConfigFrom() error = %v", err)
	}
	if cfg.Defaults.Force != AskCallback || !cfg.Defaults.UseParallelTransfer {
		t.Fatalf("defaults = %+v", cfg.Defaults)
	}
	if cfg.Resource != "demoResc" || cfg.SingleBufferThreshold != config.DefaultSingleBufferThreshold {
		t.Fatalf("cfg = %+v", cfg)
	}

	p.Transfer.Force = "sometimes"
	if _, err := ConfigFrom(p); err == nil {
		t.Fatal("expected error for unknown force policy")
	}
}

func TestRequestThreads(t *testing.T) {
	do := &DataObjects{cfg: Config{MaxParallelThreads: 4}}
	tests := []struct {
		opts Options
		want int
	}{
		{Options{}, -1},
		{Options{UseParallelTransfer: true}, 4},
		{Options{UseParallelTransfer: true, MaxThreads: 2}, 2},
		{Options{UseParallelTransfer: true, MaxThreads: 16}, 4},
	}
	for _, tt := range tests {
		if got := do.requestThreads(tt.opts); got != tt.want {
			t.Errorf("requestThreads(%+v) = %d, want %d", tt.opts, got, tt.want)
		}
	}
}

func TestCheckGrant(t *testing.T) {
	tests := []struct {
		requested, granted int
		ok                 bool
	}{
		{4, 4, true},
		{4, 2, true},
		{4, 0, true},
		{-1, 0, true},
		{4, 5, false},
		{-1, 1, false},
		{4, -1, false},
	}
	for _, tt := range tests {
		err := checkGrant(tt.requested, tt.granted)
		if (err == nil) != tt.ok {
			t.Errorf("checkGrant(%d, %d) = %v, want ok=%v", tt.requested, tt.granted, err, tt.ok)
		}
	}
}
