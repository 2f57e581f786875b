package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sheerbytes/gridflux/internal/capability"
	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/internal/gridtest"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

func testProps(srv *gridtest.Server) config.Properties {
	p := config.Defaults()
	p.Account.Host = srv.Host
	p.Account.Port = srv.Port
	p.Account.User = srv.User
	p.Account.Zone = srv.Zone
	p.Account.Password = srv.Password
	p.ConnectTimeout = time.Second
	p.IOTimeout = 10 * time.Second
	p.ChecksumEncoding = "strong"
	return p
}

func open(t *testing.T, props config.Properties, cache *capability.Cache) *Session {
	t.Helper()
	s, err := Open(context.Background(), props, cache, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	p := config.Defaults()
	_, err := Open(context.Background(), p, nil, nil)
	if !fault.Is(err, fault.ConfigurationError) {
		t.Fatalf("Open() error = %v, want configuration error", err)
	}
}

func TestOpenBadPassword(t *testing.T) {
	srv := gridtest.Start(t)
	p := testProps(srv)
	p.Account.Password = "wrong"
	if _, err := Open(context.Background(), p, nil, nil); err == nil {
		t.Fatal("Open() with a bad password succeeded")
	}
}

func TestChecksumNegotiatedOncePerServer(t *testing.T) {
	srv := gridtest.Start(t)
	cache := capability.NewCache()
	s := open(t, testProps(srv), cache)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		enc, err := s.ChecksumEncoding(ctx)
		if err != nil {
			t.Fatalf("ChecksumEncoding() error = %v", err)
		}
		if enc != checksum.SHA256 {
			t.Fatalf("ChecksumEncoding() = %v, want SHA256", enc)
		}
	}
	if n := srv.Calls(protocol.APIGetMiscSvrInfo); n != 1 {
		t.Fatalf("server info calls = %d, want 1", n)
	}

	// A second session sharing the cache reuses the answer.
	other := open(t, testProps(srv), cache)
	if _, err := other.ChecksumEncoding(ctx); err != nil {
		t.Fatal(err)
	}
	if n := srv.Calls(protocol.APIGetMiscSvrInfo); n != 1 {
		t.Fatalf("server info calls = %d after second session, want 1", n)
	}
	if s.ID == other.ID {
		t.Fatal("sessions share an id")
	}
}

func TestInvalidateServerProperties(t *testing.T) {
	srv := gridtest.Start(t, gridtest.WithRelease("rods3.3.1"))
	s := open(t, testProps(srv), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		props, err := s.ServerProperties(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if props.IsConsortium() {
			t.Fatalf("rods3.3.1 reported as consortium: %+v", props)
		}
	}
	s.InvalidateServerProperties()
	if _, err := s.ServerProperties(ctx); err != nil {
		t.Fatal(err)
	}
	if n := srv.Calls(protocol.APIGetMiscSvrInfo); n != 2 {
		t.Fatalf("server info calls = %d, want 2", n)
	}
}

func TestSessionTransfers(t *testing.T) {
	srv := gridtest.Start(t)
	p := testProps(srv)
	p.Transfer.VerifyChecksum = true
	s := open(t, p, nil)
	ctx := context.Background()

	dir := t.TempDir()
	local := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(local, []byte("grid data"), 0o644); err != nil {
		t.Fatal(err)
	}
	remote := srv.Home() + "/in.txt"

	state := s.NewControlState()
	if err := s.DataObjects().Put(ctx, local, remote, state, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if c := state.Counters(); c.FilesCompleted != 1 || c.Bytes != 9 {
		t.Fatalf("counters = %+v", c)
	}
	obj, ok := srv.Object(remote)
	if !ok || string(obj.Data) != "grid data" || obj.Checksum == "" {
		t.Fatalf("stored object = %+v, %v", obj, ok)
	}

	out := filepath.Join(dir, "out.txt")
	if err := s.DataObjects().Get(ctx, remote, out, nil, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil || string(got) != "grid data" {
		t.Fatalf("downloaded %q, %v", got, err)
	}
}
