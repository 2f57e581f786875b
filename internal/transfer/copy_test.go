package transfer

import (
	"bytes"
	"context"
	"testing"

	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

func TestCopy(t *testing.T) {
	h := newHarness(t, testConfig())
	data := pattern(500)
	h.srv.PutObject(h.remote("a"), data, protocol.ModeDefault)

	if err := h.do.Copy(context.Background(), h.remote("a"), h.remote("b"), nil, nil); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	h.assertObject(t, h.remote("b"), data)
	h.assertObject(t, h.remote("a"), data)
}

func TestCopyIntoCollection(t *testing.T) {
	h := newHarness(t, testConfig())
	data := pattern(40)
	h.srv.PutObject(h.remote("a"), data, protocol.ModeDefault)
	h.srv.MakeCollection(h.remote("dir"))

	if err := h.do.Copy(context.Background(), h.remote("a"), h.remote("dir"), nil, nil); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	h.assertObject(t, h.remote("dir/a"), data)
}

func TestCopyOverwrite(t *testing.T) {
	tests := []struct {
		name    string
		force   ForceOption
		wantErr bool
		want    []byte
	}{
		{"no force", NoForce, true, []byte("old")},
		{"force", UseForce, false, []byte("new")},
		{"skip existing", SkipExisting, false, []byte("old")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.srv.PutObject(h.remote("a"), []byte("new"), protocol.ModeDefault)
			h.srv.PutObject(h.remote("b"), []byte("old"), protocol.ModeDefault)
			state := NewControlState(Options{Force: tt.force})

			err := h.do.Copy(context.Background(), h.remote("a"), h.remote("b"), state, nil)
			if tt.wantErr {
				if !fault.Is(err, fault.OverwriteConflict) {
					t.Fatalf("Copy() error = %v, want overwrite conflict", err)
				}
				if n := h.srv.Calls(protocol.APIDataObjCopy); n != 0 {
					t.Fatalf("copy calls = %d, want 0", n)
				}
			} else if err != nil {
				t.Fatalf("Copy() error = %v", err)
			}
			h.assertObject(t, h.remote("b"), tt.want)
		})
	}
}

func TestCopyOntoItself(t *testing.T) {
	h := newHarness(t, testConfig())
	h.srv.PutObject(h.remote("a"), []byte("x"), protocol.ModeDefault)
	state := NewControlState(Options{Force: UseForce})

	err := h.do.Copy(context.Background(), h.remote("a"), h.remote("a"), state, nil)
	if !fault.Is(err, fault.OverwriteConflict) {
		t.Fatalf("Copy() error = %v, want overwrite conflict", err)
	}
}

func TestReplicate(t *testing.T) {
	cfg := testConfig()
	cfg.Resource = "defaultResc"
	h := newHarness(t, cfg)
	h.srv.PutObject(h.remote("a"), []byte("x"), protocol.ModeDefault)
	ctx := context.Background()

	if err := h.do.Replicate(ctx, h.remote("a"), "archiveResc"); err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}
	if err := h.do.Replicate(ctx, h.remote("a"), ""); err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}
	obj, _ := h.srv.Object(h.remote("a"))
	if len(obj.Replicas) != 2 || obj.Replicas[0] != "archiveResc" || obj.Replicas[1] != "defaultResc" {
		t.Fatalf("replicas = %v", obj.Replicas)
	}

	if err := h.do.Replicate(ctx, h.remote("missing"), "archiveResc"); !fault.Is(err, fault.ObjectNotFound) {
		t.Fatalf("Replicate(missing) error = %v, want object not found", err)
	}
}

func TestReplicateWithoutResource(t *testing.T) {
	h := newHarness(t, testConfig())
	h.srv.PutObject(h.remote("a"), []byte("x"), protocol.ModeDefault)

	err := h.do.Replicate(context.Background(), h.remote("a"), "")
	if !fault.Is(err, fault.ConfigurationError) {
		t.Fatalf("Replicate() error = %v, want configuration error", err)
	}
	if n := h.srv.Calls(protocol.APIDataObjRepl); n != 0 {
		t.Fatalf("replicate calls = %d, want 0", n)
	}
}

func TestChecksum(t *testing.T) {
	h := newHarness(t, testConfig())
	data := pattern(1000)
	h.srv.PutObject(h.remote("a"), data, protocol.ModeDefault)

	got, err := h.do.Checksum(context.Background(), h.remote("a"))
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	want, err := checksum.Compute(bytes.NewReader(data), checksum.MD5)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("Checksum() = %q, want %q", got, want)
	}
}
