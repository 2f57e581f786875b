package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/internal/gridtest"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

func TestStatResolver(t *testing.T) {
	srv := gridtest.Start(t)
	srv.PutObject(srv.Home()+"/tool.sh", []byte("#!/bin/sh\n"), 0o100755)

	conn, err := control.Dial(context.Background(), control.Account{
		Host: srv.Host, Port: srv.Port, User: srv.User, Zone: srv.Zone, Password: srv.Password,
	}, control.Options{ConnectTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	r := NewStatResolver(conn)
	ctx := context.Background()

	info, err := r.Stat(ctx, srv.Home()+"/tool.sh")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Kind != DataObject || info.Size != 10 || !info.Executable() {
		t.Fatalf("info = %+v", info)
	}

	info, err = r.Stat(ctx, srv.Home())
	if err != nil || !info.IsCollection() {
		t.Fatalf("home = %+v, %v", info, err)
	}

	_, err = r.Stat(ctx, srv.Home()+"/absent")
	if !fault.Is(err, fault.ObjectNotFound) {
		t.Fatalf("Stat(absent) error = %v", err)
	}
	_, ok, err := Lookup(ctx, r, srv.Home()+"/absent")
	if ok || err != nil {
		t.Fatalf("Lookup(absent) = %v, %v", ok, err)
	}
}

func TestPaths(t *testing.T) {
	tests := []struct {
		in, parent, leaf string
	}{
		{"/z/home/u/f.txt", "/z/home/u", "f.txt"},
		{"/z/home/u/", "/z/home", "u"},
		{"z/a", "/z", "a"},
		{"/", "/", ""},
	}
	for _, tt := range tests {
		parent, leaf := Split(tt.in)
		if parent != tt.parent || leaf != tt.leaf {
			t.Errorf("Split(%q) = %q, %q", tt.in, parent, leaf)
		}
	}
	if got := Join("/z/home/u/", "f"); got != "/z/home/u/f" {
		t.Errorf("Join() = %q", got)
	}
}
