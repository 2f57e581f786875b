package fault

import (
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(ObjectNotFound, "stat", "no such object")
	wrapped := errors.Wrap(base, "get /z/home/u/f")

	if got := KindOf(wrapped); got != ObjectNotFound {
		t.Fatalf("KindOf() = %v, want %v", got, ObjectNotFound)
	}
	if !errors.Is(wrapped, ObjectNotFound) {
		t.Fatal("errors.Is did not match the kind sentinel")
	}
	if Is(wrapped, Cancelled) {
		t.Fatal("Is matched the wrong kind")
	}
	if KindOf(io.EOF) != Unknown || Is(nil, Unknown) {
		t.Fatal("unclassified errors should be Unknown and nil should match nothing")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(ConnectionFailure, "dial", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	err := Wrap(ConnectionFailure, "dial", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("cause lost")
	}
}

func TestWithPath(t *testing.T) {
	base := &Error{Kind: OverwriteConflict, Op: "put", Code: -312000, Err: errors.New("exists")}
	got := WithPath(base, "/z/home/u/f")

	if base.Path != "" {
		t.Fatal("WithPath modified its argument")
	}
	msg := got.Error()
	for _, want := range []string{"put: overwrite conflict", "(/z/home/u/f)", "[status -312000]", "exists"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if CodeOf(got) != -312000 {
		t.Fatalf("CodeOf() = %d", CodeOf(got))
	}
	if again := WithPath(got, "/other"); again != got {
		t.Fatal("an existing path was replaced")
	}
	if WithPath(nil, "/x") != nil {
		t.Fatal("WithPath(nil) should be nil")
	}
	if plain := errors.New("plain"); WithPath(plain, "/x") != plain {
		t.Fatal("unclassified errors should pass through")
	}
}

func TestKindString(t *testing.T) {
	if FileIntegrityFailure.String() != "file integrity failure" {
		t.Fatalf("String() = %q", FileIntegrityFailure.String())
	}
	if Kind(99).String() != "kind(99)" {
		t.Fatalf("String() = %q", Kind(99).String())
	}
}
