package protocol

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want fault.Kind
	}{
		{code: 0, want: fault.Unknown},
		{code: 12, want: fault.Unknown},
		{code: -312000, want: fault.OverwriteConflict},
		{code: -312002, want: fault.OverwriteConflict},
		{code: -310000, want: fault.ObjectNotFound},
		{code: -358000, want: fault.ObjectNotFound},
		{code: -808000, want: fault.ObjectNotFound},
		{code: -809000, want: fault.DuplicateMetadata},
		{code: -314000, want: fault.FileIntegrityFailure},
		{code: -826000, want: fault.ConnectionFailure},
		{code: -999999, want: fault.ProtocolViolation},
		{code: -17, want: fault.ProtocolViolation},
	}
	for _, tt := range tests {
		if got := Classify(tt.code); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode(-312002); got != -312000 {
		t.Fatalf("NormalizeCode(-312002) = %d", got)
	}
	if got := NormalizeCode(-5); got != -5 {
		t.Fatalf("NormalizeCode(-5) = %d", got)
	}
}

func TestNewServerErrorKeepsCause(t *testing.T) {
	err := NewServerError("put", -999000, "unheard of")
	if !errors.Is(err, fault.ProtocolViolation) {
		t.Fatalf("unknown code not classified as protocol violation: %v", err)
	}
	var se *ServerError
	if !errors.As(err, &se) || se.Code != -999000 {
		t.Fatalf("ServerError not reachable from %v", err)
	}
	if fault.CodeOf(err) != -999000 {
		t.Fatalf("CodeOf() = %d", fault.CodeOf(err))
	}
}

func TestErrorMessage(t *testing.T) {
	raw := ErrorSection(-312000, "overwrite without force").Render()
	if got := ErrorMessage(raw); got != "overwrite without force" {
		t.Fatalf("ErrorMessage() = %q", got)
	}
	if got := ErrorMessage(nil); got != "" {
		t.Fatalf("ErrorMessage(nil) = %q", got)
	}
}
