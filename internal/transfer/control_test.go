package transfer

import (
	"sync"
	"testing"

	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

func TestParseForce(t *testing.T) {
	tests := []struct {
		in   string
		want ForceOption
	}{
		{"", NoForce},
		{"no", NoForce},
		{"YES", UseForce},
		{" ask ", AskCallback},
		{"skip", SkipExisting},
	}
	for _, tt := range tests {
		got, err := ParseForce(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseForce(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseForce("maybe"); !fault.Is(err, fault.ConfigurationError) {
		t.Fatalf("ParseForce(maybe) error = %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	tc := config.Transfer{
		UseParallelTransfer: true,
		MaxParallelThreads:  6,
		VerifyChecksum:      true,
		Force:               "yes",
	}
	got, err := OptionsFromConfig(tc)
	if err != nil {
		t.Fatal(err)
	}
	want := Options{Force: UseForce, UseParallelTransfer: true, MaxThreads: 6, ComputeAndVerifyChecksum: true}
	if got != want {
		t.Fatalf("OptionsFromConfig() = %+v, want %+v", got, want)
	}
}

func TestControlStateSnapshotsOptions(t *testing.T) {
	opts := Options{Force: AskCallback}
	s := NewControlState(opts)
	snap := s.Options()
	s.SetForce(UseForce)
	if snap.Force != AskCallback || opts.Force != AskCallback {
		t.Fatal("SetForce changed an earlier snapshot")
	}
	if s.Force() != UseForce {
		t.Fatalf("Force() = %v", s.Force())
	}
}

func TestControlStateConcurrentCounters(t *testing.T) {
	s := NewControlState(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddBytes(10)
				s.FileCompleted()
				_ = s.Options()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SetForce(UseForce)
		s.Cancel()
	}()
	wg.Wait()

	c := s.Counters()
	if c.Bytes != 8000 || c.FilesCompleted != 800 {
		t.Fatalf("counters = %+v", c)
	}
	if !s.Cancelled() {
		t.Fatal("Cancelled() = false after Cancel")
	}
}

type fixedArbiter struct {
	answer CallbackResponse
	asked  int
}

func (a *fixedArbiter) StatusCallback(Status) {}

func (a *fixedArbiter) AskToForce(string, bool) CallbackResponse {
	a.asked++
	return a.answer
}

func TestEvaluateOverwrite(t *testing.T) {
	tests := []struct {
		name      string
		force     ForceOption
		exists    bool
		answer    CallbackResponse
		want      overwriteDecision
		wantErr   bool
		wantForce ForceOption
		cancelled bool
	}{
		{name: "missing target", force: NoForce, want: proceed, wantForce: NoForce},
		{name: "no force", force: NoForce, exists: true, wantErr: true, wantForce: NoForce},
		{name: "force", force: UseForce, exists: true, want: proceedWithForce, wantForce: UseForce},
		{name: "skip existing", force: SkipExisting, exists: true, want: skipFile, wantForce: SkipExisting},
		{name: "yes", force: AskCallback, exists: true, answer: YesThisFile, want: proceedWithForce, wantForce: AskCallback},
		{name: "no", force: AskCallback, exists: true, answer: NoThisFile, want: skipFile, wantForce: AskCallback},
		{name: "yes for all", force: AskCallback, exists: true, answer: YesForAll, want: proceedWithForce, wantForce: UseForce},
		{name: "no for all", force: AskCallback, exists: true, answer: NoForAll, want: skipFile, wantForce: SkipExisting},
		{name: "cancel", force: AskCallback, exists: true, answer: Cancel, want: skipFile, wantForce: AskCallback, cancelled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewControlState(Options{Force: tt.force})
			arb := &fixedArbiter{answer: tt.answer}
			got, err := evaluateOverwrite(state, arb, "/z/src", "/z/dst", tt.exists, false, logging.Discard())
			if tt.wantErr {
				if !fault.Is(err, fault.OverwriteConflict) {
					t.Fatalf("error = %v, want overwrite conflict", err)
				}
			} else if err != nil || got != tt.want {
				t.Fatalf("evaluateOverwrite() = %v, %v; want %v", got, err, tt.want)
			}
			if state.Force() != tt.wantForce {
				t.Fatalf("force after = %v, want %v", state.Force(), tt.wantForce)
			}
			if state.Cancelled() != tt.cancelled {
				t.Fatalf("cancelled = %v, want %v", state.Cancelled(), tt.cancelled)
			}
			if asked := arb.asked > 0; asked != (tt.force == AskCallback && tt.exists) {
				t.Fatalf("arbiter asked %d times", arb.asked)
			}
		})
	}
}
