package transfer

import (
	"strings"

	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

// ForceOption is the overwrite policy for an existing target.
type ForceOption int

const (
	// NoForce fails with OverwriteConflict when the target exists.
	NoForce ForceOption = iota
	// UseForce replaces existing targets.
	UseForce
	// AskCallback asks the listener's OverwriteArbiter for each existing
	// target.
	AskCallback
	// SkipExisting leaves existing targets alone and skips the file. It is
	// what a "no for all" answer turns AskCallback into.
	SkipExisting
)

func (f ForceOption) String() string {
	switch f {
	case NoForce:
		return config.ForceNo
	case UseForce:
		return config.ForceYes
	case AskCallback:
		return config.ForceAsk
	case SkipExisting:
		return config.ForceSkip
	}
	return "unknown"
}

// ParseForce reads a configured force policy.
func ParseForce(s string) (ForceOption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", config.ForceNo:
		return NoForce, nil
	case config.ForceYes:
		return UseForce, nil
	case config.ForceAsk:
		return AskCallback, nil
	case config.ForceSkip:
		return SkipExisting, nil
	}
	return NoForce, fault.Newf(fault.ConfigurationError, "parse force", "unrecognised force policy %q", s)
}

// Options are the per-transfer settings. The zero value means no force,
// no parallel transfer and no checksums.
type Options struct {
	Force               ForceOption
	UseParallelTransfer bool
	// MaxThreads is the thread count asked of the server. Zero or a value
	// above the session maximum means the session maximum.
	MaxThreads int
	// ComputeChecksum registers a client-computed checksum with the object.
	ComputeChecksum bool
	// ComputeAndVerifyChecksum has the server (PUT) or client (GET) compare
	// checksums after the data phase.
	ComputeAndVerifyChecksum bool
	// IntraFileStatusCallbacks enables progress reports within a file.
	IntraFileStatusCallbacks bool
}

// Clone returns an independent copy.
func (o Options) Clone() Options {
	return o
}

// OptionsFromConfig derives default options from the transfer section of the
// configuration.
func OptionsFromConfig(t config.Transfer) (Options, error) {
	force, err := ParseForce(t.Force)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Force:                    force,
		UseParallelTransfer:      t.UseParallelTransfer,
		MaxThreads:               t.MaxParallelThreads,
		ComputeChecksum:          t.ComputeChecksum,
		ComputeAndVerifyChecksum: t.VerifyChecksum,
		IntraFileStatusCallbacks: t.IntraFileStatusCallbacks,
	}, nil
}
