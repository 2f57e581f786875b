package transfer

import (
	"log/slog"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

// overwriteDecision is the outcome of checking an existing target.
type overwriteDecision int

const (
	proceed overwriteDecision = iota
	proceedWithForce
	skipFile
)

// evaluateOverwrite applies the state's force policy to a target. source is
// what the arbiter is asked about. Answers that apply to the remaining files
// are written back into state.
func evaluateOverwrite(state *ControlState, listener StatusListener, source, target string, exists, isCollection bool, log *slog.Logger) (overwriteDecision, error) {
	if !exists {
		return proceed, nil
	}
	switch state.Force() {
	case UseForce:
		return proceedWithForce, nil
	case SkipExisting:
		return skipFile, nil
	case AskCallback:
	default:
		return proceed, fault.WithPath(fault.New(fault.OverwriteConflict, "check target",
			"target exists and force is not set"), target)
	}

	arbiter, ok := listener.(OverwriteArbiter)
	if !ok {
		return proceed, fault.WithPath(fault.New(fault.OverwriteConflict, "check target",
			"target exists and no arbiter was given"), target)
	}
	answer := arbiter.AskToForce(source, isCollection)
	log.Debug("overwrite answered", "source", source, "target", target, "answer", answer)
	switch answer {
	case YesThisFile:
		return proceedWithForce, nil
	case NoThisFile:
		return skipFile, nil
	case YesForAll:
		state.SetForce(UseForce)
		return proceedWithForce, nil
	case NoForAll:
		state.SetForce(SkipExisting)
		return skipFile, nil
	case Cancel:
		state.Cancel()
		return skipFile, nil
	}
	return proceed, fault.Newf(fault.ProtocolViolation, "check target", "unknown overwrite answer %d", int(answer))
}
