package transfer

// CallbackResponse answers an overwrite question.
type CallbackResponse int

const (
	// Cancel skips this file and cancels the rest of the operation.
	Cancel CallbackResponse = iota
	YesThisFile
	NoThisFile
	// YesForAll overwrites this and every later existing target.
	YesForAll
	// NoForAll skips this and every later existing target.
	NoForAll
)

func (r CallbackResponse) String() string {
	switch r {
	case Cancel:
		return "cancel"
	case YesThisFile:
		return "yes"
	case NoThisFile:
		return "no"
	case YesForAll:
		return "yes for all"
	case NoForAll:
		return "no for all"
	}
	return "unknown"
}

// OverwriteArbiter decides whether an existing target may be replaced. It is
// called synchronously and the transfer waits for the answer.
type OverwriteArbiter interface {
	AskToForce(source string, isCollection bool) CallbackResponse
}

// Phase is the stage a Status reports.
type Phase int

const (
	PhaseStart Phase = iota + 1
	PhaseProgress
	PhaseComplete
	PhaseSkipped
	PhaseFailure
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseProgress:
		return "progress"
	case PhaseComplete:
		return "complete"
	case PhaseSkipped:
		return "skipped"
	case PhaseFailure:
		return "failure"
	}
	return "unknown"
}

// Status is one notification about a file transfer.
type Status struct {
	TransferID string
	// Operation is "put", "get" or "copy".
	Operation  string
	Phase      Phase
	Source     string
	Target     string
	BytesDone  int64
	TotalBytes int64
	// Err is set for PhaseFailure.
	Err error
}

// StatusListener receives transfer notifications. Progress notifications
// arrive on a separate goroutine; the others on the caller's. A listener
// that also implements OverwriteArbiter is asked about existing targets.
type StatusListener interface {
	StatusCallback(Status)
}

// StatusFunc adapts a function to StatusListener.
type StatusFunc func(Status)

func (f StatusFunc) StatusCallback(s Status) { f(s) }
