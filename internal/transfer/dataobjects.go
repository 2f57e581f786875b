package transfer

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/sheerbytes/gridflux/internal/bufpool"
	"github.com/sheerbytes/gridflux/internal/catalog"
	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

const (
	defaultBufferSize = config.DefaultBufferSize
	defaultMaxThreads = config.DefaultMaxParallelThreads
)

// Conn is the control connection as the orchestrator uses it.
type Conn interface {
	catalog.Caller
	OperationComplete(ctx context.Context, handle int) error
	Account() control.Account
}

// Negotiator picks the checksum algorithm for a server.
type Negotiator interface {
	Determine(ctx context.Context, host, zone string) (checksum.Encoding, error)
}

// Config is the static part of the transfer settings.
type Config struct {
	// Defaults seed control states created by NewControlState.
	Defaults Options
	// SingleBufferThreshold is the file size from which PUT asks for a
	// parallel transfer instead of sending the data inline.
	SingleBufferThreshold int64
	// MaxParallelThreads caps the threads asked for and accepted.
	MaxParallelThreads int
	// BufferSize is the chunk size of read/write loops and data workers.
	BufferSize int
	// Resource is the storage resource named in requests, if any.
	Resource    string
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// ConfigFrom derives a Config from loaded properties.
func ConfigFrom(p config.Properties) (Config, error) {
	opts, err := OptionsFromConfig(p.Transfer)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Defaults:              opts,
		SingleBufferThreshold: p.Transfer.SingleBufferThreshold,
		MaxParallelThreads:    p.Transfer.MaxParallelThreads,
		BufferSize:            p.Transfer.BufferSize,
		Resource:              p.Account.DefaultResource,
		DialTimeout:           p.ConnectTimeout,
		IOTimeout:             p.IOTimeout,
	}, nil
}

// DataObjects transfers data objects over one control connection. Files are
// handled one at a time; concurrent calls are serialised by the connection.
type DataObjects struct {
	conn        Conn
	resolver    catalog.Resolver
	negotiator  Negotiator
	cfg         Config
	pool        *bufpool.Pool
	coordinator *Coordinator
	log         *slog.Logger
}

// NewDataObjects wires an orchestrator. logger may be nil.
func NewDataObjects(conn Conn, resolver catalog.Resolver, negotiator Negotiator, cfg Config, logger *slog.Logger) *DataObjects {
	if cfg.MaxParallelThreads <= 0 {
		cfg.MaxParallelThreads = defaultMaxThreads
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	log := logging.OrDiscard(logger)
	pool := chunkPoolFor(cfg.BufferSize)
	return &DataObjects{
		conn:        conn,
		resolver:    resolver,
		negotiator:  negotiator,
		cfg:         cfg,
		pool:        pool,
		coordinator: NewCoordinator(pool, cfg.MaxParallelThreads, cfg.DialTimeout, cfg.IOTimeout, log),
		log:         log,
	}
}

// NewControlState returns a state seeded with the configured defaults.
func (d *DataObjects) NewControlState() *ControlState {
	return NewControlState(d.cfg.Defaults)
}

// requestThreads is the numThreads to ask for: -1 when parallel transfer is
// off, else the smaller of the option and the configured cap.
func (d *DataObjects) requestThreads(o Options) int {
	if !o.UseParallelTransfer {
		return -1
	}
	n := o.MaxThreads
	if n <= 0 || n > d.cfg.MaxParallelThreads {
		n = d.cfg.MaxParallelThreads
	}
	return n
}

// checkGrant rejects thread counts the request did not allow.
func checkGrant(requested, granted int) error {
	limit := requested
	if limit < 0 {
		limit = 0
	}
	if granted < 0 {
		return fault.Newf(fault.ProtocolViolation, "parallel transfer", "server returned %d threads", granted)
	}
	if granted > limit {
		return fault.Newf(fault.ProtocolViolation, "parallel transfer",
			"server granted %d threads, asked for %d", granted, requested)
	}
	return nil
}

// encoding resolves the checksum algorithm for this connection's server.
func (d *DataObjects) encoding(ctx context.Context) (checksum.Encoding, error) {
	acct := d.conn.Account()
	return d.negotiator.Determine(ctx, acct.Host, acct.Zone)
}

// fileRun carries the per-file notification context.
type fileRun struct {
	id       string
	op       string
	source   string
	target   string
	total    int64
	state    *ControlState
	listener StatusListener
	log      *slog.Logger
}

func (d *DataObjects) newRun(op, source, target string, state *ControlState, listener StatusListener) *fileRun {
	id := uuid.NewString()
	return &fileRun{
		id:       id,
		op:       op,
		source:   source,
		target:   target,
		state:    state,
		listener: listener,
		log:      d.log.With("transfer_id", id, "op", op),
	}
}

func (r *fileRun) notify(phase Phase, done int64, err error) {
	if r.listener == nil {
		return
	}
	r.listener.StatusCallback(Status{
		TransferID: r.id,
		Operation:  r.op,
		Phase:      phase,
		Source:     r.source,
		Target:     r.target,
		BytesDone:  done,
		TotalBytes: r.total,
		Err:        err,
	})
}

// reporter returns a byte reporter that forwards intra-file progress when
// the options ask for it.
func (r *fileRun) reporter(opts Options) *reporter {
	var deliver func(int64)
	if opts.IntraFileStatusCallbacks && r.listener != nil {
		deliver = func(done int64) { r.notify(PhaseProgress, done, nil) }
	}
	return newReporter(r.state, r.total, deliver)
}

func (r *fileRun) skipped() {
	r.state.FileSkipped()
	r.log.Info("skipped existing target", "source", r.source, "target", r.target)
	r.notify(PhaseSkipped, 0, nil)
}

// finish records the outcome and returns err annotated with the target.
func (r *fileRun) finish(done int64, err error) error {
	if err != nil {
		err = fault.WithPath(err, r.target)
		r.state.FileFailed()
		r.log.Warn("transfer failed", "source", r.source, "target", r.target, "error", err)
		r.notify(PhaseFailure, done, err)
		return err
	}
	r.state.FileCompleted()
	r.log.Info("transfer complete", "source", r.source, "target", r.target,
		"bytes", done, "size", humanize.IBytes(uint64(done)))
	r.notify(PhaseComplete, done, nil)
	return nil
}

// precheck fails fast when the operation was cancelled.
func precheck(ctx context.Context, state *ControlState, op string) error {
	if state.Cancelled() {
		return fault.New(fault.Cancelled, op, "transfer cancelled")
	}
	if err := ctx.Err(); err != nil {
		return fault.Wrap(fault.Cancelled, op, err)
	}
	return nil
}
