package control

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/internal/capability"
	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

const (
	// ClientRelease is announced in the startup pack.
	ClientRelease = "rods4.3.0"
	// ClientAPIVersion is announced in the startup pack.
	ClientAPIVersion = "d"

	disconnectTimeout = 2 * time.Second
)

// ErrBroken is returned by calls on a connection that failed earlier.
var ErrBroken = errors.New("control connection is broken")

// Account identifies the server and the user on it.
type Account struct {
	Host     string
	Port     int
	User     string
	Zone     string
	Password string
}

// Address returns host:port.
func (a Account) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Options tune a connection.
type Options struct {
	ConnectTimeout time.Duration
	// IOTimeout bounds each call when the context has no deadline. Zero
	// means no bound.
	IOTimeout time.Duration
	// AppName is sent as the startup option.
	AppName string
}

// Exchange is one request and its optional binary streams.
type Exchange struct {
	Request protocol.Request
	// Input, when set, is sent as the binary stream and must yield InputLen
	// bytes.
	Input    io.Reader
	InputLen int64
	// Output receives the response's binary stream. When nil the stream is
	// buffered in Response.Stream.
	Output io.Writer
}

// Response is a decoded reply.
type Response struct {
	Header protocol.Header
	// Body is nil when the server sent no body.
	Body *protocol.Tag
	// Stream holds the binary stream when the exchange had no Output.
	Stream []byte
	// StreamLen is the number of binary stream bytes received.
	StreamLen int64
}

// Status returns the reply status (intInfo).
func (r *Response) Status() int {
	return r.Header.IntInfo
}

// Conn is one authenticated control connection. Calls are serialised: one
// request is outstanding at a time.
type Conn struct {
	mu      sync.Mutex
	nc      net.Conn
	account Account
	opts    Options
	version protocol.Version
	broken  error
	log     *slog.Logger

	propsMu sync.Mutex
	props   *capability.ServerProperties
}

// Dial connects, sends the startup pack and authenticates.
func Dial(ctx context.Context, account Account, opts Options, logger *slog.Logger) (*Conn, error) {
	d := net.Dialer{Timeout: opts.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", account.Address())
	if err != nil {
		return nil, fault.Wrap(fault.ConnectionFailure, "dial", errors.Wrapf(err, "connect to %s", account.Address()))
	}
	c, err := NewConn(ctx, nc, account, opts, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// NewConn performs the startup and authentication handshake over nc.
func NewConn(ctx context.Context, nc net.Conn, account Account, opts Options, logger *slog.Logger) (*Conn, error) {
	c := &Conn{
		nc:      nc,
		account: account,
		opts:    opts,
		log:     logging.OrDiscard(logger).With("host", account.Host, "zone", account.Zone),
	}
	if err := c.startup(ctx); err != nil {
		return nil, err
	}
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	c.log.Debug("control connection ready", "server_release", c.version.RelVersion)
	return c, nil
}

func (c *Conn) startup(ctx context.Context) error {
	stop := c.bind(ctx)
	defer stop()

	pack := protocol.StartupPack{
		ProxyUser:  c.account.User,
		ProxyZone:  c.account.Zone,
		ClientUser: c.account.User,
		ClientZone: c.account.Zone,
		RelVersion: ClientRelease,
		APIVersion: ClientAPIVersion,
		Option:     c.opts.AppName,
	}
	if err := protocol.WriteMessage(c.nc, protocol.Outbound{Type: protocol.TypeConnect, Body: pack.Tag()}); err != nil {
		return fault.Wrap(fault.ConnectionFailure, "startup", err)
	}
	msg, err := protocol.ReadMessage(c.nc)
	if err != nil {
		return fault.Wrap(fault.ConnectionFailure, "startup", err)
	}
	if msg.Header.Type != protocol.TypeVersion {
		return fault.Newf(fault.ProtocolViolation, "startup", "expected %s, got %s", protocol.TypeVersion, msg.Header.Type)
	}
	if msg.Header.IntInfo < 0 {
		return protocol.NewServerError("startup", msg.Header.IntInfo, protocol.ErrorMessage(msg.Error))
	}
	body, err := msg.BodyTag()
	if err != nil {
		return err
	}
	if c.version, err = protocol.DecodeVersion(body); err != nil {
		return err
	}
	if c.version.Status < 0 {
		return protocol.NewServerError("startup", c.version.Status, "")
	}
	return nil
}

func (c *Conn) authenticate(ctx context.Context) error {
	resp, err := c.Call(ctx, Exchange{Request: protocol.AuthRequest{}})
	if err != nil {
		return errors.Wrap(err, "auth request")
	}
	challenge, err := protocol.DecodeAuthChallenge(resp.Body)
	if err != nil {
		return err
	}
	answer := protocol.AuthResponseInp{
		Response: protocol.ChallengeResponse(challenge, c.account.Password),
		Username: c.account.User + "#" + c.account.Zone,
	}
	if _, err := c.Call(ctx, Exchange{Request: answer}); err != nil {
		return errors.Wrap(err, "auth response")
	}
	return nil
}

// bind applies ctx's deadline (or the IO timeout) to the socket and aborts
// blocked I/O if ctx is cancelled. The returned func must be called when
// the exchange ends.
func (c *Conn) bind(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok && c.opts.IOTimeout > 0 {
		deadline = time.Now().Add(c.opts.IOTimeout)
	}
	_ = c.nc.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = c.nc.SetDeadline(time.Time{})
	}
}

// Call sends one request and blocks for the full response. A negative
// status is returned as a classified error together with the response; the
// connection stays usable. Transport or framing failures break the
// connection and every later call fails with ConnectionFailure.
func (c *Conn) Call(ctx context.Context, ex Exchange) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, api := protocol.Encode(ex.Request)
	op := api.String()
	if c.broken != nil {
		return nil, fault.Wrap(fault.ConnectionFailure, op, ErrBroken)
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.Cancelled, op, err)
	}

	stop := c.bind(ctx)
	defer stop()
	started := time.Now()

	err := protocol.WriteMessage(c.nc, protocol.Outbound{
		Type:      protocol.TypeAPIRequest,
		IntInfo:   int(api),
		Body:      body,
		Stream:    ex.Input,
		StreamLen: ex.InputLen,
	})
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}

	msg, err := protocol.ReadMessage(c.nc)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	if msg.Header.Type != protocol.TypeAPIReply {
		return nil, c.fail(ctx, op, fault.Newf(fault.ProtocolViolation, op, "unexpected reply type %s", msg.Header.Type))
	}

	resp := &Response{Header: msg.Header}
	if resp.Body, err = msg.BodyTag(); err != nil {
		return nil, c.fail(ctx, op, err)
	}
	if msg.Header.BsLen > 0 {
		if err := c.readStream(resp, ex.Output, msg.Header.BsLen); err != nil {
			return nil, c.fail(ctx, op, err)
		}
	}

	c.log.Debug("api call", "api", op, "status", msg.Header.IntInfo,
		"bs_out", ex.InputLen, "bs_in", resp.StreamLen, "elapsed", time.Since(started))

	if msg.Header.IntInfo < 0 {
		return resp, protocol.NewServerError(op, msg.Header.IntInfo, protocol.ErrorMessage(msg.Error))
	}
	return resp, nil
}

func (c *Conn) readStream(resp *Response, out io.Writer, n int64) error {
	if out == nil {
		if n > protocol.MaxBodyLen {
			return fault.Newf(fault.ProtocolViolation, "read stream", "unsolicited stream of %d bytes", n)
		}
		var buf bytes.Buffer
		buf.Grow(int(n))
		out = &buf
		defer func() { resp.Stream = buf.Bytes() }()
	}
	written, err := io.CopyN(out, c.nc, n)
	resp.StreamLen = written
	if err != nil {
		return errors.Wrapf(err, "read stream (%d of %d bytes)", written, n)
	}
	return nil
}

// fail marks the connection broken and classifies err.
func (c *Conn) fail(ctx context.Context, op string, err error) error {
	c.broken = err
	c.log.Warn("control connection broken", "api", op, "error", err)
	if ctx.Err() != nil {
		return fault.Wrap(fault.Cancelled, op, ctx.Err())
	}
	if fault.KindOf(err) == fault.ProtocolViolation {
		return err
	}
	return fault.Wrap(fault.ConnectionFailure, op, err)
}

// OperationComplete releases a server-side descriptor obtained by a
// transfer request.
func (c *Conn) OperationComplete(ctx context.Context, handle int) error {
	_, err := c.Call(ctx, Exchange{Request: protocol.OprComplete{Handle: handle}})
	return err
}

// ServerProperties returns the server build description, fetched on first
// use and cached for the connection's lifetime.
func (c *Conn) ServerProperties(ctx context.Context) (capability.ServerProperties, error) {
	c.propsMu.Lock()
	defer c.propsMu.Unlock()

	if c.props != nil {
		return *c.props, nil
	}
	resp, err := c.Call(ctx, Exchange{Request: protocol.MiscSvrInfoRequest{}})
	if err != nil {
		return capability.ServerProperties{}, err
	}
	info, err := protocol.DecodeMiscSvrInfo(resp.Body)
	if err != nil {
		return capability.ServerProperties{}, err
	}
	props := capability.FromMiscSvrInfo(info)
	c.props = &props
	return props, nil
}

// InvalidateServerProperties forces the next ServerProperties call to ask
// the server again.
func (c *Conn) InvalidateServerProperties() {
	c.propsMu.Lock()
	c.props = nil
	c.propsMu.Unlock()
}

// Account returns the account the connection was opened with.
func (c *Conn) Account() Account {
	return c.account
}

// Version returns the server's startup answer.
func (c *Conn) Version() protocol.Version {
	return c.version
}

// Broken reports whether the connection failed and must be discarded.
func (c *Conn) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken != nil
}

// Close sends a best-effort disconnect and closes the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken == nil {
		_ = c.nc.SetWriteDeadline(time.Now().Add(disconnectTimeout))
		_ = protocol.WriteMessage(c.nc, protocol.Outbound{Type: protocol.TypeDisconnect})
		c.broken = net.ErrClosed
	}
	return c.nc.Close()
}
