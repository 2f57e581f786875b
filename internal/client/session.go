package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sheerbytes/gridflux/internal/capability"
	"github.com/sheerbytes/gridflux/internal/catalog"
	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/internal/transfer"
)

// AppName is announced to the server in the startup pack.
const AppName = "gridflux"

// Session is one authenticated connection to a grid server together with
// everything layered on it.
type Session struct {
	ID        string
	CreatedAt time.Time

	props      config.Properties
	conn       *control.Conn
	negotiator *checksum.Negotiator
	objects    *transfer.DataObjects
	log        *slog.Logger
}

// Open validates props, connects and authenticates. cache is shared by every
// session of the process; nil gets a private one. logger may be nil.
func Open(ctx context.Context, props config.Properties, cache *capability.Cache, logger *slog.Logger) (*Session, error) {
	if err := props.Validate(); err != nil {
		return nil, err
	}
	cfg, err := transfer.ConfigFrom(props)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = capability.NewCache()
	}
	id := uuid.NewString()
	log := logging.OrDiscard(logger).With("session_id", id)

	acct := props.Account
	conn, err := control.Dial(ctx, control.Account{
		Host:     acct.Host,
		Port:     acct.Port,
		User:     acct.User,
		Zone:     acct.Zone,
		Password: acct.Password,
	}, control.Options{
		ConnectTimeout: props.ConnectTimeout,
		IOTimeout:      props.IOTimeout,
		AppName:        AppName,
	}, log)
	if err != nil {
		return nil, err
	}

	neg := checksum.NewNegotiator(cache, props, conn, log)
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		props:      props,
		conn:       conn,
		negotiator: neg,
		objects:    transfer.NewDataObjects(conn, catalog.NewStatResolver(conn), neg, cfg, log),
		log:        log,
	}
	log.Info("session opened", "host", acct.Host, "zone", acct.Zone, "user", acct.User,
		"server_release", conn.Version().RelVersion)
	return s, nil
}

// DataObjects returns the transfer engine bound to this session.
func (s *Session) DataObjects() *transfer.DataObjects {
	return s.objects
}

// NewControlState returns a state seeded with the configured defaults.
func (s *Session) NewControlState() *transfer.ControlState {
	return s.objects.NewControlState()
}

// ChecksumEncoding resolves the checksum algorithm for this server.
func (s *Session) ChecksumEncoding(ctx context.Context) (checksum.Encoding, error) {
	acct := s.conn.Account()
	return s.negotiator.Determine(ctx, acct.Host, acct.Zone)
}

// ServerProperties returns the server's build description.
func (s *Session) ServerProperties(ctx context.Context) (capability.ServerProperties, error) {
	return s.conn.ServerProperties(ctx)
}

// InvalidateServerProperties makes the next ServerProperties call ask the
// server again. Negotiated checksum encodings stay cached.
func (s *Session) InvalidateServerProperties() {
	s.conn.InvalidateServerProperties()
}

// Properties returns the configuration the session was opened with.
func (s *Session) Properties() config.Properties {
	return s.props
}

// Close disconnects.
func (s *Session) Close() error {
	s.log.Debug("session closing", "age", time.Since(s.CreatedAt))
	return s.conn.Close()
}
