package checksum

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/sheerbytes/gridflux/internal/capability"
	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

// Policy supplies the configured checksum preference.
type Policy interface {
	PreferredChecksum() string
}

// Prober fetches server properties with one round trip.
type Prober interface {
	ServerProperties(ctx context.Context) (capability.ServerProperties, error)
}

// Negotiator resolves which checksum algorithm to use against a server.
// A resolution is made once per (host, zone) and cached; concurrent first
// resolutions for the same key share a single probe.
type Negotiator struct {
	cache  *capability.Cache
	policy Policy
	prober Prober
	log    *slog.Logger
	group  singleflight.Group
}

// NewNegotiator wires a negotiator. logger may be nil.
func NewNegotiator(cache *capability.Cache, policy Policy, prober Prober, logger *slog.Logger) *Negotiator {
	return &Negotiator{
		cache:  cache,
		policy: policy,
		prober: prober,
		log:    logging.OrDiscard(logger),
	}
}

// Determine returns MD5 or SHA256 for (host, zone).
func (n *Negotiator) Determine(ctx context.Context, host, zone string) (Encoding, error) {
	if enc, ok := n.cached(host, zone); ok {
		return enc, nil
	}
	v, err, _ := n.group.Do(host+"\x00"+zone, func() (interface{}, error) {
		if enc, ok := n.cached(host, zone); ok {
			return enc, nil
		}
		enc, err := n.resolve(ctx)
		if err != nil {
			return Default, err
		}
		stored := n.cache.Put(host, zone, capability.PropertyChecksumType, enc.String())
		n.log.Info("checksum encoding negotiated", "host", host, "zone", zone, "encoding", stored)
		return decodeCached(stored)
	})
	if err != nil {
		return Default, err
	}
	return v.(Encoding), nil
}

func (n *Negotiator) cached(host, zone string) (Encoding, bool) {
	s, ok := n.cache.Get(host, zone, capability.PropertyChecksumType)
	if !ok {
		return Default, false
	}
	enc, err := decodeCached(s)
	if err != nil {
		return Default, false
	}
	return enc, true
}

func decodeCached(s string) (Encoding, error) {
	enc, err := ParseEncoding(s)
	if err != nil {
		return Default, err
	}
	if !enc.Concrete() {
		return Default, fault.Newf(fault.ConfigurationError, "negotiate checksum", "cached encoding %q is not concrete", s)
	}
	return enc, nil
}

func (n *Negotiator) resolve(ctx context.Context) (Encoding, error) {
	configured := ""
	if n.policy != nil {
		configured = n.policy.PreferredChecksum()
	}
	pref, err := ParseEncoding(configured)
	if err != nil {
		return Default, err
	}
	if pref.Concrete() {
		return pref, nil
	}
	if n.prober == nil {
		return Default, fault.New(fault.ConfigurationError, "negotiate checksum", "no server to probe")
	}

	props, err := n.prober.ServerProperties(ctx)
	if err != nil {
		return Default, err
	}
	n.log.Debug("probed server for checksum policy",
		"release", props.RelVersion, "consortium", props.IsConsortium(), "preference", pref.String())

	switch {
	case props.IsConsortium():
		return SHA256, nil
	case props.AtLeast(capability.ChecksumThresholdRelease):
		if pref == Strong {
			return SHA256, nil
		}
		return MD5, nil
	default:
		return MD5, nil
	}
}
