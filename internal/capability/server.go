package capability

import (
	"strconv"
	"strings"
	"time"

	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// ChecksumThresholdRelease is the first non-consortium release whose
// checksum policy honours a strong-hash preference.
const ChecksumThresholdRelease = "rods3.3.1"

// ServerProperties describes the server build, as reported by
// GET_MISC_SVR_INFO.
type ServerProperties struct {
	ServerType int
	BootTime   time.Time
	RelVersion string
	APIVersion string
	Zone       string
}

// FromMiscSvrInfo converts the wire form.
func FromMiscSvrInfo(m protocol.MiscSvrInfo) ServerProperties {
	return ServerProperties{
		ServerType: m.ServerType,
		BootTime:   time.Unix(m.BootTime, 0),
		RelVersion: m.RelVersion,
		APIVersion: m.APIVersion,
		Zone:       m.Zone,
	}
}

// IsConsortium reports whether this is a consortium (4.x and later, or
// e-iRODS) build.
func (p ServerProperties) IsConsortium() bool {
	v := strings.ToLower(strings.TrimSpace(p.RelVersion))
	if strings.HasPrefix(v, "e-irods") {
		return true
	}
	parts := parseRelease(v)
	return len(parts) > 0 && parts[0] >= 4
}

// AtLeast reports whether the server release is at or above release.
func (p ServerProperties) AtLeast(release string) bool {
	return CompareReleases(p.RelVersion, release) >= 0
}

// CompareReleases compares release strings such as "rods4.2.8" numerically
// per component. The "rods" prefix is optional, missing components count as
// zero and non-numeric suffixes inside a component are ignored.
func CompareReleases(a, b string) int {
	pa, pb := parseRelease(a), parseRelease(b)
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func parseRelease(s string) []int {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "rods")
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ".")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		end := 0
		for end < len(f) && f[end] >= '0' && f[end] <= '9' {
			end++
		}
		n, err := strconv.Atoi(f[:end])
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}
