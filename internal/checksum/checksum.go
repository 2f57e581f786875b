package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

// Encoding is a checksum policy or a resolved checksum algorithm. Only MD5
// and SHA256 are concrete; Default and Strong are preferences resolved
// against the server.
type Encoding int

const (
	Default Encoding = iota
	Strong
	MD5
	SHA256
)

// SHA256Prefix marks SHA256 checksums in the server's string form.
const SHA256Prefix = "sha2:"

func (e Encoding) String() string {
	switch e {
	case Default:
		return "default"
	case Strong:
		return "strong"
	case MD5:
		return "MD5"
	case SHA256:
		return "SHA256"
	}
	return "unknown"
}

// Concrete reports whether e names an algorithm rather than a preference.
func (e Encoding) Concrete() bool {
	return e == MD5 || e == SHA256
}

// ParseEncoding parses a configured policy. Matching is case-insensitive.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, nil
	case "strong", "prefer-strong", "strong-preference":
		return Strong, nil
	case "md5":
		return MD5, nil
	case "sha256", "sha2":
		return SHA256, nil
	}
	return Default, fault.Newf(fault.ConfigurationError, "parse checksum encoding", "unrecognised checksum encoding %q", s)
}

// EncodingOf infers the algorithm from a checksum string.
func EncodingOf(sum string) Encoding {
	if strings.HasPrefix(sum, SHA256Prefix) {
		return SHA256
	}
	return MD5
}

func newHash(enc Encoding) (hash.Hash, error) {
	switch enc {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	}
	return nil, fault.Newf(fault.ConfigurationError, "checksum", "encoding %s is not concrete", enc)
}

func format(enc Encoding, sum []byte) string {
	if enc == SHA256 {
		return SHA256Prefix + base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// Compute hashes r. MD5 yields lowercase hex; SHA256 yields "sha2:" and
// base64, the form the server stores.
func Compute(r io.Reader, enc Encoding) (string, error) {
	h, err := newHash(enc)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "read for checksum")
	}
	return format(enc, h.Sum(nil)), nil
}

// ComputeFile hashes the file at path.
func ComputeFile(path string, enc Encoding) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return Compute(f, enc)
}

// Equal compares two checksum strings. Hex digests compare
// case-insensitively; base64 digests compare exactly.
func Equal(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if strings.HasPrefix(a, SHA256Prefix) || strings.HasPrefix(b, SHA256Prefix) {
		return a == b
	}
	return strings.EqualFold(a, b)
}
