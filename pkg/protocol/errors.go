package protocol

import (
	"fmt"
	"strings"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

// Server status codes with a dedicated meaning. Sub-codes (for example an
// errno folded into the last three digits) are normalised before lookup.
const (
	CodeOverwriteWithoutForce = -312000
	CodeUserFileDoesNotExist  = -310000
	CodeUserChksumMismatch    = -314000
	CodeObjPathDoesNotExist   = -358000
	CodeCatNoRowsFound        = -808000
	CodeCatAlreadyHasItem     = -809000
	CodeCatInvalidAuth        = -826000
	CodeCatInvalidUser        = -827000
)

var codeKinds = map[int]fault.Kind{
	CodeOverwriteWithoutForce: fault.OverwriteConflict,
	CodeUserFileDoesNotExist:  fault.ObjectNotFound,
	CodeObjPathDoesNotExist:   fault.ObjectNotFound,
	CodeCatNoRowsFound:        fault.ObjectNotFound,
	CodeCatAlreadyHasItem:     fault.DuplicateMetadata,
	CodeUserChksumMismatch:    fault.FileIntegrityFailure,
	CodeCatInvalidAuth:        fault.ConnectionFailure,
	CodeCatInvalidUser:        fault.ConnectionFailure,
}

// ServerError is a negative status returned by the server.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server status %d", e.Code)
	}
	return fmt.Sprintf("server status %d: %s", e.Code, e.Message)
}

// NormalizeCode strips the sub-code: -312002 becomes -312000.
func NormalizeCode(code int) int {
	if code > -1000 {
		return code
	}
	return code - code%1000
}

// Classify maps a status code to a failure kind. Non-negative codes are not
// failures and map to fault.Unknown; unrecognised negative codes are
// protocol violations.
func Classify(code int) fault.Kind {
	if code >= 0 {
		return fault.Unknown
	}
	if k, ok := codeKinds[NormalizeCode(code)]; ok {
		return k
	}
	return fault.ProtocolViolation
}

// NewServerError classifies a negative status code.
func NewServerError(op string, code int, message string) error {
	return &fault.Error{
		Kind: Classify(code),
		Op:   op,
		Code: code,
		Err:  &ServerError{Code: code, Message: message},
	}
}

// ErrorMessage extracts the text of an RError_PI section, best effort.
func ErrorMessage(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	t, err := Decode(raw)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	var msgs []string
	for _, m := range t.All("RErrMsg_PI") {
		if s, ok := m.OptionalStr("msg"); ok && strings.TrimSpace(s) != "" {
			msgs = append(msgs, strings.TrimSpace(s))
		}
	}
	return strings.Join(msgs, "; ")
}
