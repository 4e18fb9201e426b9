package match

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("%w: ...") and
// match with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("operation not valid for current match status")
	ErrInvalidTransition = errors.New("invalid match status transition")
	ErrNotParticipant    = errors.New("player is not a participant of this match")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrConflict          = errors.New("conflicting concurrent update")
	ErrConnectivity      = errors.New("connectivity failure")
	ErrNotFound          = errors.New("match not found")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, "VALIDATION"},
	{ErrInvalidState, "INVALID_STATE"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrNotParticipant, "NOT_PARTICIPANT"},
	{ErrPermissionDenied, "PERMISSION_DENIED"},
	{ErrConflict, "CONFLICT"},
	{ErrConnectivity, "CONNECTIVITY"},
	{ErrNotFound, "NOT_FOUND"},
}

// Code returns the taxonomy name for err, or "INTERNAL" when err is not one
// of the sentinel kinds.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

// ErrorForCode is the inverse of Code, used by remote clients to rebuild a
// wrapped sentinel from a response body.
func ErrorForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// Fatal reports whether a client should stop retrying after err.
func Fatal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied)
}
