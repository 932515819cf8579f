package common

import "errors"

var (
	ErrConstruction     = errors.New("failed to construct execution client")
	ErrTransport        = errors.New("execution backend transport error")
	ErrTimeout          = errors.New("execution backend request timed out")
	ErrAuthRejected     = errors.New("execution backend rejected authentication")
	ErrUpstream         = errors.New("execution backend returned an error")
	ErrPayloadNotFound  = errors.New("unknown payload")
	ErrInvalidJWTSecret = errors.New("invalid JWT secret")
	ErrIncorrectLength  = errors.New("incorrect length")
)

// IsBackendUnavailable returns true for failures after which the backend's answer is missing,
// as opposed to a well-formed error object returned by the backend.
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrAuthRejected)
}

// ErrorKind returns a short, address-free label for err, suitable for metrics and logs
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAuthRejected):
		return "auth_rejected"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrPayloadNotFound):
		return "not_found"
	default:
		return "other"
	}
}
