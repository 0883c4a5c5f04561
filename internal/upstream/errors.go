package upstream

import "errors"

// Failure classification for the retry policy. Anything not marked
// permanent (network errors, timeouts, 5xx, 429, open circuit) is
// treated as transient and retried with backoff.
var (
	// ErrResourceGone - the provider no longer has the resource (404/410)
	ErrResourceGone = errors.New("upstream resource gone")

	// ErrMalformedPayload - the provider responded with something we
	// cannot decode; retrying will not help
	ErrMalformedPayload = errors.New("malformed upstream payload")

	// ErrBadRequest - the provider rejected the request shape (4xx
	// other than 429); retrying the same job will not help
	ErrBadRequest = errors.New("upstream rejected request")
)

// IsPermanent reports whether the job should go straight to the failed
// sink instead of being retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrResourceGone) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrBadRequest)
}
