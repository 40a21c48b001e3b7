package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"money-printer-go/result"
)

// ErrEmptyBook marks an order book side with nothing fillable on it right
// now. Always retryable: the next poll may see new offers.
var ErrEmptyBook = errors.New("order book side is empty")

// APIError is a venue-side rejection carried in a well-formed response.
type APIError struct {
	Venue   string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Venue, e.Code, e.Message)
}

// StatusError is a non-2xx HTTP response without a parseable venue error.
type StatusError struct {
	Venue  string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d", e.Venue, e.Status)
}

// Retryable reports whether the status indicates a transient condition.
func (e *StatusError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// classify translates a transport-level error into the uniform failure
// shape. Timeouts, rate limiting and 5xx responses are transient; malformed
// responses and venue rejections are structural.
func classify(origin string, err error) *result.Failure {
	canRetry := false

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		canRetry = true
	case errors.As(err, &netErr) && netErr.Timeout():
		canRetry = true
	case errors.Is(err, ErrEmptyBook):
		canRetry = true
	default:
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			canRetry = statusErr.Retryable()
		}
	}

	return &result.Failure{
		Message:  err.Error(),
		CanRetry: canRetry,
		Origin:   origin,
		Raw:      err,
	}
}

// failed wraps classify for Result-returning call sites.
func failed[T any](origin string, err error) result.Result[T] {
	return result.Err[T](classify(origin, err))
}
