// Package result implements the success/failure return discipline used by
// every fallible operation in the trading core. Network and validation
// failures travel as values; a failed Result means the attempted operation
// had no observable side effect.
package result

import "fmt"

// Failure describes why an operation did not succeed. CanRetry is advisory
// only: callers decide the retry policy, the failure itself never retries.
type Failure struct {
	Message  string
	CanRetry bool
	Origin   string // backend name or component that produced the failure
	Raw      error  // underlying error, if any
}

func (f *Failure) Error() string {
	if f.Raw != nil {
		return fmt.Sprintf("%s: %s: %v", f.Origin, f.Message, f.Raw)
	}
	return fmt.Sprintf("%s: %s", f.Origin, f.Message)
}

func (f *Failure) Unwrap() error { return f.Raw }

// Unit is the payload of operations that succeed without a value.
type Unit struct{}

// Result is a tagged success/failure value. The zero value is a failure with
// a nil Failure and must not be constructed directly; use Ok or Err.
type Result[T any] struct {
	value   T
	failure *Failure
	ok      bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Err wraps a failure. A nil failure is promoted to a generic one so that
// Failure() never returns nil on a failed result.
func Err[T any](f *Failure) Result[T] {
	if f == nil {
		f = &Failure{Message: "unspecified failure", Origin: "result"}
	}
	return Result[T]{failure: f}
}

// Failf builds a failed result in one call.
func Failf[T any](origin string, canRetry bool, raw error, format string, args ...any) Result[T] {
	return Err[T](&Failure{
		Message:  fmt.Sprintf(format, args...),
		CanRetry: canRetry,
		Origin:   origin,
		Raw:      raw,
	})
}

// OK reports whether the result carries a value.
func (r Result[T]) OK() bool { return r.ok }

// Value returns the carried value. Only meaningful when OK() is true.
func (r Result[T]) Value() T { return r.value }

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *Failure {
	if r.ok {
		return nil
	}
	return r.failure
}

// Get unpacks the result into Go's usual two-value form.
func (r Result[T]) Get() (T, *Failure) {
	return r.value, r.Failure()
}

// Map applies f to the value of a successful result; a failure passes
// through unchanged.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if !r.ok {
		return Err[U](r.failure)
	}
	return Ok(f(r.value))
}

// Chain applies a fallible f to the value of a successful result, enabling
// dependent fallible steps without nested branching.
func Chain[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if !r.ok {
		return Err[U](r.failure)
	}
	return f(r.value)
}
