package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"syscall"

	"github.com/vietddude/binlens/internal/core/domain"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRetriesExhausted marks a scope that failed on every allowed attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrAborted marks a scope stopped by a non-retryable failure or by
	// cancellation of the caller's context.
	ErrAborted = errors.New("operation aborted")

	// ErrDeadlineExceeded is the cause attached to an attempt that outlived its deadline.
	ErrDeadlineExceeded = errors.New("attempt deadline exceeded")

	// ErrScopeClosed is returned by Execute on a scope that already failed or was closed.
	ErrScopeClosed = errors.New("recovery scope closed")

	// ErrPanic wraps a value recovered from a panicking operation.
	ErrPanic = errors.New("operation panicked")
)

// CategorizedError tags an error with the failure family that decides how it
// is recovered.
type CategorizedError struct {
	Category domain.ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error { return e.Err }

func tag(category domain.ErrorCategory, err error) error {
	if err == nil {
		err = errors.New(string(category))
	}
	return &CategorizedError{Category: category, Err: err}
}

// Timeout tags err as a deadline expiry.
func Timeout(err error) error { return tag(domain.CategoryTimeout, err) }

// ConnectionLost tags err as loss of the connection to an external process or service.
func ConnectionLost(err error) error { return tag(domain.CategoryConnectionLost, err) }

// InvalidInput tags err as malformed or unsupported input.
func InvalidInput(err error) error { return tag(domain.CategoryInvalidInput, err) }

// ResourceExhausted tags err as memory or other resource exhaustion.
func ResourceExhausted(err error) error { return tag(domain.CategoryResourceExhausted, err) }

// Categorize resolves the failure family of err. Explicit tags win, then
// well-known error values and gRPC status codes, then the message text.
func Categorize(err error) domain.ErrorCategory {
	if err == nil {
		return domain.CategoryUnknown
	}

	var tagged *CategorizedError
	if errors.As(err, &tagged) {
		return tagged.Category
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, ErrDeadlineExceeded) {
		return domain.CategoryTimeout
	}

	if category, ok := categorizeStatus(err); ok {
		return category
	}

	if errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.ENOSPC) {
		return domain.CategoryResourceExhausted
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.CategoryTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, exec.ErrWaitDelay) ||
		errors.Is(err, os.ErrProcessDone) {
		return domain.CategoryConnectionLost
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.CategoryConnectionLost
	}

	return categorizeMessage(err.Error())
}

func categorizeStatus(err error) (domain.ErrorCategory, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return "", false
	}

	for _, detail := range st.Details() {
		if _, ok := detail.(*errdetails.QuotaFailure); ok {
			return domain.CategoryResourceExhausted, true
		}
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return domain.CategoryTimeout, true
	case codes.Unavailable, codes.Aborted:
		return domain.CategoryConnectionLost, true
	case codes.InvalidArgument, codes.Unimplemented, codes.OutOfRange, codes.FailedPrecondition:
		return domain.CategoryInvalidInput, true
	case codes.ResourceExhausted:
		return domain.CategoryResourceExhausted, true
	}
	return "", false
}

// categorizeMessage is the last resort for errors that only carry text, such
// as stderr of the analysis subprocess.
func categorizeMessage(msg string) domain.ErrorCategory {
	s := strings.ToLower(msg)

	switch {
	case strings.Contains(s, "out of memory") || strings.Contains(s, "cannot allocate memory") ||
		strings.Contains(s, "memoryerror") || strings.Contains(s, "no space left"):
		return domain.CategoryResourceExhausted
	case strings.Contains(s, "connection reset") || strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "connection refused") || strings.Contains(s, "process exited") ||
		strings.Contains(s, "session closed") || strings.Contains(s, "pipe closed"):
		return domain.CategoryConnectionLost
	case strings.Contains(s, "timed out") || strings.Contains(s, "timeout"):
		return domain.CategoryTimeout
	case strings.Contains(s, "malformed") || strings.Contains(s, "unsupported") ||
		strings.Contains(s, "invalid format") || strings.Contains(s, "not a valid"):
		return domain.CategoryInvalidInput
	}
	return domain.CategoryUnknown
}

// errorType names the innermost concrete type of err for OperationError records.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return reflect.TypeOf(err).String()
}

// Error is the single failure a scope raises once it gives up.
type Error struct {
	Operation string
	Attempts  int
	Last      domain.OperationError
	Partial   *domain.PartialResult
	Err       error

	aborted bool
}

func (e *Error) Error() string {
	kind := "exhausted retries"
	if e.aborted {
		kind = "aborted"
	}
	return fmt.Sprintf(
		"operation %s %s after %d attempt(s): %s (severity=%s): %v",
		e.Operation, kind, e.Attempts, e.Last.Category, e.Last.Severity, e.Err,
	)
}

func (e *Error) Unwrap() []error {
	if e.aborted {
		return []error{ErrAborted, e.Err}
	}
	return []error{ErrRetriesExhausted, e.Err}
}

// HasPartial reports whether salvage produced a partial result.
func (e *Error) HasPartial() bool { return e.Partial != nil }
