package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/binlens/internal/core/domain"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCategorize(t *testing.T) {
	quota, err := status.New(codes.Unavailable, "quota exceeded").WithDetails(&errdetails.QuotaFailure{
		Violations: []*errdetails.QuotaFailure_Violation{{Subject: "project:binlens", Description: "tokens per minute"}},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"nil", nil, domain.CategoryUnknown},
		{"tagged timeout", Timeout(errors.New("slow")), domain.CategoryTimeout},
		{"tag wins over message", InvalidInput(errors.New("timeout while parsing")), domain.CategoryInvalidInput},
		{"tag through wrapping", fmt.Errorf("phase: %w", ConnectionLost(nil)), domain.CategoryConnectionLost},
		{"context deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), domain.CategoryTimeout},
		{"attempt deadline", ErrDeadlineExceeded, domain.CategoryTimeout},
		{"grpc unavailable", status.Error(codes.Unavailable, "backend down"), domain.CategoryConnectionLost},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad prompt"), domain.CategoryInvalidInput},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), domain.CategoryTimeout},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), domain.CategoryResourceExhausted},
		{"grpc quota detail", quota.Err(), domain.CategoryResourceExhausted},
		{"enomem", fmt.Errorf("mmap: %w", syscall.ENOMEM), domain.CategoryResourceExhausted},
		{"econnreset", fmt.Errorf("read: %w", syscall.ECONNRESET), domain.CategoryConnectionLost},
		{"epipe", syscall.EPIPE, domain.CategoryConnectionLost},
		{"unexpected eof", io.ErrUnexpectedEOF, domain.CategoryConnectionLost},
		{"oom message", errors.New("Out of memory while lifting function"), domain.CategoryResourceExhausted},
		{"broken pipe message", errors.New("write |1: broken pipe"), domain.CategoryConnectionLost},
		{"timed out message", errors.New("tool command timed out"), domain.CategoryTimeout},
		{"malformed message", errors.New("malformed ELF header"), domain.CategoryInvalidInput},
		{"unknown", errors.New("something odd"), domain.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := ConnectionLost(errors.New("eof"))
	exhausted := &Error{Operation: "op", Attempts: 3, Err: cause}
	aborted := &Error{Operation: "op", Attempts: 1, Err: cause, aborted: true}

	assert.ErrorIs(t, exhausted, ErrRetriesExhausted)
	assert.NotErrorIs(t, exhausted, ErrAborted)
	assert.ErrorIs(t, aborted, ErrAborted)
	assert.NotErrorIs(t, aborted, ErrRetriesExhausted)

	var tagged *CategorizedError
	require.ErrorAs(t, exhausted, &tagged)
	assert.Equal(t, domain.CategoryConnectionLost, tagged.Category)
	assert.Contains(t, aborted.Error(), "operation op aborted after 1 attempt(s)")
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "syscall.Errno", errorType(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	assert.Equal(t, "*errors.errorString", errorType(Timeout(errors.New("x"))))
}
