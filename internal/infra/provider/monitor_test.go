package provider

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestThrottleMonitor_Windows(t *testing.T) {
	m := NewThrottleMonitor()
	now := time.Now()
	assert.False(t, m.Throttled(now))

	m.RecordThrottle(http.StatusTooManyRequests, 0, now)
	assert.True(t, m.Throttled(now.Add(30*time.Second)))
	assert.False(t, m.Throttled(now.Add(61*time.Second)))

	m.RecordThrottle(http.StatusForbidden, 0, now)
	assert.True(t, m.Throttled(now.Add(9*time.Minute)))

	m.RecordThrottle(http.StatusTooManyRequests, 5*time.Second, now)
	assert.Equal(t, 5*time.Second, m.RetryAfter(now))
	assert.False(t, m.Throttled(now.Add(5*time.Second)))

	limited, blocked := m.Counts()
	assert.Equal(t, 2, limited)
	assert.Equal(t, 1, blocked)

	m.Reset()
	assert.False(t, m.Throttled(now))
}

func TestThrottleMonitor_Classify(t *testing.T) {
	m := NewThrottleMonitor()

	st, err := status.New(codes.ResourceExhausted, "slow down").WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(7 * time.Second),
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		err       error
		wantOK    bool
		wantCode  int
		wantRetry time.Duration
	}{
		{"nil", nil, false, 0, 0},
		{"http 429", &StatusError{Code: 429, RetryAfter: 3 * time.Second}, true, 429, 3 * time.Second},
		{"wrapped http 403", fmt.Errorf("call: %w", &StatusError{Code: 403}), true, 403, 0},
		{"http 500", &StatusError{Code: 500}, false, 0, 0},
		{"grpc retry info", st.Err(), true, 429, 7 * time.Second},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), false, 0, 0},
		{"message", errors.New("Rate limit reached for requests"), true, 429, 0},
		{"plain", errors.New("bad gateway"), false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, retry, ok := m.Classify(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantRetry, retry)
		})
	}
}
