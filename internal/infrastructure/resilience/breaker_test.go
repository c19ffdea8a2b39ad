package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func call(b *Breaker, err error) error {
	return b.Run(context.Background(), func(context.Context) error { return err })
}

func TestBreakerStateTransitions(t *testing.T) {
	failure := errors.New("boom")
	tests := []struct {
		name          string
		requests      []error
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			requests:      []error{nil, nil, nil},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			requests:      []error{failure, failure, failure},
			expectedState: StateOpen,
		},
		{
			name:          "success resets consecutive failures",
			requests:      []error{failure, failure, nil, failure, failure},
			expectedState: StateClosed,
		},
		{
			name:          "ignored errors do not trip",
			requests:      []error{errNotFound, errNotFound, errNotFound, errNotFound},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", Settings{
				ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 3 },
				IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errNotFound) },
			})
			for _, err := range tt.requests {
				_ = call(breaker, err)
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	breaker := New("store", Settings{
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
		Now:         clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = call(breaker, errors.New("a"))
	_ = call(breaker, errors.New("b"))
	require.Equal(t, StateOpen, breaker.State())
	assert.ErrorIs(t, call(breaker, nil), ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, call(breaker, nil))
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestDoReturnsResult(t *testing.T) {
	breaker := New("test", Settings{})

	got, err := Do(context.Background(), breaker, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, uint32(1), breaker.Counts().TotalSuccesses)
}

func TestDoHonorsCancelledContext(t *testing.T) {
	breaker := New("test", Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := breaker.Run(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Zero(t, breaker.Counts().Requests)
}
