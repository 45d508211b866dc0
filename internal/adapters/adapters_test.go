package adapters

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{NewError(KindAuth, "calendar.create", "", nil), KindAuth},
		{fmt.Errorf("wrapped: %w", NewError(KindValidation, "email.send", "bad address", nil)), KindValidation},
		{fmt.Errorf("op: %w", ErrContentPolicy), KindContentPolicy},
		{context.DeadlineExceeded, KindTimeout},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{errors.New("boom"), KindRemote},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestErrorIsSentinel(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NewError(KindAuth, "email.inbox", "", errors.New("401")))
	assert.ErrorIs(t, err, ErrAuth)
	assert.NotErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "email.inbox")
	assert.Contains(t, err.Error(), "401")
}

func TestUserMessage(t *testing.T) {
	err := fmt.Errorf("x: %w", NewError(KindValidation, "calendar.create", "start must be in the future", nil))
	assert.Equal(t, "start must be in the future", UserMessage(err))
	assert.Empty(t, UserMessage(errors.New("plain")))
}

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.True(t, policy.ShouldRetry(NewError(KindRemote, "op", "", nil), 1))
	assert.False(t, policy.ShouldRetry(NewError(KindRemote, "op", "", nil), 3))
	assert.False(t, policy.ShouldRetry(NewError(KindAuth, "op", "", nil), 1))
	assert.False(t, policy.ShouldRetry(NewError(KindValidation, "op", "", nil), 1))
	assert.False(t, policy.ShouldRetry(nil, 1))

	assert.Equal(t, 500*time.Millisecond, policy.NextDelay(1))
	assert.Equal(t, time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(10))
}

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestRetryPolicyExecuteSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrRemote
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyExecuteNonRetryable(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func(context.Context) error {
		calls++
		return NewError(KindAuth, "op", "", nil)
	})
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyExecuteAllFail(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Execute(context.Background(), func(context.Context) error {
		calls++
		return ErrRemote
	})
	assert.ErrorIs(t, err, ErrRemote)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	calls := 0
	err := policy.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return ErrRemote
	})
	assert.ErrorIs(t, err, ErrRemote)
	assert.Equal(t, 1, calls)
}
