package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2xerrors "github.com/c360/v2xstreams/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false, // Disable for predictable tests
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"explicit", NonRetryable(errors.New("bad credentials"))},
		{"classified invalid", v2xerrors.WrapInvalid(v2xerrors.ErrInvalidConfig, "mqtt-output", "connect", "broker url")},
		{"classified fatal", v2xerrors.WrapFatal(errors.New("boom"), "natsmirror", "Start", "bucket")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fastConfig(5), func() error {
				attempts++
				return tt.err
			})
			assert.Error(t, err)
			assert.Equal(t, 1, attempts)
		})
	}
}

func TestRetry_TransientClassifiedIsRetried(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), fastConfig(2), func() error {
		attempts++
		return v2xerrors.WrapTransient(v2xerrors.ErrConnectionLost, "mqtt-output", "connect", "dial")
	})
	assert.Equal(t, 2, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Less(t, attempts, 5)
}

func TestRetry_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), Config{}, func() error {
		attempts++
		return errors.New("x")
	})
	assert.Equal(t, 1, attempts)
}

func TestConfig_NextIsCapped(t *testing.T) {
	cfg, err := fastConfig(3).normalize()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.next(5*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, cfg.next(15*time.Millisecond))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestConnectionSchedule(t *testing.T) {
	s := ConnectionSchedule()

	// Twelve consecutive failures walk every tier
	want := []time.Duration{
		0,
		time.Second, time.Second, time.Second, time.Second, time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
		10 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, s.Delay(attempt), "attempt %d", attempt)
	}

	assert.Equal(t, 10*time.Second, s.Delay(100))
	assert.Equal(t, time.Duration(0), s.Delay(-3))
}
