package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unrelated error with similar text", errors.New("wrap: " + ErrTransient.Error()), false},
		{"ErrTransient itself", ErrTransient, true},
		{"moved redirect", errors.New("MOVED 3999 127.0.0.1:6381"), true},
		{"ask redirect", errors.New("ASK 3999 127.0.0.1:6381"), true},
		{"clusterdown", errors.New("CLUSTERDOWN the cluster is down"), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"unrelated error", errors.New("WRONGTYPE operation against a key"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWithRetry_SucceedsWithoutRetryOnNilError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestWithRetry_StopsImmediatelyOnNonTransientError(t *testing.T) {
	wantErr := errors.New("WRONGTYPE")
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("withRetry() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("expected no retries for a non-transient error, got %d calls", calls)
	}
}

func TestWithRetry_RetriesTransientErrorUpToBound(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return ErrTransient
	}, nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("withRetry() error = %v, want ErrTransient", err)
	}
	if calls != 3 {
		t.Errorf("expected 1 initial attempt + 2 retries = 3 calls, got %d", calls)
	}
}

func TestWithRetry_OnRetryFiresOncePerRetriedAttempt(t *testing.T) {
	calls := 0
	retries := 0
	err := withRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return ErrTransient
	}, func() {
		retries++
	})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("withRetry() error = %v, want ErrTransient", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if retries != 2 {
		t.Errorf("expected onRetry to fire once per retried attempt (2), got %d", retries)
	}
}

func TestWithRetry_SucceedsAfterTransientRetries(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return ErrTransient
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls before success, got %d", calls)
	}
}
