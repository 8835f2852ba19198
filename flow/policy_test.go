package flow

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	if p.InitialDelay != 1*time.Second {
		t.Errorf("InitialDelay = %v, want 1s", p.InitialDelay)
	}
	if p.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", p.Multiplier)
	}
	if p.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want 60s", p.MaxDelay)
	}
	if p.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", p.MaxAttempts)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default policy should validate, got %v", err)
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{
			name:   "valid policy",
			policy: RetryPolicy{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute, MaxAttempts: 3},
		},
		{
			name:   "single attempt means no retries",
			policy: RetryPolicy{InitialDelay: time.Second, Multiplier: 1.0, MaxDelay: time.Second, MaxAttempts: 1},
		},
		{
			name:    "zero attempts",
			policy:  RetryPolicy{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute, MaxAttempts: 0},
			wantErr: true,
		},
		{
			name:    "zero initial delay",
			policy:  RetryPolicy{Multiplier: 2.0, MaxDelay: time.Minute, MaxAttempts: 3},
			wantErr: true,
		},
		{
			name:    "multiplier below one",
			policy:  RetryPolicy{InitialDelay: time.Second, Multiplier: 0.5, MaxDelay: time.Minute, MaxAttempts: 3},
			wantErr: true,
		},
		{
			name:    "max delay below initial",
			policy:  RetryPolicy{InitialDelay: time.Minute, Multiplier: 2.0, MaxDelay: time.Second, MaxAttempts: 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("Validate() = %v, want ErrInvalidRetryPolicy", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 1 * time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 32 * time.Second},
		{attempt: 7, want: 60 * time.Second}, // capped
		{attempt: 20, want: 60 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyDelayDeterministic(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, Multiplier: 3.0, MaxDelay: 5 * time.Second, MaxAttempts: 10}

	for attempt := 1; attempt <= 10; attempt++ {
		first := p.Delay(attempt)
		second := p.Delay(attempt)
		if first != second {
			t.Errorf("Delay(%d) not deterministic: %v vs %v", attempt, first, second)
		}
	}
}

func TestRetryPolicyDelayClampsAttempt(t *testing.T) {
	p := DefaultRetryPolicy()

	if got := p.Delay(0); got != p.InitialDelay {
		t.Errorf("Delay(0) = %v, want %v", got, p.InitialDelay)
	}
	if got := p.Delay(-3); got != p.InitialDelay {
		t.Errorf("Delay(-3) = %v, want %v", got, p.InitialDelay)
	}
}
