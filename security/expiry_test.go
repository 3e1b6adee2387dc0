package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"zero time never expires", time.Time{}, false},
		{"future expiry", now.Add(time.Hour), false},
		{"within grace period", now.Add(-2 * time.Second), false},
		{"past grace period", now.Add(-10 * time.Second), true},
		{"long expired", now.Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiry); got != tt.want {
				t.Errorf("IsExpired(%v) = %v, want %v", tt.expiry, got, tt.want)
			}
		})
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Now()

	// With no grace period, anything in the past is expired.
	if !IsExpiredWithGracePeriod(now.Add(-time.Millisecond), 0) {
		t.Error("expected past expiry to be expired with zero grace period")
	}

	// A wider grace period keeps a recently expired value alive.
	if IsExpiredWithGracePeriod(now.Add(-30*time.Second), time.Minute) {
		t.Error("expected expiry within grace period to be treated as live")
	}
}
