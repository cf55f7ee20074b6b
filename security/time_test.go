package security

import (
	"testing"
	"time"
)

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{name: "zero never expires", expiresAt: time.Time{}, grace: 0, want: false},
		{name: "future", expiresAt: now.Add(time.Minute), grace: 0, want: false},
		{name: "past without grace", expiresAt: now.Add(-time.Second), grace: 0, want: true},
		{name: "past within grace", expiresAt: now.Add(-3 * time.Second), grace: DefaultClockSkewGracePeriod, want: false},
		{name: "past beyond grace", expiresAt: now.Add(-10 * time.Second), grace: DefaultClockSkewGracePeriod, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredWithGracePeriod(now, tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpiredWithGracePeriod() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotYetValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		notBefore time.Time
		want      bool
	}{
		{name: "zero", notBefore: time.Time{}, want: false},
		{name: "past", notBefore: now.Add(-time.Minute), want: false},
		{name: "within skew", notBefore: now.Add(2 * time.Second), want: false},
		{name: "future", notBefore: now.Add(time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotYetValid(now, tt.notBefore, DefaultClockSkewGracePeriod); got != tt.want {
				t.Errorf("IsNotYetValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
