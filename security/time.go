package security

import "time"

// DefaultClockSkewGracePeriod is the tolerance applied to timestamps issued
// by other parties, such as JWT assertion exp/nbf/iat claims.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpiredWithGracePeriod reports whether expiresAt lies before now minus
// the grace period. A zero expiresAt never expires.
func IsExpiredWithGracePeriod(now, expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// IsNotYetValid reports whether notBefore lies after now plus the grace period.
func IsNotYetValid(now, notBefore time.Time, gracePeriod time.Duration) bool {
	if notBefore.IsZero() {
		return false
	}
	return notBefore.After(now.Add(gracePeriod))
}
