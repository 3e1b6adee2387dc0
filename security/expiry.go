// Package security holds the small security primitives shared by the
// authorization engines and storage backends: clock-skew tolerant expiry
// checks and client-secret hashing.
package security

import "time"

// DefaultClockSkewGracePeriod is the grace period applied to expiry checks.
// It prevents false expiration errors due to time synchronization drift
// between the issuing server and the backing store. 5 seconds handles
// typical NTP drift while keeping the effective lifetime extension small.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks whether a deadline has passed, with the default clock
// skew grace period. A zero deadline means no expiration.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks whether a deadline has passed, treating
// anything within the grace period as still valid.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
