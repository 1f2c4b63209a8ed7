// Package httpsec holds the small amount of security-sensitive glue shared
// by every authenticated HTTP handler: constant-time secret comparison.
package httpsec

import "crypto/subtle"

// Equal reports whether a and b are the same secret, in constant time with
// respect to the byte contents (not the length). Use this for the webhook
// shared secret and the admin X-API-Key header; never use == on secrets.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		// Still run a constant-time comparison against a same-length
		// buffer so callers can't distinguish a length mismatch from a
		// content mismatch by timing.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
