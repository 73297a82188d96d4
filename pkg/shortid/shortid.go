// Package shortid generates short random alphanumeric identifiers. The tokens
// are not cryptographically strong, uniqueness has to be checked by the caller.
package shortid

import "math/rand/v2"

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// DefaultLength is the length of identifiers produced by New
	DefaultLength = 7
)

// New returns a random identifier of DefaultLength characters.
func New() string {
	return NewLen(DefaultLength)
}

// NewLen returns a random identifier of n characters.
func NewLen(n int) string {
	if n <= 0 {
		return ""
	}

	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[rand.IntN(len(alphabet))]
	}

	return string(buf)
}
