package session

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet omits characters that read ambiguously when a session code is
// relayed by voice or typed from a screen (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of human-enterable session codes.
const CodeLength = 6

// newSessionCode generates a random session code. Uniqueness among live
// sessions is enforced by the caller against the store.
func newSessionCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
