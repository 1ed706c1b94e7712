package random

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// FormTokenLength is the length of URL-safe form tokens.
const FormTokenLength = 32

// Token returns a cryptographically random URL-safe string of n characters.
func Token(n int) (string, error) {
	// base64url expands 3 bytes to 4 chars; over-provision and cut.
	buf := make([]byte, (n*3+3)/4+2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)
	return tok[:n], nil
}

// FormToken returns a fresh 32-character URL-safe form token.
func FormToken() (string, error) {
	return Token(FormTokenLength)
}
