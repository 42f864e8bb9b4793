// FILE: src/internal/scram/nonce.go
package scram

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"mongowire/src/internal/core"
)

// GenerateNonce produces the per-conversation client nonce: 48 random
// bytes rendered as 64 characters of URL-safe base64. A failure here is
// terminal for the conversation; it is never retried.
func GenerateNonce() (string, error) {
	raw := make([]byte, core.NonceRawLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
