// FILE: src/internal/scram/keys.go
package scram

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"mongowire/src/internal/core"
)

// PasswordDigest applies the legacy MONGODB-CR pre-hash the mechanism
// inherited for password compatibility: hex(md5("<user>:mongo:<password>")).
// The literal ":mongo:" separator is part of the convention.
func PasswordDigest(user, password string) string {
	sum := md5.Sum([]byte(user + ":mongo:" + password))
	return hex.EncodeToString(sum[:])
}

// SaltPassword derives the 20-byte salted key via PBKDF2-HMAC-SHA1.
// The digest string itself, not the raw password, is the PBKDF2 input.
func SaltPassword(digest string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(digest), salt, iterations, core.SHA1KeyLen, sha1.New)
}

// ClientKey computes HMAC-SHA1(saltedKey, "Client Key").
func ClientKey(saltedKey []byte) []byte {
	return computeHMAC(saltedKey, []byte("Client Key"))
}

// ServerKey computes HMAC-SHA1(saltedKey, "Server Key").
func ServerKey(saltedKey []byte) []byte {
	return computeHMAC(saltedKey, []byte("Server Key"))
}

// StoredKey is SHA1(clientKey); the server holds this instead of the
// client key so a stolen credential store cannot impersonate clients.
func StoredKey(clientKey []byte) []byte {
	sum := sha1.Sum(clientKey)
	return sum[:]
}

// ClientSignature computes HMAC-SHA1(storedKey, authMessage).
func ClientSignature(storedKey []byte, authMessage string) []byte {
	return computeHMAC(storedKey, []byte(authMessage))
}

// ServerSignature computes HMAC-SHA1(serverKey, authMessage).
func ServerSignature(serverKey []byte, authMessage string) []byte {
	return computeHMAC(serverKey, []byte(authMessage))
}

// XOR combines two equal-length byte strings; the client proof is
// clientKey XOR clientSignature.
func XOR(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("xor length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}

func computeHMAC(key, message []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
