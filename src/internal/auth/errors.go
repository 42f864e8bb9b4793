// FILE: src/internal/auth/errors.go
package auth

import (
	"errors"
	"fmt"
)

// Errors abort the handshake immediately; nothing here is retried.
// Transport failures pass through unchanged and are not wrapped in any
// of these types.

var (
	// ErrNonceGeneration reports a local random-generation failure.
	ErrNonceGeneration = errors.New("client nonce generation failed")

	// ErrKeyLengthMismatch reports mismatched derived key lengths;
	// unreachable unless the derivation itself is broken.
	ErrKeyLengthMismatch = errors.New("generated client key and/or client signature is invalid")

	// ErrAuthenticatorUsed reports a second Authenticate call on the
	// same Authenticator.
	ErrAuthenticatorUsed = errors.New("authenticator already used")
)

// ResponseError reports a server reply that is missing an expected
// field, is not valid UTF-8 or base64, or does not match the expected
// textual layout. It indicates a broken peer, not a hostile one.
type ResponseError struct {
	Reason string
}

func (e *ResponseError) Error() string {
	return "invalid server response: " + e.Reason
}

func responseErrorf(format string, args ...any) error {
	return &ResponseError{Reason: fmt.Sprintf(format, args...)}
}

// MaliciousServerErrorType identifies which identity check the server
// failed.
type MaliciousServerErrorType int

const (
	// InvalidRnonce: the returned nonce does not extend the client nonce.
	InvalidRnonce MaliciousServerErrorType = iota
	// NoServerSignature: the server never offered its proof.
	NoServerSignature
	// InvalidServerSignature: the offered proof does not verify.
	InvalidServerSignature
)

func (t MaliciousServerErrorType) String() string {
	switch t {
	case InvalidRnonce:
		return "invalid returned nonce"
	case NoServerSignature:
		return "no server signature offered"
	case InvalidServerSignature:
		return "invalid server signature"
	default:
		return "unknown"
	}
}

// MaliciousServerError reports a failed identity check: the peer either
// cannot prove it knows the credential or actively tampered with the
// conversation. Callers must treat it as a non-retryable security
// failure, not a transient glitch.
type MaliciousServerError struct {
	Type MaliciousServerErrorType
}

func (e *MaliciousServerError) Error() string {
	return "malicious server: " + e.Type.String()
}
