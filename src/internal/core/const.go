// FILE: src/internal/core/const.go
package core

// SCRAM-SHA-1 mechanism parameters
const (
	Mechanism = "SCRAM-SHA-1"

	// HMAC-SHA-1 / SHA-1 output size; every derived key is this long
	SHA1KeyLen = 20

	// Client nonce: 48 random bytes, URL-safe base64, 64 text chars
	NonceRawLen  = 48
	NonceTextLen = 64

	// GS2 header for "no channel binding"; "biws" is its base64 form
	GS2Header         = "n,,"
	ChannelBindingB64 = "biws"
)

// Command protocol field and command names
const (
	CmdSaslStart    = "saslStart"
	CmdSaslContinue = "saslContinue"

	FieldPayload        = "payload"
	FieldConversationID = "conversationId"
	FieldDone           = "done"
	FieldMechanism      = "mechanism"
)

// DefaultAuthSource is the database authentication commands run against
// unless overridden by configuration.
const DefaultAuthSource = "admin"
