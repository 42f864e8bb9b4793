// FILE: src/internal/scram/message.go
package scram

import (
	"fmt"
	"strconv"
	"strings"

	"mongowire/src/internal/core"
)

// Wire text sub-formats: ASCII, comma-separated key=value, no escaping.
// Values therefore must not contain commas; nothing here attempts to
// unescape anything.

// ClientFirstBare builds the unprefixed client-first body.
func ClientFirstBare(user, nonce string) string {
	return fmt.Sprintf("n=%s,r=%s", user, nonce)
}

// WrapGS2 prefixes the bare message with the "no channel binding" GS2
// header, producing the saslStart payload.
func WrapGS2(bare string) string {
	return core.GS2Header + bare
}

// WithoutProof builds the client-final message minus its proof field.
func WithoutProof(rnonce string) string {
	return fmt.Sprintf("c=%s,r=%s", core.ChannelBindingB64, rnonce)
}

// AuthMessage is the exact comma-joined concatenation both peers sign.
// Any deviation desynchronizes signature verification on both ends.
func AuthMessage(clientFirstBare, serverFirst, withoutProof string) string {
	return clientFirstBare + "," + serverFirst + "," + withoutProof
}

// ServerFirst holds whatever fields the server-first challenge carried.
// Parsing is lenient; the caller validates presence in protocol order so
// a hostile nonce is detected before anything else is trusted.
type ServerFirst struct {
	Nonce      string // full nonce, client nonce + server suffix
	SaltB64    string
	Iterations int
}

// ParseServerFirst splits "r=<rnonce>,s=<salt_b64>,i=<iterations>".
// Unknown keys are ignored; absent keys stay zero-valued.
func ParseServerFirst(text string) *ServerFirst {
	msg := &ServerFirst{}
	for _, part := range strings.Split(text, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "r":
			msg.Nonce = kv[1]
		case "s":
			msg.SaltB64 = kv[1]
		case "i":
			if n, err := strconv.Atoi(kv[1]); err == nil {
				msg.Iterations = n
			}
		}
	}
	return msg
}

// ParseServerFinal extracts the base64 server signature from "v=<b64>".
// The second return is false when no v field is present.
func ParseServerFinal(text string) (string, bool) {
	for _, part := range strings.Split(text, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && kv[0] == "v" && kv[1] != "" {
			return kv[1], true
		}
	}
	return "", false
}

// ClientFirst is the server-side view of a saslStart payload.
type ClientFirst struct {
	User  string
	Nonce string
	Bare  string // the unprefixed body, needed verbatim for the auth message
}

// ParseClientFirst strips the GS2 header and extracts n= and r=.
func ParseClientFirst(payload string) (*ClientFirst, error) {
	if !strings.HasPrefix(payload, core.GS2Header) {
		return nil, fmt.Errorf("missing gs2 header")
	}
	bare := strings.TrimPrefix(payload, core.GS2Header)
	msg := &ClientFirst{Bare: bare}
	for _, part := range strings.Split(bare, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "n":
			msg.User = kv[1]
		case "r":
			msg.Nonce = kv[1]
		}
	}
	if msg.User == "" || msg.Nonce == "" {
		return nil, fmt.Errorf("missing required fields")
	}
	return msg, nil
}

// ClientFinal is the server-side view of the proof-bearing saslContinue
// payload: "c=biws,r=<rnonce>,p=<proof_b64>".
type ClientFinal struct {
	Channel  string
	Nonce    string
	ProofB64 string
}

// ParseClientFinal extracts c=, r= and p=.
func ParseClientFinal(payload string) (*ClientFinal, error) {
	msg := &ClientFinal{}
	for _, part := range strings.Split(payload, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "c":
			msg.Channel = kv[1]
		case "r":
			msg.Nonce = kv[1]
		case "p":
			msg.ProofB64 = kv[1]
		}
	}
	if msg.Channel == "" || msg.Nonce == "" || msg.ProofB64 == "" {
		return nil, fmt.Errorf("missing required fields")
	}
	return msg, nil
}
