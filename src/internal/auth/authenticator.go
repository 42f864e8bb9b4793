// FILE: src/internal/auth/authenticator.go
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lixenwraith/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongowire/src/internal/core"
	"mongowire/src/internal/scram"
)

// CommandRunner is the transport collaborator: it sends one command
// document to the server and returns exactly one reply document or an
// error. The Authenticator is the only writer on it for the duration
// of a conversation.
type CommandRunner interface {
	RunCommand(db string, cmd bson.D) (bson.Raw, error)
}

// Authenticator drives one SCRAM-SHA-1 conversation on one connection.
// It is single-use and not safe for concurrent use; all state lives for
// exactly one Authenticate call.
type Authenticator struct {
	runner CommandRunner
	source string
	logger *log.Logger
	used   bool
}

// initialData carries the output of the first round trip.
type initialData struct {
	message        string // client-first-bare, first auth message fragment
	response       string // raw server-first text
	nonce          string
	conversationID bson.RawValue // opaque, echoed verbatim, never re-derived
}

// authData carries the output of the second round trip.
type authData struct {
	saltedKey []byte // sensitive; dropped when Authenticate returns
	message   string // the full auth message both sides sign
	response  bson.Raw
}

// New creates an authenticator bound to one connection. source is the
// authentication database; empty falls back to the default.
func New(runner CommandRunner, source string, logger *log.Logger) *Authenticator {
	if source == "" {
		source = core.DefaultAuthSource
	}
	return &Authenticator{
		runner: runner,
		source: source,
		logger: logger,
	}
}

// Authenticate proves the user/password pair to the server and verifies
// the server's own proof. On a nil return the connection is
// authenticated; on any error it must be treated as unauthenticated and
// typically discarded.
func (a *Authenticator) Authenticate(user, password string) error {
	if a.used {
		return ErrAuthenticatorUsed
	}
	a.used = true

	a.logger.Debug("msg", "Starting authentication",
		"component", "auth",
		"mechanism", core.Mechanism,
		"username", user,
		"source", a.source)

	initial, err := a.start(user)
	if err != nil {
		return err
	}

	data, err := a.next(scram.PasswordDigest(user, password), initial)
	if err != nil {
		return err
	}

	if err := a.finish(initial.conversationID, data); err != nil {
		return err
	}

	a.logger.Debug("msg", "Authentication complete",
		"component", "auth",
		"username", user)
	return nil
}

// start sends the client-first message and captures the server
// challenge plus the conversation identifier.
func (a *Authenticator) start(user string) (initialData, error) {
	nonce, err := scram.GenerateNonce()
	if err != nil {
		return initialData{}, fmt.Errorf("%w: %v", ErrNonceGeneration, err)
	}

	bare := scram.ClientFirstBare(user, nonce)
	payload := primitive.Binary{Data: []byte(scram.WrapGS2(bare))}

	doc, err := a.runCommand(bson.D{
		{Key: core.CmdSaslStart, Value: int32(1)},
		{Key: "autoAuthorize", Value: int32(1)},
		{Key: core.FieldPayload, Value: payload},
		{Key: core.FieldMechanism, Value: core.Mechanism},
	})
	if err != nil {
		return initialData{}, err
	}

	data, ok := binaryField(doc, core.FieldPayload)
	if !ok {
		return initialData{}, responseErrorf("invalid payload returned")
	}
	if !utf8.Valid(data) {
		return initialData{}, responseErrorf("invalid UTF-8 payload returned")
	}

	convID := doc.Lookup(core.FieldConversationID)
	if convID.Type == 0 && len(convID.Value) == 0 {
		return initialData{}, responseErrorf("no conversationId returned")
	}

	return initialData{
		message:        bare,
		response:       string(data),
		nonce:          nonce,
		conversationID: convID,
	}, nil
}

// next parses the challenge, derives the key material and sends the
// proof. The nonce check runs before any derivation so a hostile server
// costs nothing.
func (a *Authenticator) next(digest string, initial initialData) (authData, error) {
	sf := scram.ParseServerFirst(initial.response)

	if sf.Nonce == "" {
		return authData{}, responseErrorf("invalid rnonce returned")
	}
	if !strings.HasPrefix(sf.Nonce, initial.nonce) {
		return authData{}, &MaliciousServerError{Type: InvalidRnonce}
	}
	if sf.SaltB64 == "" {
		return authData{}, responseErrorf("invalid salt returned")
	}
	salt, err := base64.StdEncoding.DecodeString(sf.SaltB64)
	if err != nil {
		return authData{}, responseErrorf("invalid base64 salt returned: %v", err)
	}
	if sf.Iterations <= 0 {
		return authData{}, responseErrorf("invalid iteration count returned")
	}

	saltedKey := scram.SaltPassword(digest, salt, sf.Iterations)
	clientKey := scram.ClientKey(saltedKey)
	storedKey := scram.StoredKey(clientKey)

	withoutProof := scram.WithoutProof(sf.Nonce)
	authMessage := scram.AuthMessage(initial.message, initial.response, withoutProof)
	clientSignature := scram.ClientSignature(storedKey, authMessage)

	if len(clientKey) != len(clientSignature) {
		return authData{}, ErrKeyLengthMismatch
	}
	proof, err := scram.XOR(clientKey, clientSignature)
	if err != nil {
		return authData{}, ErrKeyLengthMismatch
	}

	final := withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)

	doc, err := a.runCommand(bson.D{
		{Key: core.CmdSaslContinue, Value: int32(1)},
		{Key: core.FieldPayload, Value: primitive.Binary{Data: []byte(final)}},
		{Key: core.FieldConversationID, Value: initial.conversationID},
	})
	if err != nil {
		return authData{}, err
	}

	return authData{
		saltedKey: saltedKey,
		message:   authMessage,
		response:  doc,
	}, nil
}

// finish verifies the server signature and loops on empty continuation
// messages until the server reports completion. The loop has no local
// cap; the transport's read deadline is the only bound on a server that
// never terminates.
func (a *Authenticator) finish(conversationID bson.RawValue, data authData) error {
	serverKey := scram.ServerKey(data.saltedKey)
	serverSignature := scram.ServerSignature(serverKey, data.message)
	expected := base64.StdEncoding.EncodeToString(serverSignature)

	// Every payload the server sends from here on must carry a valid
	// signature; a reply may omit the payload field entirely. done is
	// only honored on replies to the empty continuation messages, so at
	// least one is always sent.
	doc := data.response
	for {
		if payload, ok := binaryField(doc, core.FieldPayload); ok {
			if !utf8.Valid(payload) {
				return responseErrorf("invalid UTF-8 payload returned")
			}
			verifier, found := scram.ParseServerFinal(string(payload))
			if !found {
				return &MaliciousServerError{Type: NoServerSignature}
			}
			if subtle.ConstantTimeCompare([]byte(verifier), []byte(expected)) != 1 {
				return &MaliciousServerError{Type: InvalidServerSignature}
			}
		}

		next, err := a.runCommand(bson.D{
			{Key: core.CmdSaslContinue, Value: int32(1)},
			{Key: core.FieldPayload, Value: primitive.Binary{Data: []byte{}}},
			{Key: core.FieldConversationID, Value: conversationID},
		})
		if err != nil {
			return err
		}
		doc = next

		if done, ok := doc.Lookup(core.FieldDone).BooleanOK(); ok && done {
			return nil
		}
	}
}

// runCommand is the single point of contact with the transport
// collaborator. Transport errors surface unchanged.
func (a *Authenticator) runCommand(cmd bson.D) (bson.Raw, error) {
	return a.runner.RunCommand(a.source, cmd)
}

func binaryField(doc bson.Raw, key string) ([]byte, bool) {
	_, data, ok := doc.Lookup(key).BinaryOK()
	return data, ok
}
