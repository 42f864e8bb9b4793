// FILE: src/internal/scram/scram_test.go
package scram

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed reference conversation: alice / hunter2, 16-byte ASCII salt,
// 10000 iterations, deterministic nonces.
const (
	refUser       = "alice"
	refPassword   = "hunter2"
	refSalt       = "0123456789abcdef"
	refIterations = 10000

	refDigest    = "2c7272e29942a4ff2255019547d8d16e"
	refSaltedHex = "2fac0b75561af1af029cf5c490af54f236cfd535"
	refClientKey = "9edba9bbb987cec33727010e5c00a50c8be77342"
	refStoredKey = "f75e5b20e90531cfe84978ba711572061cc008f0"
	refServerKey = "8e13d139a1ea3911b5112ca06002f2026235f1f8"
)

func TestPasswordDigest(t *testing.T) {
	assert.Equal(t, refDigest, PasswordDigest(refUser, refPassword))

	t.Run("SeparatorMatters", func(t *testing.T) {
		assert.NotEqual(t, PasswordDigest("a", "b:c"), PasswordDigest("a:b", "c"))
	})
}

func TestSaltPassword(t *testing.T) {
	salted := SaltPassword(refDigest, []byte(refSalt), refIterations)
	assert.Equal(t, refSaltedHex, hex.EncodeToString(salted))
	assert.Len(t, salted, 20)

	t.Run("Deterministic", func(t *testing.T) {
		again := SaltPassword(refDigest, []byte(refSalt), refIterations)
		assert.Equal(t, salted, again)
	})

	t.Run("IterationCountChangesOutput", func(t *testing.T) {
		other := SaltPassword(refDigest, []byte(refSalt), refIterations+1)
		assert.Equal(t, "48307ffd94a4771d5ab8df900108d8ba4661fdf6", hex.EncodeToString(other))
		assert.NotEqual(t, salted, other)
	})

	t.Run("SaltChangesOutput", func(t *testing.T) {
		other := SaltPassword(refDigest, []byte("fedcba9876543210"), refIterations)
		assert.NotEqual(t, salted, other)
	})
}

func TestKeyDerivation(t *testing.T) {
	salted, err := hex.DecodeString(refSaltedHex)
	require.NoError(t, err)

	clientKey := ClientKey(salted)
	assert.Equal(t, refClientKey, hex.EncodeToString(clientKey))
	assert.Equal(t, refStoredKey, hex.EncodeToString(StoredKey(clientKey)))
	assert.Equal(t, refServerKey, hex.EncodeToString(ServerKey(salted)))
}

func TestXOR(t *testing.T) {
	t.Run("ProofRoundTrip", func(t *testing.T) {
		clientKey, _ := hex.DecodeString(refClientKey)
		signature, _ := hex.DecodeString(refStoredKey) // any 20 bytes will do

		proof, err := XOR(clientKey, signature)
		require.NoError(t, err)

		// The peer recovers the client key from proof and signature
		recovered, err := XOR(proof, signature)
		require.NoError(t, err)
		assert.Equal(t, clientKey, recovered)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := XOR([]byte{1, 2, 3}, []byte{1, 2})
		assert.Error(t, err)
	})
}

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, 64)
	assert.NotContains(t, nonce, ",")

	other, err := GenerateNonce()
	require.NoError(t, err)
	assert.NotEqual(t, nonce, other, "nonces must be fresh per call")
}

func TestMessages(t *testing.T) {
	t.Run("ClientFirstBare", func(t *testing.T) {
		assert.Equal(t, "n=alice,r=abc", ClientFirstBare("alice", "abc"))
		assert.Equal(t, "n,,n=alice,r=abc", WrapGS2(ClientFirstBare("alice", "abc")))
	})

	t.Run("WithoutProof", func(t *testing.T) {
		assert.Equal(t, "c=biws,r=xyz", WithoutProof("xyz"))
	})

	t.Run("AuthMessageExactJoin", func(t *testing.T) {
		msg := AuthMessage("a", "b", "c")
		assert.Equal(t, "a,b,c", msg)
	})
}

func TestParseServerFirst(t *testing.T) {
	t.Run("AllFields", func(t *testing.T) {
		sf := ParseServerFirst("r=nonce123,s=c2FsdA==,i=4096")
		assert.Equal(t, "nonce123", sf.Nonce)
		assert.Equal(t, "c2FsdA==", sf.SaltB64)
		assert.Equal(t, 4096, sf.Iterations)
	})

	t.Run("MissingFieldsStayZero", func(t *testing.T) {
		sf := ParseServerFirst("s=c2FsdA==")
		assert.Empty(t, sf.Nonce)
		assert.Zero(t, sf.Iterations)
	})

	t.Run("NonNumericIterations", func(t *testing.T) {
		sf := ParseServerFirst("r=n,s=c2FsdA==,i=bogus")
		assert.Zero(t, sf.Iterations)
	})

	t.Run("UnknownKeysIgnored", func(t *testing.T) {
		sf := ParseServerFirst("r=n,s=x,i=1,m=ext")
		assert.Equal(t, "n", sf.Nonce)
	})
}

func TestParseServerFinal(t *testing.T) {
	v, ok := ParseServerFinal("v=c2ln")
	require.True(t, ok)
	assert.Equal(t, "c2ln", v)

	_, ok = ParseServerFinal("e=other-error")
	assert.False(t, ok)

	_, ok = ParseServerFinal("")
	assert.False(t, ok)
}

func TestParseClientFirst(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		msg, err := ParseClientFirst("n,,n=alice,r=abc123")
		require.NoError(t, err)
		assert.Equal(t, "alice", msg.User)
		assert.Equal(t, "abc123", msg.Nonce)
		assert.Equal(t, "n=alice,r=abc123", msg.Bare)
	})

	t.Run("MissingGS2Header", func(t *testing.T) {
		_, err := ParseClientFirst("n=alice,r=abc123")
		assert.Error(t, err)
	})

	t.Run("MissingNonce", func(t *testing.T) {
		_, err := ParseClientFirst("n,,n=alice")
		assert.Error(t, err)
	})
}

func TestParseClientFinal(t *testing.T) {
	msg, err := ParseClientFinal("c=biws,r=full,p=cHJvb2Y=")
	require.NoError(t, err)
	assert.Equal(t, "biws", msg.Channel)
	assert.Equal(t, "full", msg.Nonce)
	assert.Equal(t, "cHJvb2Y=", msg.ProofB64)

	_, err = ParseClientFinal("c=biws,r=full")
	assert.Error(t, err)
}

func TestDeriveCredential(t *testing.T) {
	t.Run("ReferenceVector", func(t *testing.T) {
		cred, err := DeriveCredential(refUser, refPassword, []byte(refSalt), refIterations)
		require.NoError(t, err)
		assert.Equal(t, refStoredKey, hex.EncodeToString(cred.StoredKey))
		assert.Equal(t, refServerKey, hex.EncodeToString(cred.ServerKey))
	})

	t.Run("ShortSalt", func(t *testing.T) {
		_, err := DeriveCredential("u", "p", []byte("short"), 1000)
		assert.Error(t, err)
	})

	t.Run("BadIterations", func(t *testing.T) {
		_, err := DeriveCredential("u", "p", []byte(refSalt), 0)
		assert.Error(t, err)
	})
}

// clientConversation runs the client-side math by hand against a Server,
// returning every intermediate, so tests can corrupt individual pieces.
type clientConversation struct {
	bare         string
	serverFirst  string
	withoutProof string
	authMessage  string
	saltedKey    []byte
	finalPayload string
}

func runClientAgainst(t *testing.T, srv *Server, user, password string) (*clientConversation, error) {
	t.Helper()

	nonce, err := GenerateNonce()
	require.NoError(t, err)

	c := &clientConversation{bare: ClientFirstBare(user, nonce)}
	c.serverFirst, err = srv.HandleClientFirst(WrapGS2(c.bare))
	if err != nil {
		return nil, err
	}

	sf := ParseServerFirst(c.serverFirst)
	require.True(t, strings.HasPrefix(sf.Nonce, nonce))

	salt, err := base64.StdEncoding.DecodeString(sf.SaltB64)
	require.NoError(t, err)

	c.saltedKey = SaltPassword(PasswordDigest(user, password), salt, sf.Iterations)
	clientKey := ClientKey(c.saltedKey)
	c.withoutProof = WithoutProof(sf.Nonce)
	c.authMessage = AuthMessage(c.bare, c.serverFirst, c.withoutProof)

	proof, err := XOR(clientKey, ClientSignature(StoredKey(clientKey), c.authMessage))
	require.NoError(t, err)

	c.finalPayload = c.withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
	return c, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer()
	cred, err := DeriveCredential(refUser, refPassword, []byte(refSalt), refIterations)
	require.NoError(t, err)
	srv.AddCredential(cred)
	return srv
}

func TestServerConversation(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := newTestServer(t)
		conv, err := runClientAgainst(t, srv, refUser, refPassword)
		require.NoError(t, err)

		serverFinal, err := srv.HandleClientFinal(conv.finalPayload)
		require.NoError(t, err)

		// Mutual auth: the signature the server sent matches the one the
		// client derives from its own salted key
		verifier, ok := ParseServerFinal(serverFinal)
		require.True(t, ok)
		expected := ServerSignature(ServerKey(conv.saltedKey), conv.authMessage)
		assert.Equal(t, base64.StdEncoding.EncodeToString(expected), verifier)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		srv := newTestServer(t)
		conv, err := runClientAgainst(t, srv, refUser, "hunter3")
		require.NoError(t, err)

		_, err = srv.HandleClientFinal(conv.finalPayload)
		assert.Error(t, err)
	})

	t.Run("SingleBitPasswordChange", func(t *testing.T) {
		srv := newTestServer(t)
		conv, err := runClientAgainst(t, srv, refUser, "hunter2\x01")
		require.NoError(t, err)

		_, err = srv.HandleClientFinal(conv.finalPayload)
		assert.Error(t, err)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		srv := newTestServer(t)
		_, err := srv.HandleClientFirst(WrapGS2(ClientFirstBare("mallory", "nonce")))
		assert.Error(t, err)
	})

	t.Run("ReplayedFinalRejected", func(t *testing.T) {
		srv := newTestServer(t)
		conv, err := runClientAgainst(t, srv, refUser, refPassword)
		require.NoError(t, err)

		_, err = srv.HandleClientFinal(conv.finalPayload)
		require.NoError(t, err)

		// Handshake state is consumed; replaying the same proof fails
		_, err = srv.HandleClientFinal(conv.finalPayload)
		assert.Error(t, err)
	})

	t.Run("CorruptedAuthMessageFailsVerification", func(t *testing.T) {
		srv := newTestServer(t)
		conv, err := runClientAgainst(t, srv, refUser, refPassword)
		require.NoError(t, err)

		// Rebuild the proof over a corrupted auth message (missing comma
		// join replaced by a semicolon)
		clientKey := ClientKey(conv.saltedKey)
		corrupted := conv.bare + ";" + conv.serverFirst + "," + conv.withoutProof
		proof, err := XOR(clientKey, ClientSignature(StoredKey(clientKey), corrupted))
		require.NoError(t, err)

		payload := conv.withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
		_, err = srv.HandleClientFinal(payload)
		assert.Error(t, err)
	})
}
