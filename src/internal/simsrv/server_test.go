// FILE: src/internal/simsrv/server_test.go
package simsrv

import (
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongowire/src/internal/auth"
	"mongowire/src/internal/config"
	"mongowire/src/internal/scram"
	"mongowire/src/internal/transport"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

// freePort reserves a loopback port for the server under test.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func testUser(t *testing.T) config.SimulationUser {
	t.Helper()
	cred, err := scram.DeriveCredential("alice", "hunter2", []byte("0123456789abcdef"), 4096)
	require.NoError(t, err)
	return config.SimulationUser{
		Username:   cred.Username,
		Salt:       base64.StdEncoding.EncodeToString(cred.Salt),
		Iterations: int64(cred.Iterations),
		StoredKey:  base64.StdEncoding.EncodeToString(cred.StoredKey),
		ServerKey:  base64.StdEncoding.EncodeToString(cred.ServerKey),
	}
}

// startServer brings a simulation server up on a loopback port and
// registers its teardown.
func startServer(t *testing.T, maxFailures int64) (*Server, string) {
	t.Helper()
	addr := freePort(t)
	cfg := &config.SimulationConfig{
		Listen:               addr,
		MaxFailuresPerMinute: maxFailures,
		Users:                []config.SimulationUser{testUser(t)},
	}

	srv, err := New(cfg, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, addr
}

func dial(t *testing.T, addr string) *transport.Conn {
	t.Helper()
	conn, err := transport.Dial(addr, transport.Options{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEndToEnd(t *testing.T) {
	t.Run("SuccessfulAuthentication", func(t *testing.T) {
		_, addr := startServer(t, 0)
		conn := dial(t, addr)

		a := auth.New(conn, "admin", newTestLogger())
		require.NoError(t, a.Authenticate("alice", "hunter2"))
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, addr := startServer(t, 0)
		conn := dial(t, addr)

		err := auth.New(conn, "admin", newTestLogger()).Authenticate("alice", "wrong")
		require.Error(t, err)

		var serr *transport.ServerError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, int32(18), serr.Code)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, addr := startServer(t, 0)
		conn := dial(t, addr)

		err := auth.New(conn, "admin", newTestLogger()).Authenticate("mallory", "hunter2")
		var serr *transport.ServerError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, int32(18), serr.Code)
	})

	t.Run("SequentialConversationsOnOneConnection", func(t *testing.T) {
		_, addr := startServer(t, 0)
		conn := dial(t, addr)

		// The authenticator is single-use, the connection is not
		require.NoError(t, auth.New(conn, "admin", newTestLogger()).Authenticate("alice", "hunter2"))
		require.NoError(t, auth.New(conn, "admin", newTestLogger()).Authenticate("alice", "hunter2"))
	})

	t.Run("RuntimeCredential", func(t *testing.T) {
		srv, addr := startServer(t, 0)
		cred, err := scram.DeriveCredential("bob", "sw0rdfish", []byte("fedcba9876543210"), 4096)
		require.NoError(t, err)
		srv.AddCredential(cred)

		conn := dial(t, addr)
		require.NoError(t, auth.New(conn, "admin", newTestLogger()).Authenticate("bob", "sw0rdfish"))
	})
}

func TestRateLimiting(t *testing.T) {
	_, addr := startServer(t, 1)

	// Burst allows a few attempts, then saslStart is rejected outright
	var limited bool
	for i := 0; i < 5; i++ {
		conn := dial(t, addr)
		err := auth.New(conn, "admin", newTestLogger()).Authenticate("alice", "wrong")
		require.Error(t, err)

		var serr *transport.ServerError
		require.True(t, errors.As(err, &serr))
		if serr.Message == "too many authentication attempts" {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected the per-IP limiter to trip")
}

func TestBadCredentialConfig(t *testing.T) {
	user := testUser(t)
	user.StoredKey = "not base64"
	cfg := &config.SimulationConfig{
		Listen: "127.0.0.1:0",
		Users:  []config.SimulationUser{user},
	}

	_, err := New(cfg, newTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alice")
}

// TestConcurrentProofReplay replays one proof-bearing continue from two
// connections at once: the step claim must let exactly one reach the
// verifier, the other completes without a challenge payload.
func TestConcurrentProofReplay(t *testing.T) {
	_, addr := startServer(t, 0)

	setup := dial(t, addr)
	nonce, err := scram.GenerateNonce()
	require.NoError(t, err)
	bare := scram.ClientFirstBare("alice", nonce)

	start, err := setup.RunCommand("admin", bson.D{
		{Key: "saslStart", Value: int32(1)},
		{Key: "payload", Value: primitive.Binary{Data: []byte(scram.WrapGS2(bare))}},
		{Key: "mechanism", Value: "SCRAM-SHA-1"},
	})
	require.NoError(t, err)

	convID, ok := start.Lookup("conversationId").Int32OK()
	require.True(t, ok)
	_, first, ok := start.Lookup("payload").BinaryOK()
	require.True(t, ok)

	sf := scram.ParseServerFirst(string(first))
	salt, err := base64.StdEncoding.DecodeString(sf.SaltB64)
	require.NoError(t, err)

	salted := scram.SaltPassword(scram.PasswordDigest("alice", "hunter2"), salt, sf.Iterations)
	clientKey := scram.ClientKey(salted)
	withoutProof := scram.WithoutProof(sf.Nonce)
	authMessage := scram.AuthMessage(bare, string(first), withoutProof)
	signature := scram.ClientSignature(scram.StoredKey(clientKey), authMessage)
	proof, err := scram.XOR(clientKey, signature)
	require.NoError(t, err)

	cont := bson.D{
		{Key: "saslContinue", Value: int32(1)},
		{Key: "payload", Value: primitive.Binary{Data: []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof))}},
		{Key: "conversationId", Value: convID},
	}

	conns := []*transport.Conn{dial(t, addr), dial(t, addr)}
	replies := make([]bson.Raw, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *transport.Conn) {
			defer wg.Done()
			reply, err := conn.RunCommand("admin", cont)
			assert.NoError(t, err)
			replies[i] = reply
		}(i, conn)
	}
	wg.Wait()

	var challenges int
	for _, reply := range replies {
		require.NotNil(t, reply)
		if _, data, ok := reply.Lookup("payload").BinaryOK(); ok && len(data) > 0 {
			challenges++
		}
	}
	assert.Equal(t, 1, challenges)

	// The conversation is consumed afterwards
	_, err = setup.RunCommand("admin", cont)
	var serr *transport.ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, int32(17), serr.Code)
}

func TestUnknownCommand(t *testing.T) {
	_, addr := startServer(t, 0)
	conn := dial(t, addr)

	reply, err := conn.RunCommand("admin", bson.D{{Key: "ping", Value: int32(1)}})
	require.NotNil(t, reply)

	var serr *transport.ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, int32(59), serr.Code)
}
