// FILE: src/internal/scram/server.go
package scram

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"mongowire/src/internal/core"
)

const handshakeTimeout = 60 * time.Second

// Credential stores the server-side SCRAM-SHA-1 material for one user.
// Neither the password nor the client key is kept.
type Credential struct {
	Username   string
	Salt       []byte // 16+ bytes
	Iterations int
	StoredKey  []byte // SHA1(ClientKey)
	ServerKey  []byte // for mutual auth
}

// DeriveCredential creates a credential from a plaintext password,
// running the same digest and PBKDF2 derivation the client performs.
func DeriveCredential(username, password string, salt []byte, iterations int) (*Credential, error) {
	if len(salt) < 16 {
		return nil, fmt.Errorf("salt must be at least 16 bytes")
	}
	if iterations < 1 {
		return nil, fmt.Errorf("iteration count must be positive")
	}

	saltedKey := SaltPassword(PasswordDigest(username, password), salt, iterations)
	clientKey := ClientKey(saltedKey)

	return &Credential{
		Username:   username,
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  StoredKey(clientKey),
		ServerKey:  ServerKey(saltedKey),
	}, nil
}

// Server verifies SCRAM-SHA-1 conversations against a credential store.
// It is the peer the simulation server and the tests authenticate
// against; it never sees plaintext passwords.
type Server struct {
	credentials map[string]*Credential
	handshakes  map[string]*handshakeState
	mu          sync.Mutex
}

// handshakeState tracks one in-flight conversation, keyed by full nonce.
type handshakeState struct {
	username    string
	fullNonce   string
	clientBare  string
	serverFirst string
	credential  *Credential
	createdAt   time.Time
}

// NewServer creates an empty SCRAM server.
func NewServer() *Server {
	return &Server{
		credentials: make(map[string]*Credential),
		handshakes:  make(map[string]*handshakeState),
	}
}

// AddCredential registers a user credential.
func (s *Server) AddCredential(cred *Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[cred.Username] = cred
}

// HandleClientFirst processes a saslStart payload and returns the
// server-first challenge text.
func (s *Server) HandleClientFirst(payload string) (string, error) {
	msg, err := ParseClientFirst(payload)
	if err != nil {
		return "", fmt.Errorf("malformed client-first: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, exists := s.credentials[msg.User]
	if !exists {
		return "", fmt.Errorf("authentication failed")
	}

	suffix := make([]byte, 24)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate server nonce: %w", err)
	}
	fullNonce := msg.Nonce + base64.URLEncoding.EncodeToString(suffix)

	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d",
		fullNonce, base64.StdEncoding.EncodeToString(cred.Salt), cred.Iterations)

	s.handshakes[fullNonce] = &handshakeState{
		username:    msg.User,
		fullNonce:   fullNonce,
		clientBare:  msg.Bare,
		serverFirst: serverFirst,
		credential:  cred,
		createdAt:   time.Now(),
	}
	s.cleanupHandshakes()

	return serverFirst, nil
}

// HandleClientFinal verifies the proof-bearing saslContinue payload and
// returns the server-final text carrying the server signature.
func (s *Server) HandleClientFinal(payload string) (string, error) {
	msg, err := ParseClientFinal(payload)
	if err != nil {
		return "", fmt.Errorf("malformed client-final: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.handshakes[msg.Nonce]
	if !exists {
		return "", fmt.Errorf("invalid nonce or expired handshake")
	}
	defer delete(s.handshakes, msg.Nonce)

	if time.Since(state.createdAt) > handshakeTimeout {
		return "", fmt.Errorf("handshake timeout")
	}
	if msg.Channel != core.ChannelBindingB64 {
		return "", fmt.Errorf("unsupported channel binding")
	}

	proof, err := base64.StdEncoding.DecodeString(msg.ProofB64)
	if err != nil {
		return "", fmt.Errorf("invalid proof encoding")
	}

	withoutProof := WithoutProof(state.fullNonce)
	authMessage := AuthMessage(state.clientBare, state.serverFirst, withoutProof)

	// Recover ClientKey from the proof and check it hashes to StoredKey
	clientSignature := ClientSignature(state.credential.StoredKey, authMessage)
	clientKey, err := XOR(proof, clientSignature)
	if err != nil {
		return "", fmt.Errorf("invalid proof length")
	}
	if subtle.ConstantTimeCompare(StoredKey(clientKey), state.credential.StoredKey) != 1 {
		return "", fmt.Errorf("authentication failed")
	}

	serverSignature := ServerSignature(state.credential.ServerKey, authMessage)
	return fmt.Sprintf("v=%s", base64.StdEncoding.EncodeToString(serverSignature)), nil
}

func (s *Server) cleanupHandshakes() {
	cutoff := time.Now().Add(-handshakeTimeout)
	for nonce, state := range s.handshakes {
		if state.createdAt.Before(cutoff) {
			delete(s.handshakes, nonce)
		}
	}
}
