// FILE: src/internal/simsrv/server.go
package simsrv

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/panjf2000/gnet/v2"
	"golang.org/x/time/rate"

	"mongowire/src/internal/config"
	"mongowire/src/internal/scram"
)

// Prevent unbounded limiter map growth
const maxTrackedIPs = 10000

// Server is the simulation command server: it speaks the same framing
// as a real deployment and verifies SCRAM-SHA-1 conversations against
// pre-derived credentials. Used by the serve mode of the CLI and by
// end-to-end tests.
type Server struct {
	cfg    *config.SimulationConfig
	scram  *scram.Server
	logger *log.Logger

	handler  *commandServer
	engine   *gnet.Engine
	engineMu sync.Mutex
	wg       sync.WaitGroup

	// Per-remote-IP limiter on failed authentication attempts
	limiters  map[string]*rate.Limiter
	limiterMu sync.Mutex

	conversations map[int32]*conversation
	convSeq       int32
	convMu        sync.Mutex
}

// New builds a server from its config section. Credentials arrive
// pre-derived (stored/server keys), never as plaintext passwords.
func New(cfg *config.SimulationConfig, logger *log.Logger) (*Server, error) {
	store := scram.NewServer()
	for _, user := range cfg.Users {
		cred, err := credentialFromConfig(user)
		if err != nil {
			return nil, fmt.Errorf("simulation user %q: %w", user.Username, err)
		}
		store.AddCredential(cred)
	}

	s := &Server{
		cfg:           cfg,
		scram:         store,
		logger:        logger,
		limiters:      make(map[string]*rate.Limiter),
		conversations: make(map[int32]*conversation),
	}
	s.handler = &commandServer{server: s, clients: make(map[gnet.Conn]*client)}
	return s, nil
}

// AddCredential registers an additional user at runtime.
func (s *Server) AddCredential(cred *scram.Credential) {
	s.scram.AddCredential(cred)
}

// Start launches the event engine and returns once it is accepting.
func (s *Server) Start() error {
	addr := fmt.Sprintf("tcp://%s", s.cfg.Listen)
	gnetLogger := compat.NewGnetAdapter(s.logger)

	errChan := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("msg", "Simulation server starting",
			"component", "simsrv",
			"listen", s.cfg.Listen)

		err := gnet.Run(s.handler, addr,
			gnet.WithLogger(gnetLogger),
			gnet.WithReusePort(true),
		)
		if err != nil {
			s.logger.Error("msg", "Simulation server failed",
				"component", "simsrv",
				"listen", s.cfg.Listen,
				"error", err)
		}
		errChan <- err
	}()

	select {
	case err := <-errChan:
		s.wg.Wait()
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the engine down and waits for the run loop to exit.
func (s *Server) Stop() {
	s.engineMu.Lock()
	engine := s.engine
	s.engineMu.Unlock()

	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		(*engine).Stop(ctx)
	}
	s.wg.Wait()
	s.logger.Info("msg", "Simulation server stopped", "component", "simsrv")
}

// failureAllowed consults the per-IP limiter; a false return means the
// remote has burned through its failed-attempt budget.
func (s *Server) failureAllowed(remoteIP string) bool {
	if s.cfg.MaxFailuresPerMinute == 0 {
		return true
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	limiter, exists := s.limiters[remoteIP]
	if !exists {
		limiter = rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(s.cfg.MaxFailuresPerMinute)),
			3)
		s.limiters[remoteIP] = limiter

		if len(s.limiters) > maxTrackedIPs {
			for ip := range s.limiters {
				delete(s.limiters, ip)
				if len(s.limiters) < maxTrackedIPs*4/5 {
					break
				}
			}
		}
	}
	return limiter.Allow()
}

func credentialFromConfig(user config.SimulationUser) (*scram.Credential, error) {
	salt, err := base64.StdEncoding.DecodeString(user.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 salt: %w", err)
	}
	storedKey, err := base64.StdEncoding.DecodeString(user.StoredKey)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 stored key: %w", err)
	}
	serverKey, err := base64.StdEncoding.DecodeString(user.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 server key: %w", err)
	}

	return &scram.Credential{
		Username:   user.Username,
		Salt:       salt,
		Iterations: int(user.Iterations),
		StoredKey:  storedKey,
		ServerKey:  serverKey,
	}, nil
}
