// Package conductor implements ConductorSession, WorkerPool, ConductorRouter
// and AgentProvisioner (spec.md §4.1-4.3), adapted from the teacher's
// internal/process/manager.go lifecycle-tracking shape and internal/router's
// driver-registry pattern.
package conductor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/internal/transport"
	"github.com/rs/zerolog/log"
)

// SessionConfig names everything Session.Establish needs to authenticate
// against one conductor (spec.md §4.1 steps 1-4).
type SessionConfig struct {
	ConductorID    string
	AdminURL       string
	AppURL         string
	InstalledAppID string
	TokenExpirySecs int
	CallTimeout    time.Duration
}

// Session is "ready to call" by construction: the only way to obtain one is
// Establish, which runs the admin-token → app-connect → authenticate →
// receiver-split sequence. There is no exported constructor that skips it.
type Session struct {
	conductorID string
	conn        *transport.Conn
	dispatcher  *transport.Dispatcher
	callTimeout time.Duration
	closed      atomic.Bool
}

// authAckPayload is the inner value of the conductor's reply to our
// "authenticate" envelope.
type authAckPayload struct {
	Success bool   `msgpack:"success"`
	Reason  string `msgpack:"reason,omitempty"`
}

// Establish performs the four-step handshake from spec.md §4.1. Rejection
// at any step is fatal for this call; there is no retry or reconnect here.
// Its caller, NewWorkerPool, skips a session that fails and does not retry.
func Establish(ctx context.Context, cfg SessionConfig) (*Session, error) {
	token, err := issueAppAuthToken(ctx, cfg.AdminURL, cfg.InstalledAppID, cfg.TokenExpirySecs)
	if err != nil {
		return nil, fmt.Errorf("issue app authentication token: %w", err)
	}

	appConn, err := transport.Dial(ctx, cfg.AppURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "APP_CONNECT_FAILED", "connect to app interface", err)
	}

	authData, err := transport.EncodeInner("authenticate", map[string]string{"token": token})
	if err != nil {
		appConn.Close()
		return nil, apperr.Wrap(apperr.Internal, "ENCODE_FAILED", "encode authenticate envelope", err)
	}
	authID := appConn.NextID()
	if err := appConn.Send(transport.Envelope{ID: authID, Type: transport.KindRequest, Data: authData}); err != nil {
		appConn.Close()
		return nil, apperr.Wrap(apperr.Unavailable, "APP_CONNECT_FAILED", "send authenticate envelope", err)
	}

	ack, err := appConn.Recv()
	if err != nil {
		appConn.Close()
		return nil, apperr.Wrap(apperr.Auth, "AUTH_REJECTED", "conductor closed socket during authentication", err)
	}
	if ack.Type == transport.KindError {
		appConn.Close()
		return nil, apperr.New(apperr.Auth, "conductor rejected authentication")
	}
	var ackPayload authAckPayload
	if _, err := transport.DecodeInner(ack.Data, &ackPayload); err == nil && !ackPayload.Success {
		appConn.Close()
		return nil, apperr.NewCode(apperr.Auth, "AUTH_REJECTED", ackPayload.Reason)
	}

	dispatcher := transport.NewDispatcher(appConn)
	s := &Session{
		conductorID: cfg.ConductorID,
		conn:        appConn,
		dispatcher:  dispatcher,
		callTimeout: cfg.CallTimeout,
	}
	go func() {
		_ = dispatcher.Run()
		s.closed.Store(true)
	}()

	log.Info().Str("conductor_id", cfg.ConductorID).Msg("🔌 conductor session established")
	return s, nil
}

// zomeCallPayload is the inner request value for call_zome.
type zomeCallPayload struct {
	DnaHash     string      `msgpack:"dna_hash"`
	AgentPubKey string      `msgpack:"agent_pub_key"`
	ZomeName    string      `msgpack:"zome_name"`
	FnName      string      `msgpack:"fn_name"`
	Payload     interface{} `msgpack:"payload"`
}

// CallZome is Session's sole operation (spec.md §4.1).
func (s *Session) CallZome(ctx context.Context, dnaHash, agentPubKey, zomeName, fnName string, payload interface{}) ([]byte, error) {
	callCtx, cancel := transport.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	env, err := s.dispatcher.Call(callCtx, "call_zome", zomeCallPayload{
		DnaHash:     dnaHash,
		AgentPubKey: agentPubKey,
		ZomeName:    zomeName,
		FnName:      fnName,
		Payload:     payload,
	})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Connected reports whether the session's receiver loop is still running.
func (s *Session) Connected() bool {
	return !s.closed.Load()
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// ConductorID returns the conductor this session belongs to.
func (s *Session) ConductorID() string { return s.conductorID }
