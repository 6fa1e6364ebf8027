package votecast

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net"

	"github.com/pkg/errors"
)

// newToken generates a fresh 128-bit bearer token as 32 lowercase hex
// characters (spec.md §8 invariant 3). crypto/rand stays on the standard
// library, like crypto/subtle in authenticate below — no third-party
// package in this pack offers a CSPRNG beyond what crypto/rand already is,
// so there's nothing idiomatic to swap in here (see DESIGN.md).
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate session token")
	}
	return hex.EncodeToString(buf), nil
}

// register creates a fresh session for clientID, overwriting any prior
// session for that id (spec.md doesn't define re-registration semantics;
// we treat it as idempotent replacement, the same way the teacher treats
// repeated RequestVote from the same candidate/term as overwriting vote
// state rather than erroring).
func (s *Server) register(clientID string, addr *net.UDPAddr) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	sess := &Session{Token: token, Addr: addr}

	s.mu.Lock()
	s.sessions[clientID] = sess
	s.mu.Unlock()

	return sess, nil
}

// authenticate implements spec.md §4.5/§8 invariant 4: constant-time token
// comparison, AUTH_FAILED on any mismatch or absent session, and the caller
// never mutates state before this check passes.
func (s *Server) authenticate(clientID, token string) error {
	s.mu.Lock()
	sess, ok := s.sessions[clientID]
	s.mu.Unlock()

	if !ok {
		return newErr(KindAuthFailed, ErrSessionNotFound)
	}
	if subtle.ConstantTimeCompare([]byte(sess.Token), []byte(token)) != 1 {
		return errKind(KindAuthFailed)
	}
	return nil
}

// sessionAddr returns the last known transport address for clientID, used
// to unicast multicast-engine traffic and vote results.
func (s *Server) sessionAddr(clientID string) (*net.UDPAddr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[clientID]
	if !ok {
		return nil, false
	}
	return sess.Addr, true
}

// applyReplicatedRegister installs a session mirrored from the leader
// (REPL_REGISTER), without generating a new token.
func (s *Server) applyReplicatedRegister(clientID, token, addrStr string) {
	addr, err := net.ResolveUDPAddr("udp4", addrStr)
	if err != nil {
		s.logGeneric().WithError(err).WithField("client", clientID).Debug("bad replicated session address")
		return
	}
	s.mu.Lock()
	s.sessions[clientID] = &Session{Token: token, Addr: addr}
	s.mu.Unlock()
}
