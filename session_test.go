package votecast

import "testing"

func TestRegisterThenAuthenticateSucceeds(t *testing.T) {
	s := newTestServer(t)

	sess, err := s.register("alice", s.transport.LocalUnicastAddr())
	if err != nil {
		t.Fatalf("register() error: %v", err)
	}
	if sess.Token == "" {
		t.Fatalf("register() produced empty token")
	}

	if err := s.authenticate("alice", sess.Token); err != nil {
		t.Fatalf("authenticate() with correct token: %v", err)
	}
}

func TestAuthenticateRejectsWrongToken(t *testing.T) {
	s := newTestServer(t)

	sess, err := s.register("alice", s.transport.LocalUnicastAddr())
	if err != nil {
		t.Fatalf("register() error: %v", err)
	}

	err = s.authenticate("alice", sess.Token+"x")
	if kindOf(err) != KindAuthFailed {
		t.Fatalf("authenticate() with wrong token kind = %v, want %v", kindOf(err), KindAuthFailed)
	}
}

func TestAuthenticateRejectsUnknownClient(t *testing.T) {
	s := newTestServer(t)

	err := s.authenticate("ghost", "whatever")
	if kindOf(err) != KindAuthFailed {
		t.Fatalf("authenticate(unknown) kind = %v, want %v", kindOf(err), KindAuthFailed)
	}
}

func TestApplyReplicatedRegisterInstallsSessionWithoutNewToken(t *testing.T) {
	s := newTestServer(t)

	addr := s.transport.LocalUnicastAddr()
	s.applyReplicatedRegister("alice", "fixed-token", addr.String())

	if err := s.authenticate("alice", "fixed-token"); err != nil {
		t.Fatalf("authenticate() after replicated register: %v", err)
	}
}
