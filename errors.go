package votecast

import "github.com/pkg/errors"

// Kind is the error taxonomy from spec.md §7 — a closed set of trigger
// categories, not distinct Go error types, so a single votecastError
// carries both a Kind (for the client-facing ERROR.error string, where
// applicable) and the underlying cause (for logs).
type Kind string

const (
	KindAuthFailed     Kind = "AUTH_FAILED"
	KindBadRequest     Kind = "BAD_REQUEST"
	KindGroupExists    Kind = "GROUP_EXISTS"
	KindNoSuchGroup    Kind = "NO_SUCH_GROUP"
	KindNotAMember     Kind = "NOT_A_MEMBER"
	KindTransientIO    Kind = "TRANSIENT_IO"
	KindPeerCrash      Kind = "PEER_CRASH"
	KindOutOfOrderAck  Kind = "OUT_OF_ORDER_ACK"
	KindElectionStale  Kind = "ELECTION_STALE"
)

// surfaced reports whether this Kind is ever surfaced to the client as an
// ERROR envelope. Every other kind is logged and recovered from locally.
func (k Kind) surfaced() bool {
	switch k {
	case KindAuthFailed, KindBadRequest, KindGroupExists, KindNoSuchGroup, KindNotAMember:
		return true
	default:
		return false
	}
}

// votecastError pairs a taxonomy Kind with its underlying cause.
type votecastError struct {
	Kind  Kind
	cause error
}

func (e *votecastError) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.cause.Error()
	}
	return string(e.Kind)
}

func (e *votecastError) Unwrap() error { return e.cause }

// newErr builds a votecastError, wrapping cause with pkg/errors so a stack
// trace is available at the log site when one exists.
func newErr(kind Kind, cause error) *votecastError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &votecastError{Kind: kind, cause: cause}
}

func errKind(kind Kind) *votecastError {
	return &votecastError{Kind: kind}
}

// kindOf extracts the Kind from an error produced by this package, falling
// back to BAD_REQUEST for anything else so a handler can always surface
// something sane to the client instead of panicking on a type assertion.
func kindOf(err error) Kind {
	if ve, ok := err.(*votecastError); ok {
		return ve.Kind
	}
	return KindBadRequest
}

// Sentinel errors for local control flow, in the teacher's style
// (server.go: ErrNotLeader, ErrDeposed, ErrAppendEntriesRejected).
var (
	ErrNotLeader       = errors.New("votecast: not the leader")
	ErrUnknownGroup    = errors.New("votecast: no such group")
	ErrSessionNotFound = errors.New("votecast: no session for client")
)

// requireLeader is ErrNotLeader's one call site: every client-facing
// handler drops a request it can't serve instead of replying, since only
// the leader answers WHO_IS_LEADER in the first place (spec.md §4.1).
func (s *Server) requireLeader() error {
	if !s.isLeader() {
		return ErrNotLeader
	}
	return nil
}
