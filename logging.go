package votecast

import "github.com/sirupsen/logrus"

// newLogEntry builds the base structured logging context every background
// task and handler logs through. The teacher's server.go stamps a
// "id=%d term=%d state=%s: " prefix on every log line via logGeneric; we
// keep that same "always carry identity and role" shape but express it as
// logrus fields instead of a formatted prefix string.
func newLogEntry(log *logrus.Logger, self ServerID) *logrus.Entry {
	return log.WithField("server_id", self)
}

// withRole refreshes the role/view fields just before logging, mirroring
// logGeneric's use of live state (s.term, s.State()) at each call site.
func (s *Server) withRole(entry *logrus.Entry) *logrus.Entry {
	role := "follower"
	if s.isLeader() {
		role = "leader"
	}
	return entry.WithFields(logrus.Fields{
		"role":      role,
		"view_size": s.viewSize(),
	})
}

// logGeneric is the direct generalization of the teacher's
// (*Server).logGeneric: every caller gets identity+role+view context for
// free instead of re-deriving it.
func (s *Server) logGeneric() *logrus.Entry {
	return s.withRole(newLogEntry(s.log, s.Self))
}
