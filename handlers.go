package votecast

import (
	"context"
	"net"
	"time"

	"github.com/parth-patwardhan/votecast/udp"
)

// runUnicastDispatcher is T3: reads one JSON envelope at a time off the
// unicast socket and routes it through the closed type switch below
// (spec.md §9 "Shared message handlers"). A handler either computes or
// enqueues a send — never blocks on further I/O — per spec.md §5
// "Suspension points".
func (s *Server) runUnicastDispatcher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var env Envelope
		addr, err := s.transport.RecvJSON(&env)
		if err != nil {
			if udp.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.metrics.messagesDropped.Inc()
			s.logGeneric().WithError(err).Debug("dropping unparseable datagram")
			continue
		}

		s.dispatch(env, addr)
	}
}

// dispatch never panics the process: a recover here turns any handler bug
// into a logged, locally-recovered error instead of taking the server down
// (spec.md §7: "No kind is fatal to the process").
func (s *Server) dispatch(env Envelope, addr *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			s.logGeneric().WithField("panic", r).Error("recovered from handler panic")
		}
	}()

	switch env.Type {
	// Client-facing, leader only
	case MsgRegister:
		s.handleRegister(env, addr)
	case MsgCreateGroup:
		s.handleCreateGroup(env, addr)
	case MsgGetGroups:
		s.handleGetGroups(env, addr)
	case MsgJoinGroup:
		s.handleJoinGroup(env, addr)
	case MsgJoinedGroups:
		s.handleJoinedGroups(env, addr)
	case MsgLeaveGroup:
		s.handleLeaveGroup(env, addr)
	case MsgStartVote:
		s.handleStartVote(env, addr)
	case MsgVoteAck:
		s.handleVoteAck(env)

	// Server-to-server
	case MsgHSElection:
		s.handleHSElection(env)
	case MsgHSReply:
		s.handleHSReply(env)
	case MsgHSLeader:
		s.handleHSLeader(env)
	case MsgHeartbeat:
		s.handleHeartbeat(env, addr)
	case MsgHeartbeatAck:
		s.handleHeartbeatAck(env)
	case MsgReplRegister:
		s.applyReplicatedRegister(env.ID, env.Token, env.Addr)
	case MsgReplMutation:
		s.applyReplicatedMutation(Envelope{Type: env.WrappedType, ID: env.ID, Group: env.Group})
	case MsgReplVote:
		s.applyReplicatedVote(env)
	case MsgReplState:
		s.applyReplState(env.State)

	default:
		// BAD_REQUEST: unknown message type, logged and dropped
		// (spec.md §7).
		s.metrics.messagesDropped.Inc()
		s.logGeneric().WithField("type", env.Type).Debug("dropping unknown message type")
	}
}

func (s *Server) replyTo(addr *net.UDPAddr, env Envelope) {
	if err := s.transport.SendJSON(addr, env); err != nil {
		s.logGeneric().WithError(err).Debug("reply send failed")
	}
}

// replyError surfaces AUTH_FAILED/BAD_REQUEST/GROUP_EXISTS/NO_SUCH_GROUP/
// NOT_A_MEMBER to the client; every other Kind is logged only (spec.md §7).
func (s *Server) replyError(addr *net.UDPAddr, kind Kind) {
	if !kind.surfaced() {
		s.logGeneric().WithField("kind", kind).Debug("local error, not surfaced to client")
		return
	}
	s.replyTo(addr, Envelope{Type: MsgError, Error: string(kind)})
}

// authOrReject authenticates (id, token) and, on failure, writes the
// ERROR{AUTH_FAILED} reply itself so every handler below can just `return`.
func (s *Server) authOrReject(env Envelope, addr *net.UDPAddr) bool {
	if err := s.authenticate(env.ID, env.Token); err != nil {
		s.replyError(addr, KindAuthFailed)
		return false
	}
	return true
}

func (s *Server) handleRegister(env Envelope, addr *net.UDPAddr) {
	if err := s.requireLeader(); err != nil {
		s.logGeneric().WithError(err).Debug("dropping REGISTER, not leader")
		return
	}
	if env.ID == "" {
		s.replyError(addr, KindBadRequest)
		return
	}
	sess, err := s.register(env.ID, addr)
	if err != nil {
		s.logGeneric().WithError(err).Error("failed to generate session token")
		return
	}
	s.replyTo(addr, Envelope{Type: MsgRegisterOK, Token: sess.Token})
	s.replicateRegister(env.ID, sess)
}

func (s *Server) handleCreateGroup(env Envelope, addr *net.UDPAddr) {
	if err := s.requireLeader(); err != nil {
		s.logGeneric().WithError(err).Debug("dropping CREATE_GROUP, not leader")
		return
	}
	if !s.authOrReject(env, addr) {
		return
	}
	if env.Group == "" {
		s.replyError(addr, KindBadRequest)
		return
	}
	if err := s.createGroup(env.ID, env.Group); err != nil {
		s.replyError(addr, kindOf(err))
		return
	}
	s.replyTo(addr, Envelope{Type: MsgCreateGroupOK, Group: env.Group})
	s.replicateMutation(MsgCreateGroup, env.ID, env.Group)
}

func (s *Server) handleGetGroups(env Envelope, addr *net.UDPAddr) {
	if err := s.requireLeader(); err != nil {
		s.logGeneric().WithError(err).Debug("dropping GET_GROUPS, not leader")
		return
	}
	if !s.authOrReject(env, addr) {
		return
	}
	s.replyTo(addr, Envelope{Type: MsgGetGroupsOK, Groups: s.groupNames()})
}

func (s *Server) handleJoinGroup(env Envelope, addr *net.UDPAddr) {
	if err := s.requireLeader(); err != nil {
		s.logGeneric().WithError(err).Debug("dropping JOIN_GROUP, not leader")
		return
	}
	if !s.authOrReject(env, addr) {
		return
	}
	if err := s.joinGroup(env.ID, env.Group); err != nil {
		s.replyError(addr, kindOf(err))
		return
	}
	s.replyTo(addr, Envelope{Type: MsgJoinGroupOK, Group: env.Group})
	s.replicateMutation(MsgJoinGroup, env.ID, env.Group)
}

func (s *Server) handleJoinedGroups(env Envelope, addr *net.UDPAddr) {
	if err := s.requireLeader(); err != nil {
		s.logGeneric().WithError(err).Debug("dropping JOINED_GROUPS, not leader")
		return
	}
	if !s.authOrReject(env, addr) {
		return
	}
	s.replyTo(addr, Envelope{Type: MsgJoinedGroupsOK, Groups: s.joinedGroupNames(env.ID)})
}

func (s *Server) handleLeaveGroup(env Envelope, addr *net.UDPAddr) {
	if err := s.requireLeader(); err != nil {
		s.logGeneric().WithError(err).Debug("dropping LEAVE_GROUP, not leader")
		return
	}
	if !s.authOrReject(env, addr) {
		return
	}
	if err := s.leaveGroup(env.ID, env.Group); err != nil {
		s.replyError(addr, kindOf(err))
		return
	}
	s.replyTo(addr, Envelope{Type: MsgLeaveGroupOK, Group: env.Group})
	s.replicateMutation(MsgLeaveGroup, env.ID, env.Group)
}

func (s *Server) handleStartVote(env Envelope, addr *net.UDPAddr) {
	if err := s.requireLeader(); err != nil {
		s.logGeneric().WithError(err).Debug("dropping START_VOTE, not leader")
		return
	}
	if !s.authOrReject(env, addr) {
		return
	}
	if env.Group == "" || env.Topic == "" || len(env.Options) == 0 {
		s.replyError(addr, KindBadRequest)
		return
	}
	timeout := time.Duration(env.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	v, err := s.startVote(env.ID, env.Group, env.Topic, env.Options, timeout)
	if err != nil {
		s.replyError(addr, kindOf(err))
		return
	}
	s.replyTo(addr, Envelope{
		Type: MsgStartVoteOK, Group: env.Group, Topic: env.Topic,
		Options: env.Options, Timeout: env.Timeout,
	})
	s.replicateVote(v)
}

// applyReplicatedVote mirrors an admitted START_VOTE on a follower.
func (s *Server) applyReplicatedVote(env Envelope) {
	s.mu.Lock()
	if _, exists := s.votes[env.VoteID]; !exists {
		s.votes[env.VoteID] = newVote(env.VoteID, env.Group, env.Topic, env.Options)
	}
	if _, exists := s.seq[env.Group]; !exists {
		s.seq[env.Group] = 0
	}
	s.mu.Unlock()
}
