package votecast

import (
	"context"
	"net"
	"time"
)

// heartbeatTick is the failure-detector half of T2 (spec.md §4.3): on every
// tick, ping the predecessor and check whether the previous ping ever got
// an ack.
func (s *Server) heartbeatTick(ctx context.Context) {
	s.mu.Lock()
	left := s.left
	self := s.Self
	lastAck := s.lastHeartbeatAck
	outstanding := s.heartbeatOutstanding
	timeout := s.cfg.HeartbeatTimeout
	s.mu.Unlock()

	if left == self {
		return // sole member of the view; detector is inert (spec.md §3)
	}

	if outstanding && time.Since(lastAck) > timeout {
		s.declarePredecessorCrashed(ctx, left)
		return
	}

	addr, err := resolveAddr(left)
	if err != nil {
		s.logGeneric().WithError(err).WithField("peer", left).Debug("cannot resolve predecessor address")
		return
	}
	env := Envelope{Type: MsgHeartbeat, ID: self}
	if err := s.transport.SendJSON(addr, env); err != nil {
		s.logGeneric().WithError(err).WithField("peer", left).Debug("heartbeat send failed")
		return
	}

	s.mu.Lock()
	s.heartbeatOutstanding = true
	s.mu.Unlock()
}

// declarePredecessorCrashed implements the PEER_CRASH trigger in spec.md
// §7: broadcast CRASH, let the gossip settle, then run a fresh election.
func (s *Server) declarePredecessorCrashed(ctx context.Context, left ServerID) {
	s.logGeneric().WithField("peer", left).Error("heartbeat timeout, declaring predecessor crashed")
	if err := s.transport.SendLine("CRASH:" + left); err != nil {
		s.logGeneric().WithError(err).Debug("crash broadcast failed")
	}

	s.mu.Lock()
	delete(s.view, left)
	s.rebuildRingLocked()
	s.heartbeatOutstanding = false
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.ElectionSettle):
			s.hsStart()
		}
	}()
}

// handleHeartbeat answers a HEARTBEAT from our successor (the sender is
// whichever node has us as its left neighbor) with a HEARTBEAT_ACK.
func (s *Server) handleHeartbeat(env Envelope, addr *net.UDPAddr) {
	reply := Envelope{Type: MsgHeartbeatAck, ID: s.Self}
	if err := s.transport.SendJSON(addr, reply); err != nil {
		s.logGeneric().WithError(err).Debug("heartbeat ack send failed")
	}
}

// handleHeartbeatAck records a fresh ack from our predecessor.
func (s *Server) handleHeartbeatAck(env Envelope) {
	s.mu.Lock()
	if env.ID == s.left {
		s.lastHeartbeatAck = time.Now()
		s.heartbeatOutstanding = false
	}
	s.mu.Unlock()
}
