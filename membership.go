package votecast

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/parth-patwardhan/votecast/udp"
)

// runMembershipListener is T1: the multicast receiver for discovery/gossip
// traffic. It never returns except on context cancellation or a transport
// failure, mirroring the teacher's timed-read-then-poll-shutdown loop
// shape (spec.md §5 "Suspension points").
func (s *Server) runMembershipListener(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, from, err := s.transport.RecvLine()
		if err != nil {
			if udp.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logGeneric().WithError(err).Warn("discovery read failed")
			continue
		}
		s.handleGossipLine(line, from)
	}
}

// runAnnounceAndHeartbeat is T2: one task that both emits our own ANNOUNCE
// beacon every AnnounceInterval and drives the predecessor heartbeat check
// every HeartbeatInterval (both 1s by default, so spec.md §5's combined
// tick is the default behavior).
func (s *Server) runAnnounceAndHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.AnnounceInterval)
	defer ticker.Stop()
	hbTicker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer hbTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.announce()
		case <-hbTicker.C:
			s.heartbeatTick(ctx)
		}
	}
}

func (s *Server) announce() {
	if err := s.transport.SendLine("ANNOUNCE:" + s.Self); err != nil {
		s.logGeneric().WithError(err).Debug("announce send failed")
	}
}

// handleGossipLine parses one ASCII discovery line and applies its effect.
// Unparseable lines are logged and dropped, never fatal (spec.md §4.1).
func (s *Server) handleGossipLine(line string, from *net.UDPAddr) {
	switch {
	case line == "WHO_IS_LEADER":
		s.handleWhoIsLeader(from)
	case strings.HasPrefix(line, "ANNOUNCE:"):
		s.handleAnnounce(strings.TrimPrefix(line, "ANNOUNCE:"))
	case strings.HasPrefix(line, "SERVER:"): // spec.md §6: accepted alias for ANNOUNCE
		s.handleAnnounce(strings.TrimPrefix(line, "SERVER:"))
	case strings.HasPrefix(line, "CRASH:"):
		s.handleCrash(strings.TrimPrefix(line, "CRASH:"))
	default:
		s.logGeneric().WithField("line", line).Debug("dropping unrecognized gossip line")
	}
}

func (s *Server) handleWhoIsLeader(from *net.UDPAddr) {
	if !s.isLeader() {
		return
	}
	if err := s.transport.SendLineTo(from, "LEADER:"+s.Self); err != nil {
		s.logGeneric().WithError(err).Debug("leader reply send failed")
	}
}

func (s *Server) handleAnnounce(sid ServerID) {
	if sid == "" {
		return
	}
	s.mu.Lock()
	_, known := s.view[sid]
	if known {
		s.mu.Unlock()
		return
	}
	s.view[sid] = struct{}{}
	s.rebuildRingLocked()
	shouldElect := !s.electionInProg && len(s.view) > 1
	s.mu.Unlock()

	s.logGeneric().WithField("peer", sid).Info("server joined view")
	if shouldElect {
		// Settle briefly so simultaneous joins coalesce into one election
		// (spec.md §4.2).
		go func() {
			select {
			case <-s.ctx.Done():
			case <-time.After(s.cfg.ElectionSettle):
				s.hsStart()
			}
		}()
	}
}

func (s *Server) handleCrash(sid ServerID) {
	if sid == "" || sid == s.Self {
		return
	}
	s.mu.Lock()
	_, known := s.view[sid]
	if !known {
		s.mu.Unlock()
		return
	}
	delete(s.view, sid)
	s.rebuildRingLocked()
	s.mu.Unlock()

	s.logGeneric().WithField("peer", sid).Warn("server crash observed")
	s.hsStart()
}

// rebuildRingLocked recomputes left/right from the sorted view. Caller must
// hold s.mu.
func (s *Server) rebuildRingLocked() {
	s.metrics.viewSize.Set(float64(len(s.view)))

	ids := make([]string, 0, len(s.view))
	for id := range s.view {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := len(ids)
	idx := -1
	for i, id := range ids {
		if id == s.Self {
			idx = i
			break
		}
	}
	if idx < 0 {
		// self always belongs to its own view; defensive only.
		s.view[s.Self] = struct{}{}
		ids = append(ids, s.Self)
		sort.Strings(ids)
		n = len(ids)
		for i, id := range ids {
			if id == s.Self {
				idx = i
				break
			}
		}
	}

	if n == 1 {
		s.left, s.right = s.Self, s.Self
		return
	}
	s.left = ids[(idx-1+n)%n]
	s.right = ids[(idx+1)%n]
}
