package votecast

import "net"

// broadcastToFollowers unicasts env to every other server in the current
// view (spec.md §4.8: "the leader unicasts a REPL_* envelope to every other
// server"). Best-effort: a send failure is logged and otherwise ignored,
// matching the TRANSIENT_IO kind in spec.md §7.
func (s *Server) broadcastToFollowers(env Envelope) {
	for _, peer := range s.peersExceptSelf() {
		addr, err := resolveAddr(peer)
		if err != nil {
			continue
		}
		if err := s.transport.SendJSON(addr, env); err != nil {
			s.logGeneric().WithError(err).WithField("peer", peer).Debug("replication send failed")
		}
	}
}

func (s *Server) peersExceptSelf() []ServerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ServerID, 0, len(s.view)-1)
	for id := range s.view {
		if id != s.Self {
			out = append(out, id)
		}
	}
	return out
}

// replicateRegister mirrors a freshly created session (spec.md §4.8: "all
// except HS_*, heartbeats, and REGISTER which uses a dedicated mirror").
func (s *Server) replicateRegister(clientID string, sess *Session) {
	s.broadcastToFollowers(Envelope{
		Type:  MsgReplRegister,
		ID:    clientID,
		Token: sess.Token,
		Addr:  sess.Addr.String(),
	})
}

// replicateMutation mirrors a CREATE_GROUP/JOIN_GROUP/LEAVE_GROUP that the
// leader just admitted. The original envelope's Type is preserved inside a
// REPL_MUTATION wrapper (DESIGN.md "REPL_MUTATION": this vehicle covers the mutations
// spec.md §6 doesn't name a dedicated REPL_* type for).
func (s *Server) replicateMutation(kind string, clientID, group string) {
	s.broadcastToFollowers(Envelope{
		Type:        MsgReplMutation,
		WrappedType: kind,
		ID:          clientID,
		Group:       group,
	})
}

// replicateVote mirrors an admitted START_VOTE so followers can serve
// GET_GROUPS/JOINED_GROUPS-adjacent reads consistently and, more
// importantly, so a newly elected leader's snapshot already includes it if
// leadership changes before REPL_STATE would otherwise catch up.
func (s *Server) replicateVote(v *Vote) {
	s.broadcastToFollowers(Envelope{
		Type:    MsgReplVote,
		VoteID:  v.VoteID,
		Group:   v.Group,
		Topic:   v.Topic,
		Options: v.Options,
	})
}

// replicateFullState is invoked once, by a freshly elected leader, to ship
// every follower a complete snapshot (spec.md §4.8 "On election win").
func (s *Server) replicateFullState() {
	s.mu.Lock()
	snap := ReplStateSnap{
		Sessions: make([]ReplSession, 0, len(s.sessions)),
		Groups:   make([]ReplGroup, 0, len(s.groups)),
		Votes:    make([]ReplVoteState, 0, len(s.votes)),
		Seq:      make(map[string]uint64, len(s.seq)),
	}
	for id, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, ReplSession{ID: id, Token: sess.Token, Addr: sess.Addr.String()})
	}
	for name, g := range s.groups {
		snap.Groups = append(snap.Groups, ReplGroup{Name: name, Owner: g.Owner, Members: g.memberList()})
	}
	for id, v := range s.votes {
		snap.Votes = append(snap.Votes, ReplVoteState{
			VoteID: id, Group: v.Group, Topic: v.Topic, Options: v.Options, Tallies: v.Tallies,
		})
	}
	for group, next := range s.seq {
		snap.Seq[group] = next
	}
	s.mu.Unlock()

	s.broadcastToFollowers(Envelope{Type: MsgReplState, State: &snap})
}

// applyReplState overwrites local state from a leader's snapshot (spec.md
// §4.8: "followers overwrite local state"). Until this lands, a fresh
// follower simply has nothing to serve — client traffic only ever reaches
// the current leader because only the leader answers WHO_IS_LEADER.
func (s *Server) applyReplState(snap *ReplStateSnap) {
	if snap == nil {
		return
	}

	sessions := make(map[string]*Session, len(snap.Sessions))
	for _, rs := range snap.Sessions {
		addr, err := net.ResolveUDPAddr("udp4", rs.Addr)
		if err != nil {
			continue
		}
		sessions[rs.ID] = &Session{Token: rs.Token, Addr: addr}
	}

	groups := make(map[string]*Group, len(snap.Groups))
	for _, rg := range snap.Groups {
		g := &Group{Name: rg.Name, Owner: rg.Owner, Members: map[string]struct{}{}}
		for _, m := range rg.Members {
			g.Members[m] = struct{}{}
		}
		groups[rg.Name] = g
	}

	votes := make(map[string]*Vote, len(snap.Votes))
	for _, rv := range snap.Votes {
		votes[rv.VoteID] = &Vote{
			VoteID: rv.VoteID, Group: rv.Group, Topic: rv.Topic,
			Options: rv.Options, Tallies: rv.Tallies,
		}
	}

	seq := make(map[string]uint64, len(snap.Seq))
	for g, n := range snap.Seq {
		seq[g] = n
	}

	s.mu.Lock()
	s.sessions = sessions
	s.groups = groups
	s.votes = votes
	s.seq = seq
	s.mu.Unlock()

	s.logGeneric().Info("applied replicated snapshot from new leader")
}
