package votecast

// Hirschberg-Sinclair ring election (spec.md §4.4). Goal: agree on the
// node with the largest ServerID in the current view, via bidirectional
// probes of exponentially growing radius.

func (s *Server) neighborInDirection(dir Direction) ServerID {
	if dir == DirLeft {
		return s.left
	}
	return s.right
}

// hsStart begins a new election, guarded by electionInProg so overlapping
// triggers (a join, a crash, and a swallowed lower-id probe all arriving at
// once) don't clobber each other's state (spec.md §4.4 step 1, §5
// "Cancellation/timeouts").
func (s *Server) hsStart() {
	s.mu.Lock()
	if s.electionInProg {
		s.mu.Unlock()
		return
	}
	s.electionInProg = true
	s.leaderKnown = false
	s.isLeaderFlag = false
	s.phase = 0
	s.pendingReplies = 2
	solo := len(s.view) == 1
	self := s.Self
	s.mu.Unlock()

	s.metrics.electionsRun.Inc()

	if solo {
		// Single-node view: declare self leader immediately, no messages
		// (spec.md §4.4 "Edge cases").
		s.declareLeader()
		return
	}

	s.logGeneric().Info("starting HS election")
	s.probeBothDirections(0)
	_ = self
}

// probeBothDirections emits HS_ELECTION to both neighbors at the given
// phase, with hop = 2^phase.
func (s *Server) probeBothDirections(phase int) {
	hop := 1 << uint(phase)
	s.mu.Lock()
	self := s.Self
	left, right := s.left, s.right
	s.mu.Unlock()

	for _, d := range []struct {
		dir  Direction
		peer ServerID
	}{{DirLeft, left}, {DirRight, right}} {
		addr, err := resolveAddr(d.peer)
		if err != nil {
			s.logGeneric().WithError(err).WithField("peer", d.peer).Debug("cannot resolve election neighbor")
			continue
		}
		env := Envelope{
			Type:      MsgHSElection,
			ID:        self,
			Phase:     intPtr(phase),
			Direction: d.dir,
			Hop:       intPtr(hop),
		}
		if err := s.transport.SendJSON(addr, env); err != nil {
			s.logGeneric().WithError(err).WithField("peer", d.peer).Debug("election probe send failed")
		}
	}
}

// handleHSElection processes an incoming probe (spec.md §4.4 step 2).
func (s *Server) handleHSElection(env Envelope) {
	cid := env.ID
	dir := env.Direction
	hop := intOf(env.Hop)
	phase := intOf(env.Phase)

	s.mu.Lock()
	self := s.Self
	neighbor := s.neighborInDirection(dir)
	s.mu.Unlock()

	if cid < self {
		// ELECTION_STALE (spec.md §7): swallow, start our own if idle.
		if !s.electionInProgress() {
			s.hsStart()
		}
		return
	}

	addr, err := resolveAddr(neighbor)
	if err != nil {
		s.logGeneric().WithError(err).WithField("peer", neighbor).Debug("cannot resolve election neighbor")
		return
	}

	if hop > 1 {
		fwd := Envelope{
			Type:      MsgHSElection,
			ID:        cid,
			Phase:     intPtr(phase),
			Direction: dir,
			Hop:       intPtr(hop - 1),
		}
		if err := s.transport.SendJSON(addr, fwd); err != nil {
			s.logGeneric().WithError(err).Debug("election forward failed")
		}
		return
	}

	reply := Envelope{Type: MsgHSReply, ID: cid, Direction: dir}
	if err := s.transport.SendJSON(addr, reply); err != nil {
		s.logGeneric().WithError(err).Debug("election reply send failed")
	}
}

// handleHSReply processes an incoming reply (spec.md §4.4 step 3).
func (s *Server) handleHSReply(env Envelope) {
	cid := env.ID
	dir := env.Direction

	s.mu.Lock()
	self := s.Self
	s.mu.Unlock()

	if cid != self {
		neighbor := s.neighborInDirection(dir)
		addr, err := resolveAddr(neighbor)
		if err != nil {
			s.logGeneric().WithError(err).Debug("cannot resolve reply relay neighbor")
			return
		}
		fwd := Envelope{Type: MsgHSReply, ID: cid, Direction: dir}
		if err := s.transport.SendJSON(addr, fwd); err != nil {
			s.logGeneric().WithError(err).Debug("election reply relay failed")
		}
		return
	}

	s.mu.Lock()
	s.pendingReplies--
	done := s.pendingReplies == 0
	phase := s.phase
	viewSize := len(s.view)
	s.mu.Unlock()

	if !done {
		return
	}

	phase++
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()

	if (1 << uint(phase)) >= viewSize {
		s.declareLeader()
		return
	}

	s.mu.Lock()
	s.pendingReplies = 2
	s.mu.Unlock()
	s.probeBothDirections(phase)
}

// declareLeader is step 4: this node has outlasted every other ServerId in
// the view and announces itself.
func (s *Server) declareLeader() {
	s.mu.Lock()
	s.leader = s.Self
	s.leaderKnown = true
	s.isLeaderFlag = true
	s.electionInProg = false
	left := s.left
	self := s.Self
	s.mu.Unlock()

	s.logGeneric().Info("elected self leader")

	if left != self {
		addr, err := resolveAddr(left)
		if err == nil {
			_ = s.transport.SendJSON(addr, Envelope{Type: MsgHSLeader, ID: self})
		}
	}

	s.replicateFullState()
}

// handleHSLeader processes step 5: propagate the winner's announcement
// around the ring exactly once.
func (s *Server) handleHSLeader(env Envelope) {
	cid := env.ID

	s.mu.Lock()
	s.leader = cid
	s.isLeaderFlag = cid == s.Self
	s.leaderKnown = true
	s.electionInProg = false
	left := s.left
	self := s.Self
	s.mu.Unlock()

	s.logGeneric().WithField("leader", cid).Info("learned election result")

	if left == cid {
		return // ring closure: message has traveled all the way around
	}
	addr, err := resolveAddr(left)
	if err != nil {
		return
	}
	_ = s.transport.SendJSON(addr, Envelope{Type: MsgHSLeader, ID: cid})
	_ = self
}

func (s *Server) electionInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.electionInProg
}

func intPtr(n int) *int { return &n }

func intOf(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
