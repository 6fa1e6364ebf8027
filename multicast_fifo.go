package votecast

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// startVote admits a new vote, then kicks off its FIFO multicast to every
// current group member (spec.md §4.6 START_VOTE, §4.7 fo_multicast).
func (s *Server) startVote(clientID, group, topic string, options []string, timeout time.Duration) (*Vote, error) {
	if _, ok := s.groupMembersSnapshot(group); !ok {
		return nil, newErr(KindNoSuchGroup, ErrUnknownGroup)
	}

	v := newVote(uuid.NewString(), group, topic, options)

	s.mu.Lock()
	s.votes[v.VoteID] = v
	s.mu.Unlock()

	payload := Envelope{
		Type:    MsgVote,
		VoteID:  v.VoteID,
		Group:   group,
		Topic:   topic,
		Options: options,
	}
	s.foMulticast(group, payload, timeout, v.VoteID)
	return v, nil
}

// foMulticast is the leader-side send half of C7 (spec.md §4.7
// "fo_multicast"): assign the next per-(sender=self,group) sequence number,
// snapshot current membership, register a pending entry, and fan the
// envelope out to every recipient's last known address.
func (s *Server) foMulticast(group string, payload Envelope, timeout time.Duration, voteID string) {
	// Sequence assignment, member snapshot and pending insertion happen
	// under one hold of s.mu, so they are atomic with groups[g].members.
	s.mu.Lock()
	g, ok := s.groups[group]
	if !ok {
		s.mu.Unlock()
		return
	}
	seq := s.seq[group]
	s.seq[group] = seq + 1

	envelope := payload
	envelope.S = seqPtr(seq)
	envelope.Sender = s.Self

	pendingSet := make(map[string]struct{}, len(g.Members))
	for cid := range g.Members {
		pendingSet[cid] = struct{}{}
	}

	entry := &pendingEntry{
		group:    group,
		seq:      seq,
		pending:  pendingSet,
		deadline: time.Now().Add(timeout),
		msg:      envelope,
		voteID:   voteID,
	}
	s.pending[pendingKey{group: group, seq: seq}] = entry
	s.mu.Unlock()

	s.sendToRecipients(entry)
}

func (s *Server) sendToRecipients(entry *pendingEntry) {
	// entry.pending is shrunk by handleVoteAck under s.mu; copy it under
	// the same lock before sending.
	s.mu.Lock()
	cids := make([]string, 0, len(entry.pending))
	for cid := range entry.pending {
		cids = append(cids, cid)
	}
	s.mu.Unlock()

	for _, cid := range cids {
		addr, ok := s.sessionAddr(cid)
		if !ok {
			continue // TRANSIENT_IO: no known address yet, retransmit loop will retry
		}
		if err := s.transport.SendJSON(addr, entry.msg); err != nil {
			s.logGeneric().WithError(err).WithField("client", cid).Debug("FIFO send failed")
		}
	}
}

// runFIFORetransmitLoop is T4: every tick, retransmit every still-pending
// entry and finalize the ones that are done (spec.md §4.7 "Background
// retransmission loop").
func (s *Server) runFIFORetransmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RetransmitTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.retransmitTick()
		}
	}
}

func (s *Server) retransmitTick() {
	now := time.Now()

	s.mu.Lock()
	var finished []*pendingEntry
	for key, entry := range s.pending {
		if len(entry.pending) == 0 || now.After(entry.deadline) || now.Equal(entry.deadline) {
			finished = append(finished, entry)
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()

	for _, entry := range finished {
		if entry.voteID != "" {
			s.finalizeVote(entry.voteID)
		}
	}

	s.mu.Lock()
	live := make([]*pendingEntry, 0, len(s.pending))
	for _, entry := range s.pending {
		live = append(live, entry)
	}
	s.mu.Unlock()

	for _, entry := range live {
		s.metrics.retransmitsSent.Inc()
		s.sendToRecipients(entry)
	}
}

// handleVoteAck processes an acknowledgement from a group member (spec.md
// §4.7 "Leader on VOTE_ACK"). Acks for an unknown (group, seq) are the
// OUT_OF_ORDER_ACK case (spec.md §7): dropped silently, already finalized.
// Like every other client-facing handler, this carries {id, token} and is
// gated on it (spec.md §4.5); a bad or missing token is dropped silently
// rather than answered, matching VOTE_ACK's no-reply convention.
func (s *Server) handleVoteAck(env Envelope) {
	if err := s.authenticate(env.ID, env.Token); err != nil {
		return
	}

	key := pendingKey{group: env.Group, seq: seqOf(env.S)}

	s.mu.Lock()
	entry, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(entry.pending, env.ID)
	voteID := entry.voteID
	s.mu.Unlock()

	if voteID == "" {
		return
	}

	s.mu.Lock()
	if v, ok := s.votes[voteID]; ok && !v.finalized {
		v.addBallot(env.ID, env.Vote)
	}
	s.mu.Unlock()
}

// finalizeVote computes and announces a vote's result exactly once
// (spec.md §4.7 "Finalization").
func (s *Server) finalizeVote(voteID string) {
	s.mu.Lock()
	v, ok := s.votes[voteID]
	if !ok || v.finalized {
		s.mu.Unlock()
		return
	}
	v.finalized = true
	winner := v.tally()
	group, topic := v.Group, v.Topic
	s.mu.Unlock()

	s.metrics.votesFinalized.Inc()
	s.logGeneric().WithFields(map[string]interface{}{
		"vote_id": voteID, "group": group, "winner": winner,
	}).Info("vote finalized")

	result := Envelope{Type: MsgVoteResult, VoteID: voteID, Group: group, Topic: topic, Winner: winner}
	recipients, ok := s.groupMembersSnapshot(group)
	if !ok {
		return
	}
	for cid := range recipients {
		addr, ok := s.sessionAddr(cid)
		if !ok {
			continue
		}
		if err := s.transport.SendJSON(addr, result); err != nil {
			s.logGeneric().WithError(err).WithField("client", cid).Debug("VOTE_RESULT send failed")
		}
	}
}
