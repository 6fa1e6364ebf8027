package votecast

import (
	"testing"
	"time"
)

func TestStartVoteAssignsSequenceAndPendingEntry(t *testing.T) {
	s := newTestServer(t)
	if err := s.createGroup("alice", "g1"); err != nil {
		t.Fatalf("createGroup() error: %v", err)
	}
	if err := s.joinGroup("bob", "g1"); err != nil {
		t.Fatalf("joinGroup() error: %v", err)
	}

	v, err := s.startVote("alice", "g1", "pizza?", []string{"yes", "no"}, time.Minute)
	if err != nil {
		t.Fatalf("startVote() error: %v", err)
	}

	s.mu.Lock()
	entry, ok := s.pending[pendingKey{group: "g1", seq: 0}]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no pending entry for (g1, 0)")
	}
	if entry.voteID != v.VoteID {
		t.Fatalf("pending entry voteID = %s, want %s", entry.voteID, v.VoteID)
	}
	if _, ok := entry.pending["alice"]; !ok {
		t.Errorf("pending set missing owner alice")
	}
	if _, ok := entry.pending["bob"]; !ok {
		t.Errorf("pending set missing member bob")
	}
}

func TestStartVoteOnUnknownGroupFails(t *testing.T) {
	s := newTestServer(t)
	_, err := s.startVote("alice", "nope", "topic", []string{"a"}, time.Minute)
	if kindOf(err) != KindNoSuchGroup {
		t.Fatalf("startVote() kind = %v, want %v", kindOf(err), KindNoSuchGroup)
	}
}

func TestHandleVoteAckRemovesFromPendingAndRecordsBallot(t *testing.T) {
	s := newTestServer(t)
	if err := s.createGroup("alice", "g1"); err != nil {
		t.Fatalf("createGroup() error: %v", err)
	}
	if err := s.joinGroup("bob", "g1"); err != nil {
		t.Fatalf("joinGroup() error: %v", err)
	}
	aliceSess, err := s.register("alice", s.transport.LocalUnicastAddr())
	if err != nil {
		t.Fatalf("register(alice) error: %v", err)
	}
	bobSess, err := s.register("bob", s.transport.LocalUnicastAddr())
	if err != nil {
		t.Fatalf("register(bob) error: %v", err)
	}
	v, err := s.startVote("alice", "g1", "pizza?", []string{"yes", "no"}, time.Minute)
	if err != nil {
		t.Fatalf("startVote() error: %v", err)
	}

	s.handleVoteAck(Envelope{Group: "g1", S: seqPtr(0), ID: "alice", Token: aliceSess.Token, VoteID: v.VoteID, Vote: "yes"})
	s.handleVoteAck(Envelope{Group: "g1", S: seqPtr(0), ID: "bob", Token: bobSess.Token, VoteID: v.VoteID, Vote: "no"})

	s.mu.Lock()
	entry := s.pending[pendingKey{group: "g1", seq: 0}]
	remaining := len(entry.pending)
	s.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("pending set still has %d outstanding acks", remaining)
	}

	s.mu.Lock()
	tallies := append([]Ballot(nil), s.votes[v.VoteID].Tallies...)
	s.mu.Unlock()
	if len(tallies) != 2 {
		t.Fatalf("len(Tallies) = %d, want 2", len(tallies))
	}
}

func TestHandleVoteAckOnUnknownPendingKeyIsIgnored(t *testing.T) {
	s := newTestServer(t)
	sess, err := s.register("alice", s.transport.LocalUnicastAddr())
	if err != nil {
		t.Fatalf("register() error: %v", err)
	}
	// OUT_OF_ORDER_ACK case (spec.md §7): no panic, no mutation.
	s.handleVoteAck(Envelope{Group: "ghost-group", S: seqPtr(99), ID: "alice", Token: sess.Token, VoteID: "none"})
}

func TestHandleVoteAckRejectsForgedToken(t *testing.T) {
	s := newTestServer(t)
	if err := s.createGroup("alice", "g1"); err != nil {
		t.Fatalf("createGroup() error: %v", err)
	}
	if _, err := s.register("alice", s.transport.LocalUnicastAddr()); err != nil {
		t.Fatalf("register() error: %v", err)
	}
	v, err := s.startVote("alice", "g1", "pizza?", []string{"yes", "no"}, time.Minute)
	if err != nil {
		t.Fatalf("startVote() error: %v", err)
	}

	// Forged ack: correct ClientID, wrong token. Must be dropped without
	// touching the pending entry or recording a ballot.
	s.handleVoteAck(Envelope{Group: "g1", S: seqPtr(0), ID: "alice", Token: "not-the-real-token", VoteID: v.VoteID, Vote: "yes"})

	s.mu.Lock()
	entry := s.pending[pendingKey{group: "g1", seq: 0}]
	remaining := len(entry.pending)
	ballots := len(s.votes[v.VoteID].Tallies)
	s.mu.Unlock()

	if remaining != 1 {
		t.Fatalf("pending set size = %d after forged ack, want 1 (unchanged)", remaining)
	}
	if ballots != 0 {
		t.Fatalf("Tallies = %d after forged ack, want 0", ballots)
	}
}

func TestRetransmitTickFinalizesExpiredEntryExactlyOnce(t *testing.T) {
	s := newTestServer(t)
	if err := s.createGroup("alice", "g1"); err != nil {
		t.Fatalf("createGroup() error: %v", err)
	}
	v, err := s.startVote("alice", "g1", "pizza?", []string{"yes", "no"}, time.Millisecond)
	if err != nil {
		t.Fatalf("startVote() error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	s.retransmitTick()

	s.mu.Lock()
	_, stillPending := s.pending[pendingKey{group: "g1", seq: 0}]
	finalized := s.votes[v.VoteID].finalized
	s.mu.Unlock()

	if stillPending {
		t.Fatalf("entry still pending after its deadline elapsed")
	}
	if !finalized {
		t.Fatalf("vote not finalized after deadline-driven retransmitTick")
	}

	// A second tick must not re-finalize (finalizeVote is a no-op past the
	// first call per spec.md §4.7 "Finalization (exactly once per voteId)").
	s.retransmitTick()

	mfs, err := s.metrics.registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "votecast_votes_finalized_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
				t.Fatalf("votes finalized = %v after two ticks, want 1", got)
			}
		}
	}
}

func TestFinalizeVoteNoWinnerOnZeroBallots(t *testing.T) {
	s := newTestServer(t)
	if err := s.createGroup("alice", "g1"); err != nil {
		t.Fatalf("createGroup() error: %v", err)
	}
	v, err := s.startVote("alice", "g1", "pizza?", []string{"yes", "no"}, time.Minute)
	if err != nil {
		t.Fatalf("startVote() error: %v", err)
	}

	s.finalizeVote(v.VoteID)

	s.mu.Lock()
	winner := s.votes[v.VoteID].tally()
	s.mu.Unlock()
	if winner != NoWinner {
		t.Fatalf("winner = %s, want %s", winner, NoWinner)
	}
}
