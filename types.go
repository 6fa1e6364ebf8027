package votecast

import (
	"net"
	"time"
)

// ServerID is a literal "host:port" string. Identity and ring ordering are
// both string-based; IPs are never canonicalized (spec.md §9 "Addressing").
type ServerID = string

// Session is created once by REGISTER and never updated.
type Session struct {
	Token string
	Addr  *net.UDPAddr
}

// Group is the in-memory record backing CREATE_GROUP/JOIN_GROUP/LEAVE_GROUP.
type Group struct {
	Name    string
	Owner   string // ClientID
	Members map[string]struct{}
}

func newGroup(name, owner string) *Group {
	return &Group{
		Name:    name,
		Owner:   owner,
		Members: map[string]struct{}{owner: {}},
	}
}

func (g *Group) memberList() []string {
	out := make([]string, 0, len(g.Members))
	for m := range g.Members {
		out = append(out, m)
	}
	return out
}

// Ballot is one client's cast choice for a vote.
type Ballot struct {
	Voter  string `json:"voter"`
	Choice string `json:"choice"`
}

// NoWinner is the special marker result for a vote that received zero
// ballots by its deadline.
const NoWinner = "NO_WINNER"

// Vote is the leader-side record of one in-progress or finished ballot.
type Vote struct {
	VoteID  string
	Group   string
	Topic   string
	Options []string
	Tallies []Ballot

	finalized bool
}

func newVote(id, group, topic string, options []string) *Vote {
	return &Vote{
		VoteID:  id,
		Group:   group,
		Topic:   topic,
		Options: append([]string(nil), options...),
	}
}

// addBallot appends (voter, choice), deduplicating by voter per spec.md §4.7:
// "the ballot list accepts a unique (vote_id, voter)". Returns false if the
// voter already has a ballot recorded for this vote.
func (v *Vote) addBallot(voter, choice string) bool {
	for _, b := range v.Tallies {
		if b.Voter == voter {
			return false
		}
	}
	v.Tallies = append(v.Tallies, Ballot{Voter: voter, Choice: choice})
	return true
}

// tally computes the winner per spec.md §4.7/S5: highest vote count, ties
// broken by first-appearing option in v.Options, NoWinner if no ballots.
func (v *Vote) tally() string {
	if len(v.Tallies) == 0 {
		return NoWinner
	}
	counts := make(map[string]int, len(v.Options))
	for _, b := range v.Tallies {
		counts[b.Choice]++
	}
	winner := NoWinner
	best := -1
	for _, opt := range v.Options {
		if c := counts[opt]; c > best {
			best = c
			winner = opt
		}
	}
	return winner
}

// pendingEntry is the leader-side FIFO multicast bookkeeping record for one
// (group, seq) send, keyed in Server.pending.
type pendingEntry struct {
	group    string
	seq      uint64
	pending  map[string]struct{} // ClientIDs still unacknowledged
	deadline time.Time
	msg      Envelope
	voteID   string // "" if this multicast doesn't carry a vote
}

// pendingKey identifies one pendingEntry.
type pendingKey struct {
	group string
	seq   uint64
}

// holdbackKey identifies one receiver-side hold-back slot.
type holdbackKey struct {
	sender string
	group  string
	seq    uint64
}

// receiverKey identifies one per-(sender,group) receive counter on a client.
type receiverKey struct {
	sender string
	group  string
}
