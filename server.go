// Package votecast implements the fault-tolerant distributed voting
// service: multicast membership and failure detection, ring-based
// Hirschberg-Sinclair leader election, authenticated client sessions, group
// membership, and FIFO-ordered reliable multicast voting with leader-driven
// replication.
//
// The whole server is one owned object guarded by a single coarse mutex, in
// the spirit of the teacher's Server type (server.go in
// github.com/peterbourgon/raft): a struct of shared state driven by a
// handful of concurrent loops, rather than ambient globals.
package votecast

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/parth-patwardhan/votecast/internal/config"
	"github.com/parth-patwardhan/votecast/udp"
)

// Server is the agent that runs the whole votecast protocol for one
// process: membership, election, sessions, groups/votes, FIFO multicast,
// and replication all live on this one struct.
type Server struct {
	Self ServerID
	cfg  config.Config

	transport *udp.Transport
	log       *logrus.Logger
	metrics   *metrics

	mu sync.Mutex

	// Membership (C2)
	view  map[ServerID]struct{}
	left  ServerID
	right ServerID

	// Election (C4)
	leader         ServerID
	leaderKnown    bool
	isLeaderFlag   bool
	electionInProg bool
	phase          int
	pendingReplies int

	// Failure detector (C3)
	lastHeartbeatAck     time.Time
	heartbeatOutstanding bool

	// Sessions (C5)
	sessions map[string]*Session // ClientID -> Session

	// Groups & votes (C6)
	groups map[string]*Group // name -> Group
	votes  map[string]*Vote  // voteID -> Vote

	// FIFO reliable multicast (C7), leader-side
	seq     map[string]uint64           // group -> next sequence this leader will assign
	pending map[pendingKey]*pendingEntry // (group, seq) -> bookkeeping

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs an un-started Server. selfAddr is the literal "host:port"
// this process will be known by; it becomes both the unicast bind address
// and the ServerID.
func New(selfAddr string, cfg config.Config) (*Server, error) {
	t, err := udp.Open(selfAddr, cfg.MulticastGroup, cfg.MulticastPort)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	s := &Server{
		Self:      selfAddr,
		cfg:       cfg,
		transport: t,
		log:       log,
		metrics:   newMetrics(selfAddr),
		view:      map[ServerID]struct{}{selfAddr: {}},
		left:      selfAddr,
		right:     selfAddr,
		sessions:  map[string]*Session{},
		groups:    map[string]*Group{},
		votes:     map[string]*Vote{},
		seq:       map[string]uint64{},
		pending:   map[pendingKey]*pendingEntry{},
	}
	return s, nil
}

// Start launches T1-T4 (spec.md §5) and returns immediately; call Wait or
// Stop to bring the server down. T5, the optional log-flush task, is not
// started: logrus writes synchronously on every call in this module, so
// there is no buffered writer for a flush loop to drain (see DESIGN.md).
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s.ctx, s.cancel, s.group = ctx, cancel, g

	s.mu.Lock()
	solo := len(s.view) == 1
	if solo {
		// Single-node boot declares leadership immediately without
		// messages (spec.md §4.4 "Single-node view").
		s.leader = s.Self
		s.leaderKnown = true
		s.isLeaderFlag = true
	}
	s.mu.Unlock()
	if solo {
		// logGeneric takes s.mu itself, so log only after releasing it.
		s.logGeneric().Info("single-node view, declaring self leader")
	}

	g.Go(func() error { return s.runMembershipListener(ctx) })     // T1
	g.Go(func() error { return s.runAnnounceAndHeartbeat(ctx) })   // T2
	g.Go(func() error { return s.runUnicastDispatcher(ctx) })      // T3
	g.Go(func() error { return s.runFIFORetransmitLoop(ctx) })     // T4
}

// Wait blocks until every background task has exited (normally only after
// Stop cancels the shared context).
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Stop signals every background task to drain and exit, then closes both
// sockets. Safe to call once; idempotent beyond that is not guaranteed,
// matching the teacher's single-shutdown-path convention.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.Wait()
	return s.transport.Close()
}

func (s *Server) isLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLeaderFlag
}

func (s *Server) viewSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.view)
}

// CurrentLeader reports the last-known leader id and whether any leader has
// been determined yet.
func (s *Server) CurrentLeader() (ServerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader, s.leaderKnown
}

// View returns a snapshot copy of the current membership view.
func (s *Server) View() []ServerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ServerID, 0, len(s.view))
	for id := range s.view {
		out = append(out, id)
	}
	return out
}

// resolveAddr turns a ServerID (or client session address) into a usable
// *net.UDPAddr for unicast sends.
func resolveAddr(id ServerID) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", id)
}
