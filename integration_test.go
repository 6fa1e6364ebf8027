package votecast_test

import (
	"fmt"
	"testing"
	"time"

	votecast "github.com/parth-patwardhan/votecast"
	"github.com/parth-patwardhan/votecast/client"
	"github.com/parth-patwardhan/votecast/internal/config"
)

// newNode boots one server bound to selfPort, sharing mcastPort (and
// therefore a discovery group) with every other node passed the same port
// in a given test — the same pattern spec.md §10's scenarios use ("Boot A,
// B, C... all on one host"). selfPort must be a real literal port (not 0):
// ServerID is the literal "host:port" string a node was started with
// (spec.md §9 "Addressing"), so an ephemeral 0 would collide across nodes.
func newNode(t *testing.T, selfPort, mcastPort int) *votecast.Server {
	t.Helper()
	cfg := config.Default(selfPort)
	cfg.MulticastPort = mcastPort
	cfg.AnnounceInterval = 50 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionSettle = 100 * time.Millisecond
	cfg.RetransmitTick = 50 * time.Millisecond

	selfAddr := fmt.Sprintf("%s:%d", cfg.Host, selfPort)
	s, err := votecast.New(selfAddr, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Start()
	t.Cleanup(func() { s.Stop() })
	return s
}

// waitFor polls cond until it's true or the cutoff elapses, in the
// teacher's backoff-poll style (server_test.go: "cutoff := ...; for { ...
// time.Sleep(backoff) }").
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	cutoff := time.Now().Add(timeout)
	backoff := 20 * time.Millisecond
	for {
		if cond() {
			return
		}
		if time.Now().After(cutoff) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(backoff)
	}
}

// TestSingleNodeBootDeclaresSelfLeader is scenario S1.
func TestSingleNodeBootDeclaresSelfLeader(t *testing.T) {
	a := newNode(t, 25101, 25001)

	waitFor(t, 3*time.Second, func() bool {
		leader, known := a.CurrentLeader()
		return known && leader == a.Self
	})

	if len(a.View()) != 1 {
		t.Fatalf("View() = %v, want exactly [self]", a.View())
	}
}

// TestThreeNodeElectionConvergesOnMaxID is scenario S2: three servers
// converge on the lexicographically greatest id as leader.
func TestThreeNodeElectionConvergesOnMaxID(t *testing.T) {
	mcastPort := 25002
	a := newNode(t, 25102, mcastPort)
	b := newNode(t, 25103, mcastPort)
	c := newNode(t, 25104, mcastPort)

	nodes := []*votecast.Server{a, b, c}
	waitFor(t, 10*time.Second, func() bool {
		for _, n := range nodes {
			if _, known := n.CurrentLeader(); !known {
				return false
			}
			if len(n.View()) != 3 {
				return false
			}
		}
		return true
	})

	maxID := a.Self
	for _, id := range []string{b.Self, c.Self} {
		if id > maxID {
			maxID = id
		}
	}

	leaders := map[string]bool{}
	for _, n := range nodes {
		leader, _ := n.CurrentLeader()
		leaders[leader] = true
	}
	if len(leaders) != 1 {
		t.Fatalf("nodes disagree on leader: %v", leaders)
	}
	for leader := range leaders {
		if leader != maxID {
			t.Fatalf("converged leader %s is not the max id among %v", leader, []string{a.Self, b.Self, c.Self})
		}
	}
}

// newDiscoveringClient boots a client, points it at mcastPort's discovery
// group, and blocks until it has resolved and registered with whichever
// node currently answers WHO_IS_LEADER.
func newDiscoveringClient(t *testing.T, mcastPort int) *client.Client {
	t.Helper()
	c, err := client.New(config.DefaultMulticastGroup, mcastPort)
	if err != nil {
		t.Fatalf("client.New() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.DiscoverLeader(500 * time.Millisecond); err != nil {
		t.Fatalf("DiscoverLeader() error: %v", err)
	}
	if err := c.Register(); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	return c
}

// TestLeaderFailoverPreservesGroupsAcrossElection is scenario S4: kill the
// leader, confirm survivors elect a successor within HB_TIMEOUT + election
// time, and the successor still answers GET_GROUPS with a group created
// before the old leader died (spec.md:256).
func TestLeaderFailoverPreservesGroupsAcrossElection(t *testing.T) {
	mcastPort := 25004
	a := newNode(t, 25141, mcastPort)
	b := newNode(t, 25142, mcastPort)
	c := newNode(t, 25143, mcastPort)
	nodes := []*votecast.Server{a, b, c}

	waitFor(t, 10*time.Second, func() bool {
		for _, n := range nodes {
			if _, known := n.CurrentLeader(); !known || len(n.View()) != 3 {
				return false
			}
		}
		return true
	})

	var leaderID string
	for _, n := range nodes {
		id, _ := n.CurrentLeader()
		leaderID = id
	}

	cl := newDiscoveringClient(t, mcastPort)
	if err := cl.CreateGroup("book-club"); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	// CreateGroup's reply races its own REPL_MUTATION fan-out (spec.md:277
	// reply-before-replicate); give the loopback send time to land before
	// killing the leader, or "before C's death" wouldn't hold.
	time.Sleep(200 * time.Millisecond)

	// Kill the leader; find it by ServerID among our three nodes and
	// Stop() it, the same "kill C" action spec.md:256 names.
	var survivors []*votecast.Server
	for _, n := range nodes {
		if n.Self == leaderID {
			n.Stop()
			continue
		}
		survivors = append(survivors, n)
	}
	if len(survivors) != 2 {
		t.Fatalf("expected 2 survivors, got %d (leaderID=%s)", len(survivors), leaderID)
	}

	waitFor(t, 10*time.Second, func() bool {
		leader, known := survivors[0].CurrentLeader()
		if !known || leader == leaderID {
			return false
		}
		otherLeader, known := survivors[1].CurrentLeader()
		return known && otherLeader == leader
	})

	newLeaderID, _ := survivors[0].CurrentLeader()

	cl2, err := client.New(config.DefaultMulticastGroup, mcastPort)
	if err != nil {
		t.Fatalf("client.New() error: %v", err)
	}
	defer cl2.Close()
	if err := cl2.DiscoverLeader(500 * time.Millisecond); err != nil {
		t.Fatalf("DiscoverLeader() error: %v", err)
	}
	if err := cl2.Register(); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	groups, err := cl2.GetGroups()
	if err != nil {
		t.Fatalf("GetGroups() error: %v", err)
	}
	found := false
	for _, g := range groups {
		if g == "book-club" {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetGroups() = %v after failover to %s, want book-club replicated from dead leader %s", groups, newLeaderID, leaderID)
	}
}

// TestAuthRejectionWithWrongTokenCreatesNoGroup is scenario S6: a request
// bearing a token that doesn't match the registered session is rejected
// with AUTH_FAILED, and no state change happens (spec.md:260).
func TestAuthRejectionWithWrongTokenCreatesNoGroup(t *testing.T) {
	mcastPort := 25005
	a := newNode(t, 25151, mcastPort)

	waitFor(t, 3*time.Second, func() bool {
		leader, known := a.CurrentLeader()
		return known && leader == a.Self
	})

	cl := newDiscoveringClient(t, mcastPort)
	cl.Token = cl.Token + "-tampered" // wrong token, same client ID

	err := cl.CreateGroup("compromised")
	if err == nil {
		t.Fatalf("CreateGroup() with wrong token succeeded, want AUTH_FAILED")
	}

	// Re-register a second client with the correct flow to confirm no
	// group was created under that name.
	cl2 := newDiscoveringClient(t, mcastPort)
	groups, err := cl2.GetGroups()
	if err != nil {
		t.Fatalf("GetGroups() error: %v", err)
	}
	for _, g := range groups {
		if g == "compromised" {
			t.Fatalf("GetGroups() = %v, want no group created under a rejected token", groups)
		}
	}
}
