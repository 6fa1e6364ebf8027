package votecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parth-patwardhan/votecast/internal/config"
)

// newTestServer opens real loopback sockets on ephemeral ports, matching
// the teacher's preference for exercising the real transport over a mock
// (bernerdschaefer-raft/http_test.go spins up a real httptest.Server
// rather than faking the RPC layer).
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default(0)
	cfg.MulticastPort = 15007 // distinct from the production default to avoid colliding with a live cluster on the test host
	s, err := New("127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.transport.Close() })
	return s
}

func TestCreateGroupThenDuplicateFails(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.createGroup("alice", "g1"))
	err := s.createGroup("bob", "g1")
	assert.Equal(t, KindGroupExists, kindOf(err))
}

func TestJoinUnknownGroupFails(t *testing.T) {
	s := newTestServer(t)

	err := s.joinGroup("alice", "nope")
	assert.Equal(t, KindNoSuchGroup, kindOf(err))
}

func TestLeaveGroupRequiresMembership(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.createGroup("alice", "g1"))
	err := s.leaveGroup("bob", "g1")
	assert.Equal(t, KindNotAMember, kindOf(err))

	require.NoError(t, s.leaveGroup("alice", "g1"))
	assert.Empty(t, s.joinedGroupNames("alice"))
}

func TestJoinGroupThenGroupNames(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.createGroup("alice", "g1"))
	require.NoError(t, s.joinGroup("bob", "g1"))

	members, ok := s.groupMembersSnapshot("g1")
	require.True(t, ok)
	assert.Contains(t, members, "alice")
	assert.Contains(t, members, "bob")

	joined := s.joinedGroupNames("bob")
	assert.Equal(t, []string{"g1"}, joined)
}

func TestApplyReplicatedMutationMirrorsCreateJoinLeave(t *testing.T) {
	s := newTestServer(t)

	s.applyReplicatedMutation(Envelope{Type: MsgCreateGroup, ID: "alice", Group: "g1"})
	_, ok := s.groupMembersSnapshot("g1")
	require.True(t, ok, "replicated CREATE_GROUP did not create group")

	s.applyReplicatedMutation(Envelope{Type: MsgJoinGroup, ID: "bob", Group: "g1"})
	members, _ := s.groupMembersSnapshot("g1")
	assert.Contains(t, members, "bob")

	s.applyReplicatedMutation(Envelope{Type: MsgLeaveGroup, ID: "bob", Group: "g1"})
	members, _ = s.groupMembersSnapshot("g1")
	assert.NotContains(t, members, "bob")
}
