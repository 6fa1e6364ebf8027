package votecast

// Message type tags (spec.md §6). A closed set of string constants used as
// the discriminator on Envelope, dispatched by a plain switch in
// handlers.go rather than reflection-based routing (spec.md §9 "Shared
// message handlers").
const (
	MsgRegister       = "REGISTER"
	MsgRegisterOK     = "REGISTER_OK"
	MsgCreateGroup    = "CREATE_GROUP"
	MsgCreateGroupOK  = "CREATE_GROUP_OK"
	MsgGetGroups      = "GET_GROUPS"
	MsgGetGroupsOK    = "GET_GROUPS_OK"
	MsgJoinGroup      = "JOIN_GROUP"
	MsgJoinGroupOK    = "JOIN_GROUP_OK"
	MsgJoinedGroups   = "JOINED_GROUPS"
	MsgJoinedGroupsOK = "JOINED_GROUPS_OK"
	MsgLeaveGroup     = "LEAVE_GROUP"
	MsgLeaveGroupOK   = "LEAVE_GROUP_OK"
	MsgStartVote      = "START_VOTE"
	MsgStartVoteOK    = "START_VOTE_OK"
	MsgVote           = "VOTE"
	MsgVoteAck        = "VOTE_ACK"
	MsgVoteResult     = "VOTE_RESULT"
	MsgError          = "ERROR"

	MsgHSElection   = "HS_ELECTION"
	MsgHSReply      = "HS_REPLY"
	MsgHSLeader     = "HS_LEADER"
	MsgHeartbeat    = "HEARTBEAT"
	MsgHeartbeatAck = "HEARTBEAT_ACK"
	MsgReplRegister = "REPL_REGISTER"
	MsgReplMutation = "REPL_MUTATION" // vehicle for CREATE/JOIN/LEAVE_GROUP mirroring
	MsgReplVote     = "REPL_VOTE"
	MsgReplState    = "REPL_STATE"
)

// Direction is the HS probe axis.
type Direction string

const (
	DirLeft  Direction = "LEFT"
	DirRight Direction = "RIGHT"
)

// Envelope is the single wire struct for every JSON message in §6. Fields
// are grouped by the message families that use them; every field except
// Type is omitempty so a given message on the wire only carries what it
// needs.
// handlers.go decodes one Envelope per datagram and switches on Type.
type Envelope struct {
	Type string `json:"type"`

	// Client auth / identity
	ID    string `json:"id,omitempty"`
	Token string `json:"token,omitempty"`

	// Group operations
	Group  string   `json:"group,omitempty"`
	Groups []string `json:"groups,omitempty"`

	// Votes
	VoteID  string   `json:"vote_id,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Options []string `json:"options,omitempty"`
	Timeout float64  `json:"timeout,omitempty"` // seconds
	Vote    string   `json:"vote,omitempty"`    // chosen option, on VOTE_ACK
	Winner  string   `json:"winner,omitempty"`
	S       *uint64  `json:"S,omitempty"` // FIFO sequence number
	Sender  string   `json:"sender,omitempty"`

	// Errors
	Error string `json:"error,omitempty"`

	// HS election
	Phase     *int      `json:"phase,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Hop       *int      `json:"hop,omitempty"`

	// Replication
	Addr        string         `json:"addr,omitempty"`
	Ballots     []Ballot       `json:"votes,omitempty"`
	State       *ReplStateSnap `json:"state,omitempty"`
	WrappedType string         `json:"wrapped_type,omitempty"` // REPL_MUTATION payload: CREATE_GROUP|JOIN_GROUP|LEAVE_GROUP
}

// ReplStateSnap is the REPL_STATE payload: a full snapshot a newly elected
// leader ships to every follower (spec.md §4.8).
type ReplStateSnap struct {
	Sessions []ReplSession   `json:"sessions"`
	Groups   []ReplGroup     `json:"groups"`
	Votes    []ReplVoteState `json:"votes"`
	Seq      map[string]uint64 `json:"seq"` // group -> next sequence number
}

type ReplSession struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	Addr  string `json:"addr"`
}

type ReplGroup struct {
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

type ReplVoteState struct {
	VoteID  string   `json:"vote_id"`
	Group   string   `json:"group"`
	Topic   string   `json:"topic"`
	Options []string `json:"options"`
	Tallies []Ballot `json:"tallies"`
}

// seqPtr and seqOf are small helpers since the wire format needs S to be
// absent (omitempty) rather than present-and-zero for non-FIFO messages,
// which requires a pointer field.
func seqPtr(n uint64) *uint64 { return &n }

func seqOf(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
