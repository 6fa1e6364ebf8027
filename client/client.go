// Package client is the reference votecast client: multicast leader
// discovery, REGISTER/session handling, group and vote request helpers,
// and the receiver side of the FIFO reliable multicast engine (spec.md
// §4.7 "Receiver delivery"). It plays the role original_source/client.py
// played for the Python prototype, generalized into the teacher's
// JSON-over-UDP idiom instead of bare ASCII lines.
package client

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	votecast "github.com/parth-patwardhan/votecast"
)

// Delivery is handed to the caller's Deliver callback once a ballot has
// cleared FIFO ordering (spec.md §4.7 "deliver"), and once for each
// VOTE_RESULT that Listen receives (then with no Seq and no Options).
type Delivery struct {
	Sender  string
	Group   string
	Seq     uint64
	VoteID  string
	Topic   string
	Options []string
}

// receiverKey identifies one per-(sender,group) receive counter, mirroring
// the server-side type of the same shape (types.go).
type receiverKey struct {
	sender string
	group  string
}

type holdbackKey struct {
	sender string
	group  string
	seq    uint64
}

// ChoosePicker lets the caller plug in how a ballot option is chosen for a
// given vote; the default client always returns the first option, which
// is enough for the conformance scenarios in spec.md §10 and easy for a
// caller to override with a prompt or a fixed strategy.
type ChoosePicker func(d Delivery) string

// Client is one authenticated votecast session plus the hold-back state
// needed to honor per-sender FIFO delivery (spec.md §4.2, §4.7).
type Client struct {
	ID    string
	Token string

	conn     *net.UDPConn
	mcast    *net.UDPAddr
	leader   *net.UDPAddr
	leaderMu sync.Mutex

	log *logrus.Logger

	Deliver func(Delivery)
	Choose  ChoosePicker

	mu        sync.Mutex
	recv      map[receiverKey]int64 // -1 means nothing delivered yet
	holdback  map[holdbackKey]votecast.Envelope
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Client bound to an ephemeral local UDP port, identified by
// a fresh random ClientID (spec.md §4.2: "ClientId = UUID, generated
// client-side at startup", mirroring original_source/client.py's
// `self.id = str(uuid.uuid4())`).
func New(mcastGroup string, mcastPort int) (*Client, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errors.Wrap(err, "open client socket")
	}
	mcast, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(mcastGroup, strconv.Itoa(mcastPort)))
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "resolve multicast group")
	}

	log := logrus.New()
	c := &Client{
		ID:       uuid.NewString(),
		conn:     conn,
		mcast:    mcast,
		log:      log,
		Choose:   func(d Delivery) string { return d.Options[0] },
		recv:     map[receiverKey]int64{},
		holdback: map[holdbackKey]votecast.Envelope{},
		done:     make(chan struct{}),
	}
	return c, nil
}

// seqOf mirrors the unexported helper of the same name in protocol.go:
// the wire format needs S absent (omitempty) for non-FIFO messages, so a
// nil pointer reads as sequence 0 here too.
func seqOf(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

// Close releases the client socket and stops the background listen loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

// DiscoverLeader repeatedly multicasts the ASCII "WHO_IS_LEADER" gossip
// line and blocks until a unicast "LEADER:<id>" reply arrives, resolving
// and recording that id as the current leader address (spec.md §4.1
// "WHO_IS_LEADER"/"LEADER:" exchange; original_source/client.py
// `discover_leader`). Both lines are plain ASCII, not JSON envelopes — the
// same gossip wire format servers use with each other on the multicast
// socket (membership.go handleWhoIsLeader).
func (c *Client) DiscoverLeader(retry time.Duration) error {
	if err := c.sendWhoIsLeader(); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	c.conn.SetReadDeadline(time.Now().Add(retry))
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if err := c.sendWhoIsLeader(); err != nil {
					return err
				}
				c.conn.SetReadDeadline(time.Now().Add(retry))
				continue
			}
			return errors.Wrap(err, "discover leader")
		}

		line := string(buf[:n])
		if !strings.HasPrefix(line, "LEADER:") {
			continue // stray gossip on this port, keep waiting
		}
		sid := strings.TrimPrefix(line, "LEADER:")
		addr, err := net.ResolveUDPAddr("udp4", sid)
		if err != nil {
			continue
		}
		c.SetLeader(addr)
		return nil
	}
}

func (c *Client) sendWhoIsLeader() error {
	_, err := c.conn.WriteToUDP([]byte("WHO_IS_LEADER"), c.mcast)
	return errors.Wrap(err, "send WHO_IS_LEADER")
}

// SetLeader records the server address every client-facing request is
// unicast to. DiscoverLeader calls it with the address resolved from a
// "LEADER:<id>" reply; a caller that already knows the leader's address
// can call it directly instead.
func (c *Client) SetLeader(addr *net.UDPAddr) {
	c.leaderMu.Lock()
	c.leader = addr
	c.leaderMu.Unlock()
}

func (c *Client) leaderAddr() *net.UDPAddr {
	c.leaderMu.Lock()
	defer c.leaderMu.Unlock()
	return c.leader
}

// send unicasts env to the current leader and waits for one reply
// envelope, retrying on timeout up to a small fixed number of attempts —
// the same pattern the teacher used for RPC calls over its transport.
func (c *Client) send(env votecast.Envelope) (votecast.Envelope, error) {
	addr := c.leaderAddr()
	if addr == nil {
		return votecast.Envelope{}, errors.New("votecast: no leader known, call DiscoverLeader first")
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return votecast.Envelope{}, errors.Wrap(err, "encode request")
	}

	buf := make([]byte, 4096)
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := c.conn.WriteToUDP(payload, addr); err != nil {
			return votecast.Envelope{}, errors.Wrap(err, "send request")
		}
		c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return votecast.Envelope{}, errors.Wrap(err, "read reply")
		}
		var reply votecast.Envelope
		if err := json.Unmarshal(buf[:n], &reply); err != nil {
			continue
		}
		if reply.Type == votecast.MsgError {
			return reply, errors.Errorf("votecast: %s", reply.Error)
		}
		return reply, nil
	}
	return votecast.Envelope{}, errors.New("votecast: no reply from leader")
}

// Register performs REGISTER and stores the bearer token for every
// subsequent request (spec.md §4.5).
func (c *Client) Register() error {
	reply, err := c.send(votecast.Envelope{Type: votecast.MsgRegister, ID: c.ID})
	if err != nil {
		return err
	}
	c.Token = reply.Token
	return nil
}

func (c *Client) authed(env votecast.Envelope) votecast.Envelope {
	env.ID = c.ID
	env.Token = c.Token
	return env
}

// CreateGroup issues CREATE_GROUP.
func (c *Client) CreateGroup(name string) error {
	_, err := c.send(c.authed(votecast.Envelope{Type: votecast.MsgCreateGroup, Group: name}))
	return err
}

// GetGroups issues GET_GROUPS.
func (c *Client) GetGroups() ([]string, error) {
	reply, err := c.send(c.authed(votecast.Envelope{Type: votecast.MsgGetGroups}))
	if err != nil {
		return nil, err
	}
	return reply.Groups, nil
}

// JoinGroup issues JOIN_GROUP.
func (c *Client) JoinGroup(name string) error {
	_, err := c.send(c.authed(votecast.Envelope{Type: votecast.MsgJoinGroup, Group: name}))
	return err
}

// JoinedGroups issues JOINED_GROUPS.
func (c *Client) JoinedGroups() ([]string, error) {
	reply, err := c.send(c.authed(votecast.Envelope{Type: votecast.MsgJoinedGroups}))
	if err != nil {
		return nil, err
	}
	return reply.Groups, nil
}

// LeaveGroup issues LEAVE_GROUP.
func (c *Client) LeaveGroup(name string) error {
	_, err := c.send(c.authed(votecast.Envelope{Type: votecast.MsgLeaveGroup, Group: name}))
	return err
}

// StartVote issues START_VOTE with a deadline expressed in seconds, per
// the wire format in protocol.go.
func (c *Client) StartVote(group, topic string, options []string, timeout time.Duration) error {
	_, err := c.send(c.authed(votecast.Envelope{
		Type:    votecast.MsgStartVote,
		Group:   group,
		Topic:   topic,
		Options: options,
		Timeout: timeout.Seconds(),
	}))
	return err
}

// Listen runs the receiver loop: VOTE and VOTE_RESULT envelopes arrive
// unsolicited from the leader on this same socket, so this must run
// concurrently with any in-flight send() calls from the same process
// (the teacher's http client keeps the same one-socket-many-goroutines
// shape). Blocks until Close is called.
func (c *Client) Listen() error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-c.done:
				return nil
			default:
				return errors.Wrap(err, "listen")
			}
		}

		var env votecast.Envelope
		if err := json.Unmarshal(buf[:n], &env); err != nil {
			continue
		}

		switch env.Type {
		case votecast.MsgVote:
			c.handleVote(env)
		case votecast.MsgVoteResult:
			if c.Deliver != nil {
				c.Deliver(Delivery{Sender: env.Sender, Group: env.Group, VoteID: env.VoteID, Topic: env.Topic})
			}
		}
	}
}

// handleVote is the receiver half of spec.md §4.7 "Receiver delivery":
// per-(sender,group) FIFO hold-back, always followed by a VOTE_ACK.
func (c *Client) handleVote(env votecast.Envelope) {
	seq := seqOf(env.S)
	key := receiverKey{sender: env.Sender, group: env.Group}

	c.mu.Lock()
	r, seen := c.recv[key]
	if !seen {
		r = -1
		c.recv[key] = r
	}

	switch {
	case int64(seq) == r+1:
		c.recv[key] = int64(seq)
		c.mu.Unlock()
		c.deliverAndDrain(env, key)
	case int64(seq) > r+1:
		c.holdback[holdbackKey{sender: env.Sender, group: env.Group, seq: seq}] = env
		c.mu.Unlock()
	default:
		c.mu.Unlock() // duplicate, already delivered
	}

	c.ack(env)
}

// deliverAndDrain delivers env, then repeatedly advances R and drains the
// next in-order hold-back entry (spec.md §4.7: "repeatedly advance R and
// drain any (R+1) entry from the hold-back buffer").
func (c *Client) deliverAndDrain(env votecast.Envelope, key receiverKey) {
	c.deliver(env)

	for {
		c.mu.Lock()
		r := c.recv[key]
		next := holdbackKey{sender: key.sender, group: key.group, seq: uint64(r + 1)}
		entry, ok := c.holdback[next]
		if !ok {
			c.mu.Unlock()
			return
		}
		delete(c.holdback, next)
		c.recv[key] = r + 1
		c.mu.Unlock()

		c.deliver(entry)
	}
}

func (c *Client) deliver(env votecast.Envelope) {
	if c.Deliver == nil {
		return
	}
	c.Deliver(Delivery{
		Sender: env.Sender, Group: env.Group, Seq: seqOf(env.S),
		VoteID: env.VoteID, Topic: env.Topic, Options: env.Options,
	})
}

// ack always replies, even to a duplicate delivery (spec.md §4.7:
// "Duplicate acks are idempotent at the leader").
func (c *Client) ack(env votecast.Envelope) {
	choice := ""
	if c.Choose != nil && len(env.Options) > 0 {
		choice = c.Choose(Delivery{
			Sender: env.Sender, Group: env.Group, Seq: seqOf(env.S),
			VoteID: env.VoteID, Topic: env.Topic, Options: env.Options,
		})
	}
	addr := c.leaderAddr()
	if addr == nil {
		return
	}
	reply := votecast.Envelope{
		Type: votecast.MsgVoteAck, VoteID: env.VoteID, Group: env.Group,
		S: env.S, ID: c.ID, Token: c.Token, Vote: choice,
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	c.conn.WriteToUDP(payload, addr)
}
