// Package udp owns the pair of UDP endpoints every votecast server keeps
// open for its whole lifetime: a joined multicast group used only for
// discovery/gossip, and a unicast socket used for everything else. It plays
// the same role the teacher's http sub-package played for raft: a thin,
// install-and-forget transport the protocol engine drives.
package udp

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// BufSize bounds a single datagram (spec: payload <= 4096 bytes). Reads use
// a buffer of this size, so a larger datagram is truncated to BufSize bytes
// (and a truncated JSON envelope then fails to decode).
const BufSize = 4096

// ReadTimeout is applied to every blocking read so worker loops can poll a
// shutdown signal instead of blocking forever.
const ReadTimeout = time.Second

// Transport bundles the multicast discovery endpoint and the unicast
// peer/client endpoint for one server process.
type Transport struct {
	Self *net.UDPAddr

	mcastConn *ipv4.PacketConn
	mcastUDP  *net.UDPConn
	mcastAddr *net.UDPAddr

	unicast *net.UDPConn
}

// Open binds both endpoints. selfAddr is the literal "host:port" the server
// is known by; mcastGroup/mcastPort identify the discovery multicast group.
func Open(selfAddr string, mcastGroup string, mcastPort int) (*Transport, error) {
	self, err := net.ResolveUDPAddr("udp4", selfAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve self address %q", selfAddr)
	}

	unicast, err := net.ListenUDP("udp4", self)
	if err != nil {
		return nil, errors.Wrapf(err, "listen unicast on %s", selfAddr)
	}

	mcastAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(mcastGroup, strconv.Itoa(mcastPort)))
	if err != nil {
		unicast.Close()
		return nil, errors.Wrap(err, "resolve multicast group")
	}

	// SO_REUSEADDR lets every server on this host share the one multicast
	// port (original_source/server.py sets the same option for the same
	// reason: several processes on one machine all joining group/port
	// 224.1.1.1:5007).
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	pc0, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("", strconv.Itoa(mcastPort)))
	if err != nil {
		unicast.Close()
		return nil, errors.Wrap(err, "bind multicast endpoint")
	}
	mcastUDP := pc0.(*net.UDPConn)

	pc := ipv4.NewPacketConn(mcastUDP)
	iface := findMulticastInterface()
	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: mcastAddr.IP}); err != nil {
		unicast.Close()
		mcastUDP.Close()
		return nil, errors.Wrap(err, "join multicast group")
	}
	_ = pc.SetMulticastLoopback(true)
	_ = pc.SetMulticastTTL(2)

	return &Transport{
		Self:      self,
		mcastConn: pc,
		mcastUDP:  mcastUDP,
		mcastAddr: mcastAddr,
		unicast:   unicast,
	}, nil
}

// findMulticastInterface picks the first interface advertising multicast
// support, falling back to "any" (nil) so loopback-only test environments
// still work.
func findMulticastInterface() *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		ifi := ifaces[i]
		if ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagUp == 0 {
			continue
		}
		return &ifi
	}
	return nil
}

// RecvLine reads one ASCII gossip line off the multicast endpoint. On a
// plain read-deadline expiry it returns the net.Error the stdlib produces,
// which IsTimeout recognizes, so callers can distinguish "nothing yet" from
// a real failure.
func (t *Transport) RecvLine() (string, *net.UDPAddr, error) {
	buf := make([]byte, BufSize)
	t.mcastUDP.SetReadDeadline(time.Now().Add(ReadTimeout))
	n, from, err := t.mcastUDP.ReadFromUDP(buf)
	if err != nil {
		return "", nil, err
	}
	return string(buf[:n]), from, nil
}

// SendLine multicasts a raw ASCII gossip line to the discovery group.
func (t *Transport) SendLine(line string) error {
	_, err := t.mcastUDP.WriteToUDP([]byte(line), t.mcastAddr)
	return errors.Wrap(err, "multicast send")
}

// SendLineTo unicasts a raw ASCII line to a specific address (used for the
// WHO_IS_LEADER reply, which spec.md requires to be unicast rather than
// multicast).
func (t *Transport) SendLineTo(addr *net.UDPAddr, line string) error {
	_, err := t.mcastUDP.WriteToUDP([]byte(line), addr)
	return errors.Wrap(err, "unicast gossip send")
}

// RecvJSON reads and decodes one JSON envelope off the unicast endpoint.
func (t *Transport) RecvJSON(v interface{}) (*net.UDPAddr, error) {
	buf := make([]byte, BufSize)
	t.unicast.SetReadDeadline(time.Now().Add(ReadTimeout))
	n, from, err := t.unicast.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(buf[:n], v); err != nil {
		return from, errors.Wrap(err, "decode envelope")
	}
	return from, nil
}

// SendJSON encodes v and unicasts it to addr.
func (t *Transport) SendJSON(addr *net.UDPAddr, v interface{}) error {
	if addr == nil {
		return errors.New("nil destination address")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	_, err = t.unicast.WriteToUDP(payload, addr)
	return errors.Wrap(err, "unicast send")
}

// LocalUnicastAddr returns the address the unicast socket is actually bound
// to (useful when Self was constructed with port 0 in tests).
func (t *Transport) LocalUnicastAddr() *net.UDPAddr {
	return t.unicast.LocalAddr().(*net.UDPAddr)
}

// Close releases both sockets. Safe to call once; guaranteed on every
// shutdown path by the owning Server.
func (t *Transport) Close() error {
	err1 := t.mcastUDP.Close()
	err2 := t.unicast.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// IsTimeout reports whether err is a plain read-deadline expiry, as opposed
// to a real transport failure.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
