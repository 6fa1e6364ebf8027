// Package config parses the process-level knobs a votecast server needs.
// Spec.md §6 pins the CLI surface down to a single port argument and leaves
// environment unspecified; everything else here is a tunable with a
// sensible default, following the teacher's convention of package-level
// vars for tunables (server.go: MinimumElectionTimeoutMs) generalized into
// one struct so it can be set per-instance in tests instead of globally.
package config

import (
	"time"

	flag "github.com/spf13/pflag"
)

// Defaults match the tick/timeout values named throughout spec.md §4.
const (
	DefaultMulticastGroup = "224.1.1.1"
	DefaultMulticastPort  = 5007

	DefaultAnnounceInterval  = time.Second
	DefaultHeartbeatInterval = time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultElectionSettle    = 2 * time.Second
	DefaultRetransmitTick    = 500 * time.Millisecond
)

// Config holds everything a Server needs besides its wire protocol.
type Config struct {
	Port int
	Host string

	MulticastGroup string
	MulticastPort  int

	AnnounceInterval  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ElectionSettle    time.Duration
	RetransmitTick    time.Duration

	Verbose bool
}

// Default returns a Config with every tunable at its spec.md default, for
// the given server port.
func Default(port int) Config {
	return Config{
		Port:              port,
		Host:              "127.0.0.1",
		MulticastGroup:    DefaultMulticastGroup,
		MulticastPort:     DefaultMulticastPort,
		AnnounceInterval:  DefaultAnnounceInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		ElectionSettle:    DefaultElectionSettle,
		RetransmitTick:    DefaultRetransmitTick,
	}
}

// BindFlags registers every tunable above the mandatory port argument onto
// fs, in the teacher's "flags are the only configuration surface" spirit
// (no env vars, no config file — spec.md §6).
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "local IP this server advertises as part of its id")
	fs.StringVar(&c.MulticastGroup, "mcast-group", c.MulticastGroup, "discovery multicast group")
	fs.IntVar(&c.MulticastPort, "mcast-port", c.MulticastPort, "discovery multicast port")
	fs.DurationVar(&c.AnnounceInterval, "announce-interval", c.AnnounceInterval, "ANNOUNCE gossip cadence")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "predecessor heartbeat cadence")
	fs.DurationVar(&c.HeartbeatTimeout, "heartbeat-timeout", c.HeartbeatTimeout, "predecessor heartbeat ack timeout")
	fs.DurationVar(&c.ElectionSettle, "election-settle", c.ElectionSettle, "settling delay before HS after a join/crash")
	fs.DurationVar(&c.RetransmitTick, "retransmit-tick", c.RetransmitTick, "FIFO multicast retransmit cadence")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "debug-level logging")
}
