// Command votecast-client is the reference votecast client CLI: discover
// the leader, register a session, and issue one group/vote request per
// invocation. Subcommand-per-operation, in the same shape as the pack's
// other cobra-based tool CLIs (cmd/consensus in the Lux example).
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parth-patwardhan/votecast/client"
	"github.com/parth-patwardhan/votecast/internal/config"
)

var (
	mcastGroup string
	mcastPort  int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "votecast-client",
		Short: "talk to a votecast cluster as one authenticated client",
	}
	root.PersistentFlags().StringVar(&mcastGroup, "mcast-group", config.DefaultMulticastGroup, "discovery multicast group")
	root.PersistentFlags().IntVar(&mcastPort, "mcast-port", config.DefaultMulticastPort, "discovery multicast port")

	root.AddCommand(
		createGroupCmd(),
		joinGroupCmd(),
		leaveGroupCmd(),
		groupsCmd(),
		startVoteCmd(),
		listenCmd(),
	)
	return root
}

// connect discovers the leader and registers a fresh session, the
// preamble every subcommand needs (spec.md §4.1/§4.5).
func connect() (*client.Client, error) {
	c, err := client.New(mcastGroup, mcastPort)
	if err != nil {
		return nil, err
	}
	if err := c.DiscoverLeader(2 * time.Second); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Register(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func createGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-group <name>",
		Args:  cobra.ExactArgs(1),
		Short: "create a new group and become its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.CreateGroup(args[0])
		},
	}
}

func joinGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join-group <name>",
		Args:  cobra.ExactArgs(1),
		Short: "join an existing group",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.JoinGroup(args[0])
		},
	}
}

func leaveGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave-group <name>",
		Args:  cobra.ExactArgs(1),
		Short: "leave a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.LeaveGroup(args[0])
		},
	}
}

func groupsCmd() *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "list all groups, or just this client's joined groups with --mine",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()

			var names []string
			if mine {
				names, err = c.JoinedGroups()
			} else {
				names, err = c.GetGroups()
			}
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(names, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "list only groups this client has joined")
	return cmd
}

func startVoteCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "start-vote <group> <topic> <option>...",
		Args:  cobra.MinimumNArgs(3),
		Short: "start a vote in a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.StartVote(args[0], args[1], args[2:], timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "vote deadline")
	return cmd
}

// listenCmd stays connected and prints every ballot and result it
// receives, casting the first option on each ballot by default — enough
// to demonstrate the FIFO hold-back path end to end (spec.md §4.7).
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "register and print incoming ballots/results until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()

			c.Deliver = func(d client.Delivery) {
				if len(d.Options) > 0 {
					fmt.Printf("ballot %s/%s seq=%d topic=%q options=%v\n", d.Group, d.VoteID, d.Seq, d.Topic, d.Options)
				} else {
					fmt.Printf("result %s/%s topic=%q\n", d.Group, d.VoteID, d.Topic)
				}
			}
			return c.Listen()
		},
	}
}
