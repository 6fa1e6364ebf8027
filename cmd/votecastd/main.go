// Command votecastd runs one votecast server process. Usage mirrors
// spec.md §6's minimal CLI surface: a single mandatory port argument plus
// the tunables in internal/config, bound with cobra as flags on one Run
// command.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	votecast "github.com/parth-patwardhan/votecast"
	"github.com/parth-patwardhan/votecast/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default(0)

	cmd := &cobra.Command{
		Use:   "votecastd <port>",
		Short: "run a votecast cluster member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}
			cfg.Port = port
			return run(cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func run(cfg config.Config) error {
	selfAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	srv, err := votecast.New(selfAddr, cfg)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	srv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	return srv.Stop()
}
