// Command hopcore runs one cluster node: the networking and
// transaction-routing core wired to a badger-backed local dispatcher and a
// raw-socket poll loop, as a single ffcli root command fanning out to
// subcommands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	root := &ffcli.Command{
		Name:       "hopcore",
		ShortUsage: "hopcore <subcommand> [flags]",
		ShortHelp:  "run or inspect a hopcore cluster node",
		Subcommands: []*ffcli.Command{
			newServeCmd(log),
			newPeersCmd(log),
		},
		Exec: func(ctx context.Context, args []string) error {
			return flagErrUsage
		},
	}

	if err := root.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := root.Run(context.Background()); err != nil {
		if err != flagErrUsage {
			log.Error().Err(err).Msg("hopcore exited with error")
		}
		os.Exit(1)
	}
}

var flagErrUsage = fmt.Errorf("hopcore: no subcommand given, see --help")
