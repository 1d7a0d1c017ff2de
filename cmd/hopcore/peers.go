package main

import (
	"context"
	"flag"
	"fmt"
	"net"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog"

	"github.com/myelnet/hopcore/sock"
)

// newPeersCmd builds the "peers" diagnostic subcommand. There is no IPC
// channel to a running "serve" process, so it exercises the same connecting
// path a live node would use, probing each given address and reporting how
// many of them answer.
func newPeersCmd(log zerolog.Logger) *ffcli.Command {
	var addrs stringSlice
	fs := flag.NewFlagSet("hopcore peers", flag.ExitOnError)
	fs.Var(&addrs, "peer", "address to probe for reachability (repeatable)")

	return &ffcli.Command{
		Name:       "peers",
		ShortUsage: "hopcore peers -peer addr [-peer addr ...]",
		ShortHelp:  "probe a set of peer addresses and report how many answer",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return runPeers(log, addrs)
		},
	}
}

func runPeers(log zerolog.Logger, addrs []string) error {
	if len(addrs) == 0 {
		return fmt.Errorf("hopcore peers: at least one -peer address is required")
	}
	reachable := 0
	for _, addr := range addrs {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			log.Warn().Str("addr", addr).Err(err).Msg("unresolvable address")
			continue
		}
		s, err := sock.CreateConnecting(tcpAddr)
		if err != nil {
			log.Warn().Str("addr", addr).Err(err).Msg("unreachable")
			continue
		}
		_ = s.Close()
		log.Info().Str("addr", addr).Msg("reachable")
		reachable++
	}
	fmt.Printf("peer_count: %d/%d reachable\n", reachable, len(addrs))
	return nil
}
