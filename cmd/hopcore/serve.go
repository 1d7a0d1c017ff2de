package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"time"

	badgerds "github.com/ipfs/go-ds-badger"
	"github.com/multiformats/go-multibase"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/myelnet/hopcore/dispatch"
	"github.com/myelnet/hopcore/keyspace"
	"github.com/myelnet/hopcore/node"
	"github.com/myelnet/hopcore/reconnect"
	"github.com/myelnet/hopcore/sock"
)

type serveConfig struct {
	listen     string
	repoPath   string
	shardIndex int
	shardCount int
	waitTS     time.Duration
	peers      stringSlice
}

// stringSlice implements flag.Value for a repeatable -peer flag, the way
// ffcli-based commands in the pack take a list of bootstrap addresses.
type stringSlice []string

func (s *stringSlice) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func newServeCmd(log zerolog.Logger) *ffcli.Command {
	cfg := serveConfig{}
	fs := flag.NewFlagSet("hopcore serve", flag.ExitOnError)
	fs.StringVar(&cfg.listen, "listen", "0.0.0.0:7650", "address to accept peer connections on")
	fs.StringVar(&cfg.repoPath, "repo", "./hopcore-data", "path to the local badger datastore")
	fs.IntVar(&cfg.shardIndex, "shard-index", 0, "this node's index into the even keyspace split")
	fs.IntVar(&cfg.shardCount, "shard-count", 1, "total number of shards the keyspace is split into")
	fs.DurationVar(&cfg.waitTS, "wait-ts", 5*time.Second, "transaction reply timeout")
	fs.Var(&cfg.peers, "peer", "address of a peer to connect to at startup (repeatable)")

	return &ffcli.Command{
		Name:       "serve",
		ShortUsage: "hopcore serve [flags]",
		ShortHelp:  "run a cluster node, accepting and forwarding peer traffic",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, log, cfg)
		},
	}
}

func runServe(ctx context.Context, log zerolog.Logger, cfg serveConfig) error {
	if cfg.shardIndex < 0 || cfg.shardIndex >= cfg.shardCount {
		return fmt.Errorf("hopcore: shard-index %d out of range for shard-count %d", cfg.shardIndex, cfg.shardCount)
	}
	local := keyspace.EvenSplit(cfg.shardCount)[cfg.shardIndex]

	dsOpts := badgerds.DefaultOptions
	dsOpts.SyncWrites = false
	ds, err := badgerds.NewDatastore(cfg.repoPath, &dsOpts)
	if err != nil {
		return fmt.Errorf("hopcore: open datastore: %w", err)
	}
	defer ds.Close()

	n := node.New(node.Config{
		Local:    local,
		Dispatch: dispatch.NewDefault(ds, log.With().Str("component", "dispatch").Logger()),
		Log:      log.With().Str("component", "peer").Logger(),
		WaitTS:   cfg.waitTS,
	})
	n.Subscribe(func(evt node.LifecycleEvent) {
		log.Info().Str("kind", eventKindString(evt.Kind)).Stringer("addr", evt.Addr).Msg("lifecycle event")
	})

	tcpAddr, err := net.ResolveTCPAddr("tcp", cfg.listen)
	if err != nil {
		return fmt.Errorf("hopcore: resolve %s: %w", cfg.listen, err)
	}
	listener, err := sock.CreateListening(tcpAddr)
	if err != nil {
		return fmt.Errorf("hopcore: listen on %s: %w", cfg.listen, err)
	}
	defer listener.Close()

	stop := make(chan struct{})
	go acceptLoop(n, listener, stop)
	go dialBootstrapPeers(n, cfg.peers)
	go dialReconnects(n, stop)
	go n.Scheduler.Run(stop)
	go n.TimeoutSweeper(stop)

	log.Info().
		Str("listen", cfg.listen).
		Str("boot_id", n.BootID.String()).
		Str("range_start", idDiagString(local.Start[:])).
		Str("range_end", idDiagString(local.End[:])).
		Msg("hopcore node serving")
	<-ctx.Done()
	n.RequestShutdown()
	close(stop)
	return nil
}

// acceptLoop accepts inbound peer connections, retrying on WouldBlock with a
// short poll so it never busy-spins, and registers each as a new peer.
func acceptLoop(n *node.Node, listener sock.Socket, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		s, err := sock.AcceptOn(listener)
		if err != nil {
			if sock.Is(err, sock.CodeWouldBlock) {
				_ = sock.Wait(listener.FD, unix.POLLIN, 200*time.Millisecond)
				continue
			}
			continue
		}
		registerPeer(n, s, 0)
	}
}

// registerPeer duplicates the socket into an independent write half (so the
// reader and writer can be closed separately) and hands both to the node.
func registerPeer(n *node.Node, s sock.Socket, joinState uint32) bool {
	ws, err := s.Dup()
	if err != nil {
		_ = s.Close()
		return false
	}
	if _, err := n.CreatePeer(s.Addr, s, ws, joinState); err != nil {
		_ = s.Close()
		_ = ws.Close()
		return false
	}
	return true
}

// dialBootstrapPeers connects to the addresses passed on the command line
// once at startup, outside the reconnect queue's retry/backoff path.
func dialBootstrapPeers(n *node.Node, peers []string) {
	for _, addr := range peers {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			continue
		}
		s, err := sock.CreateConnecting(tcpAddr)
		if err != nil {
			if a, aerr := sock.AddressFromTCP(tcpAddr); aerr == nil {
				n.Reconnect.Enqueue(a, 0)
			}
			continue
		}
		registerPeer(n, s, 0)
	}
}

// dialReconnects drains the reconnect queue, retrying each address after its
// backoff interval elapses and re-enqueuing it on continued failure.
func dialReconnects(n *node.Node, stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			entry, ok := n.Reconnect.Next()
			if !ok {
				continue
			}
			go attemptReconnect(n, entry)
		}
	}
}

func attemptReconnect(n *node.Node, entry reconnect.Entry) {
	time.Sleep(n.Reconnect.Backoff(entry.Addr))
	tcpAddr, err := net.ResolveTCPAddr("tcp", entry.Addr.String())
	if err != nil {
		return
	}
	s, err := sock.CreateConnecting(tcpAddr)
	if err != nil {
		n.Reconnect.Enqueue(entry.Addr, entry.JoinState)
		return
	}
	if !registerPeer(n, s, entry.JoinState) {
		n.Reconnect.Enqueue(entry.Addr, entry.JoinState)
		return
	}
	n.Reconnect.RecordSuccess(entry.Addr)
}

// idDiagString renders a raw keyspace id as a human-readable multibase
// string for CLI/log diagnostics, the same self-describing encoding the
// rest of the content-addressing ecosystem uses for ids.
func idDiagString(id []byte) string {
	s, err := multibase.Encode(multibase.Base32, id)
	if err != nil {
		return fmt.Sprintf("%x", id)
	}
	return s
}

func eventKindString(k node.EventKind) string {
	switch k {
	case node.PeerCreated:
		return "peer_created"
	case node.PeerReset:
		return "peer_reset"
	default:
		return "unknown"
	}
}
