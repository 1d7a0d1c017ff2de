// Package dispatch implements the local command dispatcher peer.NetState
// calls when an incoming request's key belongs to this node (or carries the
// direct flag): a content-addressed block store, so get/put/list commands
// have a concrete backing rather than a stub.
package dispatch

import (
	"context"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-blockservice"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	offline "github.com/ipfs/go-ipfs-exchange-offline"
	cbornode "github.com/ipfs/go-ipld-cbor"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/ipfs/go-merkledag"
	"github.com/rs/zerolog"

	"github.com/myelnet/hopcore/peer"
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// Command codes carried in the attribute header's Cmd field.
const (
	CmdGet  uint32 = 1
	CmdPut  uint32 = 2
	CmdList uint32 = 3
)

// manifest is the CBOR-encoded record CmdList assembles: the set of ids a
// caller asked to have listed together as one merkledag node.
type manifest struct {
	IDs [][]byte
}

func init() {
	cbornode.RegisterCborType(manifest{})
}

// Default is the concrete local dispatcher: a content-addressed block store
// fronted by an offline (local-only) blockservice and a DAG service for
// CmdList's multi-block manifests.
type Default struct {
	bs    blockstore.Blockstore
	bserv blockservice.BlockService
	dag   ipld.DAGService
	log   zerolog.Logger
}

// NewDefault builds a Default dispatcher over ds (typically a badger
// datastore; see cmd/hopcore).
func NewDefault(ds datastore.Batching, log zerolog.Logger) *Default {
	bs := blockstore.NewBlockstore(ds)
	bserv := blockservice.New(bs, offline.Exchange(bs))
	return &Default{
		bs:    bs,
		bserv: bserv,
		dag:   merkledag.NewDAGService(bserv),
		log:   log,
	}
}

// ProcessCmd implements peer.Dispatcher. On any failure it replies with the
// mapped status instead of propagating to the caller; the receive loop
// discards the frame once this returns. A request carrying FlagNeedAck is
// always terminated by a bare acknowledgement reflecting the final status,
// after any data replies.
func (d *Default) ProcessCmd(st *peer.NetState, cmd wire.CommandHeader, body []byte) {
	var status sock.Code
	attr, rest, err := splitAttr(body)
	if err != nil {
		status = sock.CodeInvalidArgument
		d.reply(st, cmd, wire.AttributeHeader{}, status, nil)
	} else {
		switch attr.Cmd {
		case CmdGet:
			status = d.handleGet(st, cmd, attr)
		case CmdPut:
			status = d.handlePut(st, cmd, attr, rest)
		case CmdList:
			status = d.handleList(context.Background(), st, cmd, attr, rest)
		default:
			d.log.Warn().Uint32("cmd", attr.Cmd).Msg("unknown dispatch command")
			status = sock.CodeInvalidArgument
			d.reply(st, cmd, attr, status, nil)
		}
	}

	if cmd.Flags&wire.FlagNeedAck != 0 {
		if err := st.SendAck(cmd, status); err != nil {
			d.log.Warn().Err(err).Msg("failed to send dispatch ack")
		}
	}
}

func (d *Default) handleGet(st *peer.NetState, cmd wire.CommandHeader, attr wire.AttributeHeader) sock.Code {
	blk, err := d.bs.Get(cmd.ID.CID())
	if err != nil {
		d.reply(st, cmd, attr, sock.CodeNotFound, nil)
		return sock.CodeNotFound
	}
	d.reply(st, cmd, attr, sock.CodeOK, blk.RawData())
	return sock.CodeOK
}

func (d *Default) handlePut(st *peer.NetState, cmd wire.CommandHeader, attr wire.AttributeHeader, data []byte) sock.Code {
	blk, err := blocks.NewBlockWithCid(data, cmd.ID.CID())
	if err != nil {
		d.reply(st, cmd, attr, sock.CodeInvalidArgument, nil)
		return sock.CodeInvalidArgument
	}
	if err := d.bs.Put(blk); err != nil {
		d.log.Error().Err(err).Msg("blockstore put failed")
		d.reply(st, cmd, attr, sock.CodeOutOfMemory, nil)
		return sock.CodeOutOfMemory
	}
	d.reply(st, cmd, attr, sock.CodeOK, nil)
	return sock.CodeOK
}

// handleList decodes a CBOR manifest of ids out of data, resolves each as a
// child of one merkledag node, and replies with the node's own CID so the
// caller can fetch it as a single subsequent Get.
func (d *Default) handleList(ctx context.Context, st *peer.NetState, cmd wire.CommandHeader, attr wire.AttributeHeader, data []byte) sock.Code {
	var m manifest
	if err := cbornode.DecodeInto(data, &m); err != nil {
		d.reply(st, cmd, attr, sock.CodeInvalidArgument, nil)
		return sock.CodeInvalidArgument
	}

	node := merkledag.NodeWithData(nil)
	for i, raw := range m.IDs {
		var id wire.RawID
		if len(raw) != wire.RawIDSize {
			d.reply(st, cmd, attr, sock.CodeInvalidArgument, nil)
			return sock.CodeInvalidArgument
		}
		copy(id[:], raw)
		if err := node.AddRawLink(fmt.Sprintf("item-%d", i), &ipld.Link{Cid: id.CID()}); err != nil {
			d.reply(st, cmd, attr, sock.CodeInvalidArgument, nil)
			return sock.CodeInvalidArgument
		}
	}
	if err := d.dag.Add(ctx, node); err != nil {
		d.log.Error().Err(err).Msg("failed to add manifest node")
		d.reply(st, cmd, attr, sock.CodeOutOfMemory, nil)
		return sock.CodeOutOfMemory
	}

	listID, err := wire.RawIDFromCID(node.Cid())
	if err != nil {
		d.reply(st, cmd, attr, sock.CodeFatal, nil)
		return sock.CodeFatal
	}
	d.reply(st, cmd, attr, sock.CodeOK, listID[:])
	return sock.CodeOK
}

// reply echoes the request's attribute header ahead of body so the requester
// can correlate which attribute the reply answers.
func (d *Default) reply(st *peer.NetState, cmd wire.CommandHeader, attr wire.AttributeHeader, status sock.Code, body []byte) {
	reply := cmd
	reply.Status = int32(status)
	if err := st.SendReply(reply, attr, body, false); err != nil {
		d.log.Warn().Err(err).Msg("failed to send dispatch reply")
	}
}

// splitAttr parses the attribute header sitting at the front of a request
// body and returns the payload bytes that follow it.
func splitAttr(body []byte) (wire.AttributeHeader, []byte, error) {
	if len(body) < wire.AttributeHeaderSize {
		return wire.AttributeHeader{}, nil, fmt.Errorf("dispatch: body too short for attribute header")
	}
	attr, err := wire.FromWireAttr(body[:wire.AttributeHeaderSize])
	if err != nil {
		return wire.AttributeHeader{}, nil, err
	}
	rest := body[wire.AttributeHeaderSize:]
	if uint64(len(rest)) > attr.Size {
		rest = rest[:attr.Size]
	}
	return attr, rest, nil
}
