package node

import (
	"fmt"

	"github.com/myelnet/hopcore/keyspace"
	"github.com/myelnet/hopcore/peer"
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// CmdAnnounce is the attribute command a node sends to every peer right
// after the connection is established, carrying the contiguous [start, end)
// id range it owns. The receiver attaches the range to the announcing peer
// in its route table, which is what makes keys outside the receiver's own
// range forwardable instead of falling through to local dispatch.
const CmdAnnounce uint32 = 0x80

// encodeAnnounce lays a range out as start, end, then the name bytes.
func encodeAnnounce(r keyspace.Range) []byte {
	buf := make([]byte, 0, 2*wire.RawIDSize+len(r.Name))
	buf = append(buf, r.Start[:]...)
	buf = append(buf, r.End[:]...)
	buf = append(buf, r.Name...)
	return buf
}

func decodeAnnounce(b []byte) (keyspace.Range, error) {
	var r keyspace.Range
	if len(b) < 2*wire.RawIDSize {
		return r, fmt.Errorf("node: announce payload too short: %d bytes", len(b))
	}
	copy(r.Start[:], b[:wire.RawIDSize])
	copy(r.End[:], b[wire.RawIDSize:2*wire.RawIDSize])
	r.Name = string(b[2*wire.RawIDSize:])
	if r.Name == "" {
		return r, fmt.Errorf("node: announce carries no range name")
	}
	return r, nil
}

// AnnounceTo sends this node's own keyspace range to st as a tracked
// transaction, demanding a terminal acknowledgement. The command carries the
// direct flag so the receiver processes it itself rather than routing on the
// id.
func (n *Node) AnnounceTo(st *peer.NetState) error {
	local := n.Keyspace.Local()
	payload := encodeAnnounce(local)
	attr := wire.AttributeHeader{Cmd: CmdAnnounce, Size: uint64(len(payload))}
	body := append(wire.ToWireAttr(attr), payload...)
	cmd := wire.CommandHeader{
		ID:    local.Start,
		Flags: wire.FlagDirect | wire.FlagNeedAck,
		Size:  uint64(len(body)),
	}
	_, err := st.SendTransaction(cmd, body, func(target *peer.NetState, c wire.CommandHeader, b []byte, status sock.Code) {
		if status != sock.CodeOK {
			n.log.Warn().Stringer("addr", target.Addr).Stringer("status", status).Msg("range announce not acknowledged")
		}
	})
	return err
}

// announceDispatcher intercepts range announcements ahead of the node's
// configured dispatcher, which receives every other command untouched.
type announceDispatcher struct {
	n     *Node
	inner peer.Dispatcher
}

func (a announceDispatcher) ProcessCmd(st *peer.NetState, cmd wire.CommandHeader, body []byte) {
	if len(body) >= wire.AttributeHeaderSize {
		if attr, err := wire.FromWireAttr(body[:wire.AttributeHeaderSize]); err == nil && attr.Cmd == CmdAnnounce {
			a.handleAnnounce(st, cmd, attr, body[wire.AttributeHeaderSize:])
			return
		}
	}
	a.inner.ProcessCmd(st, cmd, body)
}

func (a announceDispatcher) handleAnnounce(st *peer.NetState, cmd wire.CommandHeader, attr wire.AttributeHeader, payload []byte) {
	if attr.Size < uint64(len(payload)) {
		payload = payload[:attr.Size]
	}
	status := sock.CodeOK
	r, err := decodeAnnounce(payload)
	if err != nil {
		a.n.log.Warn().Err(err).Stringer("addr", st.Addr).Msg("rejecting malformed range announce")
		status = sock.CodeInvalidArgument
	} else {
		a.n.Routes.Attach(st, []wire.RawID{r.Start})
		a.n.Routes.AttachRange(st, r)
		a.n.log.Info().Stringer("addr", st.Addr).Str("range", r.String()).Msg("peer announced keyspace range")
	}
	if cmd.Flags&wire.FlagNeedAck != 0 {
		if err := st.SendAck(cmd, status); err != nil {
			a.n.log.Warn().Err(err).Stringer("addr", st.Addr).Msg("failed to ack range announce")
		}
	}
}
