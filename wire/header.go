// Package wire implements the on-the-wire framing of command and attribute
// headers exchanged between hopcore peers: canonical byte order conversion,
// and the fixed-width layout every frame begins with.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// RawIDSize is the width, in bytes, of a RawID.
const RawIDSize = 32

// RawID identifies a key in the keyspace. It is opaque to the transport and
// fixed-width so it can sit inline in a CommandHeader without a length
// prefix.
type RawID [RawIDSize]byte

// ErrWrongDigestSize is returned by RawIDFromCID when the CID's digest does
// not fit a RawID.
var ErrWrongDigestSize = errors.New("wire: cid digest does not fit a RawID")

// CID renders a RawID as a CIDv1 raw-codec content identifier, so route
// tables and logs can speak in the content-addressing vocabulary the rest of
// the ecosystem uses.
func (id RawID) CID() cid.Cid {
	mh, err := multihash.Encode(id[:], multihash.SHA2_256)
	if err != nil {
		// multihash.Encode only fails on an unknown code or a digest/size
		// mismatch; SHA2_256 with a 32-byte digest is always valid.
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}

// RawIDFromCID extracts the fixed-width digest backing a CID produced by
// RawID.CID (or any CIDv1 raw/sha2-256 identifier of the right width).
func RawIDFromCID(c cid.Cid) (RawID, error) {
	var id RawID
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return id, fmt.Errorf("wire: decode multihash: %w", err)
	}
	if len(decoded.Digest) != RawIDSize {
		return id, ErrWrongDigestSize
	}
	copy(id[:], decoded.Digest)
	return id, nil
}

// String renders the id the way logs want to see it: short and hex.
func (id RawID) String() string {
	return fmt.Sprintf("%x", id[:8])
}

// Command header flag bits (cmd.flags).
const (
	// FlagMore indicates additional reply fragments follow this one.
	FlagMore uint64 = 1 << iota
	// FlagNeedAck indicates the sender wants at least a terminal
	// acknowledgement reply.
	FlagNeedAck
	// FlagDirect suppresses forwarding: the receiving node must run the
	// command locally even if it does not own the id.
	FlagDirect
)

// ReplyBit is the reserved high bit of CommandHeader.Trans distinguishing a
// reply from a request.
const ReplyBit uint64 = 1 << 63

// CommandHeader is the fixed header that begins every frame.
type CommandHeader struct {
	ID     RawID
	Status int32
	Flags  uint64
	Size   uint64 // bytes following the header
	Trans  uint64 // transaction id, high bit is ReplyBit
}

// CommandHeaderSize is the wire width of a CommandHeader.
const CommandHeaderSize = RawIDSize + 4 + 8 + 8 + 8

// IsReply reports whether this header carries the ReplyBit.
func (h CommandHeader) IsReply() bool { return h.Trans&ReplyBit != 0 }

// TransID returns the transaction id with the ReplyBit masked off.
func (h CommandHeader) TransID() uint64 { return h.Trans &^ ReplyBit }

// AttributeHeader sits at the start of a command's payload region when the
// frame carries attribute-addressed data.
type AttributeHeader struct {
	Cmd   uint32
	Size  uint64
	Flags uint32
}

// AttributeHeaderSize is the wire width of an AttributeHeader.
const AttributeHeaderSize = 4 + 8 + 4

// ConvertCmd toggles a CommandHeader between host and wire representation in
// place. It is self-inverse: calling it twice restores the original value,
// so the encode and decode paths invoke the same function.
func ConvertCmd(h *CommandHeader) {
	h.Status = int32(bits.ReverseBytes32(uint32(h.Status)))
	h.Flags = bits.ReverseBytes64(h.Flags)
	h.Size = bits.ReverseBytes64(h.Size)
	h.Trans = bits.ReverseBytes64(h.Trans)
}

// ConvertAttr is ConvertCmd's counterpart for AttributeHeader.
func ConvertAttr(a *AttributeHeader) {
	a.Cmd = bits.ReverseBytes32(a.Cmd)
	a.Size = bits.ReverseBytes64(a.Size)
	a.Flags = bits.ReverseBytes32(a.Flags)
}

// ToWire serializes a CommandHeader in canonical byte order.
func ToWire(h CommandHeader) []byte {
	ConvertCmd(&h)
	buf := make([]byte, CommandHeaderSize)
	off := 0
	copy(buf[off:off+RawIDSize], h.ID[:])
	off += RawIDSize
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(h.Status))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], h.Flags)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], h.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], h.Trans)
	return buf
}

// FromWire parses a canonical-byte-order CommandHeader. buf must be at least
// CommandHeaderSize bytes.
func FromWire(buf []byte) (CommandHeader, error) {
	var h CommandHeader
	if len(buf) < CommandHeaderSize {
		return h, fmt.Errorf("wire: short command header: %d bytes", len(buf))
	}
	off := 0
	copy(h.ID[:], buf[off:off+RawIDSize])
	off += RawIDSize
	h.Status = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	h.Flags = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	h.Size = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	h.Trans = binary.LittleEndian.Uint64(buf[off : off+8])
	ConvertCmd(&h)
	return h, nil
}

// ToWireAttr serializes an AttributeHeader in canonical byte order.
func ToWireAttr(a AttributeHeader) []byte {
	ConvertAttr(&a)
	buf := make([]byte, AttributeHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], a.Cmd)
	binary.LittleEndian.PutUint64(buf[4:12], a.Size)
	binary.LittleEndian.PutUint32(buf[12:16], a.Flags)
	return buf
}

// FromWireAttr parses a canonical-byte-order AttributeHeader.
func FromWireAttr(buf []byte) (AttributeHeader, error) {
	var a AttributeHeader
	if len(buf) < AttributeHeaderSize {
		return a, fmt.Errorf("wire: short attribute header: %d bytes", len(buf))
	}
	a.Cmd = binary.LittleEndian.Uint32(buf[0:4])
	a.Size = binary.LittleEndian.Uint64(buf[4:12])
	a.Flags = binary.LittleEndian.Uint32(buf[12:16])
	ConvertAttr(&a)
	return a, nil
}
