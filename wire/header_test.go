package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleHeader() CommandHeader {
	var id RawID
	for i := range id {
		id[i] = byte(i * 7)
	}
	return CommandHeader{
		ID:     id,
		Status: -42,
		Flags:  FlagMore | FlagNeedAck,
		Size:   1 << 20,
		Trans:  ReplyBit | 0x1234,
	}
}

func TestCommandHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	got, err := FromWire(ToWire(h))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestConvertCmdIsInvolution(t *testing.T) {
	h := sampleHeader()
	twice := h
	ConvertCmd(&twice)
	ConvertCmd(&twice)
	require.Equal(t, h, twice)

	once := h
	ConvertCmd(&once)
	require.NotEqual(t, h, once, "a single conversion must change multi-byte fields")
}

func TestAttributeHeaderRoundTrip(t *testing.T) {
	a := AttributeHeader{Cmd: 7, Size: 4096, Flags: 0xdeadbeef}
	got, err := FromWireAttr(ToWireAttr(a))
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestReplyBitAndTransID(t *testing.T) {
	h := CommandHeader{Trans: ReplyBit | 0x77}
	require.True(t, h.IsReply())
	require.Equal(t, uint64(0x77), h.TransID())

	h2 := CommandHeader{Trans: 0x77}
	require.False(t, h2.IsReply())
	require.Equal(t, uint64(0x77), h2.TransID())
}

func TestRawIDCIDRoundTrip(t *testing.T) {
	var id RawID
	for i := range id {
		id[i] = byte(255 - i)
	}
	c := id.CID()
	back, err := RawIDFromCID(c)
	require.NoError(t, err)
	require.Equal(t, id, back)
}

func TestFromWireShortBuffer(t *testing.T) {
	_, err := FromWire(make([]byte, 4))
	require.Error(t, err)
	_, err = FromWireAttr(make([]byte, 4))
	require.Error(t, err)
}
