package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/hopcore/wire"
)

func idFromByte(b byte) wire.RawID {
	var id wire.RawID
	id[0] = b
	return id
}

func TestEvenSplitCoversFullSpace(t *testing.T) {
	ranges := EvenSplit(4)
	require.Len(t, ranges, 4)
	require.Equal(t, wire.RawID{}, ranges[0].Start)
	require.Equal(t, maxID(), ranges[3].End)
	for i := 1; i < len(ranges); i++ {
		require.Equal(t, ranges[i-1].End, ranges[i].Start)
	}
}

func TestKeyspaceOwnsWithinLocalRange(t *testing.T) {
	ranges := EvenSplit(2)
	ks := New(ranges[0])
	ks.Register(ranges[1])

	require.True(t, ks.Owns(idFromByte(0x00)))
	require.False(t, ks.Owns(idFromByte(0xff)))

	owner, ok := ks.Owner(idFromByte(0xff))
	require.True(t, ok)
	require.Equal(t, ranges[1].Name, owner.Name)
}

func TestUnregisterRemovesRange(t *testing.T) {
	ranges := EvenSplit(2)
	ks := New(ranges[0])
	ks.Register(ranges[1])
	ks.Unregister(ranges[1].Name)
	_, ok := ks.Owner(idFromByte(0xff))
	require.False(t, ok)
}
