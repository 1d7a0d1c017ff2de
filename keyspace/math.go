package keyspace

import (
	"math/big"

	"github.com/myelnet/hopcore/wire"
)

var idSpace = new(big.Int).Lsh(big.NewInt(1), 8*wire.RawIDSize)

func maxID() wire.RawID {
	var id wire.RawID
	for i := range id {
		id[i] = 0xff
	}
	return id
}

// divCeilSpace returns floor(2^256 / n) as a big-endian RawID.
func divCeilSpace(n int) wire.RawID {
	step := new(big.Int).Div(idSpace, big.NewInt(int64(n)))
	return bigToID(step)
}

// multiply returns (step * i) truncated to RawIDSize bytes, big-endian.
func multiply(step wire.RawID, i int) wire.RawID {
	v := new(big.Int).Mul(idToBig(step), big.NewInt(int64(i)))
	return bigToID(v)
}

func idToBig(id wire.RawID) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

func bigToID(v *big.Int) wire.RawID {
	var id wire.RawID
	b := v.Bytes()
	if len(b) > wire.RawIDSize {
		b = b[len(b)-wire.RawIDSize:]
	}
	copy(id[wire.RawIDSize-len(b):], b)
	return id
}
