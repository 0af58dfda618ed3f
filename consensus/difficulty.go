package consensus

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// TargetFromBits converts a difficulty value into the 256-bit hash target:
// target = floor(2^256 / difficulty). A non-positive difficulty has no
// target.
func TargetFromBits(bits *big.Int) (*big.Int, error) {
	if bits == nil || bits.Sign() <= 0 {
		return nil, chain.NewError(chain.ErrBadProofOfWork, "difficulty is zero")
	}
	return new(big.Int).Div(two256, bits), nil
}

// HashMeetsBits reports whether a hash, read as a big-endian integer,
// satisfies the difficulty in bits.
func HashMeetsBits(h chainhash.Hash, bits *big.Int) bool {
	target, err := TargetFromBits(bits)
	if err != nil {
		return false
	}
	return new(big.Int).SetBytes(h[:]).Cmp(target) <= 0
}

// WorkFromBits returns the expected work a block of this difficulty proves;
// with bits carrying the difficulty directly the work is the value itself.
func WorkFromBits(bits *big.Int) *big.Int {
	if bits == nil || bits.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(bits)
}

// NextDifficulty retargets over the last same-version headers, oldest first.
// The window's actual timespan is compared to the expected spacing; the
// parent difficulty is scaled by expected/actual, clamped to a factor of
// four per step and to the network floor.
func NextDifficulty(p *Params, version uint32, window []*chain.Header) *big.Int {
	if len(window) < 2 {
		return new(big.Int).Set(p.MinimumDifficulty)
	}
	parent := window[len(window)-1]
	spacing := p.BlockSpacing[version]
	if spacing == 0 {
		spacing = 30
	}
	expected := uint64(spacing) * uint64(len(window)-1)
	first := window[0].Timestamp
	last := parent.Timestamp
	var actual uint64
	if last > first {
		actual = uint64(last - first)
	} else {
		actual = 1
	}
	if actual < expected/4 {
		actual = expected / 4
	}
	if actual > expected*4 {
		actual = expected * 4
	}

	next := new(big.Int).Set(parent.Bits)
	next.Mul(next, new(big.Int).SetUint64(expected))
	next.Div(next, new(big.Int).SetUint64(actual))
	if next.Cmp(p.MinimumDifficulty) < 0 {
		next.Set(p.MinimumDifficulty)
	}
	return next
}
