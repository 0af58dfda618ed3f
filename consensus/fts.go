package consensus

import (
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// StakeHolder is a candidate witness with its selection weight: locked stake
// plus active witness certs at the epoch boundary.
type StakeHolder struct {
	Address string
	Weight  uint64
}

// SelectWitnesses draws count distinct holders by follow-the-satoshi: each
// draw lands a deterministic pseudo-random satoshi on the cumulative weight
// line and the owning holder wins and leaves the pool. Candidates are
// canonicalized by address so the drawing is order-independent. Fewer
// candidates than count returns them all.
func SelectWitnesses(seed chainhash.Hash, holders []StakeHolder, count int) []StakeHolder {
	pool := make([]StakeHolder, 0, len(holders))
	for _, h := range holders {
		if h.Weight > 0 {
			pool = append(pool, h)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].Address < pool[j].Address })
	if len(pool) <= count {
		return pool
	}

	var total uint64
	for _, h := range pool {
		total += h.Weight
	}

	winners := make([]StakeHolder, 0, count)
	for round := 0; len(winners) < count && len(pool) > 0; round++ {
		w := chain.NewWriter()
		w.WriteHash(seed)
		w.WriteU32(uint32(round))
		draw := chain.Sha256d(w.Bytes())
		pick := new(big.Int).Mod(
			new(big.Int).SetBytes(draw[:]),
			new(big.Int).SetUint64(total),
		).Uint64()

		var cum uint64
		for i, h := range pool {
			cum += h.Weight
			if pick < cum {
				winners = append(winners, h)
				total -= h.Weight
				pool = append(pool[:i], pool[i+1:]...)
				break
			}
		}
	}
	return winners
}

// EpochSeed derives the FTS seed for the epoch whose boundary block has the
// given hash.
func EpochSeed(boundaryHash chainhash.Hash, epoch uint64) chainhash.Hash {
	w := chain.NewWriter()
	w.WriteHash(boundaryHash)
	w.WriteU64(epoch)
	return chain.Sha256d(w.Bytes())
}

// EpochOfHeight maps a height onto its epoch number.
func EpochOfHeight(height uint64) uint64 {
	return height / EpochCycleHeight
}

// EpochBoundary returns the first height of the epoch containing height.
func EpochBoundary(height uint64) uint64 {
	return EpochOfHeight(height) * EpochCycleHeight
}
