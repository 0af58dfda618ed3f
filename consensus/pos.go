package consensus

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// StakeInfo describes the UTXO a coinstake spends.
type StakeInfo struct {
	Point  chain.OutputPoint
	Value  uint64
	Height uint64
}

// KernelHash combines a stake output, its height, and the block timestamp.
// The digest is deterministic for a given stake output, height and
// timestamp; each timestamp yields a different digest.
func KernelHash(stake StakeInfo, timestamp uint32) chainhash.Hash {
	w := chain.NewWriter()
	stake.Point.Encode(w)
	w.WriteU64(stake.Height)
	w.WriteU32(timestamp)
	return chain.Sha256d(w.Bytes())
}

// CheckStakeKernel reports whether the kernel satisfies bits weighted by the
// stake value: kernel <= target * value.
func CheckStakeKernel(bits *big.Int, stake StakeInfo, timestamp uint32) error {
	if stake.Value == 0 {
		return chain.NewError(chain.ErrBadProofOfStake, "stake output has no value")
	}
	target, err := TargetFromBits(bits)
	if err != nil {
		return chain.NewError(chain.ErrBadProofOfStake, "stake difficulty is zero")
	}
	weighted := new(big.Int).Mul(target, new(big.Int).SetUint64(stake.Value))
	kernel := KernelHash(stake, timestamp)
	if new(big.Int).SetBytes(kernel[:]).Cmp(weighted) > 0 {
		return chain.NewError(chain.ErrBadProofOfStake, "kernel hash above weighted target")
	}
	return nil
}

// CheckStakeUtxoCapability checks the spent output's eligibility to stake at
// spendHeight: deep enough, valuable enough.
func CheckStakeUtxoCapability(stake StakeInfo, spendHeight uint64) error {
	if stake.Value < StakeMinValue {
		return chain.Errorf(chain.ErrBadProofOfStake,
			"stake value %d below minimum %d", stake.Value, StakeMinValue)
	}
	if spendHeight < stake.Height+StakeMinConfirmations {
		return chain.Errorf(chain.ErrBadProofOfStake,
			"stake utxo at %d not mature at %d", stake.Height, spendHeight)
	}
	return nil
}

// CheckStakeAddressCapability checks the staking address's standing balance.
func CheckStakeAddressCapability(lockedBalance uint64) error {
	if lockedBalance < PosMinLockedBalance {
		return chain.Errorf(chain.ErrBadProofOfStake,
			"locked balance %d below minimum %d", lockedBalance, PosMinLockedBalance)
	}
	return nil
}
