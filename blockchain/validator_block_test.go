package blockchain

import (
	"math/big"
	"testing"

	"github.com/mvs-org/metaverse-go/chain"
)

func TestContextFreeRejectsUnknownVersion(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	genesis.Header.Version = 9
	genesis.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckContextFree(genesis); !chain.ErrorIs(err, chain.ErrBadProofOfWork) {
		t.Fatalf("unknown version accepted: %v", err)
	}
}

func TestContextFreeRejectsBadMerkle(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	genesis.Header.Merkle[0] ^= 0xff
	genesis.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckContextFree(genesis); !chain.ErrorIs(err, chain.ErrBadMerkleRoot) {
		t.Fatalf("bad merkle accepted: %v", err)
	}
}

func TestContextFreeRejectsNonCoinbaseFirst(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bob := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	spend := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(1, bob))
	b := h.sealBlock(t, genesis, alice, 1, spend)
	b.Transactions[0], b.Transactions[1] = b.Transactions[1], b.Transactions[0]
	b.Header.Merkle = chain.GenerateMerkleRoot(b.Transactions)
	b.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckContextFree(b); !chain.ErrorIs(err, chain.ErrCoinbaseMisshape) {
		t.Fatalf("misplaced coinbase accepted: %v", err)
	}
}

func TestContextFreeRejectsTwoCoinbases(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	extra := h.coinbase(0, alice, 1)
	extra.Inputs[0].Script = []byte{0x07, 0x08}
	genesis.Transactions = append(genesis.Transactions, extra)
	genesis.Header.Merkle = chain.GenerateMerkleRoot(genesis.Transactions)
	genesis.Header.TransactionCount = 2
	genesis.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckContextFree(genesis); !chain.ErrorIs(err, chain.ErrCoinbaseMisshape) {
		t.Fatalf("second coinbase accepted: %v", err)
	}
}

func TestContextFreeRejectsFutureTimestamp(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	genesis.Header.Timestamp = h.baseTime + 10_000_000
	genesis.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckContextFree(genesis); !chain.ErrorIs(err, chain.ErrBadTimestamp) {
		t.Fatalf("future timestamp accepted: %v", err)
	}
}

func TestContextFreeRequiresSignatureMaterial(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bv := NewBlockValidator(h.params, h.store)

	pos := h.genesisTo(t, alice)
	pos.Header.Version = chain.BlockVersionPoS
	pos.Header.InvalidateHash()
	if err := bv.CheckContextFree(pos); !chain.ErrorIs(err, chain.ErrBadProofOfStake) {
		t.Fatalf("unsigned pos block accepted: %v", err)
	}

	dpos := h.genesisTo(t, alice)
	dpos.Header.Version = chain.BlockVersionDPoS
	dpos.BlockSig = []byte{1, 2}
	dpos.Header.InvalidateHash()
	if err := bv.CheckContextFree(dpos); !chain.ErrorIs(err, chain.ErrBadWitnessSlot) {
		t.Fatalf("keyless dpos block accepted: %v", err)
	}
}

func TestPoSBlockRequiresCoinstake(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	b := h.sealBlock(t, genesis, alice, 1)
	b.Header.Version = chain.BlockVersionPoS
	b.BlockSig = []byte{1, 2, 3}
	b.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckConnected(b, &genesis.Header); !chain.ErrorIs(err, chain.ErrBadProofOfStake) {
		t.Fatalf("coinstake-less pos block accepted: %v", err)
	}
}

func TestDPoSBitsMustEqualParent(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	b := h.sealBlock(t, genesis, alice, 1)
	b.Header.Version = chain.BlockVersionDPoS
	b.Header.Bits = big.NewInt(5) // parent has 1
	b.BlockSig = []byte{1}
	b.PublicKey = alice.pub
	b.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckConnected(b, &genesis.Header); !chain.ErrorIs(err, chain.ErrBadWitnessSlot) {
		t.Fatalf("dpos difficulty drift accepted: %v", err)
	}
}

func TestDifficultyFloorEnforced(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	b := h.sealBlock(t, genesis, alice, 1)
	b.Header.Bits = new(big.Int) // zero
	b.Header.InvalidateHash()

	bv := NewBlockValidator(h.params, h.store)
	if err := bv.CheckConnected(b, &genesis.Header); !chain.ErrorIs(err, chain.ErrBadProofOfWork) {
		t.Fatalf("zero difficulty accepted: %v", err)
	}
}
