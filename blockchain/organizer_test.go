package blockchain

import (
	"testing"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
)

func TestGenesisConnect(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	if got := h.tipHeight(t); got != 0 {
		t.Fatalf("tip height %d after genesis", got)
	}
	hash, ok, err := h.store.BlockHashAtHeight(0)
	if err != nil || !ok || hash != genesis.Hash() {
		t.Fatal("genesis hash not indexed")
	}
	// Receiving the same block again is a no-op.
	if err := h.organizer.Receive(genesis); err != nil {
		t.Fatalf("duplicate genesis rejected: %v", err)
	}
}

func TestSimpleSpendHistory(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bob := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	// Spend the genesis coinbase: 49 ETP to bob, 1 ETP fee.
	spend := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(49*consensus.CoinPrice, bob))
	b1 := h.sealBlock(t, genesis, alice, 1, spend)
	h.mustReceive(t, b1)

	rows, err := h.store.FetchHistory(bob.addr)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Height != 1 || rows[0].Value != 49*consensus.CoinPrice {
		t.Fatalf("bob history %+v", rows)
	}
}

func TestDoubleSpendRejected(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bob := newWallet(t, h.params)
	carol := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)
	point := chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0}

	first := h.spend(t, alice, point, alice.lockScript(), etpOut(49*consensus.CoinPrice, bob))
	b1 := h.sealBlock(t, genesis, alice, 1, first)
	h.mustReceive(t, b1)

	second := h.spend(t, alice, point, alice.lockScript(), etpOut(49*consensus.CoinPrice, carol))
	b2 := h.sealBlock(t, b1, alice, 1, second)
	if err := h.organizer.Receive(b2); !chain.ErrorIs(err, chain.ErrDoubleSpend) {
		t.Fatalf("conflicting spend accepted: %v", err)
	}
	if got := h.tipHeight(t); got != 1 {
		t.Fatalf("tip moved to %d after rejected block", got)
	}
}

func TestIntraBlockSpendChain(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bob := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	// tx1 pays bob, tx2 spends tx1's output inside the same block.
	tx1 := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(49*consensus.CoinPrice, bob))
	tx2 := h.spend(t, bob,
		chain.OutputPoint{Hash: tx1.Hash(), Index: 0},
		bob.lockScript(),
		etpOut(48*consensus.CoinPrice, alice))
	b1 := h.sealBlock(t, genesis, alice, 1, tx1, tx2)
	h.mustReceive(t, b1)

	if got := h.tipHeight(t); got != 1 {
		t.Fatalf("tip height %d", got)
	}
}

func TestOrphanThenConnect(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	b1 := h.sealBlock(t, genesis, alice, 1)
	b2 := h.sealBlock(t, b1, alice, 1)

	h.mustReceive(t, genesis)
	// b2 ahead of b1: parked as orphan.
	if err := h.organizer.Receive(b2); !chain.ErrorIs(err, chain.ErrOrphanBlock) {
		t.Fatalf("future block not parked: %v", err)
	}
	if h.organizer.OrphanCount() != 1 {
		t.Fatalf("orphan count %d", h.organizer.OrphanCount())
	}
	// b1 arrives; b2 must connect recursively.
	h.mustReceive(t, b1)
	if got := h.tipHeight(t); got != 2 {
		t.Fatalf("tip height %d after orphan resolution", got)
	}
	if h.organizer.OrphanCount() != 0 {
		t.Fatalf("orphan count %d after resolution", h.organizer.OrphanCount())
	}
}

func TestReorgToHeavierBranch(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bob := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	// Main chain A1..A5; A2 carries a spend that the fork does not confirm.
	a1 := h.sealBlock(t, genesis, alice, 1)
	h.mustReceive(t, a1)
	freed := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(49*consensus.CoinPrice, bob))
	a2 := h.sealBlock(t, a1, alice, 1, freed)
	h.mustReceive(t, a2)
	a3 := h.sealBlock(t, a2, alice, 1)
	h.mustReceive(t, a3)
	a4 := h.sealBlock(t, a3, alice, 1)
	h.mustReceive(t, a4)
	a5 := h.sealBlock(t, a4, alice, 1)
	h.mustReceive(t, a5)
	if got := h.tipHeight(t); got != 5 {
		t.Fatalf("main chain height %d", got)
	}

	var added, removed []*chain.Block
	var forkHeight uint64
	h.organizer.SubscribeReorg(func(a, r []*chain.Block, fh uint64) {
		if len(r) > 0 {
			added, removed, forkHeight = a, r, fh
		}
	})

	// Fork B2..B6 on A1 with heavier per-block work.
	h.baseTime += 7 // distinct timestamps, distinct hashes
	parent := a1
	var branch []*chain.Block
	for i := 0; i < 5; i++ {
		nb := h.sealBlock(t, parent, bob, 2)
		branch = append(branch, nb)
		parent = nb
	}
	for i, nb := range branch {
		// Early fork blocks park as orphans until the branch outworks the
		// main chain; later ones extend the new tip directly.
		if err := h.organizer.Receive(nb); err != nil && !chain.ErrorIs(err, chain.ErrOrphanBlock) {
			t.Fatalf("branch block %d: %v", i, err)
		}
	}

	if got := h.tipHeight(t); got != 6 {
		t.Fatalf("post-reorg height %d, want 6", got)
	}
	hash2, _, err := h.store.BlockHashAtHeight(2)
	if err != nil || hash2 != branch[0].Hash() {
		t.Fatal("height 2 is not the first fork block")
	}
	if forkHeight != 1 || len(removed) != 4 || len(added) == 0 {
		t.Fatalf("notification fork=%d removed=%d added=%d", forkHeight, len(removed), len(added))
	}

	// The freed spend from A2 must be back in the mempool.
	if _, ok := h.pool.Get(freed.Hash()); !ok {
		t.Fatal("transaction from the abandoned branch not reinjected")
	}
	// Bob's history must reflect only the new branch (no A-chain rows).
	rows, err := h.store.FetchHistory(bob.addr)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		fromBranch := false
		for _, nb := range branch {
			for i := range nb.Transactions {
				if nb.Transactions[i].Hash() == row.Point.Hash {
					fromBranch = true
				}
			}
		}
		if row.Height > 6 || !fromBranch {
			t.Fatalf("stale history row %+v", row)
		}
	}
}

func TestReorgRevertsOnBadBranchBlock(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bob := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)
	a1 := h.sealBlock(t, genesis, alice, 1)
	h.mustReceive(t, a1)
	a2 := h.sealBlock(t, a1, alice, 1)
	h.mustReceive(t, a2)

	// Heavier fork on genesis whose second block double-spends inside the
	// branch: b1 spends the genesis coinbase, b2 spends it again.
	h.baseTime += 3
	spend1 := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(49*consensus.CoinPrice, bob))
	b1 := h.sealBlock(t, genesis, bob, 2, spend1)
	spend2 := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(48*consensus.CoinPrice, bob))
	b2 := h.sealBlock(t, b1, bob, 2, spend2)

	if err := h.organizer.Receive(b1); !chain.ErrorIs(err, chain.ErrOrphanBlock) {
		t.Fatalf("first fork block: %v", err)
	}
	if err := h.organizer.Receive(b2); !chain.ErrorIs(err, chain.ErrDoubleSpend) {
		t.Fatalf("want double_spend from failed branch, got %v", err)
	}

	// The original main chain must be intact.
	if got := h.tipHeight(t); got != 2 {
		t.Fatalf("height %d after reverted reorg", got)
	}
	hash2, _, err := h.store.BlockHashAtHeight(2)
	if err != nil || hash2 != a2.Hash() {
		t.Fatal("main chain tip changed after reverted reorg")
	}
}

func TestSuccessiveVersionCap(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	cap := h.params.SuccessiveCap(chain.BlockVersionPoW)
	parent := genesis
	// Heights 1..cap-1 extend the run to exactly cap consecutive blocks.
	for i := uint32(1); i < cap; i++ {
		nb := h.sealBlock(t, parent, alice, 1)
		h.mustReceive(t, nb)
		parent = nb
	}
	// The cap+1-th consecutive block of the same version must be refused.
	over := h.sealBlock(t, parent, alice, 1)
	if err := h.organizer.Receive(over); !chain.ErrorIs(err, chain.ErrBadTimestamp) {
		t.Fatalf("successive cap not enforced: %v", err)
	}
}

func TestStoppedOrganizerRefuses(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	genesis := h.genesisTo(t, alice)
	h.organizer.Stop()
	if err := h.organizer.Receive(genesis); !chain.ErrorIs(err, chain.ErrStopped) {
		t.Fatalf("stopped organizer accepted a block: %v", err)
	}
}

func TestTxPoolLifecycle(t *testing.T) {
	h := newHarness(t)
	alice := newWallet(t, h.params)
	bob := newWallet(t, h.params)

	genesis := h.genesisTo(t, alice)
	h.mustReceive(t, genesis)

	spend := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(49*consensus.CoinPrice, bob))
	if err := h.pool.Accept(&spend); err != nil {
		t.Fatalf("valid loose transaction refused: %v", err)
	}
	if err := h.pool.Accept(&spend); !chain.ErrorIs(err, chain.ErrDuplicateTx) {
		t.Fatalf("duplicate accepted: %v", err)
	}

	conflicting := h.spend(t, alice,
		chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0},
		alice.lockScript(),
		etpOut(48*consensus.CoinPrice, bob))
	if err := h.pool.Accept(&conflicting); !chain.ErrorIs(err, chain.ErrDoubleSpend) {
		t.Fatalf("pool double spend accepted: %v", err)
	}

	// Confirming the spend evicts it.
	b1 := h.sealBlock(t, genesis, alice, 1, spend)
	h.mustReceive(t, b1)
	if h.pool.Size() != 0 {
		t.Fatalf("pool size %d after confirmation", h.pool.Size())
	}
}
