package node

import (
	"testing"

	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/store"
)

func TestGenesisBlocksVerify(t *testing.T) {
	for _, network := range []string{"mainnet", "testnet", "regtest"} {
		b, err := GenesisBlock(network)
		if err != nil {
			t.Fatalf("%s: %v", network, err)
		}
		if b.Header.Number != 0 || b.Header.Previous != chain.NullHash {
			t.Fatalf("%s: genesis header malformed", network)
		}
		if len(b.Transactions) != 1 || !b.Transactions[0].IsCoinbase() {
			t.Fatalf("%s: genesis body malformed", network)
		}
		if got := b.Transactions[0].Outputs[0].Value; got != 50*consensus.CoinPrice {
			t.Fatalf("%s: coinbase value %d, want %d", network, got, 50*consensus.CoinPrice)
		}
		// The block id is the double-SHA256 of the header bytes.
		w := chain.NewWriter()
		b.Header.Encode(w, false)
		if chain.Sha256d(w.Bytes()) != b.Hash() {
			t.Fatalf("%s: header hash mismatch", network)
		}
	}
}

func TestGenesisNetworksDiffer(t *testing.T) {
	main, err := GenesisBlock("mainnet")
	if err != nil {
		t.Fatal(err)
	}
	test, err := GenesisBlock("testnet")
	if err != nil {
		t.Fatal(err)
	}
	if main.Hash() == test.Hash() {
		t.Fatal("mainnet and testnet share a genesis")
	}
}

func TestInitializeEmptyStoreWithGenesis(t *testing.T) {
	params := consensus.MainnetParams()
	s, err := store.Open(t.TempDir(), params, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	genesis, err := GenesisBlock("mainnet")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PushBlock(genesis); err != nil {
		t.Fatal(err)
	}
	height, ok, err := s.LastHeight()
	if err != nil || !ok || height != 0 {
		t.Fatalf("top height %d ok=%v err=%v", height, ok, err)
	}
	hash, ok, err := s.BlockHashAtHeight(0)
	if err != nil || !ok || hash != genesis.Hash() {
		t.Fatal("genesis hash not indexed at height 0")
	}
}

func TestNodeOpenCloseCycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = "regtest"
	cfg.DataDir = t.TempDir()

	n, err := Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	height, ok, err := n.Store().LastHeight()
	if err != nil || !ok || height != 0 {
		t.Fatalf("fresh node height %d ok=%v err=%v", height, ok, err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening must find the same chain, not re-initialize.
	n2, err := Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := n2.Close(); err != nil {
		t.Fatal(err)
	}
}
