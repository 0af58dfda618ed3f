package blockchain

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/script"
	"github.com/mvs-org/metaverse-go/store"
)

// testWallet is one key with its derived script and address.
type testWallet struct {
	priv *btcec.PrivateKey
	pub  []byte
	hash chain.ShortHash
	addr string
}

func newWallet(t *testing.T, params *consensus.Params) *testWallet {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pub := priv.PubKey().SerializeCompressed()
	hash := chain.Bitcoin160(pub)
	return &testWallet{
		priv: priv,
		pub:  pub,
		hash: hash,
		addr: chain.EncodeAddress(params.P2KHVersion, hash),
	}
}

func (w *testWallet) lockScript() []byte {
	return script.PayKeyHashScript(w.hash)
}

func (w *testWallet) sign(t *testing.T, tx *chain.Transaction, index int, prevScript []byte) {
	t.Helper()
	digest, err := script.SignatureHash(tx, index, prevScript, script.SighashAll)
	if err != nil {
		t.Fatal(err)
	}
	sig := ecdsa.Sign(w.priv, digest[:])
	der := append(sig.Serialize(), script.SighashAll)
	tx.Inputs[index].Script = script.Serialize([]script.Operation{
		script.PushData(der),
		script.PushData(w.pub),
	})
	tx.InvalidateHash()
}

// harness wires a regtest store and organizer over a temp directory.
type harness struct {
	params    *consensus.Params
	store     *store.Store
	pool      *TxPool
	organizer *Organizer
	baseTime  uint32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	params := consensus.RegtestParams()
	s, err := store.Open(t.TempDir(), params, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	pool := NewTxPool(params, s, 0, zap.NewNop())
	return &harness{
		params:    params,
		store:     s,
		pool:      pool,
		organizer: NewOrganizer(params, s, pool, zap.NewNop()),
		baseTime:  uint32(time.Now().Unix()) - 100_000,
	}
}

func (h *harness) coinbase(height uint32, payTo *testWallet, value uint64) chain.Transaction {
	return chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: chain.OutputPoint{Index: chain.MaxInputSequence},
			Script:         []byte{byte(height), byte(height >> 8)},
			Sequence:       chain.MaxInputSequence,
		}},
		Outputs: []chain.Output{{
			Value:      value,
			Script:     payTo.lockScript(),
			Attachment: chain.NewEtpAttachment(value),
		}},
	}
}

// sealBlock builds and seals a PoW block on parent with extra transactions
// after the coinbase.
func (h *harness) sealBlock(t *testing.T, parent *chain.Block, miner *testWallet, bits int64, txs ...chain.Transaction) *chain.Block {
	t.Helper()
	var height uint32
	var prev chain.Header
	if parent != nil {
		prev = parent.Header
		height = prev.Number + 1
	}
	all := append([]chain.Transaction{h.coinbase(height, miner, 0)}, txs...)
	b := &chain.Block{Transactions: all}
	b.Header = chain.Header{
		Version:   chain.BlockVersionPoW,
		Bits:      big.NewInt(bits),
		MixHash:   new(big.Int),
		Number:    height,
		Timestamp: h.baseTime + height*20,
	}
	if parent != nil {
		b.Header.Previous = parent.Hash()
	}
	b.Header.Merkle = chain.GenerateMerkleRoot(all)
	b.Header.TransactionCount = uint64(len(all))
	if !consensus.Seal(&b.Header, 0, 100_000) {
		t.Fatalf("could not seal block at height %d", height)
	}
	return b
}

// genesisTo builds a sealed genesis paying the initial subsidy to owner.
func (h *harness) genesisTo(t *testing.T, owner *testWallet) *chain.Block {
	t.Helper()
	cb := h.coinbase(0, owner, consensus.InitialBlockSubsidy)
	b := &chain.Block{Transactions: []chain.Transaction{cb}}
	b.Header = chain.Header{
		Version:   chain.BlockVersionPoW,
		Bits:      big.NewInt(1),
		MixHash:   new(big.Int),
		Timestamp: h.baseTime,
	}
	b.Header.Merkle = chain.GenerateMerkleRoot(b.Transactions)
	b.Header.TransactionCount = 1
	if !consensus.Seal(&b.Header, 0, 1000) {
		t.Fatal("could not seal genesis")
	}
	return b
}

// spend builds a signed transaction moving prevValue minus fee from a
// previous P2PKH output of owner to dest outputs.
type outSpec struct {
	value  uint64
	script []byte
	attach chain.Attachment
}

func etpOut(value uint64, to *testWallet) outSpec {
	return outSpec{value: value, script: to.lockScript(), attach: chain.NewEtpAttachment(value)}
}

func (h *harness) spend(t *testing.T, owner *testWallet, prev chain.OutputPoint, prevScript []byte, outs ...outSpec) chain.Transaction {
	t.Helper()
	tx := chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: prev,
			Sequence:       chain.MaxInputSequence,
		}},
	}
	for _, o := range outs {
		tx.Outputs = append(tx.Outputs, chain.Output{Value: o.value, Script: o.script, Attachment: o.attach})
	}
	owner.sign(t, &tx, 0, prevScript)
	return tx
}

// mustReceive feeds a block to the organizer and fails the test on error.
func (h *harness) mustReceive(t *testing.T, b *chain.Block) {
	t.Helper()
	if err := h.organizer.Receive(b); err != nil {
		t.Fatalf("block %d (%s) rejected: %v", b.Header.Number, b.Hash(), err)
	}
}

func (h *harness) tipHeight(t *testing.T) uint64 {
	t.Helper()
	height, ok, err := h.store.LastHeight()
	if err != nil || !ok {
		t.Fatalf("no tip: %v", err)
	}
	return height
}
