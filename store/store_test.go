package store

import (
	"math/big"
	"reflect"
	"testing"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/script"
)

var (
	keyHashA = chain.Bitcoin160([]byte("store key A"))
	keyHashB = chain.Bitcoin160([]byte("store key B"))
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), consensus.RegtestParams(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addrOf(s *Store, hash chain.ShortHash) string {
	return chain.EncodeAddress(s.params.P2KHVersion, hash)
}

func coinbaseTx(height uint32, payTo chain.ShortHash, value uint64) chain.Transaction {
	return chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: chain.OutputPoint{Index: chain.MaxInputSequence},
			Script:         []byte{byte(height), 0x01},
			Sequence:       chain.MaxInputSequence,
		}},
		Outputs: []chain.Output{{
			Value:      value,
			Script:     script.PayKeyHashScript(payTo),
			Attachment: chain.NewEtpAttachment(value),
		}},
	}
}

func buildBlock(parent *chain.Block, txs []chain.Transaction) *chain.Block {
	b := &chain.Block{Transactions: txs}
	b.Header = chain.Header{
		Version: chain.BlockVersionPoW,
		Bits:    big.NewInt(1),
		MixHash: new(big.Int),
	}
	if parent != nil {
		b.Header.Previous = parent.Hash()
		b.Header.Number = parent.Header.Number + 1
		b.Header.Timestamp = parent.Header.Timestamp + 10
	} else {
		b.Header.Timestamp = 1_600_000_000
	}
	b.Header.Merkle = chain.GenerateMerkleRoot(txs)
	b.Header.TransactionCount = uint64(len(txs))
	return b
}

func genesisBlock() *chain.Block {
	cb := coinbaseTx(0, keyHashA, 50*consensus.CoinPrice)
	return buildBlock(nil, []chain.Transaction{cb})
}

// dump snapshots every bucket byte-exactly.
func dump(t *testing.T, s *Store) map[string]map[string]string {
	t.Helper()
	out := make(map[string]map[string]string)
	err := s.db.View(func(btx *bolt.Tx) error {
		for _, name := range allBuckets {
			rows := make(map[string]string)
			if err := btx.Bucket(name).ForEach(func(k, v []byte) error {
				rows[string(k)] = string(v)
				return nil
			}); err != nil {
				return err
			}
			out[string(name)] = rows
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestOpenMigratesAndLocks(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, consensus.RegtestParams(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if v, err := s.SchemaVersion(); err != nil || v != SchemaVersionV1 {
		t.Fatalf("schema version %d, %v", v, err)
	}

	if _, err := Open(dir, consensus.RegtestParams(), zap.NewNop()); err == nil {
		t.Fatal("second open did not hit the process lock")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(dir, consensus.RegtestParams(), zap.NewNop())
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = s2.Close()
}

func TestPushGenesisAndQueries(t *testing.T) {
	s := openTestStore(t)
	genesis := genesisBlock()
	if err := s.PushBlock(genesis); err != nil {
		t.Fatal(err)
	}

	height, ok, err := s.LastHeight()
	if err != nil || !ok || height != 0 {
		t.Fatalf("top height %d ok=%v err=%v", height, ok, err)
	}
	hash, ok, err := s.BlockHashAtHeight(0)
	if err != nil || !ok || hash != genesis.Hash() {
		t.Fatalf("block hash at 0 wrong")
	}
	back, ok, err := s.GetBlock(genesis.Hash())
	if err != nil || !ok {
		t.Fatalf("genesis not loadable: %v", err)
	}
	if back.Hash() != genesis.Hash() || len(back.Transactions) != 1 {
		t.Fatal("reloaded genesis differs")
	}

	cbHash := genesis.Transactions[0].Hash()
	_, rec, ok, err := s.GetTransaction(cbHash)
	if err != nil || !ok || rec.Height != 0 || rec.Index != 0 {
		t.Fatalf("coinbase record wrong: %+v ok=%v err=%v", rec, ok, err)
	}

	rows, err := s.FetchHistory(addrOf(s, keyHashA))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Kind != HistoryKindOutput || rows[0].Value != 50*consensus.CoinPrice {
		t.Fatalf("history rows %+v", rows)
	}

	if seq := s.Sequence(); seq%2 != 0 {
		t.Fatalf("sequence %d odd while idle", seq)
	}
}

func TestPushRejectsNonExtending(t *testing.T) {
	s := openTestStore(t)
	genesis := genesisBlock()
	if err := s.PushBlock(genesis); err != nil {
		t.Fatal(err)
	}
	stray := buildBlock(nil, []chain.Transaction{coinbaseTx(9, keyHashB, 1)})
	if err := s.PushBlock(stray); !chain.ErrorIs(err, chain.ErrOrphanBlock) {
		t.Fatalf("non-extending block accepted: %v", err)
	}
}

func spendBlock(t *testing.T, s *Store, parent *chain.Block) *chain.Block {
	t.Helper()
	cbA := parent.Transactions[0]
	spend := chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: chain.OutputPoint{Hash: cbA.Hash(), Index: 0},
			Script:         []byte{0x01, 0x02},
			Sequence:       chain.MaxInputSequence,
		}},
		Outputs: []chain.Output{{
			Value:      49 * consensus.CoinPrice,
			Script:     script.PayKeyHashScript(keyHashB),
			Attachment: chain.NewEtpAttachment(49 * consensus.CoinPrice),
		}},
	}
	return buildBlock(parent, []chain.Transaction{coinbaseTx(parent.Header.Number+1, keyHashA, 0), spend})
}

func TestSpendIndexAndDoubleSpend(t *testing.T) {
	s := openTestStore(t)
	genesis := genesisBlock()
	if err := s.PushBlock(genesis); err != nil {
		t.Fatal(err)
	}
	b1 := spendBlock(t, s, genesis)
	if err := s.PushBlock(b1); err != nil {
		t.Fatal(err)
	}

	spent := chain.OutputPoint{Hash: genesis.Transactions[0].Hash(), Index: 0}
	inPoint, ok, err := s.GetSpend(spent)
	if err != nil || !ok {
		t.Fatalf("spend row missing: %v", err)
	}
	if inPoint.Hash != b1.Transactions[1].Hash() || inPoint.Index != 0 {
		t.Fatal("spend row points at the wrong input")
	}
	if unspent, _ := s.IsUnspent(spent); unspent {
		t.Fatal("spent output reported unspent")
	}

	// A second block spending the same output must be refused.
	doubleSpend := chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: spent,
			Script:         []byte{0x03, 0x04},
			Sequence:       chain.MaxInputSequence,
		}},
		Outputs: []chain.Output{{
			Value:      1,
			Script:     script.PayKeyHashScript(keyHashB),
			Attachment: chain.NewEtpAttachment(1),
		}},
	}
	b2 := buildBlock(b1, []chain.Transaction{coinbaseTx(2, keyHashA, 0), doubleSpend})
	if err := s.PushBlock(b2); !chain.ErrorIs(err, chain.ErrDoubleSpend) {
		t.Fatalf("double spend accepted: %v", err)
	}
	// The failed push must leave no trace.
	if _, ok, _ := s.GetBlockMeta(b2.Hash()); ok {
		t.Fatal("rejected block left a record")
	}
}

func attachmentBlock(parent *chain.Block, s *Store) *chain.Block {
	addrA := chain.EncodeAddress(s.params.P2KHVersion, keyHashA)
	issue := chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: chain.OutputPoint{Hash: parent.Transactions[0].Hash(), Index: 0},
			Script:         []byte{0x05},
			Sequence:       chain.MaxInputSequence,
		}},
		Outputs: []chain.Output{
			{
				Script: script.PayKeyHashScript(keyHashA),
				Attachment: chain.Attachment{
					Type: chain.AttachmentTypeAsset,
					Payload: &chain.Asset{
						Status: chain.AssetStatusDetail,
						Detail: &chain.AssetDetail{
							Symbol:    "FOO",
							MaxSupply: 1000,
							Issuer:    "alice",
							Address:   addrA,
						},
					},
				},
			},
			{
				Script: script.PayKeyHashScript(keyHashA),
				Attachment: chain.Attachment{
					Type:    chain.AttachmentTypeDid,
					Payload: &chain.Did{Status: chain.DidStatusRegister, Symbol: "alice", Address: addrA},
				},
			},
			func() chain.Output {
				m := chain.NewMitRegister("M", addrA, "c")
				return chain.Output{
					Script:     script.PayKeyHashScript(keyHashA),
					Attachment: chain.Attachment{Type: chain.AttachmentTypeAssetMit, Payload: &m},
				}
			}(),
		},
	}
	return buildBlock(parent, []chain.Transaction{coinbaseTx(parent.Header.Number+1, keyHashB, 0), issue})
}

func TestAttachmentRegistries(t *testing.T) {
	s := openTestStore(t)
	genesis := genesisBlock()
	if err := s.PushBlock(genesis); err != nil {
		t.Fatal(err)
	}
	b1 := attachmentBlock(genesis, s)
	if err := s.PushBlock(b1); err != nil {
		t.Fatal(err)
	}
	addrA := addrOf(s, keyHashA)
	addrB := addrOf(s, keyHashB)

	if ok, _ := s.IsAssetExist("FOO"); !ok {
		t.Fatal("issued asset not found")
	}
	asset, ok, err := s.GetIssuedAsset("FOO")
	if err != nil || !ok || asset.Detail.MaxSupply != 1000 {
		t.Fatalf("asset record %+v, %v", asset, err)
	}
	if balance, _ := s.GetAddressAssetBalance(addrA, "FOO"); balance != 1000 {
		t.Fatalf("issuer balance %d, want 1000", balance)
	}

	if did, _ := s.GetDidFromAddress(addrA); did != "alice" {
		t.Fatalf("did from address %q", did)
	}
	mit, ok, err := s.GetRegisteredMit("M")
	if err != nil || !ok || mit.Mit.Address != addrA || mit.Mit.Content != "c" {
		t.Fatalf("mit record %+v, %v", mit, err)
	}

	// Transfer the DID and the MIT to B in the next block.
	transfer := chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: chain.OutputPoint{Hash: b1.Transactions[1].Hash(), Index: 1},
			Script:         []byte{0x06},
			Sequence:       chain.MaxInputSequence,
		}},
		Outputs: []chain.Output{
			{
				Script:     script.PayKeyHashScript(keyHashB),
				Attachment: chain.Attachment{Type: chain.AttachmentTypeDid, Payload: &chain.Did{Status: chain.DidStatusTransfer, Symbol: "alice", Address: addrB}},
			},
			func() chain.Output {
				m := chain.NewMitTransfer("M", addrB)
				return chain.Output{
					Script:     script.PayKeyHashScript(keyHashB),
					Attachment: chain.Attachment{Type: chain.AttachmentTypeAssetMit, Payload: &m},
				}
			}(),
		},
	}
	b2 := buildBlock(b1, []chain.Transaction{coinbaseTx(b1.Header.Number+1, keyHashB, 0), transfer})
	if err := s.PushBlock(b2); err != nil {
		t.Fatal(err)
	}

	if did, _ := s.GetDidFromAddress(addrA); did != "" {
		t.Fatalf("old address still bound to %q", did)
	}
	if did, _ := s.GetDidFromAddress(addrB); did != "alice" {
		t.Fatalf("new address bound to %q", did)
	}
	addresses, err := s.GetDidHistoryAddresses("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(addresses, []string{addrA, addrB}) {
		t.Fatalf("did history %v", addresses)
	}

	mit, _, _ = s.GetRegisteredMit("M")
	if mit.Mit.Address != addrB || mit.Mit.Content != "c" {
		t.Fatalf("mit after transfer %+v", mit.Mit)
	}
	history, err := s.GetMitHistory("M")
	if err != nil || len(history) != 2 {
		t.Fatalf("mit history %+v, %v", history, err)
	}
	if history[0].Status != chain.MitStatusRegister || history[1].Status != chain.MitStatusTransfer {
		t.Fatalf("mit history order wrong: %+v", history)
	}
}

func TestPushPopSymmetry(t *testing.T) {
	s := openTestStore(t)
	empty := dump(t, s)

	genesis := genesisBlock()
	if err := s.PushBlock(genesis); err != nil {
		t.Fatal(err)
	}
	afterGenesis := dump(t, s)

	b1 := attachmentBlock(genesis, s)
	if err := s.PushBlock(b1); err != nil {
		t.Fatal(err)
	}
	b2 := spendBlock(t, s, b1)
	if err := s.PushBlock(b2); err != nil {
		t.Fatal(err)
	}

	popped2, err := s.PopBlock()
	if err != nil {
		t.Fatal(err)
	}
	if popped2.Hash() != b2.Hash() {
		t.Fatal("pop returned the wrong block")
	}
	popped1, err := s.PopBlock()
	if err != nil {
		t.Fatal(err)
	}
	if popped1.Hash() != b1.Hash() {
		t.Fatal("pop order wrong")
	}
	if got := dump(t, s); !reflect.DeepEqual(got, afterGenesis) {
		t.Fatal("store differs from genesis state after popping")
	}

	poppedG, err := s.PopBlock()
	if err != nil {
		t.Fatal(err)
	}
	if poppedG.Hash() != genesis.Hash() {
		t.Fatal("genesis pop returned wrong block")
	}
	if got := dump(t, s); !reflect.DeepEqual(got, empty) {
		t.Fatal("store not byte-identical to empty state after full unwind")
	}
	if _, err := s.PopBlock(); !chain.ErrorIs(err, chain.ErrStoreCorrupted) {
		t.Fatalf("pop on empty store: %v", err)
	}
}

func TestAccountsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	acc := Account{Name: "wallet", Encrypted: []byte{1, 2, 3}, Priority: 2}
	if err := s.PutAccount(acc); err != nil {
		t.Fatal(err)
	}
	back, ok, err := s.GetAccount("wallet")
	if err != nil || !ok || !reflect.DeepEqual(acc, back) {
		t.Fatalf("account round trip: %+v, %v", back, err)
	}

	if err := s.AddAccountAddress("wallet", "Maddr1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAccountAddress("wallet", "Maddr2"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAccountAsset("wallet", "FOO"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAccountDid("wallet", "alice"); err != nil {
		t.Fatal(err)
	}
	addrs, err := s.AccountAddresses("wallet")
	if err != nil || len(addrs) != 2 {
		t.Fatalf("account addresses %v, %v", addrs, err)
	}

	if err := s.DeleteAccount("wallet"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetAccount("wallet"); ok {
		t.Fatal("account survived deletion")
	}
	if addrs, _ := s.AccountAddresses("wallet"); len(addrs) != 0 {
		t.Fatalf("account rows survived deletion: %v", addrs)
	}
}

func TestWitnessProfileAccumulates(t *testing.T) {
	s := openTestStore(t)
	genesis := genesisBlock()
	if err := s.PushBlock(genesis); err != nil {
		t.Fatal(err)
	}
	dposBlock := buildBlock(genesis, []chain.Transaction{coinbaseTx(1, keyHashA, 0)})
	dposBlock.Header.Version = chain.BlockVersionDPoS
	dposBlock.BlockSig = []byte{1}
	dposBlock.PublicKey = []byte{2}
	dposBlock.Header.Merkle = chain.GenerateMerkleRoot(dposBlock.Transactions)
	if err := s.PushBlock(dposBlock); err != nil {
		t.Fatal(err)
	}

	profile, ok, err := s.GetWitnessProfile(addrOf(s, keyHashA))
	if err != nil || !ok || profile.BlocksSigned != 1 {
		t.Fatalf("witness profile %+v, %v", profile, err)
	}
}
