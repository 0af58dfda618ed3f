package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxBlockSerializedSize caps a full block.
const MaxBlockSerializedSize = 1024 * 1024

// Block is a header plus its transactions. PoS and DPoS blocks carry a
// signature over the header between the header and the body; DPoS blocks add
// the signer's public key. The header's TransactionCount is kept consistent
// by Encode.
type Block struct {
	Header       Header
	BlockSig     []byte
	PublicKey    []byte
	Transactions []Transaction
}

func (b *Block) Decode(cur *Cursor) error {
	if err := b.Header.Decode(cur, true); err != nil {
		return err
	}
	if b.Header.IsProofOfStake() || b.Header.IsProofOfDPoS() {
		n, err := cur.ReadVarLen("block_sig")
		if err != nil {
			return err
		}
		if b.BlockSig, err = cur.ReadBytes(n); err != nil {
			return err
		}
	}
	if b.Header.IsProofOfDPoS() {
		n, err := cur.ReadVarLen("public_key")
		if err != nil {
			return err
		}
		if b.PublicKey, err = cur.ReadBytes(n); err != nil {
			return err
		}
	}
	if b.Header.TransactionCount > uint64(cur.Remaining()) {
		return Errorf(ErrShortRead, "tx count %d exceeds remaining bytes", b.Header.TransactionCount)
	}
	txs := make([]Transaction, 0, b.Header.TransactionCount)
	for i := uint64(0); i < b.Header.TransactionCount; i++ {
		var tx Transaction
		if err := tx.Decode(cur); err != nil {
			return err
		}
		txs = append(txs, tx)
	}
	b.Transactions = txs
	return nil
}

func (b *Block) Encode(w *Writer) {
	b.Header.TransactionCount = uint64(len(b.Transactions))
	b.Header.Encode(w, true)
	if b.Header.IsProofOfStake() || b.Header.IsProofOfDPoS() {
		w.WriteVarint(uint64(len(b.BlockSig)))
		w.WriteBytes(b.BlockSig)
	}
	if b.Header.IsProofOfDPoS() {
		w.WriteVarint(uint64(len(b.PublicKey)))
		w.WriteBytes(b.PublicKey)
	}
	for i := range b.Transactions {
		b.Transactions[i].Encode(w)
	}
}

// Serialize returns the canonical byte form.
func (b *Block) Serialize() []byte {
	w := NewWriter()
	b.Encode(w)
	return w.Bytes()
}

// DecodeBlock parses a full block and rejects trailing bytes.
func DecodeBlock(raw []byte) (*Block, error) {
	cur := NewCursor(raw)
	b := &Block{}
	if err := b.Decode(cur); err != nil {
		return nil, err
	}
	if !cur.Exhausted() {
		return nil, NewError(ErrShortRead, "trailing bytes after block")
	}
	return b, nil
}

func (b *Block) SerializedSize() int {
	b.Header.TransactionCount = uint64(len(b.Transactions))
	size := b.Header.SerializedSize(true)
	if b.Header.IsProofOfStake() || b.Header.IsProofOfDPoS() {
		size += VarintSize(uint64(len(b.BlockSig))) + len(b.BlockSig)
	}
	if b.Header.IsProofOfDPoS() {
		size += VarintSize(uint64(len(b.PublicKey))) + len(b.PublicKey)
	}
	for i := range b.Transactions {
		size += b.Transactions[i].SerializedSize()
	}
	return size
}

// Hash returns the block id (the header hash).
func (b *Block) Hash() chainhash.Hash { return b.Header.Hash() }

// TxHashes returns every transaction id in block order.
func (b *Block) TxHashes() []chainhash.Hash {
	out := make([]chainhash.Hash, len(b.Transactions))
	for i := range b.Transactions {
		out[i] = b.Transactions[i].Hash()
	}
	return out
}

// GenerateMerkleRoot computes the block merkle root over the transactions:
// iterated SHA256d(l||r) with last-element duplication on odd levels. An
// empty list yields the null hash.
func GenerateMerkleRoot(txs []Transaction) chainhash.Hash {
	hashes := make([]chainhash.Hash, len(txs))
	for i := range txs {
		hashes[i] = txs[i].Hash()
	}
	return MerkleRoot(hashes)
}

// MerkleRoot folds a hash list into the merkle root.
func MerkleRoot(hashes []chainhash.Hash) chainhash.Hash {
	if len(hashes) == 0 {
		return NullHash
	}
	level := append([]chainhash.Hash(nil), hashes...)
	var pair [64]byte
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			copy(pair[:32], level[i][:])
			copy(pair[32:], level[i+1][:])
			next = append(next, Sha256d(pair[:]))
		}
		level = next
	}
	return level[0]
}
