package chain

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Block versions select the consensus mode that validated the block.
const (
	BlockVersionAny  uint32 = 0
	BlockVersionPoW  uint32 = 1
	BlockVersionPoS  uint32 = 2
	BlockVersionDPoS uint32 = 3
	BlockVersionMax  uint32 = 4
)

// Header is the block header. Bits carries the difficulty for PoW and PoS as
// a plain integer (the hash target is 2^256 / Bits); it is not a compact
// encoding of the target. For DPoS it must equal the parent's. MixHash is the PoW mix
// digest; Nonce doubles as the witness slot index under DPoS.
//
// TransactionCount is only meaningful when the header was serialized with the
// trailing count (the shape used inside headers messages and block bodies).
type Header struct {
	Version          uint32
	Previous         chainhash.Hash
	Merkle           chainhash.Hash
	Timestamp        uint32
	Bits             *big.Int
	Nonce            uint64
	MixHash          *big.Int
	Number           uint32
	TransactionCount uint64

	// hash memoizes Hash(). Reset by decoders; safe under the organizer's
	// single-writer discipline.
	hash *chainhash.Hash
}

// headerBaseSize is the serialized size without the trailing tx count.
const headerBaseSize = 4 + 32 + 32 + 4 + 32 + 8 + 32 + 4

// Decode reads a header. withTxCount selects the trailing varint shape.
func (h *Header) Decode(cur *Cursor, withTxCount bool) error {
	version, err := cur.ReadU32()
	if err != nil {
		return err
	}
	previous, err := cur.ReadHash()
	if err != nil {
		return err
	}
	merkle, err := cur.ReadHash()
	if err != nil {
		return err
	}
	timestamp, err := cur.ReadU32()
	if err != nil {
		return err
	}
	bits, err := cur.ReadU256()
	if err != nil {
		return err
	}
	nonce, err := cur.ReadU64()
	if err != nil {
		return err
	}
	mixhash, err := cur.ReadU256()
	if err != nil {
		return err
	}
	number, err := cur.ReadU32()
	if err != nil {
		return err
	}
	var txCount uint64
	if withTxCount {
		txCount, err = cur.ReadVarint()
		if err != nil {
			return err
		}
	}
	*h = Header{
		Version:          version,
		Previous:         previous,
		Merkle:           merkle,
		Timestamp:        timestamp,
		Bits:             bits,
		Nonce:            nonce,
		MixHash:          mixhash,
		Number:           number,
		TransactionCount: txCount,
	}
	return nil
}

// Encode writes the header. withTxCount selects the trailing varint shape.
func (h *Header) Encode(w *Writer, withTxCount bool) {
	w.WriteU32(h.Version)
	w.WriteHash(h.Previous)
	w.WriteHash(h.Merkle)
	w.WriteU32(h.Timestamp)
	w.WriteU256(h.Bits)
	w.WriteU64(h.Nonce)
	w.WriteU256(h.MixHash)
	w.WriteU32(h.Number)
	if withTxCount {
		w.WriteVarint(h.TransactionCount)
	}
}

// SerializedSize returns the encoded length for the selected shape.
func (h *Header) SerializedSize(withTxCount bool) int {
	if withTxCount {
		return headerBaseSize + VarintSize(h.TransactionCount)
	}
	return headerBaseSize
}

// Hash returns the double-SHA256 of the countless serialization, memoized.
func (h *Header) Hash() chainhash.Hash {
	if h.hash != nil {
		return *h.hash
	}
	w := NewWriter()
	h.Encode(w, false)
	sum := Sha256d(w.Bytes())
	h.hash = &sum
	return sum
}

// InvalidateHash drops the memoized hash after a field mutation.
func (h *Header) InvalidateHash() { h.hash = nil }

func (h *Header) IsProofOfWork() bool  { return h.Version == BlockVersionPoW }
func (h *Header) IsProofOfStake() bool { return h.Version == BlockVersionPoS }
func (h *Header) IsProofOfDPoS() bool  { return h.Version == BlockVersionDPoS }

// IsKnownVersion reports whether the version names a supported consensus mode.
func (h *Header) IsKnownVersion() bool {
	return h.Version >= BlockVersionPoW && h.Version < BlockVersionMax
}
