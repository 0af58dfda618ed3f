package chain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160"
)

// ShortHashSize is the byte length of a RIPEMD160 address hash.
const ShortHashSize = 20

// ShortHash is a 20-byte RIPEMD160(SHA256(payload)) digest.
type ShortHash [ShortHashSize]byte

// NullHash is the all-zero hash used by coinbase previous outputs.
var NullHash chainhash.Hash

// Sha256d computes the double-SHA256 digest used for every entity id.
func Sha256d(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}

// Bitcoin160 computes RIPEMD160(SHA256(b)), the address form of a key or script.
func Bitcoin160(b []byte) ShortHash {
	first := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(first[:])
	var out ShortHash
	copy(out[:], h.Sum(nil))
	return out
}

func (h ShortHash) String() string {
	return hex.EncodeToString(h[:])
}
