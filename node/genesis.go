package node

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// Embedded genesis blocks. The merkle root and hash are recomputed and
// asserted at startup; a mismatch refuses to initialize the store.
const (
	mainnetGenesisHex = "010000000000000000000000000000000000000000000000000000000000000000000000" +
		"fedb861797462ff0111196068c098fe70eaa081069db5ce37e2bab4883d14fe2" +
		"70b69e58" +
		"e093040000000000000000000000000000000000000000000000000000000000" +
		"0000000000000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"00000000" +
		"01" +
		"01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff" +
		"1d1c323031372d30322d3131204d65746176657273652067656e65736973" +
		"ffffffff" +
		"0100f2052a010000001976a914b472a266d0bd89c13706a4132ccfb16f7c3b9fcb88ac" +
		"010000000000000000f2052a01000000" +
		"00000000"

	mainnetGenesisHash = "0690c1db28723c96473c642d1105e196f9badbeae16252f87be9a3962d8b3138"

	testnetGenesisHex = "010000000000000000000000000000000000000000000000000000000000000000000000" +
		"e6e0b783b87875954cbd6f22495680828844fefb92d93e766c2b35d92448a6e1" +
		"b5323558" +
		"e093040000000000000000000000000000000000000000000000000000000000" +
		"0000000000000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"00000000" +
		"01" +
		"01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff" +
		"2524323031362d31312d3233204d657461766572736520746573746e65742067656e65736973" +
		"ffffffff" +
		"0100f2052a010000001976a914b472a266d0bd89c13706a4132ccfb16f7c3b9fcb88ac" +
		"010000000000000000f2052a01000000" +
		"00000000"

	testnetGenesisHash = "e4f1a57e83740946b375fd0f6ee42316c3ad04ba050bfca6710a4108851cc814"
)

// GenesisBlock decodes and verifies the embedded genesis for a network.
// Regtest shares the testnet genesis.
func GenesisBlock(network string) (*chain.Block, error) {
	blockHex, hashHex := mainnetGenesisHex, mainnetGenesisHash
	if network == "testnet" || network == "regtest" {
		blockHex, hashHex = testnetGenesisHex, testnetGenesisHash
	}
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, chain.Errorf(chain.ErrStoreCorrupted, "genesis hex: %v", err)
	}
	block, err := chain.DecodeBlock(raw)
	if err != nil {
		return nil, chain.Errorf(chain.ErrStoreCorrupted, "genesis decode: %v", err)
	}
	if root := chain.GenerateMerkleRoot(block.Transactions); root != block.Header.Merkle {
		return nil, chain.NewError(chain.ErrBadMerkleRoot, "genesis merkle root mismatch")
	}
	want, err := chainhash.NewHashFromStr(reverseHexHash(hashHex))
	if err != nil {
		return nil, chain.Errorf(chain.ErrStoreCorrupted, "genesis hash constant: %v", err)
	}
	if got := block.Hash(); got != *want {
		return nil, chain.Errorf(chain.ErrStoreCorrupted,
			"genesis hash %s != expected %s", got, want)
	}
	return block, nil
}

// reverseHexHash flips a raw-order hex digest into the display order
// chainhash.NewHashFromStr expects.
func reverseHexHash(raw string) string {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return raw
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return hex.EncodeToString(b)
}
