package script

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// Sighash type flags.
const (
	SighashAll          byte = 0x01
	SighashNone         byte = 0x02
	SighashSingle       byte = 0x03
	SighashAnyoneCanPay byte = 0x80
	sighashTypeMask     byte = 0x1f
)

// SignatureHash computes the digest a signature on input index commits to.
// The transaction is serialized with every input script emptied except the
// signed one, which carries prevScript; the sighash type is appended.
func SignatureHash(tx *chain.Transaction, index int, prevScript []byte, hashType byte) (chainhash.Hash, error) {
	if index < 0 || index >= len(tx.Inputs) {
		return chainhash.Hash{}, chain.Errorf(chain.ErrInvalidScript, "sighash input index %d out of range", index)
	}

	copyTx := chain.Transaction{
		Version:  tx.Version,
		Locktime: tx.Locktime,
		Inputs:   make([]chain.Input, len(tx.Inputs)),
		Outputs:  tx.Outputs,
	}
	for i := range tx.Inputs {
		copyTx.Inputs[i] = chain.Input{
			PreviousOutput: tx.Inputs[i].PreviousOutput,
			Sequence:       tx.Inputs[i].Sequence,
		}
	}
	copyTx.Inputs[index].Script = prevScript

	switch hashType & sighashTypeMask {
	case SighashNone:
		copyTx.Outputs = nil
		for i := range copyTx.Inputs {
			if i != index {
				copyTx.Inputs[i].Sequence = 0
			}
		}
	case SighashSingle:
		if index >= len(tx.Outputs) {
			return chainhash.Hash{}, chain.NewError(chain.ErrInvalidScript, "sighash single without matching output")
		}
		outputs := make([]chain.Output, index+1)
		for i := 0; i < index; i++ {
			outputs[i] = chain.Output{
				Value:      ^uint64(0),
				Attachment: chain.NewNullAttachment(),
			}
		}
		outputs[index] = tx.Outputs[index]
		copyTx.Outputs = outputs
		for i := range copyTx.Inputs {
			if i != index {
				copyTx.Inputs[i].Sequence = 0
			}
		}
	}
	if hashType&SighashAnyoneCanPay != 0 {
		copyTx.Inputs = copyTx.Inputs[index : index+1]
	}

	w := chain.NewWriter()
	copyTx.Encode(w)
	w.WriteU32(uint32(hashType))
	return chain.Sha256d(w.Bytes()), nil
}

// CheckSignature verifies a DER signature (with trailing sighash byte)
// against a serialized public key for the given input.
func CheckSignature(tx *chain.Transaction, index int, prevScript, sigWithType, pubkeyBytes []byte) bool {
	if len(sigWithType) < 1 {
		return false
	}
	hashType := sigWithType[len(sigWithType)-1]
	der := sigWithType[:len(sigWithType)-1]

	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return false
	}
	pubkey, err := btcec.ParsePubKey(pubkeyBytes)
	if err != nil {
		return false
	}
	digest, err := SignatureHash(tx, index, prevScript, hashType)
	if err != nil {
		return false
	}
	return sig.Verify(digest[:], pubkey)
}
