package consensus

import (
	"fmt"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/script"
)

// witnessCertSymbol names the n-th primary witness cert (1-based).
func witnessCertSymbol(n int) string {
	return fmt.Sprintf("WITNESS.%d", n)
}

// BuildPosGenesisTx builds the coinbase that activates proof-of-stake: the
// fixed genesis reward to the foundation address plus the full set of
// primary witness certs auto-issued to it.
func BuildPosGenesisTx(p *Params, height uint64) (*chain.Transaction, error) {
	_, hash, err := chain.DecodeAddress(p.FoundationAddress)
	if err != nil {
		return nil, err
	}
	lock := script.PayKeyHashScript(hash)

	tx := &chain.Transaction{
		Version: 1,
		Inputs: []chain.Input{{
			PreviousOutput: chain.OutputPoint{Index: 0xffffffff},
			Script:         []byte{byte(height), byte(height >> 8), byte(height >> 16)},
			Sequence:       0xffffffff,
		}},
		Outputs: []chain.Output{{
			Value:  PosGenesisReward,
			Script: lock,
			Attachment: chain.Attachment{
				Type:    chain.AttachmentTypeEtp,
				Payload: &chain.EtpPayload{Value: PosGenesisReward},
			},
		}},
	}
	for n := 1; n <= WitnessCertCount; n++ {
		tx.Outputs = append(tx.Outputs, chain.Output{
			Script: lock,
			Attachment: chain.Attachment{
				Type: chain.AttachmentTypeAssetCert,
				Payload: &chain.AssetCert{
					Symbol:   witnessCertSymbol(n),
					OwnerDid: "",
					Address:  p.FoundationAddress,
					Type:     chain.CertWitness,
					Status:   chain.CertStatusAutoIssue,
				},
			},
		})
	}
	return tx, nil
}

// IsPosGenesisTx recognizes the PoS-activation coinbase: the exact reward to
// the foundation address followed by every primary witness cert.
func IsPosGenesisTx(tx *chain.Transaction, p *Params) bool {
	if tx == nil || !tx.IsCoinbase() || len(tx.Outputs) != 1+WitnessCertCount {
		return false
	}
	_, hash, err := chain.DecodeAddress(p.FoundationAddress)
	if err != nil {
		return false
	}
	lock := script.PayKeyHashScript(hash)

	reward := &tx.Outputs[0]
	if !reward.IsEtp() || reward.Value != PosGenesisReward || string(reward.Script) != string(lock) {
		return false
	}
	for n := 1; n <= WitnessCertCount; n++ {
		out := &tx.Outputs[n]
		if !out.IsCertAutoIssue() || string(out.Script) != string(lock) {
			return false
		}
		cert := out.CertPayload()
		if cert.Address != p.FoundationAddress || !cert.IsPrimaryWitness() ||
			cert.Symbol != witnessCertSymbol(n) {
			return false
		}
	}
	return true
}
