package consensus

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// WitnessSet is the ordered epoch witness list; slot i belongs to witness i.
type WitnessSet struct {
	Epoch     uint64
	Witnesses []StakeHolder
}

// SlotOfTimestamp maps a block timestamp onto its signing slot within the
// witness rotation, anchored at the epoch's first block timestamp.
func SlotOfTimestamp(epochStart, timestamp uint32) (uint64, error) {
	if timestamp < epochStart {
		return 0, chain.NewError(chain.ErrBadWitnessSlot, "timestamp before epoch start")
	}
	elapsed := uint64(timestamp-epochStart) / uint64(DPoSSlotSeconds)
	return elapsed % uint64(WitnessNumber), nil
}

// SlotWitness returns the address owning a slot.
func (ws *WitnessSet) SlotWitness(slot uint64) (string, error) {
	if len(ws.Witnesses) == 0 {
		return "", chain.NewError(chain.ErrBadWitnessSlot, "empty witness set")
	}
	if slot >= uint64(len(ws.Witnesses)) {
		return "", chain.Errorf(chain.ErrBadWitnessSlot, "slot %d out of range", slot)
	}
	return ws.Witnesses[slot].Address, nil
}

// Contains reports whether address is in the set.
func (ws *WitnessSet) Contains(address string) bool {
	for _, w := range ws.Witnesses {
		if w.Address == address {
			return true
		}
	}
	return false
}

// VerifyDPosSlot checks the slot arithmetic of a DPoS header: the nonce
// carries the claimed slot, which must match the timestamp-derived slot, and
// the signer's address must own it.
func VerifyDPosSlot(h *chain.Header, epochStart uint32, ws *WitnessSet, signerAddress string) error {
	slot, err := SlotOfTimestamp(epochStart, h.Timestamp)
	if err != nil {
		return err
	}
	if h.Nonce != slot {
		return chain.Errorf(chain.ErrBadWitnessSlot,
			"header claims slot %d, timestamp yields %d", h.Nonce, slot)
	}
	owner, err := ws.SlotWitness(slot)
	if err != nil {
		return err
	}
	if owner != signerAddress {
		return chain.Errorf(chain.ErrBadWitnessSlot,
			"slot %d belongs to %s, signed by %s", slot, owner, signerAddress)
	}
	return nil
}

// HeaderSigDigest is the digest witnesses and stakers sign: the header hash.
func HeaderSigDigest(h *chain.Header) chainhash.Hash {
	return h.Hash()
}

// VerifyHeaderSignature checks the header signature required for PoS and
// DPoS blocks against a serialized public key.
func VerifyHeaderSignature(h *chain.Header, pubkeyBytes, sigDER []byte) error {
	pubkey, err := btcec.ParsePubKey(pubkeyBytes)
	if err != nil {
		return chain.Errorf(chain.ErrBadWitnessSlot, "bad signer key: %v", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return chain.Errorf(chain.ErrBadWitnessSlot, "bad header signature: %v", err)
	}
	digest := HeaderSigDigest(h)
	if !sig.Verify(digest[:], pubkey) {
		return chain.NewError(chain.ErrBadWitnessSlot, "header signature does not verify")
	}
	return nil
}

// WitnessAddress derives the payment address of a witness public key.
func WitnessAddress(p *Params, pubkeyBytes []byte) string {
	return chain.EncodeAddress(p.P2KHVersion, chain.Bitcoin160(pubkeyBytes))
}
