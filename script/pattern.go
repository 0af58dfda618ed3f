package script

import (
	"github.com/mvs-org/metaverse-go/chain"
)

// Pattern names the recognized output-script templates.
type Pattern int

const (
	PatternNonStandard Pattern = iota
	PatternPayKeyHash
	PatternPayScriptHash
	PatternPayKeyHashWithLockHeight
	PatternPayKeyHashWithSequenceLock
	PatternPayKeyHashWithAttenuationModel
)

// attenuationPointSize is the serialized OutputPoint embedded by the
// attenuation template (32-byte hash plus 4-byte index).
const attenuationPointSize = 36

// MatchPattern classifies a parsed output script.
func MatchPattern(ops []Operation) Pattern {
	switch {
	case isPayKeyHash(ops):
		return PatternPayKeyHash
	case isPayScriptHash(ops):
		return PatternPayScriptHash
	case isPayKeyHashWithLockHeight(ops):
		return PatternPayKeyHashWithLockHeight
	case isPayKeyHashWithSequenceLock(ops):
		return PatternPayKeyHashWithSequenceLock
	case isPayKeyHashWithAttenuationModel(ops):
		return PatternPayKeyHashWithAttenuationModel
	default:
		return PatternNonStandard
	}
}

func isPayKeyHash(ops []Operation) bool {
	return len(ops) == 5 &&
		ops[0].Code == OpDup &&
		ops[1].Code == OpHash160 &&
		len(ops[2].Data) == chain.ShortHashSize &&
		ops[3].Code == OpEqualVerify &&
		ops[4].Code == OpCheckSig
}

func isPayScriptHash(ops []Operation) bool {
	return len(ops) == 3 &&
		ops[0].Code == OpHash160 &&
		len(ops[1].Data) == chain.ShortHashSize &&
		ops[2].Code == OpEqual
}

func isPayKeyHashWithLockHeight(ops []Operation) bool {
	return len(ops) == 8 &&
		ops[0].Code.IsPush() &&
		ops[1].Code == OpCheckLockHeightVerify &&
		ops[2].Code == OpDrop &&
		isPayKeyHash(ops[3:])
}

func isPayKeyHashWithSequenceLock(ops []Operation) bool {
	return len(ops) == 8 &&
		ops[0].Code.IsPush() &&
		ops[1].Code == OpCheckSequenceVerify &&
		ops[2].Code == OpDrop &&
		isPayKeyHash(ops[3:])
}

func isPayKeyHashWithAttenuationModel(ops []Operation) bool {
	return len(ops) == 9 &&
		ops[0].Code.IsPush() && len(ops[0].Data) > 0 &&
		ops[1].Code.IsPush() && len(ops[1].Data) == attenuationPointSize &&
		ops[2].Code == OpCheckAttenuationVerify &&
		ops[3].Code == OpDrop &&
		isPayKeyHash(ops[4:])
}

// PayKeyHashScript builds the standard P2PKH locking script.
func PayKeyHashScript(hash chain.ShortHash) []byte {
	return Serialize([]Operation{
		{Code: OpDup},
		{Code: OpHash160},
		PushData(hash[:]),
		{Code: OpEqualVerify},
		{Code: OpCheckSig},
	})
}

// PayScriptHashScript builds the P2SH locking script.
func PayScriptHashScript(hash chain.ShortHash) []byte {
	return Serialize([]Operation{
		{Code: OpHash160},
		PushData(hash[:]),
		{Code: OpEqual},
	})
}

// PayKeyHashWithLockHeightScript locks the key-hash output until the
// spending block is lockHeight blocks past the output's own block.
func PayKeyHashWithLockHeightScript(hash chain.ShortHash, lockHeight uint32) []byte {
	return Serialize([]Operation{
		PushNumber(int64(lockHeight)),
		{Code: OpCheckLockHeightVerify},
		{Code: OpDrop},
		{Code: OpDup},
		{Code: OpHash160},
		PushData(hash[:]),
		{Code: OpEqualVerify},
		{Code: OpCheckSig},
	})
}

// PayKeyHashWithSequenceLockScript requires the spending input's sequence to
// encode at least the embedded relative lock.
func PayKeyHashWithSequenceLockScript(hash chain.ShortHash, sequence uint32) []byte {
	return Serialize([]Operation{
		PushNumber(int64(sequence)),
		{Code: OpCheckSequenceVerify},
		{Code: OpDrop},
		{Code: OpDup},
		{Code: OpHash160},
		PushData(hash[:]),
		{Code: OpEqualVerify},
		{Code: OpCheckSig},
	})
}

// PayKeyHashWithAttenuationModelScript carries the attenuation model blob and
// the origin output point alongside a key-hash lock.
func PayKeyHashWithAttenuationModelScript(hash chain.ShortHash, modelParam []byte, origin chain.OutputPoint) []byte {
	w := chain.NewWriter()
	origin.Encode(w)
	return Serialize([]Operation{
		PushData(modelParam),
		PushData(w.Bytes()),
		{Code: OpCheckAttenuationVerify},
		{Code: OpDrop},
		{Code: OpDup},
		{Code: OpHash160},
		PushData(hash[:]),
		{Code: OpEqualVerify},
		{Code: OpCheckSig},
	})
}

// LockHeightFromScript extracts the embedded lock height, zero when the
// script is not a lock-height template.
func LockHeightFromScript(ops []Operation) uint32 {
	if !isPayKeyHashWithLockHeight(ops) {
		return 0
	}
	v, err := pushedNumber(ops[0])
	if err != nil || v < 0 {
		return 0
	}
	return uint32(v)
}

// LockSequenceFromScript extracts the embedded relative sequence lock.
func LockSequenceFromScript(ops []Operation, def uint32) uint32 {
	if !isPayKeyHashWithSequenceLock(ops) {
		return def
	}
	v, err := pushedNumber(ops[0])
	if err != nil || v < 0 {
		return def
	}
	return uint32(v)
}

// AttenuationModelParam extracts the model blob and origin point from an
// attenuation template.
func AttenuationModelParam(ops []Operation) ([]byte, chain.OutputPoint, bool) {
	if !isPayKeyHashWithAttenuationModel(ops) {
		return nil, chain.OutputPoint{}, false
	}
	cur := chain.NewCursor(ops[1].Data)
	var point chain.OutputPoint
	if err := point.Decode(cur); err != nil {
		return nil, chain.OutputPoint{}, false
	}
	return ops[0].Data, point, true
}

func pushedNumber(op Operation) (int64, error) {
	if v, ok := op.Code.pushValue(); ok {
		return v, nil
	}
	return decodeScriptNum(op.Data, 5)
}

// KeyHashFromScript returns the 20-byte hash a recognized template pays to.
func KeyHashFromScript(ops []Operation) (chain.ShortHash, bool) {
	var data []byte
	switch MatchPattern(ops) {
	case PatternPayKeyHash:
		data = ops[2].Data
	case PatternPayScriptHash:
		data = ops[1].Data
	case PatternPayKeyHashWithLockHeight, PatternPayKeyHashWithSequenceLock:
		data = ops[5].Data
	case PatternPayKeyHashWithAttenuationModel:
		data = ops[6].Data
	default:
		return chain.ShortHash{}, false
	}
	var h chain.ShortHash
	copy(h[:], data)
	return h, true
}

// ExtractAddress derives the Base58Check payment address an output script
// pays to, using the network's version bytes. Empty for non-standard scripts.
func ExtractAddress(raw []byte, p2khVersion, p2shVersion byte) string {
	ops, err := Parse(raw)
	if err != nil {
		return ""
	}
	hash, ok := KeyHashFromScript(ops)
	if !ok {
		return ""
	}
	version := p2khVersion
	if MatchPattern(ops) == PatternPayScriptHash {
		version = p2shVersion
	}
	return chain.EncodeAddress(version, hash)
}
