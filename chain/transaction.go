package chain

import (
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Sequence and locktime sentinels.
const (
	MaxInputSequence  uint32 = 0xffffffff
	LocktimeThreshold uint32 = 500_000_000

	// Relative-locktime sequence encoding (BIP68-like): bit 22 selects
	// time units of 512s; the low 16 bits carry the value.
	RelativeLocktimeDisabled  uint32 = 1 << 31
	RelativeLocktimeTimeFlag  uint32 = 1 << 22
	RelativeLocktimeMask      uint32 = 0x0000ffff
	RelativeLocktimeSecondsShift      = 9
)

// MaxTxSerializedSize caps a transaction outside a block context; inside a
// block the block size cap governs.
const MaxTxSerializedSize = 100 * 1024

// OutputPoint names an output by the transaction hash and output index.
type OutputPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// IsNull reports the coinbase previous-output sentinel.
func (p OutputPoint) IsNull() bool {
	return p.Index == MaxInputSequence && p.Hash == NullHash
}

func (p *OutputPoint) Decode(cur *Cursor) error {
	hash, err := cur.ReadHash()
	if err != nil {
		return err
	}
	index, err := cur.ReadU32()
	if err != nil {
		return err
	}
	p.Hash = hash
	p.Index = index
	return nil
}

func (p OutputPoint) Encode(w *Writer) {
	w.WriteHash(p.Hash)
	w.WriteU32(p.Index)
}

// Input spends a previous output under its script and sequence.
type Input struct {
	PreviousOutput OutputPoint
	Script         []byte
	Sequence       uint32
}

func (in *Input) Decode(cur *Cursor) error {
	if err := in.PreviousOutput.Decode(cur); err != nil {
		return err
	}
	n, err := cur.ReadVarLen("input_script")
	if err != nil {
		return err
	}
	script, err := cur.ReadBytes(n)
	if err != nil {
		return err
	}
	sequence, err := cur.ReadU32()
	if err != nil {
		return err
	}
	in.Script = script
	in.Sequence = sequence
	return nil
}

func (in *Input) Encode(w *Writer) {
	in.PreviousOutput.Encode(w)
	w.WriteVarint(uint64(len(in.Script)))
	w.WriteBytes(in.Script)
	w.WriteU32(in.Sequence)
}

func (in *Input) SerializedSize() int {
	return 32 + 4 + VarintSize(uint64(len(in.Script))) + len(in.Script) + 4
}

// IsFinal reports whether the sequence disables locktime for this input.
func (in *Input) IsFinal() bool { return in.Sequence == MaxInputSequence }

// Output carries value, the gating script, and the typed attachment.
type Output struct {
	Value      uint64
	Script     []byte
	Attachment Attachment
}

func (out *Output) Decode(cur *Cursor) error {
	value, err := cur.ReadU64()
	if err != nil {
		return err
	}
	n, err := cur.ReadVarLen("output_script")
	if err != nil {
		return err
	}
	script, err := cur.ReadBytes(n)
	if err != nil {
		return err
	}
	var attach Attachment
	if err := attach.Decode(cur); err != nil {
		return err
	}
	out.Value = value
	out.Script = script
	out.Attachment = attach
	return nil
}

func (out *Output) Encode(w *Writer) {
	w.WriteU64(out.Value)
	w.WriteVarint(uint64(len(out.Script)))
	w.WriteBytes(out.Script)
	out.Attachment.Encode(w)
}

func (out *Output) SerializedSize() int {
	return 8 + VarintSize(uint64(len(out.Script))) + len(out.Script) +
		out.Attachment.SerializedSize()
}

// IsNull reports the coinstake marker output: no value, no script.
func (out *Output) IsNull() bool {
	return out.Value == 0 && len(out.Script) == 0 &&
		(out.Attachment.Type == AttachmentTypeNull || out.Attachment.Payload == nil)
}

func (out *Output) IsEtp() bool      { return out.Attachment.Type == AttachmentTypeEtp }
func (out *Output) IsEtpAward() bool { return out.Attachment.Type == AttachmentTypeEtpAward }
func (out *Output) IsMessage() bool  { return out.Attachment.Type == AttachmentTypeMessage }
func (out *Output) IsAsset() bool    { return out.Attachment.Type == AttachmentTypeAsset }
func (out *Output) IsDid() bool      { return out.Attachment.Type == AttachmentTypeDid }
func (out *Output) IsCert() bool     { return out.Attachment.Type == AttachmentTypeAssetCert }
func (out *Output) IsMit() bool      { return out.Attachment.Type == AttachmentTypeAssetMit }

// AssetPayload returns the asset arm or nil.
func (out *Output) AssetPayload() *Asset {
	if a, ok := out.Attachment.Payload.(*Asset); ok {
		return a
	}
	return nil
}

// CertPayload returns the certificate arm or nil.
func (out *Output) CertPayload() *AssetCert {
	if c, ok := out.Attachment.Payload.(*AssetCert); ok {
		return c
	}
	return nil
}

// DidPayload returns the DID arm or nil.
func (out *Output) DidPayload() *Did {
	if d, ok := out.Attachment.Payload.(*Did); ok {
		return d
	}
	return nil
}

// MitPayload returns the MIT arm or nil.
func (out *Output) MitPayload() *AssetMit {
	if m, ok := out.Attachment.Payload.(*AssetMit); ok {
		return m
	}
	return nil
}

func (out *Output) IsAssetIssue() bool {
	a := out.AssetPayload()
	return a != nil && a.Status == AssetStatusDetail && a.Detail != nil && !a.Detail.IsSecondaryIssue()
}

func (out *Output) IsAssetSecondaryIssue() bool {
	a := out.AssetPayload()
	return a != nil && a.Status == AssetStatusDetail && a.Detail != nil && a.Detail.IsSecondaryIssue()
}

func (out *Output) IsAssetTransfer() bool {
	a := out.AssetPayload()
	return a != nil && a.Status == AssetStatusTransfer
}

func (out *Output) IsDidRegister() bool {
	d := out.DidPayload()
	return d != nil && d.Status == DidStatusRegister
}

func (out *Output) IsDidTransfer() bool {
	d := out.DidPayload()
	return d != nil && d.Status == DidStatusTransfer
}

func (out *Output) IsCertIssue() bool {
	c := out.CertPayload()
	return c != nil && c.Status == CertStatusIssue
}

func (out *Output) IsCertTransfer() bool {
	c := out.CertPayload()
	return c != nil && c.Status == CertStatusTransfer
}

func (out *Output) IsCertAutoIssue() bool {
	c := out.CertPayload()
	return c != nil && c.Status == CertStatusAutoIssue
}

func (out *Output) IsMitRegister() bool {
	m := out.MitPayload()
	return m != nil && m.IsRegister()
}

func (out *Output) IsMitTransfer() bool {
	m := out.MitPayload()
	return m != nil && m.IsTransfer()
}

// AssetAmount returns the asset quantity this output carries, zero for
// non-asset attachments.
func (out *Output) AssetAmount() uint64 {
	if a := out.AssetPayload(); a != nil {
		return a.Quantity()
	}
	return 0
}

// AssetSymbol returns the symbol carried by an asset, cert or MIT attachment.
func (out *Output) AssetSymbol() string {
	switch {
	case out.IsAsset():
		return out.AssetPayload().Symbol()
	case out.IsCert():
		return out.CertPayload().Symbol
	case out.IsMit():
		return out.MitPayload().Symbol
	}
	return ""
}

// AttachmentAddress returns the address the attachment claims, empty when the
// attachment kind carries none.
func (out *Output) AttachmentAddress() string {
	switch {
	case out.IsAssetIssue() || out.IsAssetSecondaryIssue():
		return out.AssetPayload().Detail.Address
	case out.IsCert():
		return out.CertPayload().Address
	case out.IsDid():
		return out.DidPayload().Address
	case out.IsMit():
		return out.MitPayload().Address
	}
	return ""
}

// Transaction is a ledger transaction.
type Transaction struct {
	Version  uint32
	Inputs   []Input
	Outputs  []Output
	Locktime uint32

	hash *chainhash.Hash
}

func (tx *Transaction) Decode(cur *Cursor) error {
	version, err := cur.ReadU32()
	if err != nil {
		return err
	}
	inCount, err := cur.ReadVarLen("input_count")
	if err != nil {
		return err
	}
	inputs := make([]Input, 0, inCount)
	for i := 0; i < inCount; i++ {
		var in Input
		if err := in.Decode(cur); err != nil {
			return err
		}
		inputs = append(inputs, in)
	}
	outCount, err := cur.ReadVarLen("output_count")
	if err != nil {
		return err
	}
	outputs := make([]Output, 0, outCount)
	for i := 0; i < outCount; i++ {
		var out Output
		if err := out.Decode(cur); err != nil {
			return err
		}
		outputs = append(outputs, out)
	}
	locktime, err := cur.ReadU32()
	if err != nil {
		return err
	}
	*tx = Transaction{
		Version:  version,
		Inputs:   inputs,
		Outputs:  outputs,
		Locktime: locktime,
	}
	return nil
}

func (tx *Transaction) Encode(w *Writer) {
	w.WriteU32(tx.Version)
	w.WriteVarint(uint64(len(tx.Inputs)))
	for i := range tx.Inputs {
		tx.Inputs[i].Encode(w)
	}
	w.WriteVarint(uint64(len(tx.Outputs)))
	for i := range tx.Outputs {
		tx.Outputs[i].Encode(w)
	}
	w.WriteU32(tx.Locktime)
}

// Serialize returns the canonical byte form.
func (tx *Transaction) Serialize() []byte {
	w := NewWriter()
	tx.Encode(w)
	return w.Bytes()
}

// DecodeTransaction parses a full transaction and rejects trailing bytes.
func DecodeTransaction(b []byte) (*Transaction, error) {
	cur := NewCursor(b)
	tx := &Transaction{}
	if err := tx.Decode(cur); err != nil {
		return nil, err
	}
	if !cur.Exhausted() {
		return nil, NewError(ErrShortRead, "trailing bytes after transaction")
	}
	return tx, nil
}

func (tx *Transaction) SerializedSize() int {
	size := 4 + VarintSize(uint64(len(tx.Inputs))) + VarintSize(uint64(len(tx.Outputs))) + 4
	for i := range tx.Inputs {
		size += tx.Inputs[i].SerializedSize()
	}
	for i := range tx.Outputs {
		size += tx.Outputs[i].SerializedSize()
	}
	return size
}

// Hash returns the double-SHA256 transaction id, memoized.
func (tx *Transaction) Hash() chainhash.Hash {
	if tx.hash != nil {
		return *tx.hash
	}
	sum := Sha256d(tx.Serialize())
	tx.hash = &sum
	return sum
}

// InvalidateHash drops the memoized id after a field mutation.
func (tx *Transaction) InvalidateHash() { tx.hash = nil }

// IsCoinbase reports the block-subsidy shape: a single null previous output.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PreviousOutput.IsNull()
}

// IsCoinstake reports the PoS stake shape: real inputs, a null first output
// marker, and at least one value output.
func (tx *Transaction) IsCoinstake() bool {
	return len(tx.Inputs) > 0 &&
		!tx.Inputs[0].PreviousOutput.IsNull() &&
		len(tx.Outputs) >= 2 &&
		tx.Outputs[0].IsNull()
}

// TotalOutputValue sums output values, saturating at MaxUint64.
func (tx *Transaction) TotalOutputValue() uint64 {
	var total uint64
	for i := range tx.Outputs {
		if tx.Outputs[i].Value > math.MaxUint64-total {
			return math.MaxUint64
		}
		total += tx.Outputs[i].Value
	}
	return total
}

// AllInputsFinal reports whether every input disables locktime.
func (tx *Transaction) AllInputsFinal() bool {
	for i := range tx.Inputs {
		if !tx.Inputs[i].IsFinal() {
			return false
		}
	}
	return true
}

// IsFinal reports whether locktime is satisfied at the given height and
// median time.
func (tx *Transaction) IsFinal(blockHeight uint64, medianTime uint32) bool {
	if tx.Locktime == 0 {
		return true
	}
	var threshold uint64
	if tx.Locktime < LocktimeThreshold {
		threshold = blockHeight
	} else {
		threshold = uint64(medianTime)
	}
	if uint64(tx.Locktime) < threshold {
		return true
	}
	return tx.AllInputsFinal()
}

// HasDuplicateInputs reports whether any previous output appears twice.
func (tx *Transaction) HasDuplicateInputs() bool {
	if len(tx.Inputs) < 2 {
		return false
	}
	seen := make(map[OutputPoint]struct{}, len(tx.Inputs))
	for i := range tx.Inputs {
		if _, ok := seen[tx.Inputs[i].PreviousOutput]; ok {
			return true
		}
		seen[tx.Inputs[i].PreviousOutput] = struct{}{}
	}
	return false
}
