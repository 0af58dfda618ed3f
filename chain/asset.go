package chain

import (
	"math/bits"
	"regexp"
)

// Asset inner status: an asset attachment is either the issuance detail or a
// transfer of quantity.
const (
	AssetStatusNone     uint32 = 0
	AssetStatusDetail   uint32 = 1
	AssetStatusTransfer uint32 = 2
)

// Field caps from the fixed on-chain accounting of asset details.
const (
	AssetSymbolMaxSize      = 64
	AssetIssuerMaxSize      = 64
	AssetAddressMaxSize     = 64
	AssetDescriptionMaxSize = 64
)

// Secondary-issue threshold sentinels. 1..100 is an ownership percentage the
// issuer must hold to issue again.
const (
	SecondaryIssueForbidden uint8 = 0
	SecondaryIssueFreely    uint8 = 127
)

// secondaryIssueFlag marks a detail as a secondary issuance rather than the
// first issue; it is OR-ed into the stored threshold byte.
const secondaryIssueFlag uint8 = 0x80

// AssetSymbolPattern is the registration grammar for asset symbols.
var AssetSymbolPattern = regexp.MustCompile(`^[A-Z.][A-Z0-9.]{0,63}$`)

// Asset is the fungible-asset attachment arm: a detail on issue, a transfer
// otherwise.
type Asset struct {
	Status   uint32
	Detail   *AssetDetail
	Transfer *AssetTransfer
}

func (p *Asset) Decode(cur *Cursor) error {
	status, err := cur.ReadU32()
	if err != nil {
		return err
	}
	p.Status = status
	p.Detail = nil
	p.Transfer = nil
	switch status {
	case AssetStatusDetail:
		p.Detail = &AssetDetail{}
		return p.Detail.Decode(cur)
	case AssetStatusTransfer:
		p.Transfer = &AssetTransfer{}
		return p.Transfer.Decode(cur)
	default:
		return Errorf(ErrAttachmentInvalid, "unknown asset status %d", status)
	}
}

func (p *Asset) Encode(w *Writer) {
	w.WriteU32(p.Status)
	switch p.Status {
	case AssetStatusDetail:
		p.Detail.Encode(w)
	case AssetStatusTransfer:
		p.Transfer.Encode(w)
	}
}

func (p *Asset) SerializedSize() int {
	size := 4
	switch p.Status {
	case AssetStatusDetail:
		size += p.Detail.SerializedSize()
	case AssetStatusTransfer:
		size += p.Transfer.SerializedSize()
	}
	return size
}

func (p *Asset) IsValid() bool {
	switch p.Status {
	case AssetStatusDetail:
		return p.Detail != nil && p.Detail.IsValid()
	case AssetStatusTransfer:
		return p.Transfer != nil && p.Transfer.IsValid()
	default:
		return false
	}
}

// Symbol returns the asset symbol regardless of status arm.
func (p *Asset) Symbol() string {
	switch p.Status {
	case AssetStatusDetail:
		if p.Detail != nil {
			return p.Detail.Symbol
		}
	case AssetStatusTransfer:
		if p.Transfer != nil {
			return p.Transfer.Symbol
		}
	}
	return ""
}

// Quantity returns the amount this attachment moves: the full supply on
// issue, the transferred amount otherwise.
func (p *Asset) Quantity() uint64 {
	switch p.Status {
	case AssetStatusDetail:
		if p.Detail != nil {
			return p.Detail.MaxSupply
		}
	case AssetStatusTransfer:
		if p.Transfer != nil {
			return p.Transfer.Quantity
		}
	}
	return 0
}

// AssetDetail is the issuance record of a fungible asset.
type AssetDetail struct {
	Symbol      string
	MaxSupply   uint64
	Decimals    uint8
	Threshold   uint8
	unused2     uint8
	unused3     uint8
	Issuer      string
	Address     string
	Description string
}

func (d *AssetDetail) Decode(cur *Cursor) error {
	symbol, err := cur.ReadString("asset_symbol")
	if err != nil {
		return err
	}
	maxSupply, err := cur.ReadU64()
	if err != nil {
		return err
	}
	decimals, err := cur.ReadU8()
	if err != nil {
		return err
	}
	threshold, err := cur.ReadU8()
	if err != nil {
		return err
	}
	u2, err := cur.ReadU8()
	if err != nil {
		return err
	}
	u3, err := cur.ReadU8()
	if err != nil {
		return err
	}
	issuer, err := cur.ReadString("asset_issuer")
	if err != nil {
		return err
	}
	address, err := cur.ReadString("asset_address")
	if err != nil {
		return err
	}
	description, err := cur.ReadString("asset_description")
	if err != nil {
		return err
	}
	*d = AssetDetail{
		Symbol:      symbol,
		MaxSupply:   maxSupply,
		Decimals:    decimals,
		Threshold:   threshold,
		unused2:     u2,
		unused3:     u3,
		Issuer:      issuer,
		Address:     address,
		Description: description,
	}
	return nil
}

func (d *AssetDetail) Encode(w *Writer) {
	w.WriteString(d.Symbol)
	w.WriteU64(d.MaxSupply)
	w.WriteU8(d.Decimals)
	w.WriteU8(d.Threshold)
	w.WriteU8(d.unused2)
	w.WriteU8(d.unused3)
	w.WriteString(d.Issuer)
	w.WriteString(d.Address)
	w.WriteString(d.Description)
}

func (d *AssetDetail) SerializedSize() int {
	return VarintSize(uint64(len(d.Symbol))) + len(d.Symbol) +
		8 + 4 +
		VarintSize(uint64(len(d.Issuer))) + len(d.Issuer) +
		VarintSize(uint64(len(d.Address))) + len(d.Address) +
		VarintSize(uint64(len(d.Description))) + len(d.Description)
}

func (d *AssetDetail) IsValid() bool {
	return d.Symbol != "" &&
		len(d.Symbol) <= AssetSymbolMaxSize &&
		len(d.Issuer) <= AssetIssuerMaxSize &&
		len(d.Address) <= AssetAddressMaxSize &&
		len(d.Description) <= AssetDescriptionMaxSize &&
		d.MaxSupply > 0
}

// SecondaryThreshold strips the secondary-issue flag from the stored byte.
func (d *AssetDetail) SecondaryThreshold() uint8 {
	return d.Threshold &^ secondaryIssueFlag
}

// IsSecondaryIssue reports whether this detail re-issues an existing asset.
func (d *AssetDetail) IsSecondaryIssue() bool {
	return d.Threshold&secondaryIssueFlag != 0
}

// SetSecondaryIssue marks the detail as a secondary issuance.
func (d *AssetDetail) SetSecondaryIssue() {
	d.Threshold |= secondaryIssueFlag
}

// IsSecondaryIssueLegal reports whether the threshold permits any further
// issuance at all.
func (d *AssetDetail) IsSecondaryIssueLegal() bool {
	return IsSecondaryIssueLegal(d.SecondaryThreshold())
}

// IsSecondaryIssueLegal reports whether threshold allows re-issuance.
func IsSecondaryIssueLegal(threshold uint8) bool {
	if threshold == SecondaryIssueForbidden {
		return false
	}
	return threshold == SecondaryIssueFreely || threshold <= 100
}

// IsSecondaryIssueThresholdOk reports whether threshold is a representable
// value: forbidden, freely, or a 1..100 percentage.
func IsSecondaryIssueThresholdOk(threshold uint8) bool {
	return threshold == SecondaryIssueForbidden ||
		threshold == SecondaryIssueFreely ||
		threshold <= 100
}

// IsSecondaryIssueOwnsEnough reports whether owning own out of total supply
// satisfies the percentage threshold.
func IsSecondaryIssueOwnsEnough(own, total uint64, threshold uint8) bool {
	if threshold == SecondaryIssueFreely {
		return true
	}
	if threshold == SecondaryIssueForbidden || threshold > 100 || total == 0 {
		return false
	}
	// own/total >= threshold/100, as own*100 >= total*threshold in exact
	// 128-bit integer math.
	ownHi, ownLo := bits.Mul64(own, 100)
	needHi, needLo := bits.Mul64(total, uint64(threshold))
	return ownHi > needHi || (ownHi == needHi && ownLo >= needLo)
}

// AssetTransfer moves quantity units of symbol to the output's address.
type AssetTransfer struct {
	Symbol   string
	Quantity uint64
}

func (t *AssetTransfer) Decode(cur *Cursor) error {
	symbol, err := cur.ReadString("asset_symbol")
	if err != nil {
		return err
	}
	quantity, err := cur.ReadU64()
	if err != nil {
		return err
	}
	t.Symbol = symbol
	t.Quantity = quantity
	return nil
}

func (t *AssetTransfer) Encode(w *Writer) {
	w.WriteString(t.Symbol)
	w.WriteU64(t.Quantity)
}

func (t *AssetTransfer) SerializedSize() int {
	return VarintSize(uint64(len(t.Symbol))) + len(t.Symbol) + 8
}

func (t *AssetTransfer) IsValid() bool {
	return t.Symbol != "" && len(t.Symbol) <= AssetSymbolMaxSize
}
