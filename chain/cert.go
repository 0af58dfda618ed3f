package chain

import "strings"

// CertType is the transferable capability a certificate grants over an asset
// symbol or a domain of symbols.
type CertType uint32

const (
	CertNone      CertType = 0
	CertIssue     CertType = 1
	CertDomain    CertType = 2
	CertNaming    CertType = 3
	CertMining    CertType = 4
	CertWitness   CertType = 5
	CertKyc       CertType = 6
	CertMarriage  CertType = 7
	CertNamingSub CertType = 8
)

// Certificate status values.
const (
	CertStatusNone      uint8 = 0
	CertStatusIssue     uint8 = 1
	CertStatusTransfer  uint8 = 2
	CertStatusAutoIssue uint8 = 3
)

// CertSymbolMaxSize caps certificate symbols.
const CertSymbolMaxSize = 64

// PrimaryWitnessCertLimit bounds the symbol index range of primary witness
// certs minted by the PoS genesis.
const PrimaryWitnessCertLimit = 23

// AssetCert is the certificate attachment arm.
type AssetCert struct {
	Symbol   string
	OwnerDid string
	Address  string
	Type     CertType
	Status   uint8
}

func (c *AssetCert) Decode(cur *Cursor) error {
	symbol, err := cur.ReadString("cert_symbol")
	if err != nil {
		return err
	}
	owner, err := cur.ReadString("cert_owner")
	if err != nil {
		return err
	}
	address, err := cur.ReadString("cert_address")
	if err != nil {
		return err
	}
	typ, err := cur.ReadU32()
	if err != nil {
		return err
	}
	status, err := cur.ReadU8()
	if err != nil {
		return err
	}
	*c = AssetCert{
		Symbol:   symbol,
		OwnerDid: owner,
		Address:  address,
		Type:     CertType(typ),
		Status:   status,
	}
	return nil
}

func (c *AssetCert) Encode(w *Writer) {
	w.WriteString(c.Symbol)
	w.WriteString(c.OwnerDid)
	w.WriteString(c.Address)
	w.WriteU32(uint32(c.Type))
	w.WriteU8(c.Status)
}

func (c *AssetCert) SerializedSize() int {
	return VarintSize(uint64(len(c.Symbol))) + len(c.Symbol) +
		VarintSize(uint64(len(c.OwnerDid))) + len(c.OwnerDid) +
		VarintSize(uint64(len(c.Address))) + len(c.Address) +
		4 + 1
}

func (c *AssetCert) IsValid() bool {
	return c.Symbol != "" &&
		len(c.Symbol) <= CertSymbolMaxSize &&
		c.Type != CertNone &&
		c.Status >= CertStatusIssue && c.Status <= CertStatusAutoIssue
}

// Key identifies a certificate uniquely on chain: symbol plus type.
func (c *AssetCert) Key() string {
	return CertKey(c.Symbol, c.Type)
}

// CertKey builds the chain-wide unique symbol+type key.
func CertKey(symbol string, typ CertType) string {
	var b strings.Builder
	b.WriteString(symbol)
	b.WriteByte(':')
	b.WriteString(certTypeName(typ))
	return b.String()
}

func certTypeName(t CertType) string {
	switch t {
	case CertIssue:
		return "issue"
	case CertDomain:
		return "domain"
	case CertNaming:
		return "naming"
	case CertMining:
		return "mining"
	case CertWitness:
		return "witness"
	case CertKyc:
		return "kyc"
	case CertMarriage:
		return "marriage"
	case CertNamingSub:
		return "naming-sub"
	default:
		return "none"
	}
}

// IsPrimaryWitness reports whether this is one of the genesis witness certs
// (symbol WITNESS.<n> with n in 1..PrimaryWitnessCertLimit).
func (c *AssetCert) IsPrimaryWitness() bool {
	if c.Type != CertWitness {
		return false
	}
	const prefix = "WITNESS."
	if !strings.HasPrefix(c.Symbol, prefix) {
		return false
	}
	n := 0
	for _, r := range c.Symbol[len(prefix):] {
		if r < '0' || r > '9' {
			return false
		}
		n = n*10 + int(r-'0')
		if n > PrimaryWitnessCertLimit {
			return false
		}
	}
	return n >= 1
}

// DomainOfSymbol returns the domain root of an asset symbol: the part before
// the first dot, or the whole symbol when it has no dot.
func DomainOfSymbol(symbol string) string {
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}
