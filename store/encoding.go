package store

import (
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// History row kinds.
const (
	HistoryKindOutput byte = 0
	HistoryKindSpend  byte = 1
)

// HistoryRow is one event on an address: an output credited to it or a spend
// consuming such an output. Value carries the output value for both kinds.
type HistoryRow struct {
	Kind   byte
	Point  chain.OutputPoint
	Height uint64
	Value  uint64
}

func encodeHistoryRow(r HistoryRow) []byte {
	w := chain.NewWriter()
	w.WriteU8(r.Kind)
	r.Point.Encode(w)
	w.WriteU64(r.Height)
	w.WriteU64(r.Value)
	return w.Bytes()
}

func decodeHistoryRow(b []byte) (HistoryRow, error) {
	cur := chain.NewCursor(b)
	kind, err := cur.ReadU8()
	if err != nil {
		return HistoryRow{}, err
	}
	var point chain.OutputPoint
	if err := point.Decode(cur); err != nil {
		return HistoryRow{}, err
	}
	height, err := cur.ReadU64()
	if err != nil {
		return HistoryRow{}, err
	}
	value, err := cur.ReadU64()
	if err != nil {
		return HistoryRow{}, err
	}
	return HistoryRow{Kind: kind, Point: point, Height: height, Value: value}, nil
}

// BlockMeta is the stored block record: full header, consensus signature
// material, cumulative work and the ordered transaction hash list.
type BlockMeta struct {
	Header    chain.Header
	BlockSig  []byte
	PublicKey []byte
	Work      *big.Int
	TxHashes  []chainhash.Hash
}

func encodeBlockMeta(m BlockMeta) []byte {
	w := chain.NewWriter()
	m.Header.TransactionCount = uint64(len(m.TxHashes))
	m.Header.Encode(w, true)
	w.WriteVarint(uint64(len(m.BlockSig)))
	w.WriteBytes(m.BlockSig)
	w.WriteVarint(uint64(len(m.PublicKey)))
	w.WriteBytes(m.PublicKey)
	work := m.Work.Bytes()
	w.WriteVarint(uint64(len(work)))
	w.WriteBytes(work)
	for _, h := range m.TxHashes {
		w.WriteHash(h)
	}
	return w.Bytes()
}

func decodeBlockMeta(b []byte) (BlockMeta, error) {
	cur := chain.NewCursor(b)
	var m BlockMeta
	if err := m.Header.Decode(cur, true); err != nil {
		return BlockMeta{}, err
	}
	n, err := cur.ReadVarLen("block_sig")
	if err != nil {
		return BlockMeta{}, err
	}
	if m.BlockSig, err = cur.ReadBytes(n); err != nil {
		return BlockMeta{}, err
	}
	n, err = cur.ReadVarLen("public_key")
	if err != nil {
		return BlockMeta{}, err
	}
	if m.PublicKey, err = cur.ReadBytes(n); err != nil {
		return BlockMeta{}, err
	}
	n, err = cur.ReadVarLen("work")
	if err != nil {
		return BlockMeta{}, err
	}
	work, err := cur.ReadBytes(n)
	if err != nil {
		return BlockMeta{}, err
	}
	m.Work = new(big.Int).SetBytes(work)
	m.TxHashes = make([]chainhash.Hash, 0, m.Header.TransactionCount)
	for i := uint64(0); i < m.Header.TransactionCount; i++ {
		h, err := cur.ReadHash()
		if err != nil {
			return BlockMeta{}, err
		}
		m.TxHashes = append(m.TxHashes, h)
	}
	return m, nil
}

// TxRecord locates and carries a confirmed transaction.
type TxRecord struct {
	Height uint64
	Index  uint32
	Raw    []byte
}

func encodeTxRecord(r TxRecord) []byte {
	w := chain.NewWriter()
	w.WriteU64(r.Height)
	w.WriteU32(r.Index)
	w.WriteBytes(r.Raw)
	return w.Bytes()
}

func decodeTxRecord(b []byte) (TxRecord, error) {
	cur := chain.NewCursor(b)
	height, err := cur.ReadU64()
	if err != nil {
		return TxRecord{}, err
	}
	index, err := cur.ReadU32()
	if err != nil {
		return TxRecord{}, err
	}
	raw, err := cur.ReadBytes(cur.Remaining())
	if err != nil {
		return TxRecord{}, err
	}
	return TxRecord{Height: height, Index: index, Raw: raw}, nil
}

// TipRecord is the metadata row naming the main-chain tip.
type TipRecord struct {
	Hash   chainhash.Hash
	Height uint64
	Work   *big.Int
}

func encodeTipRecord(t TipRecord) []byte {
	w := chain.NewWriter()
	w.WriteHash(t.Hash)
	w.WriteU64(t.Height)
	work := t.Work.Bytes()
	w.WriteVarint(uint64(len(work)))
	w.WriteBytes(work)
	return w.Bytes()
}

func decodeTipRecord(b []byte) (TipRecord, error) {
	cur := chain.NewCursor(b)
	hash, err := cur.ReadHash()
	if err != nil {
		return TipRecord{}, err
	}
	height, err := cur.ReadU64()
	if err != nil {
		return TipRecord{}, err
	}
	n, err := cur.ReadVarLen("work")
	if err != nil {
		return TipRecord{}, err
	}
	work, err := cur.ReadBytes(n)
	if err != nil {
		return TipRecord{}, err
	}
	return TipRecord{Hash: hash, Height: height, Work: new(big.Int).SetBytes(work)}, nil
}

// AssetRecord is the registry row of an issued asset. Supply tracks the
// current total including secondary issues.
type AssetRecord struct {
	Detail chain.AssetDetail
	Supply uint64
	Height uint64
	TxHash chainhash.Hash
}

func encodeAssetRecord(r AssetRecord) []byte {
	w := chain.NewWriter()
	r.Detail.Encode(w)
	w.WriteU64(r.Supply)
	w.WriteU64(r.Height)
	w.WriteHash(r.TxHash)
	return w.Bytes()
}

func decodeAssetRecord(b []byte) (AssetRecord, error) {
	cur := chain.NewCursor(b)
	var r AssetRecord
	if err := r.Detail.Decode(cur); err != nil {
		return AssetRecord{}, err
	}
	var err error
	if r.Supply, err = cur.ReadU64(); err != nil {
		return AssetRecord{}, err
	}
	if r.Height, err = cur.ReadU64(); err != nil {
		return AssetRecord{}, err
	}
	if r.TxHash, err = cur.ReadHash(); err != nil {
		return AssetRecord{}, err
	}
	return r, nil
}

// CertRecord is the registry row of a certificate.
type CertRecord struct {
	Cert   chain.AssetCert
	Height uint64
	TxHash chainhash.Hash
}

func encodeCertRecord(r CertRecord) []byte {
	w := chain.NewWriter()
	r.Cert.Encode(w)
	w.WriteU64(r.Height)
	w.WriteHash(r.TxHash)
	return w.Bytes()
}

func decodeCertRecord(b []byte) (CertRecord, error) {
	cur := chain.NewCursor(b)
	var r CertRecord
	if err := r.Cert.Decode(cur); err != nil {
		return CertRecord{}, err
	}
	var err error
	if r.Height, err = cur.ReadU64(); err != nil {
		return CertRecord{}, err
	}
	if r.TxHash, err = cur.ReadHash(); err != nil {
		return CertRecord{}, err
	}
	return r, nil
}

// DidRecord is the registry row of a DID symbol.
type DidRecord struct {
	Did    chain.Did
	Height uint64
	TxHash chainhash.Hash
}

func encodeDidRecord(r DidRecord) []byte {
	w := chain.NewWriter()
	r.Did.Encode(w)
	w.WriteU64(r.Height)
	w.WriteHash(r.TxHash)
	return w.Bytes()
}

func decodeDidRecord(b []byte) (DidRecord, error) {
	cur := chain.NewCursor(b)
	var r DidRecord
	if err := r.Did.Decode(cur); err != nil {
		return DidRecord{}, err
	}
	var err error
	if r.Height, err = cur.ReadU64(); err != nil {
		return DidRecord{}, err
	}
	if r.TxHash, err = cur.ReadHash(); err != nil {
		return DidRecord{}, err
	}
	return r, nil
}

// DidHistoryRow is one address binding event of a DID symbol.
type DidHistoryRow struct {
	Address string
	Height  uint64
	TxHash  chainhash.Hash
}

func encodeDidHistoryRow(r DidHistoryRow) []byte {
	w := chain.NewWriter()
	w.WriteString(r.Address)
	w.WriteU64(r.Height)
	w.WriteHash(r.TxHash)
	return w.Bytes()
}

func decodeDidHistoryRow(b []byte) (DidHistoryRow, error) {
	cur := chain.NewCursor(b)
	var r DidHistoryRow
	var err error
	if r.Address, err = cur.ReadString("address"); err != nil {
		return DidHistoryRow{}, err
	}
	if r.Height, err = cur.ReadU64(); err != nil {
		return DidHistoryRow{}, err
	}
	if r.TxHash, err = cur.ReadHash(); err != nil {
		return DidHistoryRow{}, err
	}
	return r, nil
}

// MitRecord is the latest state of a registered MIT.
type MitRecord struct {
	Mit    chain.AssetMit
	Height uint64
	TxHash chainhash.Hash
}

func encodeMitRecord(r MitRecord) []byte {
	w := chain.NewWriter()
	r.Mit.Encode(w)
	w.WriteU64(r.Height)
	w.WriteHash(r.TxHash)
	return w.Bytes()
}

func decodeMitRecord(b []byte) (MitRecord, error) {
	cur := chain.NewCursor(b)
	var r MitRecord
	if err := r.Mit.Decode(cur); err != nil {
		return MitRecord{}, err
	}
	var err error
	if r.Height, err = cur.ReadU64(); err != nil {
		return MitRecord{}, err
	}
	if r.TxHash, err = cur.ReadHash(); err != nil {
		return MitRecord{}, err
	}
	return r, nil
}

// MitHistoryRow is one register/transfer event of a MIT symbol.
type MitHistoryRow struct {
	Status  uint8
	Address string
	Height  uint64
	TxHash  chainhash.Hash
}

func encodeMitHistoryRow(r MitHistoryRow) []byte {
	w := chain.NewWriter()
	w.WriteU8(r.Status)
	w.WriteString(r.Address)
	w.WriteU64(r.Height)
	w.WriteHash(r.TxHash)
	return w.Bytes()
}

func decodeMitHistoryRow(b []byte) (MitHistoryRow, error) {
	cur := chain.NewCursor(b)
	var r MitHistoryRow
	var err error
	if r.Status, err = cur.ReadU8(); err != nil {
		return MitHistoryRow{}, err
	}
	if r.Address, err = cur.ReadString("address"); err != nil {
		return MitHistoryRow{}, err
	}
	if r.Height, err = cur.ReadU64(); err != nil {
		return MitHistoryRow{}, err
	}
	if r.TxHash, err = cur.ReadHash(); err != nil {
		return MitHistoryRow{}, err
	}
	return r, nil
}

// StealthRow locates an output whose script carries a stealth prefix.
type StealthRow struct {
	TxHash chainhash.Hash
	Index  uint32
	Height uint64
}

func encodeStealthRow(r StealthRow) []byte {
	w := chain.NewWriter()
	w.WriteHash(r.TxHash)
	w.WriteU32(r.Index)
	w.WriteU64(r.Height)
	return w.Bytes()
}

func decodeStealthRow(b []byte) (StealthRow, error) {
	cur := chain.NewCursor(b)
	var r StealthRow
	var err error
	if r.TxHash, err = cur.ReadHash(); err != nil {
		return StealthRow{}, err
	}
	if r.Index, err = cur.ReadU32(); err != nil {
		return StealthRow{}, err
	}
	if r.Height, err = cur.ReadU64(); err != nil {
		return StealthRow{}, err
	}
	return r, nil
}

// WitnessProfile accumulates a witness address's signing activity.
type WitnessProfile struct {
	Address      string
	Epoch        uint64
	BlocksSigned uint64
	LastHeight   uint64
}

func encodeWitnessProfile(p WitnessProfile) []byte {
	w := chain.NewWriter()
	w.WriteString(p.Address)
	w.WriteU64(p.Epoch)
	w.WriteU64(p.BlocksSigned)
	w.WriteU64(p.LastHeight)
	return w.Bytes()
}

func decodeWitnessProfile(b []byte) (WitnessProfile, error) {
	cur := chain.NewCursor(b)
	var p WitnessProfile
	var err error
	if p.Address, err = cur.ReadString("address"); err != nil {
		return WitnessProfile{}, err
	}
	if p.Epoch, err = cur.ReadU64(); err != nil {
		return WitnessProfile{}, err
	}
	if p.BlocksSigned, err = cur.ReadU64(); err != nil {
		return WitnessProfile{}, err
	}
	if p.LastHeight, err = cur.ReadU64(); err != nil {
		return WitnessProfile{}, err
	}
	return p, nil
}

// Key builders. Multi-record tables use big-endian height plus a per-block
// counter so prefix scans return rows in push order.

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func heightKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return b[:]
}

func outPointKey(p chain.OutputPoint) []byte {
	w := chain.NewWriter()
	p.Encode(w)
	return w.Bytes()
}

func decodeOutPoint(b []byte) (chain.OutputPoint, error) {
	cur := chain.NewCursor(b)
	var p chain.OutputPoint
	if err := p.Decode(cur); err != nil {
		return chain.OutputPoint{}, err
	}
	return p, nil
}

// rowKey is prefix || heightBE || counterBE: ordered per prefix.
func rowKey(prefix []byte, height uint64, counter uint32) []byte {
	out := make([]byte, 0, len(prefix)+12)
	out = append(out, prefix...)
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	out = append(out, h[:]...)
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], counter)
	return append(out, c[:]...)
}

func addressKey(address string) []byte {
	return []byte(address)
}

func pairKey(a, b string) []byte {
	out := make([]byte, 0, len(a)+1+len(b))
	out = append(out, a...)
	out = append(out, 0)
	return append(out, b...)
}
