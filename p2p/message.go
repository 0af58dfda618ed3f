// Package p2p carries the wire envelope and the payload shapes the core
// speaks. Session, handshake and relay policy live in the network layer
// above; this package only encodes and decodes.
package p2p

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// Command names, null-padded to 12 bytes on the wire.
const (
	CmdBlock       = "block"
	CmdTx          = "tx"
	CmdHeaders     = "headers"
	CmdGetHeaders  = "getheaders"
	CmdGetBlocks   = "getblocks"
	CmdGetData     = "getdata"
	CmdInv         = "inv"
	CmdNotFound    = "notfound"
	CmdMempool     = "mempool"
	CmdReject      = "reject"
	CmdFilterLoad  = "filterload"
	CmdMerkleBlock = "merkleblock"
)

const (
	commandSize    = 12
	checksumSize   = 4
	headerSize     = 4 + commandSize + 4 + checksumSize
	// MaxPayloadSize bounds a single frame.
	MaxPayloadSize = 32 * 1024 * 1024
	// MaxLocatorHashes bounds a block locator.
	MaxLocatorHashes = 500
	// MaxInvEntries bounds an inventory listing.
	MaxInvEntries = 50_000
)

// Frame is the length-prefixed, checksummed envelope every message rides in.
type Frame struct {
	Magic   uint32
	Command string
	Payload []byte
}

// Checksum is the first four bytes of the payload's double-SHA256.
func Checksum(payload []byte) [checksumSize]byte {
	digest := chain.Sha256d(payload)
	var out [checksumSize]byte
	copy(out[:], digest[:checksumSize])
	return out
}

// EncodeFrame serializes a frame.
func EncodeFrame(f *Frame) ([]byte, error) {
	if len(f.Command) > commandSize {
		return nil, chain.Errorf(chain.ErrAttachmentInvalid, "command %q too long", f.Command)
	}
	if len(f.Payload) > MaxPayloadSize {
		return nil, chain.Errorf(chain.ErrAttachmentInvalid, "payload of %d bytes", len(f.Payload))
	}
	w := chain.NewWriter()
	w.WriteU32(f.Magic)
	var cmd [commandSize]byte
	copy(cmd[:], f.Command)
	w.WriteBytes(cmd[:])
	w.WriteU32(uint32(len(f.Payload)))
	sum := Checksum(f.Payload)
	w.WriteBytes(sum[:])
	w.WriteBytes(f.Payload)
	return w.Bytes(), nil
}

// DecodeFrame parses a frame and verifies magic and checksum.
func DecodeFrame(raw []byte, wantMagic uint32) (*Frame, error) {
	cur := chain.NewCursor(raw)
	magic, err := cur.ReadU32()
	if err != nil {
		return nil, err
	}
	if magic != wantMagic {
		return nil, chain.Errorf(chain.ErrAttachmentInvalid, "bad magic %08x", magic)
	}
	cmdRaw, err := cur.ReadBytes(commandSize)
	if err != nil {
		return nil, err
	}
	command := string(bytes.TrimRight(cmdRaw, "\x00"))
	length, err := cur.ReadU32()
	if err != nil {
		return nil, err
	}
	if length > MaxPayloadSize {
		return nil, chain.Errorf(chain.ErrAttachmentInvalid, "payload length %d", length)
	}
	sumRaw, err := cur.ReadBytes(checksumSize)
	if err != nil {
		return nil, err
	}
	payload, err := cur.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}
	if !cur.Exhausted() {
		return nil, chain.NewError(chain.ErrShortRead, "trailing bytes after frame")
	}
	want := Checksum(payload)
	if !bytes.Equal(sumRaw, want[:]) {
		return nil, chain.NewError(chain.ErrShortRead, "frame checksum mismatch")
	}
	return &Frame{Magic: magic, Command: command, Payload: payload}, nil
}

// GetHeaders requests headers from the locator's fork point up to StopHash.
type GetHeaders struct {
	Version       uint32
	LocatorHashes []chainhash.Hash
	StopHash      chainhash.Hash
}

func (g *GetHeaders) Encode(w *chain.Writer) {
	w.WriteU32(g.Version)
	w.WriteVarint(uint64(len(g.LocatorHashes)))
	for _, h := range g.LocatorHashes {
		w.WriteHash(h)
	}
	w.WriteHash(g.StopHash)
}

func (g *GetHeaders) Decode(cur *chain.Cursor) error {
	version, err := cur.ReadU32()
	if err != nil {
		return err
	}
	count, err := cur.ReadVarint()
	if err != nil {
		return err
	}
	if count > MaxLocatorHashes {
		return chain.Errorf(chain.ErrMalformedVarint, "locator of %d hashes", count)
	}
	hashes := make([]chainhash.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		h, err := cur.ReadHash()
		if err != nil {
			return err
		}
		hashes = append(hashes, h)
	}
	stop, err := cur.ReadHash()
	if err != nil {
		return err
	}
	*g = GetHeaders{Version: version, LocatorHashes: hashes, StopHash: stop}
	return nil
}

// Headers answers a getheaders: each header is followed by a transaction
// count of zero.
type Headers struct {
	Headers []chain.Header
}

func (m *Headers) Encode(w *chain.Writer) {
	w.WriteVarint(uint64(len(m.Headers)))
	for i := range m.Headers {
		m.Headers[i].TransactionCount = 0
		m.Headers[i].Encode(w, true)
	}
}

func (m *Headers) Decode(cur *chain.Cursor) error {
	count, err := cur.ReadVarint()
	if err != nil {
		return err
	}
	if count > 2000 {
		return chain.Errorf(chain.ErrMalformedVarint, "headers message of %d entries", count)
	}
	headers := make([]chain.Header, 0, count)
	for i := uint64(0); i < count; i++ {
		var h chain.Header
		if err := h.Decode(cur, true); err != nil {
			return err
		}
		if h.TransactionCount != 0 {
			return chain.NewError(chain.ErrMalformedVarint, "headers entry carries transactions")
		}
		headers = append(headers, h)
	}
	m.Headers = headers
	return nil
}

// Inventory type tags.
const (
	InvError uint32 = 0
	InvTx    uint32 = 1
	InvBlock uint32 = 2
)

// InvVect names one inventory item.
type InvVect struct {
	Type uint32
	Hash chainhash.Hash
}

// Inv lists inventory; the same shape serves inv, getdata and notfound.
type Inv struct {
	Entries []InvVect
}

func (m *Inv) Encode(w *chain.Writer) {
	w.WriteVarint(uint64(len(m.Entries)))
	for _, e := range m.Entries {
		w.WriteU32(e.Type)
		w.WriteHash(e.Hash)
	}
}

func (m *Inv) Decode(cur *chain.Cursor) error {
	count, err := cur.ReadVarint()
	if err != nil {
		return err
	}
	if count > MaxInvEntries {
		return chain.Errorf(chain.ErrMalformedVarint, "inventory of %d entries", count)
	}
	entries := make([]InvVect, 0, count)
	for i := uint64(0); i < count; i++ {
		typ, err := cur.ReadU32()
		if err != nil {
			return err
		}
		hash, err := cur.ReadHash()
		if err != nil {
			return err
		}
		entries = append(entries, InvVect{Type: typ, Hash: hash})
	}
	m.Entries = entries
	return nil
}

// Reject reports why a peer's message was refused.
type Reject struct {
	Message string
	Code    uint8
	Reason  string
	Hash    chainhash.Hash
}

func (m *Reject) Encode(w *chain.Writer) {
	w.WriteString(m.Message)
	w.WriteU8(m.Code)
	w.WriteString(m.Reason)
	w.WriteHash(m.Hash)
}

func (m *Reject) Decode(cur *chain.Cursor) error {
	message, err := cur.ReadString("reject_message")
	if err != nil {
		return err
	}
	code, err := cur.ReadU8()
	if err != nil {
		return err
	}
	reason, err := cur.ReadString("reject_reason")
	if err != nil {
		return err
	}
	hash, err := cur.ReadHash()
	if err != nil {
		return err
	}
	*m = Reject{Message: message, Code: code, Reason: reason, Hash: hash}
	return nil
}

// MerkleBlock carries a header plus a partial merkle tree for filtered
// clients: the matched transaction hashes and the traversal flag bits.
type MerkleBlock struct {
	Header     chain.Header
	TotalTxs   uint32
	Hashes     []chainhash.Hash
	FlagBits   []byte
}

func (m *MerkleBlock) Encode(w *chain.Writer) {
	m.Header.TransactionCount = 0
	m.Header.Encode(w, true)
	w.WriteU32(m.TotalTxs)
	w.WriteVarint(uint64(len(m.Hashes)))
	for _, h := range m.Hashes {
		w.WriteHash(h)
	}
	w.WriteVarint(uint64(len(m.FlagBits)))
	w.WriteBytes(m.FlagBits)
}

func (m *MerkleBlock) Decode(cur *chain.Cursor) error {
	if err := m.Header.Decode(cur, true); err != nil {
		return err
	}
	total, err := cur.ReadU32()
	if err != nil {
		return err
	}
	count, err := cur.ReadVarint()
	if err != nil {
		return err
	}
	if count > MaxInvEntries {
		return chain.Errorf(chain.ErrMalformedVarint, "merkleblock with %d hashes", count)
	}
	hashes := make([]chainhash.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		h, err := cur.ReadHash()
		if err != nil {
			return err
		}
		hashes = append(hashes, h)
	}
	n, err := cur.ReadVarLen("flag_bits")
	if err != nil {
		return err
	}
	flags, err := cur.ReadBytes(n)
	if err != nil {
		return err
	}
	m.TotalTxs = total
	m.Hashes = hashes
	m.FlagBits = flags
	return nil
}

// FilterLoad installs a peer bloom filter.
type FilterLoad struct {
	Filter    []byte
	HashFuncs uint32
	Tweak     uint32
	Flags     uint8
}

func (m *FilterLoad) Encode(w *chain.Writer) {
	w.WriteVarint(uint64(len(m.Filter)))
	w.WriteBytes(m.Filter)
	w.WriteU32(m.HashFuncs)
	w.WriteU32(m.Tweak)
	w.WriteU8(m.Flags)
}

func (m *FilterLoad) Decode(cur *chain.Cursor) error {
	n, err := cur.ReadVarLen("filter")
	if err != nil {
		return err
	}
	filter, err := cur.ReadBytes(n)
	if err != nil {
		return err
	}
	hashFuncs, err := cur.ReadU32()
	if err != nil {
		return err
	}
	tweak, err := cur.ReadU32()
	if err != nil {
		return err
	}
	flags, err := cur.ReadU8()
	if err != nil {
		return err
	}
	*m = FilterLoad{Filter: filter, HashFuncs: hashFuncs, Tweak: tweak, Flags: flags}
	return nil
}
