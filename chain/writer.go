package chain

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Writer accumulates the canonical encoding of a ledger entity. Writes cannot
// fail; the resulting bytes are the single wire and on-disk representation.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteU16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteHash(h chainhash.Hash) {
	w.buf = append(w.buf, h[:]...)
}

func (w *Writer) WriteShortHash(h ShortHash) {
	w.buf = append(w.buf, h[:]...)
}

// WriteU256 writes v as 32 little-endian bytes. Values above 2^256-1 are a
// programming error and are truncated to the low 256 bits.
func (w *Writer) WriteU256(v *big.Int) {
	var be [32]byte
	if v != nil {
		v.FillBytes(be[:])
	}
	for i := 31; i >= 0; i-- {
		w.buf = append(w.buf, be[i])
	}
}

// WriteVarint writes the compact minimal 1/3/5/9-byte length prefix.
func (w *Writer) WriteVarint(v uint64) {
	switch {
	case v < 0xfd:
		w.WriteU8(uint8(v))
	case v <= math.MaxUint16:
		w.WriteU8(0xfd)
		w.WriteU16(uint16(v))
	case v <= math.MaxUint32:
		w.WriteU8(0xfe)
		w.WriteU32(uint32(v))
	default:
		w.WriteU8(0xff)
		w.WriteU64(v)
	}
}

// WriteString writes a varint-prefixed byte string.
func (w *Writer) WriteString(s string) {
	w.WriteVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}
