package chain

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Cursor walks a byte slice during canonical decoding. Every read either
// consumes exactly the requested bytes or fails with ErrShortRead; no reader
// leaves partial state behind because callers discard the half-built entity
// on the first error.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Pos returns the number of bytes consumed so far.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Exhausted reports whether every input byte has been consumed.
func (c *Cursor) Exhausted() bool { return c.pos == len(c.buf) }

func (c *Cursor) ReadU8() (uint8, error) {
	if c.pos+1 > len(c.buf) {
		return 0, NewError(ErrShortRead, "unexpected EOF (u8)")
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *Cursor) ReadU16() (uint16, error) {
	if c.pos+2 > len(c.buf) {
		return 0, NewError(ErrShortRead, "unexpected EOF (u16le)")
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos : c.pos+2])
	c.pos += 2
	return v, nil
}

func (c *Cursor) ReadU32() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, NewError(ErrShortRead, "unexpected EOF (u32le)")
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *Cursor) ReadU64() (uint64, error) {
	if c.pos+8 > len(c.buf) {
		return 0, NewError(ErrShortRead, "unexpected EOF (u64le)")
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v, nil
}

// ReadBytes returns a copy of the next n bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, NewError(ErrShortRead, "negative length")
	}
	if c.pos+n > len(c.buf) {
		return nil, NewError(ErrShortRead, "unexpected EOF (bytes)")
	}
	v := append([]byte(nil), c.buf[c.pos:c.pos+n]...)
	c.pos += n
	return v, nil
}

// ReadHash reads a 32-byte hash in wire order.
func (c *Cursor) ReadHash() (chainhash.Hash, error) {
	var h chainhash.Hash
	if c.pos+chainhash.HashSize > len(c.buf) {
		return h, NewError(ErrShortRead, "unexpected EOF (hash)")
	}
	copy(h[:], c.buf[c.pos:c.pos+chainhash.HashSize])
	c.pos += chainhash.HashSize
	return h, nil
}

// ReadShortHash reads a 20-byte RIPEMD160 hash.
func (c *Cursor) ReadShortHash() (ShortHash, error) {
	var h ShortHash
	if c.pos+ShortHashSize > len(c.buf) {
		return h, NewError(ErrShortRead, "unexpected EOF (short hash)")
	}
	copy(h[:], c.buf[c.pos:c.pos+ShortHashSize])
	c.pos += ShortHashSize
	return h, nil
}

// ReadU256 reads a 32-byte little-endian unsigned 256-bit integer.
func (c *Cursor) ReadU256() (*big.Int, error) {
	raw, err := c.ReadBytes(32)
	if err != nil {
		return nil, err
	}
	// big.Int wants big-endian; the wire carries little-endian.
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return new(big.Int).SetBytes(raw), nil
}

// ReadVarint decodes the compact 1/3/5/9-byte length prefix. Non-minimal
// encodings are rejected so every value has exactly one byte representation.
func (c *Cursor) ReadVarint() (uint64, error) {
	tag, err := c.ReadU8()
	if err != nil {
		return 0, err
	}
	switch {
	case tag < 0xfd:
		return uint64(tag), nil
	case tag == 0xfd:
		v, err := c.ReadU16()
		if err != nil {
			return 0, err
		}
		if v < 0xfd {
			return 0, NewError(ErrMalformedVarint, "non-minimal varint (0xfd)")
		}
		return uint64(v), nil
	case tag == 0xfe:
		v, err := c.ReadU32()
		if err != nil {
			return 0, err
		}
		if v <= 0xffff {
			return 0, NewError(ErrMalformedVarint, "non-minimal varint (0xfe)")
		}
		return uint64(v), nil
	default:
		v, err := c.ReadU64()
		if err != nil {
			return 0, err
		}
		if v <= 0xffff_ffff {
			return 0, NewError(ErrMalformedVarint, "non-minimal varint (0xff)")
		}
		return v, nil
	}
}

// ReadVarLen reads a varint and bounds it to an addressable int length.
func (c *Cursor) ReadVarLen(name string) (int, error) {
	v, err := c.ReadVarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(c.Remaining()) {
		return 0, Errorf(ErrShortRead, "%s length %d exceeds remaining %d", name, v, c.Remaining())
	}
	return int(v), nil
}

// ReadString reads a varint-prefixed byte string.
func (c *Cursor) ReadString(name string) (string, error) {
	n, err := c.ReadVarLen(name)
	if err != nil {
		return "", err
	}
	b, err := c.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VarintSize returns the encoded size of v's compact length prefix.
func VarintSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= math.MaxUint16:
		return 3
	case v <= math.MaxUint32:
		return 5
	default:
		return 9
	}
}
