package script

import (
	"encoding/binary"

	"github.com/mvs-org/metaverse-go/chain"
)

// Size limits enforced structurally.
const (
	MaxScriptSize  = 10_000
	MaxPushSize    = 520
	MaxOpsPerScript = 201
	MaxStackSize   = 1_000

	// MaxBlockSigOps caps counted signature operations per block.
	MaxBlockSigOps = 20_000
	// MultiSigDefaultSigOps is the count charged for a CHECKMULTISIG whose
	// key count is not a preceding small-int push.
	MultiSigDefaultSigOps = 20
)

// Operation is one decoded script element: an opcode plus its push payload.
type Operation struct {
	Code Opcode
	Data []byte
}

// Parse decodes raw script bytes into operations. Push lengths must be
// consistent with the remaining bytes; anything else is an invalid script.
func Parse(raw []byte) ([]Operation, error) {
	if len(raw) > MaxScriptSize {
		return nil, chain.Errorf(chain.ErrInvalidScript, "script size %d exceeds cap", len(raw))
	}
	ops := make([]Operation, 0, 8)
	for i := 0; i < len(raw); {
		code := Opcode(raw[i])
		i++
		var n int
		switch {
		case code > Op0 && code < OpPushData1:
			n = int(code)
		case code == OpPushData1:
			if i+1 > len(raw) {
				return nil, chain.NewError(chain.ErrInvalidScript, "truncated pushdata1 length")
			}
			n = int(raw[i])
			i++
		case code == OpPushData2:
			if i+2 > len(raw) {
				return nil, chain.NewError(chain.ErrInvalidScript, "truncated pushdata2 length")
			}
			n = int(binary.LittleEndian.Uint16(raw[i : i+2]))
			i += 2
		case code == OpPushData4:
			if i+4 > len(raw) {
				return nil, chain.NewError(chain.ErrInvalidScript, "truncated pushdata4 length")
			}
			v := binary.LittleEndian.Uint32(raw[i : i+4])
			if v > MaxPushSize {
				return nil, chain.Errorf(chain.ErrInvalidScript, "push of %d bytes exceeds cap", v)
			}
			n = int(v)
			i += 4
		default:
			ops = append(ops, Operation{Code: code})
			continue
		}
		if n > MaxPushSize {
			return nil, chain.Errorf(chain.ErrInvalidScript, "push of %d bytes exceeds cap", n)
		}
		if i+n > len(raw) {
			return nil, chain.NewError(chain.ErrInvalidScript, "truncated push data")
		}
		ops = append(ops, Operation{Code: code, Data: append([]byte(nil), raw[i:i+n]...)})
		i += n
	}
	return ops, nil
}

// Serialize re-encodes operations into raw script bytes.
func Serialize(ops []Operation) []byte {
	var out []byte
	for _, op := range ops {
		out = append(out, byte(op.Code))
		switch {
		case op.Code > Op0 && op.Code < OpPushData1:
			out = append(out, op.Data...)
		case op.Code == OpPushData1:
			out = append(out, byte(len(op.Data)))
			out = append(out, op.Data...)
		case op.Code == OpPushData2:
			out = binary.LittleEndian.AppendUint16(out, uint16(len(op.Data)))
			out = append(out, op.Data...)
		case op.Code == OpPushData4:
			out = binary.LittleEndian.AppendUint32(out, uint32(len(op.Data)))
			out = append(out, op.Data...)
		}
	}
	return out
}

// PushData builds the minimal push operation for data.
func PushData(data []byte) Operation {
	switch {
	case len(data) == 0:
		return Operation{Code: Op0}
	case len(data) == 1 && data[0] >= 1 && data[0] <= 16:
		return Operation{Code: Op1 + Opcode(data[0]-1), Data: nil}
	case len(data) < int(OpPushData1):
		return Operation{Code: Opcode(len(data)), Data: data}
	case len(data) <= 0xff:
		return Operation{Code: OpPushData1, Data: data}
	default:
		return Operation{Code: OpPushData2, Data: data}
	}
}

// PushNumber builds a push of the minimal script-number encoding of v.
func PushNumber(v int64) Operation {
	if v >= 0 && v <= 16 {
		if v == 0 {
			return Operation{Code: Op0}
		}
		return Operation{Code: Op1 + Opcode(v-1)}
	}
	if v == -1 {
		return Operation{Code: Op1Negate}
	}
	data := encodeScriptNum(v)
	return Operation{Code: Opcode(len(data)), Data: data}
}

// CountSigOps counts the signature operations in a script, using the
// accurate key count when a small-int push precedes CHECKMULTISIG.
func CountSigOps(ops []Operation, accurate bool) int {
	count := 0
	var prev Opcode = OpNop
	for _, op := range ops {
		switch op.Code {
		case OpCheckSig, OpCheckSigVerify:
			count++
		case OpCheckMultiSig, OpCheckMultiSigVerify:
			if accurate && prev >= Op1 && prev <= Op16 {
				count += int(prev-Op1) + 1
			} else {
				count += MultiSigDefaultSigOps
			}
		}
		prev = op.Code
	}
	return count
}

// CountRawSigOps counts sigops directly over raw script bytes, treating an
// unparseable script as carrying none.
func CountRawSigOps(raw []byte, accurate bool) int {
	ops, err := Parse(raw)
	if err != nil {
		return 0
	}
	return CountSigOps(ops, accurate)
}

// decoded script numbers are bounded to 4 bytes on input (standard numeric
// opcode domain); lock values embedded by templates may use up to 5.
func decodeScriptNum(data []byte, maxLen int) (int64, error) {
	if len(data) > maxLen {
		return 0, chain.Errorf(chain.ErrInvalidScript, "script number overflow (%d bytes)", len(data))
	}
	if len(data) == 0 {
		return 0, nil
	}
	var v int64
	for i, b := range data {
		v |= int64(b) << (8 * i)
	}
	if data[len(data)-1]&0x80 != 0 {
		v &= ^(int64(0x80) << (8 * (len(data) - 1)))
		v = -v
	}
	return v, nil
}

func encodeScriptNum(v int64) []byte {
	if v == 0 {
		return nil
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var out []byte
	for v > 0 {
		out = append(out, byte(v&0xff))
		v >>= 8
	}
	if out[len(out)-1]&0x80 != 0 {
		if neg {
			out = append(out, 0x80)
		} else {
			out = append(out, 0x00)
		}
	} else if neg {
		out[len(out)-1] |= 0x80
	}
	return out
}

func asBool(data []byte) bool {
	for i, b := range data {
		if b != 0 {
			// Negative zero is false.
			if i == len(data)-1 && b == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

func fromBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return nil
}
