package script

import (
	"bytes"
	"crypto/sha256"

	"github.com/mvs-org/metaverse-go/chain"
	"golang.org/x/crypto/ripemd160"
)

// Flags gate height-activated rules during evaluation.
type Flags uint32

const (
	// FlagVerifyLocks enforces the MVS lock opcodes instead of treating
	// them as NOPs.
	FlagVerifyLocks Flags = 1 << iota
	// FlagP2SH enables pay-to-script-hash redemption.
	FlagP2SH
)

// Context supplies the chain facts the lock opcodes need.
type Context struct {
	Tx            *chain.Transaction
	InputIndex    int
	PrevoutHeight uint64
	SpendHeight   uint64
	Flags         Flags
}

type vm struct {
	stack [][]byte
	alt   [][]byte
	// condStack tracks IF nesting; false entries skip execution.
	condStack []bool
	ops       int
	ctx       *Context
	prevRaw   []byte
}

// Evaluate runs inputScript then prevoutScript over a shared stack and
// reports whether the spend is authorized. P2SH redemption re-runs the last
// input push as a script when enabled and matched.
func Evaluate(inputScript, prevoutScript []byte, ctx *Context) error {
	inOps, err := Parse(inputScript)
	if err != nil {
		return err
	}
	for _, op := range inOps {
		if !op.Code.IsPush() {
			return chain.NewError(chain.ErrInvalidScript, "input script must be push-only")
		}
	}
	outOps, err := Parse(prevoutScript)
	if err != nil {
		return err
	}

	m := &vm{ctx: ctx, prevRaw: prevoutScript}
	if err := m.run(inOps); err != nil {
		return err
	}
	// Snapshot for P2SH before the output script consumes the stack.
	var redeem []byte
	if ctx.Flags&FlagP2SH != 0 && isPayScriptHash(outOps) && len(m.stack) > 0 {
		redeem = append([]byte(nil), m.stack[len(m.stack)-1]...)
	}
	if err := m.run(outOps); err != nil {
		return err
	}
	if !m.finalTrue() {
		return chain.NewError(chain.ErrInvalidScript, "script finished false")
	}
	if redeem != nil {
		redeemOps, err := Parse(redeem)
		if err != nil {
			return err
		}
		// Re-run: pushes minus the redeem script, then the redeem script.
		rm := &vm{ctx: ctx, prevRaw: redeem}
		if err := rm.run(inOps[:len(inOps)-1]); err != nil {
			return err
		}
		if err := rm.run(redeemOps); err != nil {
			return err
		}
		if !rm.finalTrue() {
			return chain.NewError(chain.ErrInvalidScript, "redeem script finished false")
		}
	}
	return nil
}

func (m *vm) finalTrue() bool {
	return len(m.stack) > 0 && asBool(m.stack[len(m.stack)-1])
}

func (m *vm) executing() bool {
	for _, c := range m.condStack {
		if !c {
			return false
		}
	}
	return true
}

func (m *vm) push(v []byte) error {
	if len(m.stack)+len(m.alt) >= MaxStackSize {
		return chain.NewError(chain.ErrInvalidScript, "stack overflow")
	}
	m.stack = append(m.stack, v)
	return nil
}

func (m *vm) pop() ([]byte, error) {
	if len(m.stack) == 0 {
		return nil, chain.NewError(chain.ErrInvalidScript, "stack underflow")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *vm) popNum() (int64, error) {
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	return decodeScriptNum(v, 4)
}

func (m *vm) peek(depth int) ([]byte, error) {
	if depth >= len(m.stack) {
		return nil, chain.NewError(chain.ErrInvalidScript, "stack underflow")
	}
	return m.stack[len(m.stack)-1-depth], nil
}

func (m *vm) run(ops []Operation) error {
	for _, op := range ops {
		if !op.Code.IsPush() {
			m.ops++
			if m.ops > MaxOpsPerScript {
				return chain.NewError(chain.ErrInvalidScript, "operation count exceeded")
			}
		}
		if !m.executing() && !op.Code.IsConditional() {
			continue
		}
		if err := m.step(op); err != nil {
			return err
		}
	}
	if len(m.condStack) != 0 {
		return chain.NewError(chain.ErrInvalidScript, "unbalanced conditional")
	}
	return nil
}

func (m *vm) step(op Operation) error {
	if v, ok := op.Code.pushValue(); ok {
		return m.push(encodeScriptNum(v))
	}
	if op.Code.IsPush() {
		return m.push(op.Data)
	}

	switch op.Code {
	case OpNop, OpNop2, OpNop10, OpCodeSeparator:
		return nil

	case OpIf, OpNotIf:
		cond := false
		if m.executing() {
			v, err := m.pop()
			if err != nil {
				return err
			}
			cond = asBool(v)
			if op.Code == OpNotIf {
				cond = !cond
			}
		}
		m.condStack = append(m.condStack, cond)
		return nil
	case OpElse:
		if len(m.condStack) == 0 {
			return chain.NewError(chain.ErrInvalidScript, "ELSE without IF")
		}
		m.condStack[len(m.condStack)-1] = !m.condStack[len(m.condStack)-1]
		return nil
	case OpEndIf:
		if len(m.condStack) == 0 {
			return chain.NewError(chain.ErrInvalidScript, "ENDIF without IF")
		}
		m.condStack = m.condStack[:len(m.condStack)-1]
		return nil

	case OpVerify:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if !asBool(v) {
			return chain.NewError(chain.ErrInvalidScript, "VERIFY failed")
		}
		return nil
	case OpReturn:
		return chain.NewError(chain.ErrInvalidScript, "RETURN in executed branch")

	case OpToAlt:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.alt = append(m.alt, v)
		return nil
	case OpFromAlt:
		if len(m.alt) == 0 {
			return chain.NewError(chain.ErrInvalidScript, "alt stack underflow")
		}
		v := m.alt[len(m.alt)-1]
		m.alt = m.alt[:len(m.alt)-1]
		return m.push(v)

	case OpDrop:
		_, err := m.pop()
		return err
	case Op2Drop:
		if _, err := m.pop(); err != nil {
			return err
		}
		_, err := m.pop()
		return err
	case OpDup:
		v, err := m.peek(0)
		if err != nil {
			return err
		}
		return m.push(append([]byte(nil), v...))
	case Op2Dup:
		a, err := m.peek(1)
		if err != nil {
			return err
		}
		b, err := m.peek(0)
		if err != nil {
			return err
		}
		if err := m.push(append([]byte(nil), a...)); err != nil {
			return err
		}
		return m.push(append([]byte(nil), b...))
	case OpIfDup:
		v, err := m.peek(0)
		if err != nil {
			return err
		}
		if asBool(v) {
			return m.push(append([]byte(nil), v...))
		}
		return nil
	case OpDepth:
		return m.push(encodeScriptNum(int64(len(m.stack))))
	case OpNip:
		top, err := m.pop()
		if err != nil {
			return err
		}
		if _, err := m.pop(); err != nil {
			return err
		}
		return m.push(top)
	case OpOver:
		v, err := m.peek(1)
		if err != nil {
			return err
		}
		return m.push(append([]byte(nil), v...))
	case OpPick, OpRoll:
		n, err := m.popNum()
		if err != nil {
			return err
		}
		if n < 0 || int(n) >= len(m.stack) {
			return chain.NewError(chain.ErrInvalidScript, "pick/roll depth out of range")
		}
		idx := len(m.stack) - 1 - int(n)
		v := m.stack[idx]
		if op.Code == OpRoll {
			m.stack = append(m.stack[:idx], m.stack[idx+1:]...)
		}
		return m.push(append([]byte(nil), v...))
	case OpRot:
		if len(m.stack) < 3 {
			return chain.NewError(chain.ErrInvalidScript, "stack underflow")
		}
		n := len(m.stack)
		m.stack[n-3], m.stack[n-2], m.stack[n-1] = m.stack[n-2], m.stack[n-1], m.stack[n-3]
		return nil
	case OpSwap:
		if len(m.stack) < 2 {
			return chain.NewError(chain.ErrInvalidScript, "stack underflow")
		}
		n := len(m.stack)
		m.stack[n-2], m.stack[n-1] = m.stack[n-1], m.stack[n-2]
		return nil
	case OpTuck:
		if len(m.stack) < 2 {
			return chain.NewError(chain.ErrInvalidScript, "stack underflow")
		}
		n := len(m.stack)
		top := append([]byte(nil), m.stack[n-1]...)
		m.stack = append(m.stack, nil)
		copy(m.stack[n-1:], m.stack[n-2:n])
		m.stack[n-2] = top
		return nil
	case OpSize:
		v, err := m.peek(0)
		if err != nil {
			return err
		}
		return m.push(encodeScriptNum(int64(len(v))))

	case OpEqual, OpEqualVerify:
		a, err := m.pop()
		if err != nil {
			return err
		}
		b, err := m.pop()
		if err != nil {
			return err
		}
		eq := bytes.Equal(a, b)
		if op.Code == OpEqualVerify {
			if !eq {
				return chain.NewError(chain.ErrInvalidScript, "EQUALVERIFY failed")
			}
			return nil
		}
		return m.push(fromBool(eq))

	case Op1Add, Op1Sub, OpNegate, OpAbs, OpNot, Op0NotEqual:
		v, err := m.popNum()
		if err != nil {
			return err
		}
		switch op.Code {
		case Op1Add:
			v++
		case Op1Sub:
			v--
		case OpNegate:
			v = -v
		case OpAbs:
			if v < 0 {
				v = -v
			}
		case OpNot:
			if v == 0 {
				v = 1
			} else {
				v = 0
			}
		case Op0NotEqual:
			if v != 0 {
				v = 1
			}
		}
		return m.push(encodeScriptNum(v))

	case OpAdd, OpSub, OpBoolAnd, OpBoolOr, OpNumEqual, OpNumEqualVerify,
		OpNumNotEqual, OpLessThan, OpGreaterThan, OpMin, OpMax:
		b, err := m.popNum()
		if err != nil {
			return err
		}
		a, err := m.popNum()
		if err != nil {
			return err
		}
		var v int64
		switch op.Code {
		case OpAdd:
			v = a + b
		case OpSub:
			v = a - b
		case OpBoolAnd:
			v = boolToNum(a != 0 && b != 0)
		case OpBoolOr:
			v = boolToNum(a != 0 || b != 0)
		case OpNumEqual:
			v = boolToNum(a == b)
		case OpNumEqualVerify:
			if a != b {
				return chain.NewError(chain.ErrInvalidScript, "NUMEQUALVERIFY failed")
			}
			return nil
		case OpNumNotEqual:
			v = boolToNum(a != b)
		case OpLessThan:
			v = boolToNum(a < b)
		case OpGreaterThan:
			v = boolToNum(a > b)
		case OpMin:
			v = a
			if b < a {
				v = b
			}
		case OpMax:
			v = a
			if b > a {
				v = b
			}
		}
		return m.push(encodeScriptNum(v))
	case OpWithin:
		max, err := m.popNum()
		if err != nil {
			return err
		}
		min, err := m.popNum()
		if err != nil {
			return err
		}
		x, err := m.popNum()
		if err != nil {
			return err
		}
		return m.push(fromBool(x >= min && x < max))

	case OpRipemd160:
		v, err := m.pop()
		if err != nil {
			return err
		}
		h := ripemd160.New()
		h.Write(v)
		return m.push(h.Sum(nil))
	case OpSha256:
		v, err := m.pop()
		if err != nil {
			return err
		}
		sum := sha256.Sum256(v)
		return m.push(sum[:])
	case OpHash160:
		v, err := m.pop()
		if err != nil {
			return err
		}
		sum := chain.Bitcoin160(v)
		return m.push(sum[:])
	case OpHash256:
		v, err := m.pop()
		if err != nil {
			return err
		}
		sum := chain.Sha256d(v)
		return m.push(sum[:])

	case OpCheckSig, OpCheckSigVerify:
		pubkey, err := m.pop()
		if err != nil {
			return err
		}
		sig, err := m.pop()
		if err != nil {
			return err
		}
		ok := len(sig) > 0 &&
			CheckSignature(m.ctx.Tx, m.ctx.InputIndex, m.prevRaw, sig, pubkey)
		if op.Code == OpCheckSigVerify {
			if !ok {
				return chain.NewError(chain.ErrInvalidScript, "CHECKSIGVERIFY failed")
			}
			return nil
		}
		return m.push(fromBool(ok))

	case OpCheckMultiSig, OpCheckMultiSigVerify:
		ok, err := m.checkMultiSig()
		if err != nil {
			return err
		}
		if op.Code == OpCheckMultiSigVerify {
			if !ok {
				return chain.NewError(chain.ErrInvalidScript, "CHECKMULTISIGVERIFY failed")
			}
			return nil
		}
		return m.push(fromBool(ok))

	case OpCheckLockHeightVerify:
		if m.ctx.Flags&FlagVerifyLocks == 0 {
			return nil
		}
		v, err := m.peek(0)
		if err != nil {
			return err
		}
		lock, err := decodeScriptNum(v, 5)
		if err != nil || lock < 0 {
			return chain.NewError(chain.ErrInvalidScript, "bad lock height operand")
		}
		if m.ctx.SpendHeight < m.ctx.PrevoutHeight+uint64(lock) {
			return chain.Errorf(chain.ErrInvalidScript,
				"height lock not met: spend %d < origin %d + %d",
				m.ctx.SpendHeight, m.ctx.PrevoutHeight, lock)
		}
		return nil

	case OpCheckSequenceVerify:
		if m.ctx.Flags&FlagVerifyLocks == 0 {
			return nil
		}
		v, err := m.peek(0)
		if err != nil {
			return err
		}
		lock, err := decodeScriptNum(v, 5)
		if err != nil || lock < 0 {
			return chain.NewError(chain.ErrInvalidScript, "bad sequence lock operand")
		}
		if err := checkSequenceLock(uint32(lock), m.ctx); err != nil {
			return err
		}
		return nil

	case OpCheckAttenuationVerify:
		// The quantity schedule needs the UTXO view; the transaction
		// validator enforces it via the attenuation module.
		if len(m.stack) < 2 {
			return chain.NewError(chain.ErrInvalidScript, "stack underflow")
		}
		_, err := m.pop()
		return err

	default:
		return chain.Errorf(chain.ErrInvalidScript, "unknown opcode 0x%02x", byte(op.Code))
	}
}

func (m *vm) checkMultiSig() (bool, error) {
	nKeys, err := m.popNum()
	if err != nil {
		return false, err
	}
	if nKeys < 0 || nKeys > 20 {
		return false, chain.NewError(chain.ErrInvalidScript, "multisig key count out of range")
	}
	keys := make([][]byte, nKeys)
	for i := int(nKeys) - 1; i >= 0; i-- {
		if keys[i], err = m.pop(); err != nil {
			return false, err
		}
	}
	nSigs, err := m.popNum()
	if err != nil {
		return false, err
	}
	if nSigs < 0 || nSigs > nKeys {
		return false, chain.NewError(chain.ErrInvalidScript, "multisig signature count out of range")
	}
	sigs := make([][]byte, nSigs)
	for i := int(nSigs) - 1; i >= 0; i-- {
		if sigs[i], err = m.pop(); err != nil {
			return false, err
		}
	}
	// Historical off-by-one: an extra element is consumed.
	if _, err := m.pop(); err != nil {
		return false, err
	}

	ki := 0
	for _, sig := range sigs {
		matched := false
		for ; ki < len(keys); ki++ {
			if CheckSignature(m.ctx.Tx, m.ctx.InputIndex, m.prevRaw, sig, keys[ki]) {
				matched = true
				ki++
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// checkSequenceLock applies the BIP68-style relative lock encoded in lock to
// the spending input's sequence and elapsed chain distance.
func checkSequenceLock(lock uint32, ctx *Context) error {
	seq := ctx.Tx.Inputs[ctx.InputIndex].Sequence
	if seq&chain.RelativeLocktimeDisabled != 0 {
		return chain.NewError(chain.ErrInvalidScript, "sequence lock disabled by input")
	}
	// Units must agree.
	if lock&chain.RelativeLocktimeTimeFlag != seq&chain.RelativeLocktimeTimeFlag {
		return chain.NewError(chain.ErrInvalidScript, "sequence lock unit mismatch")
	}
	if seq&chain.RelativeLocktimeMask < lock&chain.RelativeLocktimeMask {
		return chain.Errorf(chain.ErrInvalidScript,
			"sequence lock not met: %d < %d",
			seq&chain.RelativeLocktimeMask, lock&chain.RelativeLocktimeMask)
	}
	if lock&chain.RelativeLocktimeTimeFlag == 0 {
		elapsed := ctx.SpendHeight - ctx.PrevoutHeight
		if elapsed < uint64(lock&chain.RelativeLocktimeMask) {
			return chain.Errorf(chain.ErrInvalidScript,
				"relative height not reached: %d < %d",
				elapsed, lock&chain.RelativeLocktimeMask)
		}
	}
	return nil
}

func boolToNum(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
