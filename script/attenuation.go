package script

import (
	"strconv"
	"strings"

	"github.com/mvs-org/metaverse-go/chain"
)

// AttenuationModel is the per-period unlock schedule carried by the
// attenuation output template. The parameter blob is a semicolon-separated
// list of KEY=VALUE entries; list values separate items with commas.
//
//	PN  current period number
//	LH  blocks left in the current period
//	TYPE 1 = fixed quantity/fixed cycle, 2 = custom lists
//	LQ  total locked quantity
//	LP  total locked period in blocks
//	UN  number of unlock periods
//	UC  custom period lengths (TYPE 2)
//	UQ  custom period quantities (TYPE 2)
type AttenuationModel struct {
	Type          int
	PeriodNumber  int
	LeftHeight    uint64
	LockedQuantity uint64
	LockedPeriod   uint64
	UnlockNumber   int
	Cycles         []uint64
	Quantities     []uint64
}

// Model type tags.
const (
	AttenuationFixedQuantity = 1
	AttenuationCustom        = 2
)

// ParseAttenuationModel decodes a model parameter blob.
func ParseAttenuationModel(param []byte) (*AttenuationModel, error) {
	m := &AttenuationModel{}
	seen := map[string]bool{}
	for _, field := range strings.Split(string(param), ";") {
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, chain.Errorf(chain.ErrInvalidScript, "attenuation field %q lacks '='", field)
		}
		if seen[key] {
			return nil, chain.Errorf(chain.ErrInvalidScript, "attenuation field %q repeated", key)
		}
		seen[key] = true
		var err error
		switch key {
		case "PN":
			m.PeriodNumber, err = strconv.Atoi(value)
		case "LH":
			m.LeftHeight, err = strconv.ParseUint(value, 10, 64)
		case "TYPE":
			m.Type, err = strconv.Atoi(value)
		case "LQ":
			m.LockedQuantity, err = strconv.ParseUint(value, 10, 64)
		case "LP":
			m.LockedPeriod, err = strconv.ParseUint(value, 10, 64)
		case "UN":
			m.UnlockNumber, err = strconv.Atoi(value)
		case "UC":
			m.Cycles, err = parseUintList(value)
		case "UQ":
			m.Quantities, err = parseUintList(value)
		default:
			return nil, chain.Errorf(chain.ErrInvalidScript, "unknown attenuation field %q", key)
		}
		if err != nil {
			return nil, chain.Errorf(chain.ErrInvalidScript, "attenuation field %q: %v", key, err)
		}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseUintList(value string) ([]uint64, error) {
	parts := strings.Split(value, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *AttenuationModel) validate() error {
	if m.LockedQuantity == 0 || m.UnlockNumber <= 0 {
		return chain.NewError(chain.ErrInvalidScript, "attenuation model missing LQ/UN")
	}
	switch m.Type {
	case AttenuationFixedQuantity:
		if m.LockedPeriod == 0 || m.LockedPeriod < uint64(m.UnlockNumber) {
			return chain.NewError(chain.ErrInvalidScript, "attenuation LP too small for UN")
		}
	case AttenuationCustom:
		if len(m.Cycles) != m.UnlockNumber || len(m.Quantities) != m.UnlockNumber {
			return chain.NewError(chain.ErrInvalidScript, "attenuation UC/UQ length mismatch")
		}
		var total uint64
		for _, q := range m.Quantities {
			total += q
		}
		if total != m.LockedQuantity {
			return chain.NewError(chain.ErrInvalidScript, "attenuation UQ sum differs from LQ")
		}
	default:
		return chain.Errorf(chain.ErrInvalidScript, "unknown attenuation type %d", m.Type)
	}
	if m.PeriodNumber < 0 || m.PeriodNumber > m.UnlockNumber {
		return chain.NewError(chain.ErrInvalidScript, "attenuation PN out of range")
	}
	return nil
}

// PeriodQuantity returns the quantity that unlocks at period n (1-based).
func (m *AttenuationModel) PeriodQuantity(n int) uint64 {
	if n < 1 || n > m.UnlockNumber {
		return 0
	}
	if m.Type == AttenuationCustom {
		return m.Quantities[n-1]
	}
	base := m.LockedQuantity / uint64(m.UnlockNumber)
	if n == m.UnlockNumber {
		return m.LockedQuantity - base*uint64(m.UnlockNumber-1)
	}
	return base
}

// PeriodLength returns the block length of period n (1-based).
func (m *AttenuationModel) PeriodLength(n int) uint64 {
	if n < 1 || n > m.UnlockNumber {
		return 0
	}
	if m.Type == AttenuationCustom {
		return m.Cycles[n-1]
	}
	return m.LockedPeriod / uint64(m.UnlockNumber)
}

// LockedRemaining sums the quantity still locked after the current period.
func (m *AttenuationModel) LockedRemaining() uint64 {
	var locked uint64
	for n := m.PeriodNumber + 1; n <= m.UnlockNumber; n++ {
		locked += m.PeriodQuantity(n)
	}
	return locked
}

// Elapse advances the model by elapsed blocks, returning the successor model
// and the quantity that became spendable.
func (m *AttenuationModel) Elapse(elapsed uint64) (AttenuationModel, uint64) {
	next := *m
	next.Cycles = append([]uint64(nil), m.Cycles...)
	next.Quantities = append([]uint64(nil), m.Quantities...)

	var unlocked uint64
	for elapsed > 0 && next.PeriodNumber < next.UnlockNumber {
		if elapsed < next.LeftHeight {
			next.LeftHeight -= elapsed
			break
		}
		elapsed -= next.LeftHeight
		next.PeriodNumber++
		unlocked += next.PeriodQuantity(next.PeriodNumber)
		next.LeftHeight = next.PeriodLength(next.PeriodNumber + 1)
	}
	return next, unlocked
}

// String renders the canonical parameter form.
func (m *AttenuationModel) String() string {
	var b strings.Builder
	b.WriteString("PN=")
	b.WriteString(strconv.Itoa(m.PeriodNumber))
	b.WriteString(";LH=")
	b.WriteString(strconv.FormatUint(m.LeftHeight, 10))
	b.WriteString(";TYPE=")
	b.WriteString(strconv.Itoa(m.Type))
	b.WriteString(";LQ=")
	b.WriteString(strconv.FormatUint(m.LockedQuantity, 10))
	b.WriteString(";LP=")
	b.WriteString(strconv.FormatUint(m.LockedPeriod, 10))
	b.WriteString(";UN=")
	b.WriteString(strconv.Itoa(m.UnlockNumber))
	if m.Type == AttenuationCustom {
		b.WriteString(";UC=")
		b.WriteString(joinUints(m.Cycles))
		b.WriteString(";UQ=")
		b.WriteString(joinUints(m.Quantities))
	}
	return b.String()
}

func joinUints(vs []uint64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ",")
}

// CheckAttenuationTransfer verifies that spending an attenuated asset output
// preserves the model: the new output must carry the elapsed model and keep
// at least the still-locked quantity. Addresses are not compared here; the
// caller chooses which output is checked.
func CheckAttenuationTransfer(prevParam, newParam []byte, elapsed uint64, newLockedQuantity uint64) error {
	prev, err := ParseAttenuationModel(prevParam)
	if err != nil {
		return err
	}
	want, _ := prev.Elapse(elapsed)
	got, err := ParseAttenuationModel(newParam)
	if err != nil {
		return err
	}
	if got.String() != want.String() {
		return chain.NewError(chain.ErrInvalidScript, "attenuation model not preserved")
	}
	if newLockedQuantity < want.LockedRemaining() {
		return chain.Errorf(chain.ErrInvalidScript,
			"attenuated output keeps %d, needs %d locked", newLockedQuantity, want.LockedRemaining())
	}
	return nil
}
