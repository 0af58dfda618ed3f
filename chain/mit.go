package chain

// MIT status values. The wire form carries content only on registration; the
// store form adds mitStatusShortOffset to record that no content follows.
const (
	MitStatusNone     uint8 = 0
	MitStatusRegister uint8 = 1
	MitStatusTransfer uint8 = 2
)

const (
	mitStatusMask        uint8 = 0x7f
	mitStatusShortOffset uint8 = 0x80
)

// Field caps for MIT records.
const (
	MitSymbolMaxSize  = 64
	MitContentMaxSize = 256
)

// AssetMit is a named non-fungible item: registered once, then transferred
// whole.
type AssetMit struct {
	rawStatus uint8
	Symbol    string
	Address   string
	Content   string
}

// NewMitRegister builds a registration with content.
func NewMitRegister(symbol, address, content string) AssetMit {
	return AssetMit{rawStatus: MitStatusRegister, Symbol: symbol, Address: address, Content: content}
}

// NewMitTransfer builds a transfer of an existing MIT.
func NewMitTransfer(symbol, address string) AssetMit {
	return AssetMit{rawStatus: MitStatusTransfer, Symbol: symbol, Address: address}
}

// Status returns the status with the short-form offset stripped.
func (m *AssetMit) Status() uint8 { return m.rawStatus & mitStatusMask }

// SetStatus sets the status, clearing any short-form offset.
func (m *AssetMit) SetStatus(status uint8) { m.rawStatus = status & mitStatusMask }

// IsRegister reports a full registration record (content present).
func (m *AssetMit) IsRegister() bool { return m.rawStatus == MitStatusRegister }

// IsTransfer reports a transfer record.
func (m *AssetMit) IsTransfer() bool { return m.rawStatus == MitStatusTransfer }

// IsShortForm reports the store encoding that elides content.
func (m *AssetMit) IsShortForm() bool { return m.rawStatus&mitStatusShortOffset != 0 }

func (m *AssetMit) Decode(cur *Cursor) error {
	status, err := cur.ReadU8()
	if err != nil {
		return err
	}
	symbol, err := cur.ReadString("mit_symbol")
	if err != nil {
		return err
	}
	address, err := cur.ReadString("mit_address")
	if err != nil {
		return err
	}
	var content string
	if status == MitStatusRegister {
		if content, err = cur.ReadString("mit_content"); err != nil {
			return err
		}
	}
	*m = AssetMit{rawStatus: status, Symbol: symbol, Address: address, Content: content}
	return nil
}

func (m *AssetMit) Encode(w *Writer) {
	w.WriteU8(m.rawStatus)
	w.WriteString(m.Symbol)
	w.WriteString(m.Address)
	if m.rawStatus == MitStatusRegister {
		w.WriteString(m.Content)
	}
}

// EncodeShort writes the store form: the status carries the short offset and
// the content is elided regardless of status.
func (m *AssetMit) EncodeShort(w *Writer) {
	w.WriteU8(m.Status() + mitStatusShortOffset)
	w.WriteString(m.Symbol)
	w.WriteString(m.Address)
}

func (m *AssetMit) SerializedSize() int {
	size := 1 +
		VarintSize(uint64(len(m.Symbol))) + len(m.Symbol) +
		VarintSize(uint64(len(m.Address))) + len(m.Address)
	if m.rawStatus == MitStatusRegister {
		size += VarintSize(uint64(len(m.Content))) + len(m.Content)
	}
	return size
}

func (m *AssetMit) IsValid() bool {
	if m.Symbol == "" || len(m.Symbol) > MitSymbolMaxSize {
		return false
	}
	switch m.Status() {
	case MitStatusRegister:
		return len(m.Content) <= MitContentMaxSize
	case MitStatusTransfer:
		return m.Content == "" || m.IsShortForm()
	default:
		return false
	}
}
