package chain

// DID status values: a registration binds a fresh symbol, a transfer moves it.
const (
	DidStatusNone     uint32 = 0
	DidStatusRegister uint32 = 1
	DidStatusTransfer uint32 = 2
)

// DidSymbolMaxSize caps DID symbols.
const DidSymbolMaxSize = 64

// Did binds a chain-wide unique symbol to an address.
type Did struct {
	Status  uint32
	Symbol  string
	Address string
}

func (d *Did) Decode(cur *Cursor) error {
	status, err := cur.ReadU32()
	if err != nil {
		return err
	}
	if status != DidStatusRegister && status != DidStatusTransfer {
		return Errorf(ErrAttachmentInvalid, "unknown did status %d", status)
	}
	symbol, err := cur.ReadString("did_symbol")
	if err != nil {
		return err
	}
	address, err := cur.ReadString("did_address")
	if err != nil {
		return err
	}
	*d = Did{Status: status, Symbol: symbol, Address: address}
	return nil
}

func (d *Did) Encode(w *Writer) {
	w.WriteU32(d.Status)
	w.WriteString(d.Symbol)
	w.WriteString(d.Address)
}

func (d *Did) SerializedSize() int {
	return 4 +
		VarintSize(uint64(len(d.Symbol))) + len(d.Symbol) +
		VarintSize(uint64(len(d.Address))) + len(d.Address)
}

func (d *Did) IsValid() bool {
	return d.Symbol != "" &&
		len(d.Symbol) <= DidSymbolMaxSize &&
		d.Address != "" &&
		(d.Status == DidStatusRegister || d.Status == DidStatusTransfer)
}
