package chain

// Attachment type tags. Every output carries exactly one attachment; the tag
// decides the payload shape that follows on the wire.
const (
	AttachmentTypeEtp       uint32 = 0
	AttachmentTypeEtpAward  uint32 = 1
	AttachmentTypeAsset     uint32 = 2
	AttachmentTypeMessage   uint32 = 3
	AttachmentTypeDid       uint32 = 4
	AttachmentTypeAssetCert uint32 = 5
	AttachmentTypeAssetMit  uint32 = 6
	AttachmentTypeNull      uint32 = 0xffffffff
)

// DidAttachVerifyVersion marks attachments that carry the optional
// from_did/to_did sender/receiver binding.
const DidAttachVerifyVersion uint32 = 207

// AttachmentPayload is one arm of the attachment union.
type AttachmentPayload interface {
	Decode(cur *Cursor) error
	Encode(w *Writer)
	SerializedSize() int
	IsValid() bool
}

// Attachment is the typed payload every output carries: native coin, award,
// message, asset, certificate, DID or MIT. When Version equals
// DidAttachVerifyVersion the two DID binding fields are serialized as well.
type Attachment struct {
	Version uint32
	Type    uint32
	ToDid   string
	FromDid string
	Payload AttachmentPayload
}

// NewEtpAttachment builds the plain-coin attachment carried by ordinary
// value outputs.
func NewEtpAttachment(value uint64) Attachment {
	return Attachment{Type: AttachmentTypeEtp, Payload: &EtpPayload{Value: value}}
}

// NewNullAttachment builds the empty attachment used by marker outputs
// (the first output of a coinstake).
func NewNullAttachment() Attachment {
	return Attachment{Type: AttachmentTypeNull}
}

func payloadForType(t uint32) (AttachmentPayload, bool) {
	switch t {
	case AttachmentTypeEtp:
		return &EtpPayload{}, true
	case AttachmentTypeEtpAward:
		return &EtpAwardPayload{}, true
	case AttachmentTypeAsset:
		return &Asset{}, true
	case AttachmentTypeMessage:
		return &Message{}, true
	case AttachmentTypeDid:
		return &Did{}, true
	case AttachmentTypeAssetCert:
		return &AssetCert{}, true
	case AttachmentTypeAssetMit:
		return &AssetMit{}, true
	case AttachmentTypeNull:
		return nil, true
	default:
		return nil, false
	}
}

func (a *Attachment) Decode(cur *Cursor) error {
	version, err := cur.ReadU32()
	if err != nil {
		return err
	}
	typ, err := cur.ReadU32()
	if err != nil {
		return err
	}
	var toDid, fromDid string
	if version == DidAttachVerifyVersion {
		if toDid, err = cur.ReadString("to_did"); err != nil {
			return err
		}
		if fromDid, err = cur.ReadString("from_did"); err != nil {
			return err
		}
	}
	payload, ok := payloadForType(typ)
	if !ok {
		return Errorf(ErrAttachmentInvalid, "unknown attachment type %d", typ)
	}
	if payload != nil {
		if err := payload.Decode(cur); err != nil {
			return err
		}
	}
	*a = Attachment{
		Version: version,
		Type:    typ,
		ToDid:   toDid,
		FromDid: fromDid,
		Payload: payload,
	}
	return nil
}

func (a *Attachment) Encode(w *Writer) {
	w.WriteU32(a.Version)
	w.WriteU32(a.Type)
	if a.Version == DidAttachVerifyVersion {
		w.WriteString(a.ToDid)
		w.WriteString(a.FromDid)
	}
	if a.Payload != nil {
		a.Payload.Encode(w)
	}
}

func (a *Attachment) SerializedSize() int {
	size := 4 + 4
	if a.Version == DidAttachVerifyVersion {
		size += VarintSize(uint64(len(a.ToDid))) + len(a.ToDid)
		size += VarintSize(uint64(len(a.FromDid))) + len(a.FromDid)
	}
	if a.Payload != nil {
		size += a.Payload.SerializedSize()
	}
	return size
}

// IsValid reports whether the tag is known and the payload self-checks.
func (a *Attachment) IsValid() bool {
	if a.Type == AttachmentTypeNull {
		return a.Payload == nil
	}
	if _, ok := payloadForType(a.Type); !ok {
		return false
	}
	return a.Payload != nil && a.Payload.IsValid()
}

// HasDidBinding reports whether the from/to DID fields are serialized.
func (a *Attachment) HasDidBinding() bool {
	return a.Version == DidAttachVerifyVersion
}

// EtpPayload carries a plain ETP value mirror of the output value.
type EtpPayload struct {
	Value uint64
}

func (p *EtpPayload) Decode(cur *Cursor) error {
	v, err := cur.ReadU64()
	if err != nil {
		return err
	}
	p.Value = v
	return nil
}

func (p *EtpPayload) Encode(w *Writer)      { w.WriteU64(p.Value) }
func (p *EtpPayload) SerializedSize() int   { return 8 }
func (p *EtpPayload) IsValid() bool         { return true }

// EtpAwardPayload records the height a coinage/stake award was granted at.
type EtpAwardPayload struct {
	Height uint64
}

func (p *EtpAwardPayload) Decode(cur *Cursor) error {
	v, err := cur.ReadU64()
	if err != nil {
		return err
	}
	p.Height = v
	return nil
}

func (p *EtpAwardPayload) Encode(w *Writer)    { w.WriteU64(p.Height) }
func (p *EtpAwardPayload) SerializedSize() int { return 8 }
func (p *EtpAwardPayload) IsValid() bool       { return true }

// Message is an opaque on-chain note.
type Message struct {
	Content string
}

// MaxMessageSize bounds a message attachment payload.
const MaxMessageSize = 300

func (p *Message) Decode(cur *Cursor) error {
	s, err := cur.ReadString("message")
	if err != nil {
		return err
	}
	p.Content = s
	return nil
}

func (p *Message) Encode(w *Writer) { w.WriteString(p.Content) }

func (p *Message) SerializedSize() int {
	return VarintSize(uint64(len(p.Content))) + len(p.Content)
}

func (p *Message) IsValid() bool { return len(p.Content) <= MaxMessageSize }
