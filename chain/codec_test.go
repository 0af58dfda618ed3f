package chain

import (
	"bytes"
	"math/big"
	"reflect"
	"testing"
)

func sampleHeader() *Header {
	var prev, merkle [32]byte
	for i := range prev {
		prev[i] = byte(i)
		merkle[i] = byte(0x80 + i)
	}
	return &Header{
		Version:   BlockVersionPoW,
		Previous:  prev,
		Merkle:    merkle,
		Timestamp: 1486796400,
		Bits:      big.NewInt(300000),
		Nonce:     0xdeadbeefcafe,
		MixHash:   new(big.Int).SetBytes(bytes.Repeat([]byte{0x5a}, 32)),
		Number:    42,
	}
}

func TestHeaderRoundTripBothShapes(t *testing.T) {
	for _, withCount := range []bool{false, true} {
		h := sampleHeader()
		h.TransactionCount = 3
		w := NewWriter()
		h.Encode(w, withCount)
		if got := w.Len(); got != h.SerializedSize(withCount) {
			t.Fatalf("withCount=%v: encoded %d bytes, SerializedSize says %d",
				withCount, got, h.SerializedSize(withCount))
		}
		var back Header
		cur := NewCursor(w.Bytes())
		if err := back.Decode(cur, withCount); err != nil {
			t.Fatalf("withCount=%v: %v", withCount, err)
		}
		if !cur.Exhausted() {
			t.Fatalf("withCount=%v: %d trailing bytes", withCount, cur.Remaining())
		}
		if back.Version != h.Version || back.Previous != h.Previous ||
			back.Merkle != h.Merkle || back.Timestamp != h.Timestamp ||
			back.Bits.Cmp(h.Bits) != 0 || back.Nonce != h.Nonce ||
			back.MixHash.Cmp(h.MixHash) != 0 || back.Number != h.Number {
			t.Fatalf("withCount=%v: header fields changed in round trip", withCount)
		}
		if withCount && back.TransactionCount != 3 {
			t.Fatalf("tx count round-tripped to %d", back.TransactionCount)
		}

		// encode(decode(b)) must reproduce b bit-exactly.
		w2 := NewWriter()
		back.Encode(w2, withCount)
		if !bytes.Equal(w.Bytes(), w2.Bytes()) {
			t.Fatalf("withCount=%v: re-encode differs", withCount)
		}
	}
}

func TestHeaderHashMemoized(t *testing.T) {
	h := sampleHeader()
	first := h.Hash()
	if second := h.Hash(); second != first {
		t.Fatal("memoized hash changed")
	}
	h.Nonce++
	h.InvalidateHash()
	if third := h.Hash(); third == first {
		t.Fatal("hash unchanged after nonce mutation")
	}
}

func sampleAttachments() []Attachment {
	return []Attachment{
		NewEtpAttachment(5_0000_0000),
		{Type: AttachmentTypeEtpAward, Payload: &EtpAwardPayload{Height: 99}},
		{Type: AttachmentTypeMessage, Payload: &Message{Content: "hello chain"}},
		{
			Type: AttachmentTypeAsset,
			Payload: &Asset{
				Status: AssetStatusDetail,
				Detail: &AssetDetail{
					Symbol:      "MVS.FOO",
					MaxSupply:   1000,
					Decimals:    4,
					Threshold:   51,
					Issuer:      "issuerdid",
					Address:     "MAddRess",
					Description: "a test asset",
				},
			},
		},
		{
			Type:    AttachmentTypeAsset,
			Payload: &Asset{Status: AssetStatusTransfer, Transfer: &AssetTransfer{Symbol: "MVS.FOO", Quantity: 77}},
		},
		{
			Type: AttachmentTypeAssetCert,
			Payload: &AssetCert{
				Symbol: "MVS", OwnerDid: "owner", Address: "MAddr",
				Type: CertDomain, Status: CertStatusIssue,
			},
		},
		{
			Type:    AttachmentTypeDid,
			Payload: &Did{Status: DidStatusRegister, Symbol: "alice", Address: "MAliceAddr"},
		},
		func() Attachment {
			m := NewMitRegister("MIT.ONE", "MAddr", "content blob")
			return Attachment{Type: AttachmentTypeAssetMit, Payload: &m}
		}(),
		func() Attachment {
			m := NewMitTransfer("MIT.ONE", "MOther")
			return Attachment{Type: AttachmentTypeAssetMit, Payload: &m}
		}(),
		{
			Version: DidAttachVerifyVersion,
			Type:    AttachmentTypeEtp,
			ToDid:   "bob",
			FromDid: "alice",
			Payload: &EtpPayload{Value: 123},
		},
		NewNullAttachment(),
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	for i, a := range sampleAttachments() {
		w := NewWriter()
		a.Encode(w)
		if got := w.Len(); got != a.SerializedSize() {
			t.Fatalf("attachment %d: encoded %d bytes, SerializedSize says %d", i, got, a.SerializedSize())
		}
		var back Attachment
		cur := NewCursor(w.Bytes())
		if err := back.Decode(cur); err != nil {
			t.Fatalf("attachment %d: %v", i, err)
		}
		if !cur.Exhausted() {
			t.Fatalf("attachment %d: %d trailing bytes", i, cur.Remaining())
		}
		if !reflect.DeepEqual(a, back) {
			t.Fatalf("attachment %d changed in round trip:\n%+v\n%+v", i, a, back)
		}
	}
}

func TestAttachmentUnknownTypeRejected(t *testing.T) {
	w := NewWriter()
	w.WriteU32(1)
	w.WriteU32(9999)
	var a Attachment
	err := a.Decode(NewCursor(w.Bytes()))
	if !ErrorIs(err, ErrAttachmentInvalid) {
		t.Fatalf("want attachment_invalid, got %v", err)
	}
}

func TestAssetInconsistentInnerTagRejected(t *testing.T) {
	w := NewWriter()
	w.WriteU32(1)
	w.WriteU32(AttachmentTypeAsset)
	w.WriteU32(7) // neither detail nor transfer
	var a Attachment
	err := a.Decode(NewCursor(w.Bytes()))
	if !ErrorIs(err, ErrAttachmentInvalid) {
		t.Fatalf("want attachment_invalid, got %v", err)
	}
}

func sampleTransaction() *Transaction {
	var prev [32]byte
	prev[0] = 0xaa
	return &Transaction{
		Version: 1,
		Inputs: []Input{{
			PreviousOutput: OutputPoint{Hash: prev, Index: 1},
			Script:         []byte{0x01, 0x02, 0x03},
			Sequence:       MaxInputSequence,
		}},
		Outputs: []Output{{
			Value:      49_0000_0000,
			Script:     bytes.Repeat([]byte{0x51}, 25),
			Attachment: NewEtpAttachment(49_0000_0000),
		}},
		Locktime: 0,
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := sampleTransaction()
	raw := tx.Serialize()
	if len(raw) != tx.SerializedSize() {
		t.Fatalf("encoded %d bytes, SerializedSize says %d", len(raw), tx.SerializedSize())
	}
	back, err := DecodeTransaction(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.Serialize(), raw) {
		t.Fatal("transaction re-encode differs")
	}
	if back.Hash() != tx.Hash() {
		t.Fatal("transaction id changed in round trip")
	}
}

func TestTransactionTrailingBytesRejected(t *testing.T) {
	raw := append(sampleTransaction().Serialize(), 0x00)
	if _, err := DecodeTransaction(raw); !ErrorIs(err, ErrShortRead) {
		t.Fatalf("want short_read, got %v", err)
	}
}

func TestBlockRoundTrip(t *testing.T) {
	block := &Block{
		Header:       *sampleHeader(),
		Transactions: []Transaction{*sampleTransaction()},
	}
	block.Header.Merkle = GenerateMerkleRoot(block.Transactions)
	raw := block.Serialize()
	back, err := DecodeBlock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.Serialize(), raw) {
		t.Fatal("block re-encode differs")
	}
	if back.Hash() != block.Hash() {
		t.Fatal("block hash changed in round trip")
	}
}

func TestBlockWithSignatureRoundTrip(t *testing.T) {
	block := &Block{
		Header:       *sampleHeader(),
		Transactions: []Transaction{*sampleTransaction()},
	}
	block.Header.Version = BlockVersionDPoS
	block.BlockSig = bytes.Repeat([]byte{0x11}, 70)
	block.PublicKey = bytes.Repeat([]byte{0x22}, 33)
	block.Header.Merkle = GenerateMerkleRoot(block.Transactions)

	raw := block.Serialize()
	back, err := DecodeBlock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.BlockSig, block.BlockSig) || !bytes.Equal(back.PublicKey, block.PublicKey) {
		t.Fatal("signature material changed in round trip")
	}
	if !bytes.Equal(back.Serialize(), raw) {
		t.Fatal("block re-encode differs")
	}
}

func TestBlockShortReadRejected(t *testing.T) {
	block := &Block{
		Header:       *sampleHeader(),
		Transactions: []Transaction{*sampleTransaction()},
	}
	raw := block.Serialize()
	for _, cut := range []int{1, 10, 80, len(raw) - 1} {
		if _, err := DecodeBlock(raw[:cut]); err == nil {
			t.Fatalf("truncation at %d accepted", cut)
		}
	}
}
