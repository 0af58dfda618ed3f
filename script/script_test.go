package script

import (
	"bytes"
	"testing"

	"github.com/mvs-org/metaverse-go/chain"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	ops := []Operation{
		{Code: OpDup},
		{Code: OpHash160},
		PushData(bytes.Repeat([]byte{0xab}, 20)),
		{Code: OpEqualVerify},
		{Code: OpCheckSig},
	}
	raw := Serialize(ops)
	back, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(Serialize(back), raw) {
		t.Fatal("script re-serialization differs")
	}
}

func TestParsePushDataForms(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"direct", bytes.Repeat([]byte{1}, 20)},
		{"pushdata1", bytes.Repeat([]byte{2}, 200)},
		{"pushdata2", bytes.Repeat([]byte{3}, 400)},
	}
	for _, tc := range cases {
		raw := Serialize([]Operation{PushData(tc.data)})
		ops, err := Parse(raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(ops) != 1 || !bytes.Equal(ops[0].Data, tc.data) {
			t.Fatalf("%s: push data changed", tc.name)
		}
	}
}

func TestParseTruncatedPushRejected(t *testing.T) {
	cases := [][]byte{
		{0x05, 0x01, 0x02},       // claims 5 bytes, has 2
		{byte(OpPushData1)},      // missing length
		{byte(OpPushData1), 10},  // missing data
		{byte(OpPushData2), 0x01}, // half length
	}
	for _, raw := range cases {
		if _, err := Parse(raw); !chain.ErrorIs(err, chain.ErrInvalidScript) {
			t.Fatalf("bytes % x: want invalid_script, got %v", raw, err)
		}
	}
}

func TestPushNumberMinimal(t *testing.T) {
	cases := []struct {
		v    int64
		code Opcode
	}{
		{0, Op0},
		{1, Op1},
		{16, Op16},
		{-1, Op1Negate},
	}
	for _, tc := range cases {
		if op := PushNumber(tc.v); op.Code != tc.code {
			t.Fatalf("PushNumber(%d) = 0x%02x, want 0x%02x", tc.v, byte(op.Code), byte(tc.code))
		}
	}
	op := PushNumber(1000)
	v, err := decodeScriptNum(op.Data, 5)
	if err != nil || v != 1000 {
		t.Fatalf("PushNumber(1000) decodes to %d, %v", v, err)
	}
}

func TestScriptNumRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 127, 128, -128, 255, 256, 0x7fffffff, -0x7fffffff} {
		enc := encodeScriptNum(v)
		got, err := decodeScriptNum(enc, 5)
		if err != nil {
			t.Fatalf("%d: %v", v, err)
		}
		if got != v {
			t.Fatalf("%d round-tripped to %d", v, got)
		}
	}
}

func TestCountSigOps(t *testing.T) {
	raw := Serialize([]Operation{
		{Code: OpDup}, {Code: OpCheckSig}, {Code: OpCheckSigVerify},
	})
	if got := CountRawSigOps(raw, false); got != 2 {
		t.Fatalf("checksig count %d, want 2", got)
	}

	multi := Serialize([]Operation{
		{Code: Op2}, {Code: OpCheckMultiSig},
	})
	if got := CountRawSigOps(multi, true); got != 2 {
		t.Fatalf("accurate multisig count %d, want 2", got)
	}
	if got := CountRawSigOps(multi, false); got != MultiSigDefaultSigOps {
		t.Fatalf("default multisig count %d, want %d", got, MultiSigDefaultSigOps)
	}
}
