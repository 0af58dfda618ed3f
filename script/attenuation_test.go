package script

import (
	"testing"

	"github.com/mvs-org/metaverse-go/chain"
)

func TestParseAttenuationFixedModel(t *testing.T) {
	m, err := ParseAttenuationModel([]byte("PN=0;LH=100;TYPE=1;LQ=900;LP=300;UN=3"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != AttenuationFixedQuantity || m.LockedQuantity != 900 || m.UnlockNumber != 3 {
		t.Fatalf("parsed model %+v", m)
	}
	if q := m.PeriodQuantity(1); q != 300 {
		t.Fatalf("period 1 quantity %d, want 300", q)
	}
	if m.LockedRemaining() != 900 {
		t.Fatalf("initial locked %d, want 900", m.LockedRemaining())
	}
}

func TestParseAttenuationCustomModel(t *testing.T) {
	m, err := ParseAttenuationModel([]byte("PN=0;LH=10;TYPE=2;LQ=600;LP=60;UN=3;UC=10,20,30;UQ=100,200,300"))
	if err != nil {
		t.Fatal(err)
	}
	if m.PeriodQuantity(3) != 300 || m.PeriodLength(2) != 20 {
		t.Fatalf("custom schedule wrong: %+v", m)
	}
}

func TestParseAttenuationRejects(t *testing.T) {
	cases := []string{
		"",                                     // missing required fields
		"PN=0;LH=10;TYPE=9;LQ=1;LP=1;UN=1",     // unknown type
		"PN=0;LH=10;TYPE=2;LQ=5;UN=2;UC=1;UQ=1", // list length mismatch
		"PN=0;LH=10;TYPE=2;LQ=5;UN=1;UC=1;UQ=4", // UQ sum != LQ
		"PN=0;PN=1;LH=10;TYPE=1;LQ=9;LP=9;UN=3", // repeated field
		"LH;TYPE=1",                             // missing '='
	}
	for _, c := range cases {
		if _, err := ParseAttenuationModel([]byte(c)); !chain.ErrorIs(err, chain.ErrInvalidScript) {
			t.Fatalf("%q: want invalid_script, got %v", c, err)
		}
	}
}

func TestAttenuationElapse(t *testing.T) {
	m, err := ParseAttenuationModel([]byte("PN=0;LH=100;TYPE=1;LQ=900;LP=300;UN=3"))
	if err != nil {
		t.Fatal(err)
	}
	next, unlocked := m.Elapse(99)
	if unlocked != 0 || next.PeriodNumber != 0 || next.LeftHeight != 1 {
		t.Fatalf("99 blocks: unlocked=%d next=%+v", unlocked, next)
	}
	next, unlocked = m.Elapse(100)
	if unlocked != 300 || next.PeriodNumber != 1 {
		t.Fatalf("100 blocks: unlocked=%d next=%+v", unlocked, next)
	}
	next, unlocked = m.Elapse(10_000)
	if unlocked != 900 || next.LockedRemaining() != 0 {
		t.Fatalf("full elapse: unlocked=%d locked=%d", unlocked, next.LockedRemaining())
	}
}

func TestCheckAttenuationTransfer(t *testing.T) {
	prev := []byte("PN=0;LH=100;TYPE=1;LQ=900;LP=300;UN=3")
	// After 100 blocks one period unlocked; the continuation must carry the
	// elapsed model and keep 600 locked.
	good := []byte("PN=1;LH=100;TYPE=1;LQ=900;LP=300;UN=3")
	if err := CheckAttenuationTransfer(prev, good, 100, 600); err != nil {
		t.Fatalf("valid continuation rejected: %v", err)
	}
	if err := CheckAttenuationTransfer(prev, good, 100, 599); !chain.ErrorIs(err, chain.ErrInvalidScript) {
		t.Fatalf("underfunded continuation accepted: %v", err)
	}
	stale := []byte("PN=0;LH=100;TYPE=1;LQ=900;LP=300;UN=3")
	if err := CheckAttenuationTransfer(prev, stale, 100, 900); !chain.ErrorIs(err, chain.ErrInvalidScript) {
		t.Fatalf("stale model accepted: %v", err)
	}
}
