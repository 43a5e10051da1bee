package requestid

import (
	"encoding/hex"
	"testing"
)

func TestNew(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if len(id) != 32 {
		t.Fatalf("New() len=%d, want 32", len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Fatalf("New()=%q not hex: %v", id, err)
	}
}

func TestNew_Unique(t *testing.T) {
	a, _ := New()
	b, _ := New()
	if a == b {
		t.Fatalf("New() returned duplicate id %q", a)
	}
}
