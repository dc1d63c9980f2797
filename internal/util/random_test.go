package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("lead_", 16)
	if !strings.HasPrefix(id, "lead_") {
		t.Errorf("expected prefix lead_, got %s", id)
	}
	if len(id) != len("lead_")+16 {
		t.Errorf("unexpected length %d for %s", len(id), id)
	}
}

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(32)
	if len(hex) != 32 {
		t.Fatalf("expected 32 chars, got %d", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("non-hex character %q in %s", c, hex)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should return empty string")
	}

	// Collisions across a handful of draws would indicate a broken generator.
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		h := GenerateRandomHex(32)
		if seen[h] {
			t.Fatalf("duplicate hex string generated: %s", h)
		}
		seen[h] = true
	}
}

func TestGenerateJobID(t *testing.T) {
	id := GenerateJobID()
	if !strings.HasPrefix(id, "job_") {
		t.Errorf("expected job_ prefix, got %s", id)
	}
}
