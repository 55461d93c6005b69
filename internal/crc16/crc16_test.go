package crc16

import "testing"

func TestChecksum_KnownVector(t *testing.T) {
	if got := Checksum([]byte("123456789")); got != 0x31C3 {
		t.Fatalf("crc16(123456789) = 0x%04X, want 0x31C3", got)
	}
}

func TestSlot_HashTag(t *testing.T) {
	a := Slot([]byte("user:{42}:profile"), 16)
	b := Slot([]byte("user:{42}:sessions"), 16)
	if a != b {
		t.Fatalf("keys sharing a hash tag routed to different slots: %d != %d", a, b)
	}
}

func TestSlot_NoTagDiffers(t *testing.T) {
	// Not a strict property, but sanity: distinct untagged keys usually land
	// on different slots often enough to catch a trivially-broken Slot.
	seen := map[int]bool{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		seen[Slot([]byte(k), 16)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("Slot appears constant across distinct keys")
	}
}
