package bits

import "testing"

func TestBit(t *testing.T) {
	if got := Bit[uint8](8); got != 0x80 {
		t.Errorf("Bit[uint8](8) = %02X", got)
	}
	if got := Bit[uint8](9); got != 0 {
		t.Errorf("Bit[uint8](9) = %02X, want 0", got)
	}
	if got := Bit[uint32](32); got != 0x80000000 {
		t.Errorf("Bit[uint32](32) = %08X", got)
	}
	if got := Bit[uint16](0); got != 0 {
		t.Errorf("Bit[uint16](0) = %04X, want 0", got)
	}
}

func TestSetClear(t *testing.T) {
	cla := byte(0x00)
	cla = Set(cla, 5)
	cla = Set(cla, 7)
	if cla != 0x50 {
		t.Fatalf("Set = %02X, want 50", cla)
	}
	if !IsSet(cla, 7) || IsSet(cla, 8) {
		t.Errorf("IsSet mismatch on %02X", cla)
	}
	if cla = Clear(cla, 5); cla != 0x40 {
		t.Errorf("Clear = %02X, want 40", cla)
	}
}

func TestField(t *testing.T) {
	tests := []struct {
		name      string
		v         byte
		high, low uint
		want      byte
	}{
		{"secure messaging", 0x0C, 4, 3, 3},
		{"first interindustry channel", 0x03, 2, 1, 3},
		{"further interindustry channel", 0x4F, 4, 1, 0x0F},
		{"retry counter", 0xC2, 4, 1, 2},
		{"whole byte", 0xA5, 8, 1, 0xA5},
		{"inverted range", 0xFF, 1, 4, 0},
		{"out of range", 0xFF, 9, 1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Field(tc.v, tc.high, tc.low); got != tc.want {
				t.Errorf("Field(%02X, %d, %d) = %X, want %X", tc.v, tc.high, tc.low, got, tc.want)
			}
		})
	}
}

func TestWithField(t *testing.T) {
	if got := WithField(byte(0x80), 2, 1, 3); got != 0x83 {
		t.Errorf("WithField = %02X, want 83", got)
	}
	if got := WithField(byte(0xFF), 4, 3, 0); got != 0xF3 {
		t.Errorf("WithField = %02X, want F3", got)
	}
	// Bits of x beyond the field are dropped.
	if got := WithField(byte(0x00), 2, 1, 0x07); got != 0x03 {
		t.Errorf("WithField = %02X, want 03", got)
	}
	if got := WithField(uint32(0x00B00000), 32, 25, 0x80); got != 0x80B00000 {
		t.Errorf("WithField = %08X, want 80B00000", got)
	}
}

func TestMasked(t *testing.T) {
	// An APDU permission for READ BINARY with any P1 P2.
	want, mask := uint32(0x00B00000), uint32(0xFFFF0000)
	if !Masked(uint32(0x00B08001), want, mask) {
		t.Error("00B08001 should match 00B00000/FFFF0000")
	}
	if Masked(uint32(0x00D60000), want, mask) {
		t.Error("00D60000 should not match 00B00000/FFFF0000")
	}
	if !HasAll(uint16(0x0160), 0x0120) || HasAll(uint16(0x0160), 0x0009) {
		t.Error("HasAll mismatch")
	}
}
