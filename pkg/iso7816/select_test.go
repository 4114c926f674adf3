package iso7816

import (
	"fmt"
	"testing"

	"github.com/gregLibert/cardsec/pkg/tlv"
)

func TestNewSelectCommand(t *testing.T) {
	basic, _ := NewClass(0x00)
	ch2, _ := NewInterindustryClass(false, SMNone, 2)

	tests := []struct {
		name string
		cmd  *CommandAPDU
		want string
	}{
		{
			name: "application on channel 2, no Le with data",
			cmd:  SelectByAID(ch2, tlv.Hex("A0 00 00 00 62 03 01 0C 06 01")),
			want: "02A404000AA0000000620301 0C0601",
		},
		{
			name: "master file, Le 256 without data",
			cmd:  NewSelectCommand(basic, SelectByFileID, FirstOrOnlyOccurrence, ReturnFCI, nil),
			want: "00A4000000",
		},
		{
			name: "next occurrence, FCP",
			cmd:  NewSelectCommand(basic, SelectByFileID, NextOccurrence, ReturnFCP, tlv.Hex("3F00")),
			want: "00A40006023F00",
		},
		{
			name: "no response data",
			cmd:  NewSelectCommand(basic, SelectParentDF, FirstOrOnlyOccurrence, ReturnNoData, nil),
			want: "00A4030C",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cmd.Bytes()
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			if want := fmt.Sprintf("%X", tlv.Hex(tc.want)); fmt.Sprintf("%X", got) != want {
				t.Errorf("SELECT = %X, want %s", got, want)
			}
		})
	}
}

func TestSelectP2(t *testing.T) {
	for ctrl := ReturnFCI; ctrl <= ReturnNoData; ctrl++ {
		for occ := FirstOrOnlyOccurrence; occ <= PreviousOccurrence; occ++ {
			p2 := SelectP2(ctrl, occ)
			if gotCtrl, gotOcc := SplitSelectP2(p2); gotCtrl != ctrl || gotOcc != occ {
				t.Errorf("P2 %02X splits into (%s, %s), want (%s, %s)", p2, gotCtrl, gotOcc, ctrl, occ)
			}
		}
	}
	if p2 := SelectP2(ReturnFMD, LastOccurrence); p2 != 0x09 {
		t.Errorf("SelectP2(FMD, last) = %02X, want 09", p2)
	}
}

func TestIsApplicationSelect(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"00A4040005A000000003", true},
		{"03A4040C05A000000003", true},
		{"00A40000023F00", false},
		{"00B0000010", false},
	}
	for _, tc := range tests {
		cmd, err := ParseCommandAPDU(tlv.Hex(tc.raw))
		if err != nil {
			t.Fatalf("ParseCommandAPDU(%s): %v", tc.raw, err)
		}
		if got := IsApplicationSelect(cmd); got != tc.want {
			t.Errorf("IsApplicationSelect(%s) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
