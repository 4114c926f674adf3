package tlv

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/cardsec/pkg/fault"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		parts   []string
		want    []byte
		wantErr bool
	}{
		{name: "header", parts: []string{"00 A4", " 04 00 "}, want: []byte{0x00, 0xA4, 0x04, 0x00}},
		{name: "colon separated aid", parts: []string{"a0:00:00:00:03"}, want: []byte{0xA0, 0x00, 0x00, 0x00, 0x03}},
		{name: "multi-line", parts: []string{"6F 07\n\t84 05 A0 00 00 00 03"}, want: Hex("6F0784 05A0000000 03")},
		{name: "not hex", parts: []string{"ZZ"}, wantErr: true},
		{name: "odd length", parts: []string{"A0 0"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseHex(tc.parts...)
			if tc.wantErr {
				if !errors.Is(err, fault.ErrFormat) {
					t.Errorf("ParseHex = %X, %v; want a format error", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHex: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHexPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Hex did not panic on malformed input")
		}
	}()
	Hex("123")
}
