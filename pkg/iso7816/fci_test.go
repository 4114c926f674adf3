package iso7816

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/tlv"
	"github.com/moov-io/bertlv"
)

func TestParseSelectData(t *testing.T) {
	fciP2 := SelectP2(ReturnFCI, FirstOrOnlyOccurrence)
	fcpP2 := SelectP2(ReturnFCP, FirstOrOnlyOccurrence)
	fmdP2 := SelectP2(ReturnFMD, FirstOrOnlyOccurrence)

	tests := []struct {
		name string
		data string
		p2   byte
		want *FileControlInfo
	}{
		{
			name: "FCP inside FCI",
			data: "6F 09 62 07 84 05 A000000001",
			p2:   fciP2,
			want: &FileControlInfo{FCP: &FCPTemplate{DFName: tlv.Hex("A000000001")}},
		},
		{
			name: "FMD inside FCI",
			data: "6F 07 64 05 50 03 414243",
			p2:   fciP2,
			want: &FileControlInfo{FMD: &FMDTemplate{Label: []byte("ABC")}},
		},
		{
			name: "FCP requested",
			data: "62 0B 84 05 A000000004 99 02 CAFE",
			p2:   fcpP2,
			want: &FileControlInfo{FCP: &FCPTemplate{
				DFName:  tlv.Hex("A000000004"),
				Unknown: []bertlv.TLV{{Tag: "99", Value: tlv.Hex("CAFE")}},
			}},
		},
		{
			name: "FMD requested",
			data: "64 05 50 03 58595A",
			p2:   fmdP2,
			want: &FileControlInfo{FMD: &FMDTemplate{Label: []byte("XYZ")}},
		},
		{
			name: "template-less FCI",
			data: "84 05 A000000003 50 01 41 9F65 01 FF",
			p2:   fciP2,
			want: &FileControlInfo{
				FCP:     &FCPTemplate{DFName: tlv.Hex("A000000003")},
				FMD:     &FMDTemplate{Label: []byte("A")},
				Unknown: []bertlv.TLV{{Tag: "9F65", Value: tlv.Hex("FF")}},
			},
		},
		{
			name: "proprietary",
			data: "C0 01 FF",
			p2:   fciP2,
			want: &FileControlInfo{ProprietaryRawData: tlv.Hex("C001FF")},
		},
		{
			name: "no data requested",
			data: "6F 00",
			p2:   SelectP2(ReturnNoData, FirstOrOnlyOccurrence),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSelectData(tlv.Hex(tc.data), tc.p2)
			if err != nil {
				t.Fatalf("ParseSelectData: %v", err)
			}
			if diff := cmp.Diff(tc.want, got, cmp.Comparer(sameTLV)); diff != "" {
				t.Errorf("FCI mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSelectDataErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		p2   byte
	}{
		{"FCP requested, FMD returned", "64 05 50 03 58595A", SelectP2(ReturnFCP, FirstOrOnlyOccurrence)},
		{"truncated", "6F 09 62 07 84", SelectP2(ReturnFCI, FirstOrOnlyOccurrence)},
	}
	for _, tc := range tests {
		if _, err := ParseSelectData(tlv.Hex(tc.data), tc.p2); !errors.Is(err, fault.ErrFormat) {
			t.Errorf("%s: err = %v, want format error", tc.name, err)
		}
	}
}

func TestFileControlInfoAccessors(t *testing.T) {
	var empty FileControlInfo
	if empty.GetAID() != nil || empty.DFName() != nil || empty.ApplicationLabel() != nil {
		t.Error("accessors of an empty FCI must return nil")
	}
	fmdOnly := FileControlInfo{FMD: &FMDTemplate{ApplicationID: tlv.Hex("A0000000")}}
	if diff := cmp.Diff(tlv.Hex("A0000000"), fmdOnly.GetAID()); diff != "" {
		t.Errorf("GetAID mismatch (-want +got):\n%s", diff)
	}
}

func sameTLV(a, b bertlv.TLV) bool {
	return strings.EqualFold(a.Tag, b.Tag) && string(a.Value) == string(b.Value) && len(a.TLVs) == len(b.TLVs)
}
