package tlv

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/moov-io/bertlv"
)

func TestParse(t *testing.T) {
	raw := Hex("30 06", "02 01 05", "04 01 AA", "FF")

	tree, next, err := Parse(raw, 0)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if next != 8 {
		t.Errorf("next = %d, want 8", next)
	}

	root := tree.Root()
	if got := tree.Tag(root); got != TagSequence {
		t.Errorf("root tag = %X, want 30", got)
	}
	if !tree.IsConstructed(root) {
		t.Error("root should be constructed")
	}

	children := tree.Children(root)
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
	if diff := cmp.Diff(Hex("05"), tree.Value(children[0])); diff != "" {
		t.Errorf("first child value mismatch (-want +got):\n%s", diff)
	}
	if got := tree.FindChild(root, TagOctetString); got != children[1] {
		t.Errorf("FindChild(04) = %d, want %d", got, children[1])
	}
	if got := tree.FindChild(root, TagOID); got != None {
		t.Errorf("FindChild(06) = %d, want None", got)
	}
	if got := tree.Child(root, 2); got != None {
		t.Errorf("Child(2) = %d, want None", got)
	}

	enc, err := tree.Encode(root)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if diff := cmp.Diff(raw[:8], enc); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		name        string
		raw         []byte
		wantTag     uint32
		constructed bool
	}{
		{"Single byte primitive", Hex("5A 02 1234"), 0x5A, false},
		{"Two byte primitive", Hex("9F38 03 010203"), 0x9F38, false},
		{"Two byte constructed", Hex("BF0C 03 800101"), 0xBF0C, true},
		{"Three byte tag", Hex("DF8101 01 00"), 0xDF8101, false},
		{"Context constructed", Hex("A0 03 020102"), TagContextExplicit0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, next, err := Parse(tt.raw, 0)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if next != len(tt.raw) {
				t.Errorf("next = %d, want %d", next, len(tt.raw))
			}
			if got := tree.Tag(tree.Root()); got != tt.wantTag {
				t.Errorf("tag = %X, want %X", got, tt.wantTag)
			}
			if got := tree.IsConstructed(tree.Root()); got != tt.constructed {
				t.Errorf("IsConstructed = %v, want %v", got, tt.constructed)
			}
			enc, err := tree.Encode(tree.Root())
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if diff := cmp.Diff(tt.raw, enc); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"Empty", nil},
		{"Indefinite length", Hex("30 80 0000")},
		{"Three length bytes", Hex("04 83 000001 AA")},
		{"Truncated value", Hex("04 05 01")},
		{"Truncated long length", Hex("04 82 01")},
		{"Truncated tag", Hex("9F")},
		{"Tag too long", Hex("1F 818181 01 00")},
		{"Child overruns parent", Hex("30 03 02 02 0101")},
		{"Child truncated inside parent", Hex("30 02 02 01")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.raw, 0)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, fault.ErrFormat) {
				t.Errorf("error %v is not a format error", err)
			}
		})
	}
}

func TestParseAll(t *testing.T) {
	raw := Hex("02 01 01", "02 01 02", "30 00")

	tree, tops, err := ParseAll(raw)
	if err != nil {
		t.Fatalf("ParseAll failed: %v", err)
	}
	if len(tops) != 3 {
		t.Fatalf("got %d top-level nodes, want 3", len(tops))
	}
	if tree.Root() != tops[0] || tree.Next(tops[0]) != tops[1] || tree.Next(tops[2]) != None {
		t.Error("top-level nodes are not chained as siblings")
	}

	enc, err := tree.EncodeAll(tree.Root())
	if err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}
	if diff := cmp.Diff(raw, enc); diff != "" {
		t.Errorf("EncodeAll mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildAndEncode(t *testing.T) {
	tree := NewTree()
	root := tree.Constructed(TagSequence,
		tree.Primitive(TagInteger, []byte{0x05}),
		tree.Primitive(TagUTF8String, []byte("hi")),
	)
	tree.Append(root, tree.Constructed(TagSet))
	tree.SetRoot(root)

	enc, err := tree.Encode(tree.Root())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := Hex("30 09", "02 01 05", "0C 02 6869", "31 00")
	if diff := cmp.Diff(want, enc); diff != "" {
		t.Errorf("Encode mismatch (-want +got):\n%s", diff)
	}

	// Encoding twice gives the same bytes.
	again, _ := tree.Encode(root)
	if diff := cmp.Diff(enc, again); diff != "" {
		t.Errorf("second Encode differs (-want +got):\n%s", diff)
	}
}

func TestEncodeLengthForms(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		wantHeader []byte
		wantErr    bool
	}{
		{"Short form", 0x7F, Hex("04 7F"), false},
		{"One length byte", 200, Hex("04 81 C8"), false},
		{"Two length bytes", 300, Hex("04 82 012C"), false},
		{"Largest two byte length", 0xFFFF, Hex("04 82 FFFF"), false},
		{"Too long", 0x10000, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree()
			i := tree.Primitive(TagOctetString, make([]byte, tt.size))
			enc, err := tree.Encode(i)
			if tt.wantErr {
				if !errors.Is(err, fault.ErrFormat) {
					t.Fatalf("expected format error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if diff := cmp.Diff(tt.wantHeader, enc[:len(tt.wantHeader)]); diff != "" {
				t.Errorf("header mismatch (-want +got):\n%s", diff)
			}
			if len(enc) != len(tt.wantHeader)+tt.size {
				t.Errorf("encoded length = %d, want %d", len(enc), len(tt.wantHeader)+tt.size)
			}

			back, next, err := Parse(enc, 0)
			if err != nil {
				t.Fatalf("re-parse failed: %v", err)
			}
			if next != len(enc) || back.Node(back.Root()).Length != tt.size {
				t.Errorf("re-parsed length = %d, want %d", back.Node(back.Root()).Length, tt.size)
			}
		})
	}
}

func TestCopyFromAndEqual(t *testing.T) {
	raw := Hex("30 07", "30 03 02 01 07", "05 00")
	src, _, err := Parse(raw, 0)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	inner := src.Child(src.Root(), 0)

	dst := NewTree()
	cp := dst.CopyFrom(src, inner)
	if dst.Next(cp) != None {
		t.Error("copied root carried its sibling link")
	}
	if !Equal(src, inner, dst, cp) {
		t.Error("copy is not structurally equal to its source")
	}
	if Equal(src, src.Root(), dst, cp) {
		t.Error("different subtrees reported equal")
	}

	enc, err := dst.Encode(cp)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if diff := cmp.Diff(Hex("30 03 02 01 07"), enc); diff != "" {
		t.Errorf("copy encoding mismatch (-want +got):\n%s", diff)
	}

	// The copy is independent from the source buffer.
	raw[6] = 0x08
	if got := dst.Value(dst.Child(cp, 0)); got[0] != 0x07 {
		t.Errorf("copy aliases source buffer, got %X", got)
	}
}

func TestDescribe(t *testing.T) {
	tree, _, err := Parse(Hex("30 0D", "06 09 2A864886F70D010101", "05 00"), 0)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := "30\n  06 [9] 2A864886F70D010101 (1.2.840.113549.1.1.1)\n  05 [0] "
	if diff := cmp.Diff(want, tree.Describe(tree.Root())); diff != "" {
		t.Errorf("Describe mismatch (-want +got):\n%s", diff)
	}
}

func TestOID(t *testing.T) {
	tests := []struct {
		dotted string
		value  []byte
	}{
		{"1.2.840.113549.1.1.1", Hex("2A864886F70D010101")},
		{"2.5.4.3", Hex("550403")},
		{"1.2.840.10045.4.3.2", Hex("2A8648CE3D040302")},
		{"0.9.2342.19200300.100.1.25", Hex("0992268993F22C640119")},
	}

	for _, tt := range tests {
		t.Run(tt.dotted, func(t *testing.T) {
			enc, err := StringToOID(tt.dotted)
			if err != nil {
				t.Fatalf("StringToOID failed: %v", err)
			}
			if diff := cmp.Diff(tt.value, enc); diff != "" {
				t.Errorf("StringToOID mismatch (-want +got):\n%s", diff)
			}
			dec, err := OIDToString(tt.value)
			if err != nil {
				t.Fatalf("OIDToString failed: %v", err)
			}
			if dec != tt.dotted {
				t.Errorf("OIDToString = %q, want %q", dec, tt.dotted)
			}
		})
	}

	for _, bad := range []string{"1", "3.1", "1.40", "1.x.3", ""} {
		if _, err := StringToOID(bad); !errors.Is(err, fault.ErrFormat) {
			t.Errorf("StringToOID(%q) error = %v, want format error", bad, err)
		}
	}
	if _, err := OIDToString(Hex("2A86")); !errors.Is(err, fault.ErrFormat) {
		t.Errorf("truncated OID error = %v, want format error", err)
	}
}

func TestTime(t *testing.T) {
	ts := time.Date(2020, time.January, 31, 12, 0, 5, 0, time.UTC)

	got := UTCTime(ts)
	if string(got) != "200131120005Z" {
		t.Errorf("UTCTime = %q, want 200131120005Z", got)
	}
	if len(got) != 13 {
		t.Errorf("UTCTime length = %d, want 13", len(got))
	}

	back, err := ParseTime(TagUTCTime, got)
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if !back.Equal(ts) {
		t.Errorf("ParseTime = %v, want %v", back, ts)
	}

	old, err := ParseTime(TagUTCTime, []byte("991231235959Z"))
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if old.Year() != 1999 {
		t.Errorf("year = %d, want 1999", old.Year())
	}

	gen, err := ParseTime(TagGeneralizedTime, []byte("20551231235959Z"))
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if gen.Year() != 2055 {
		t.Errorf("year = %d, want 2055", gen.Year())
	}

	if _, err := ParseTime(TagUTCTime, []byte("2001")); !errors.Is(err, fault.ErrFormat) {
		t.Errorf("short time error = %v, want format error", err)
	}
	if _, err := ParseTime(TagInteger, got); !errors.Is(err, fault.ErrFormat) {
		t.Errorf("wrong tag error = %v, want format error", err)
	}
}

func TestIntegers(t *testing.T) {
	tests := []struct {
		in   uint64
		want []byte
	}{
		{0, Hex("00")},
		{0x7F, Hex("7F")},
		{0x80, Hex("0080")},
		{0x0100, Hex("0100")},
		{20010131120005, Hex("1232F8C1DF85")},
	}
	for _, tt := range tests {
		got := EncodeInteger(tt.in)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("EncodeInteger(%d) mismatch (-want +got):\n%s", tt.in, diff)
		}
		back, err := DecodeInteger(got)
		if err != nil {
			t.Fatalf("DecodeInteger failed: %v", err)
		}
		if back.Cmp(new(big.Int).SetUint64(tt.in)) != 0 {
			t.Errorf("DecodeInteger = %v, want %d", back, tt.in)
		}
	}

	neg, err := DecodeInteger(Hex("FF"))
	if err != nil || neg.Int64() != -1 {
		t.Errorf("DecodeInteger(FF) = %v, %v; want -1", neg, err)
	}
}

func TestFindNested(t *testing.T) {
	packets, err := bertlv.Decode(Hex("6F 08", "6E 06", "5E 04 0202 0138"))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	got, ok := Find(packets, 0x5E)
	if !ok {
		t.Fatal("tag 5E not found")
	}
	if diff := cmp.Diff(Hex("0202 0138"), got.Value); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}

	if _, ok := Find(packets, 0x81); ok {
		t.Error("unexpected match for tag 81")
	}
}
