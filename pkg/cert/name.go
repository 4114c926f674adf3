package cert

import (
	"encoding/hex"
	"strings"
	"unicode/utf16"

	"github.com/gregLibert/cardsec/pkg/tlv"
)

// Short names used in RFC 2253 renderings.
var attributeNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.9":                    "STREET",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"0.9.2342.19200300.100.1.1":  "UID",
	"0.9.2342.19200300.100.1.25": "DC",
}

// Attribute is one type/value pair of a distinguished name.
type Attribute struct {
	// Type is the dotted attribute OID.
	Type string
	// Value is the decoded string value. Values of non-string types are
	// rendered as '#' followed by the hex encoding of the whole TLV.
	Value string
}

// Name is a distinguished name (RDNSequence) held in a TLV tree.
type Name struct {
	tree *tlv.Tree
	idx  tlv.Index
}

// NameAt returns the name encoded at node i of t.
func NameAt(t *tlv.Tree, i tlv.Index) Name {
	return Name{tree: t, idx: i}
}

// IsZero reports whether n is unset.
func (n Name) IsZero() bool {
	return n.tree == nil || n.idx == tlv.None
}

// DER returns the encoding of the name.
func (n Name) DER() ([]byte, error) {
	return n.tree.Raw(n.idx)
}

// Equal reports whether n and o name the same entity: the same relative
// distinguished names in the same order, where the attributes inside one
// RDN may come in any order and string values compare by content whatever
// their string type.
func (n Name) Equal(o Name) bool {
	if n.IsZero() || o.IsZero() {
		return n.IsZero() && o.IsZero()
	}
	a, b := n.tree.Children(n.idx), o.tree.Children(o.idx)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !rdnEqual(n.tree, a[i], o.tree, b[i]) {
			return false
		}
	}
	return true
}

func rdnEqual(ta *tlv.Tree, a tlv.Index, tb *tlv.Tree, b tlv.Index) bool {
	as, bs := ta.Children(a), tb.Children(b)
	if len(as) != len(bs) {
		return false
	}
	used := make([]bool, len(bs))
outer:
	for _, x := range as {
		for j, y := range bs {
			if !used[j] && attributeEqual(ta, x, tb, y) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

func attributeEqual(ta *tlv.Tree, a tlv.Index, tb *tlv.Tree, b tlv.Index) bool {
	ta0, tb0 := ta.Child(a, 0), tb.Child(b, 0)
	if !tlv.Equal(ta, ta0, tb, tb0) {
		return false
	}
	va, vb := ta.Child(a, 1), tb.Child(b, 1)
	if va == tlv.None || vb == tlv.None {
		return va == tlv.None && vb == tlv.None
	}
	sa, okA := stringValue(ta, va)
	sb, okB := stringValue(tb, vb)
	if okA && okB {
		return sa == sb
	}
	return tlv.Equal(ta, va, tb, vb)
}

// stringValue decodes a directory string. The second result is false for
// non-string types.
func stringValue(t *tlv.Tree, i tlv.Index) (string, bool) {
	v := t.Value(i)
	switch t.Tag(i) {
	case tlv.TagUTF8String, tlv.TagPrintableString, tlv.TagIA5String, tlv.TagT61String:
		return string(v), true
	case tlv.TagBMPString:
		if len(v)%2 != 0 {
			return "", false
		}
		u := make([]uint16, len(v)/2)
		for k := range u {
			u[k] = uint16(v[2*k])<<8 | uint16(v[2*k+1])
		}
		return string(utf16.Decode(u)), true
	default:
		return "", false
	}
}

// Attributes lists the attributes of n in encoding order.
func (n Name) Attributes() []Attribute {
	if n.IsZero() {
		return nil
	}
	var out []Attribute
	for _, rdn := range n.tree.Children(n.idx) {
		for _, atv := range n.tree.Children(rdn) {
			out = append(out, n.attribute(atv))
		}
	}
	return out
}

func (n Name) attribute(atv tlv.Index) Attribute {
	var a Attribute
	if oid := n.tree.Child(atv, 0); oid != tlv.None {
		if s, err := tlv.OIDToString(n.tree.Value(oid)); err == nil {
			a.Type = s
		}
	}
	v := n.tree.Child(atv, 1)
	if v == tlv.None {
		return a
	}
	if s, ok := stringValue(n.tree, v); ok {
		a.Value = s
		return a
	}
	if raw, err := n.tree.Raw(v); err == nil {
		a.Value = "#" + strings.ToUpper(hex.EncodeToString(raw))
	}
	return a
}

// String renders n per RFC 2253: the last RDN first, multi-valued RDNs
// joined with '+'.
func (n Name) String() string {
	if n.IsZero() {
		return ""
	}
	rdns := n.tree.Children(n.idx)
	parts := make([]string, 0, len(rdns))
	for k := len(rdns) - 1; k >= 0; k-- {
		var atvs []string
		for _, atv := range n.tree.Children(rdns[k]) {
			a := n.attribute(atv)
			key, ok := attributeNames[a.Type]
			if !ok {
				key = a.Type
			}
			val := a.Value
			if !strings.HasPrefix(val, "#") || stringTyped(n.tree, atv) {
				val = escapeValue(val)
			}
			atvs = append(atvs, key+"="+val)
		}
		parts = append(parts, strings.Join(atvs, "+"))
	}
	return strings.Join(parts, ",")
}

func stringTyped(t *tlv.Tree, atv tlv.Index) bool {
	v := t.Child(atv, 1)
	if v == tlv.None {
		return false
	}
	_, ok := stringValue(t, v)
	return ok
}

func escapeValue(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case strings.IndexByte(`,+"\<>;`, c) >= 0,
			i == 0 && (c == '#' || c == ' '),
			i == len(s)-1 && c == ' ':
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
