package tlv

import (
	"fmt"
	"strings"

	"github.com/gregLibert/cardsec/pkg/fault"
)

// DER TREE MODEL:
// A Tree is an arena of nodes addressed by Index. Each node is one TLV.
//
// 1. Primitive nodes (constructed bit 0x20 of the first tag byte clear) are
//    always backed by the tree buffer: Offset/Length locate the value bytes.
//    Nodes created with Primitive() append their value to the buffer.
// 2. Constructed nodes are backed by their children (FirstChild, then the
//    NextSibling chain). For parsed trees Offset/Length also span the
//    concatenated child encodings in the original buffer.
//
// Tags are stored as their raw bytes read big-endian, the way smart-card
// specifications name them: 0x30 (SEQUENCE), 0xA0 ([0] constructed),
// 0x9F38 (PDOL), 0xBF0C.

// Index addresses a node within a Tree.
type Index int32

// None is the null Index.
const None Index = -1

// Universal tags used by certificate structures.
const (
	TagBoolean          uint32 = 0x01
	TagInteger          uint32 = 0x02
	TagBitString        uint32 = 0x03
	TagOctetString      uint32 = 0x04
	TagNull             uint32 = 0x05
	TagOID              uint32 = 0x06
	TagUTF8String       uint32 = 0x0C
	TagPrintableString  uint32 = 0x13
	TagT61String        uint32 = 0x14
	TagIA5String        uint32 = 0x16
	TagUTCTime          uint32 = 0x17
	TagGeneralizedTime  uint32 = 0x18
	TagBMPString        uint32 = 0x1E
	TagSequence         uint32 = 0x30
	TagSet              uint32 = 0x31
	TagContextExplicit0 uint32 = 0xA0
	TagContextExplicit3 uint32 = 0xA3
)

// Node is one TLV of a Tree.
type Node struct {
	Tag    uint32
	Length int
	Offset int
	// Start is the offset of the tag byte of a parsed node, -1 for built nodes.
	Start       int
	FirstChild  Index
	NextSibling Index
}

// Tree is an arena of TLV nodes sharing one backing buffer.
type Tree struct {
	buf   []byte
	nodes []Node
	root  Index
}

// NewTree returns an empty tree for building new encodings.
func NewTree() *Tree {
	return &Tree{root: None}
}

// Root returns the root node, or None for an empty tree.
func (t *Tree) Root() Index {
	return t.root
}

// SetRoot selects the node returned by Root.
func (t *Tree) SetRoot(i Index) {
	t.root = i
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns a pointer to node i. It panics if i is out of range.
func (t *Tree) Node(i Index) *Node {
	return &t.nodes[i]
}

func (t *Tree) valid(i Index) bool {
	return i >= 0 && int(i) < len(t.nodes)
}

// Tag returns the tag of node i, or 0 for an invalid index.
func (t *Tree) Tag(i Index) uint32 {
	if !t.valid(i) {
		return 0
	}
	return t.nodes[i].Tag
}

// IsConstructed reports whether node i carries children.
func (t *Tree) IsConstructed(i Index) bool {
	return t.valid(i) && IsConstructedTag(t.nodes[i].Tag)
}

// IsConstructedTag reports whether the constructed bit of the first tag byte is set.
func IsConstructedTag(tag uint32) bool {
	b := tagBytes(tag)
	return b[0]&0x20 != 0
}

// Value returns the value bytes of node i. For primitive nodes the slice
// aliases the tree buffer. For constructed nodes it is the encoding of the
// children.
func (t *Tree) Value(i Index) []byte {
	if !t.valid(i) {
		return nil
	}
	n := t.nodes[i]
	if !IsConstructedTag(n.Tag) {
		return t.buf[n.Offset : n.Offset+n.Length]
	}
	var out []byte
	for c := n.FirstChild; c != None; c = t.nodes[c].NextSibling {
		enc, err := t.Encode(c)
		if err != nil {
			return nil
		}
		out = append(out, enc...)
	}
	return out
}

// Raw returns the complete encoding of node i. For parsed nodes it is the
// original slice of the parsed buffer, so signatures computed over it still
// verify; built nodes are encoded.
func (t *Tree) Raw(i Index) ([]byte, error) {
	if !t.valid(i) {
		return nil, fault.New(fault.KindFormat, "tlv.Raw", "invalid node %d", i)
	}
	n := t.nodes[i]
	if n.Start >= 0 {
		return t.buf[n.Start : n.Offset+n.Length], nil
	}
	return t.Encode(i)
}

// Children returns the direct children of node i in order.
func (t *Tree) Children(i Index) []Index {
	if !t.valid(i) {
		return nil
	}
	var out []Index
	for c := t.nodes[i].FirstChild; c != None; c = t.nodes[c].NextSibling {
		out = append(out, c)
	}
	return out
}

// Child returns the n-th (0 based) child of node i, or None.
func (t *Tree) Child(i Index, n int) Index {
	if !t.valid(i) {
		return None
	}
	c := t.nodes[i].FirstChild
	for ; c != None && n > 0; n-- {
		c = t.nodes[c].NextSibling
	}
	return c
}

// Next returns the sibling following node i, or None.
func (t *Tree) Next(i Index) Index {
	if !t.valid(i) {
		return None
	}
	return t.nodes[i].NextSibling
}

// FindChild returns the first direct child of node i with the given tag, or None.
func (t *Tree) FindChild(i Index, tag uint32) Index {
	for _, c := range t.Children(i) {
		if t.nodes[c].Tag == tag {
			return c
		}
	}
	return None
}

func (t *Tree) add(n Node) Index {
	t.nodes = append(t.nodes, n)
	return Index(len(t.nodes) - 1)
}

// Primitive creates a detached primitive node holding a copy of value.
func (t *Tree) Primitive(tag uint32, value []byte) Index {
	off := len(t.buf)
	t.buf = append(t.buf, value...)
	return t.add(Node{Tag: tag, Length: len(value), Offset: off, Start: -1, FirstChild: None, NextSibling: None})
}

// Constructed creates a constructed node and appends the given detached
// children in order.
func (t *Tree) Constructed(tag uint32, children ...Index) Index {
	i := t.add(Node{Tag: tag, Offset: -1, Start: -1, FirstChild: None, NextSibling: None})
	for _, c := range children {
		t.Append(i, c)
	}
	return i
}

// Append links the detached node child as the last child of parent.
func (t *Tree) Append(parent, child Index) {
	if child == None {
		return
	}
	p := &t.nodes[parent]
	if p.FirstChild == None {
		p.FirstChild = child
		return
	}
	c := p.FirstChild
	for t.nodes[c].NextSibling != None {
		c = t.nodes[c].NextSibling
	}
	t.nodes[c].NextSibling = child
}

// CopyFrom copies the subtree rooted at node i of src into t and returns the
// detached copy. The sibling link of the copied root is not carried over.
func (t *Tree) CopyFrom(src *Tree, i Index) Index {
	if src == nil || !src.valid(i) {
		return None
	}
	n := src.nodes[i]
	if !IsConstructedTag(n.Tag) {
		return t.Primitive(n.Tag, src.buf[n.Offset:n.Offset+n.Length])
	}
	cp := t.Constructed(n.Tag)
	for c := n.FirstChild; c != None; c = src.nodes[c].NextSibling {
		t.Append(cp, t.CopyFrom(src, c))
	}
	return cp
}

// Equal reports whether the subtree a/ai and the subtree b/bi have the same
// tags, the same primitive values and the same shape.
func Equal(a *Tree, ai Index, b *Tree, bi Index) bool {
	if !a.valid(ai) || !b.valid(bi) {
		return !a.valid(ai) && !b.valid(bi)
	}
	na, nb := a.nodes[ai], b.nodes[bi]
	if na.Tag != nb.Tag {
		return false
	}
	if !IsConstructedTag(na.Tag) {
		return string(a.Value(ai)) == string(b.Value(bi))
	}
	ca, cb := na.FirstChild, nb.FirstChild
	for ca != None && cb != None {
		if !Equal(a, ca, b, cb) {
			return false
		}
		ca, cb = a.nodes[ca].NextSibling, b.nodes[cb].NextSibling
	}
	return ca == None && cb == None
}

// Describe renders the subtree rooted at node i as an indented dump.
func (t *Tree) Describe(i Index) string {
	var sb strings.Builder
	t.describe(&sb, i, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func (t *Tree) describe(sb *strings.Builder, i Index, depth int) {
	if !t.valid(i) {
		return
	}
	n := t.nodes[i]
	indent := strings.Repeat("  ", depth)
	if IsConstructedTag(n.Tag) {
		sb.WriteString(fmt.Sprintf("%s%X\n", indent, tagBytes(n.Tag)))
		for _, c := range t.Children(i) {
			t.describe(sb, c, depth+1)
		}
		return
	}
	val := t.Value(i)
	sb.WriteString(fmt.Sprintf("%s%X [%d] %X", indent, tagBytes(n.Tag), len(val), val))
	switch n.Tag {
	case TagOID:
		if s, err := OIDToString(val); err == nil {
			sb.WriteString(" (" + s + ")")
		}
	case TagUTF8String, TagPrintableString, TagIA5String, TagT61String, TagUTCTime, TagGeneralizedTime:
		sb.WriteString(fmt.Sprintf(" (%q)", Printable(val)))
	}
	sb.WriteString("\n")
}
