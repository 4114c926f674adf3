package tlv

import (
	"github.com/gregLibert/cardsec/pkg/fault"
)

const (
	maxTagBytes = 4
	maxDepth    = 64
	// Two length bytes (0x82 form) is the largest length this codec emits or accepts.
	maxLength = 0xFFFF
)

// Parse decodes the TLV starting at off in buf, including its whole subtree.
// It returns the tree, whose Root is the decoded node, and the offset just
// past it. The tree keeps buf as its backing buffer and never writes to it.
func Parse(buf []byte, off int) (*Tree, int, error) {
	t := &Tree{buf: buf[:len(buf):len(buf)], root: None}
	i, next, err := t.parseNode(off, len(buf), 0)
	if err != nil {
		return nil, 0, err
	}
	t.root = i
	return t, next, nil
}

// ParseAll decodes every top-level TLV of buf into one tree. The top-level
// nodes are chained as siblings; Root is the first of them. An empty buf
// yields an empty tree.
func ParseAll(buf []byte) (*Tree, []Index, error) {
	t := &Tree{buf: buf[:len(buf):len(buf)], root: None}
	var tops []Index
	for off := 0; off < len(buf); {
		i, next, err := t.parseNode(off, len(buf), 0)
		if err != nil {
			return nil, nil, err
		}
		if len(tops) > 0 {
			t.nodes[tops[len(tops)-1]].NextSibling = i
		}
		tops = append(tops, i)
		off = next
	}
	if len(tops) > 0 {
		t.root = tops[0]
	}
	return t, tops, nil
}

func (t *Tree) parseNode(off, end, depth int) (Index, int, error) {
	if depth > maxDepth {
		return None, 0, fault.New(fault.KindFormat, "tlv.Parse", "nesting deeper than %d levels at offset %d", maxDepth, off)
	}
	tag, pos, err := readTag(t.buf[:end], off)
	if err != nil {
		return None, 0, err
	}
	length, pos, err := readLength(t.buf[:end], pos)
	if err != nil {
		return None, 0, err
	}
	valueEnd := pos + length
	if valueEnd > end {
		return None, 0, fault.New(fault.KindFormat, "tlv.Parse", "value of tag %X at offset %d overruns its container (%d > %d)", tagBytes(tag), off, valueEnd, end)
	}

	i := t.add(Node{Tag: tag, Length: length, Offset: pos, Start: off, FirstChild: None, NextSibling: None})
	if !IsConstructedTag(tag) {
		return i, valueEnd, nil
	}

	last := None
	for p := pos; p < valueEnd; {
		c, next, err := t.parseNode(p, valueEnd, depth+1)
		if err != nil {
			return None, 0, err
		}
		if last == None {
			t.nodes[i].FirstChild = c
		} else {
			t.nodes[last].NextSibling = c
		}
		last = c
		p = next
	}
	return i, valueEnd, nil
}

func readTag(buf []byte, off int) (uint32, int, error) {
	if off >= len(buf) {
		return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "truncated tag at offset %d", off)
	}
	tag := uint32(buf[off])
	pos := off + 1
	if buf[off]&0x1F != 0x1F {
		return tag, pos, nil
	}
	for {
		if pos >= len(buf) {
			return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "truncated multi-byte tag at offset %d", off)
		}
		if pos-off >= maxTagBytes {
			return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "tag at offset %d longer than %d bytes", off, maxTagBytes)
		}
		b := buf[pos]
		tag = tag<<8 | uint32(b)
		pos++
		if b&0x80 == 0 {
			return tag, pos, nil
		}
	}
}

func readLength(buf []byte, off int) (int, int, error) {
	if off >= len(buf) {
		return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "truncated length at offset %d", off)
	}
	b := buf[off]
	switch {
	case b < 0x80:
		return int(b), off + 1, nil
	case b == 0x80:
		return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "indefinite length at offset %d", off)
	case b == 0x81:
		if off+2 > len(buf) {
			return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "truncated length at offset %d", off)
		}
		return int(buf[off+1]), off + 2, nil
	case b == 0x82:
		if off+3 > len(buf) {
			return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "truncated length at offset %d", off)
		}
		return int(buf[off+1])<<8 | int(buf[off+2]), off + 3, nil
	default:
		return 0, 0, fault.New(fault.KindFormat, "tlv.Parse", "unsupported length form %02X at offset %d", b, off)
	}
}

// tagBytes returns the minimal big-endian byte form of a stored tag.
func tagBytes(tag uint32) []byte {
	switch {
	case tag > 0xFFFFFF:
		return []byte{byte(tag >> 24), byte(tag >> 16), byte(tag >> 8), byte(tag)}
	case tag > 0xFFFF:
		return []byte{byte(tag >> 16), byte(tag >> 8), byte(tag)}
	case tag > 0xFF:
		return []byte{byte(tag >> 8), byte(tag)}
	default:
		return []byte{byte(tag)}
	}
}

func lengthBytes(n int) ([]byte, error) {
	switch {
	case n < 0x80:
		return []byte{byte(n)}, nil
	case n <= 0xFF:
		return []byte{0x81, byte(n)}, nil
	case n <= maxLength:
		return []byte{0x82, byte(n >> 8), byte(n)}, nil
	default:
		return nil, fault.New(fault.KindFormat, "tlv.Encode", "length %d exceeds %d", n, maxLength)
	}
}

// Encode serializes the subtree rooted at node i. Siblings of i are not
// included.
func (t *Tree) Encode(i Index) ([]byte, error) {
	if !t.valid(i) {
		return nil, fault.New(fault.KindFormat, "tlv.Encode", "invalid node %d", i)
	}
	size, err := t.encodedLen(i)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, size)
	return t.appendNode(out, i)
}

// EncodeAll serializes node i followed by its siblings.
func (t *Tree) EncodeAll(i Index) ([]byte, error) {
	var out []byte
	for ; i != None; i = t.Next(i) {
		enc, err := t.Encode(i)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

// contentLen returns the length of the value field of node i.
func (t *Tree) contentLen(i Index) (int, error) {
	n := t.nodes[i]
	if !IsConstructedTag(n.Tag) {
		return n.Length, nil
	}
	total := 0
	for c := n.FirstChild; c != None; c = t.nodes[c].NextSibling {
		l, err := t.encodedLen(c)
		if err != nil {
			return 0, err
		}
		total += l
	}
	return total, nil
}

func (t *Tree) encodedLen(i Index) (int, error) {
	content, err := t.contentLen(i)
	if err != nil {
		return 0, err
	}
	lb, err := lengthBytes(content)
	if err != nil {
		return 0, err
	}
	return len(tagBytes(t.nodes[i].Tag)) + len(lb) + content, nil
}

func (t *Tree) appendNode(out []byte, i Index) ([]byte, error) {
	n := t.nodes[i]
	content, err := t.contentLen(i)
	if err != nil {
		return nil, err
	}
	lb, err := lengthBytes(content)
	if err != nil {
		return nil, err
	}
	out = append(out, tagBytes(n.Tag)...)
	out = append(out, lb...)
	if !IsConstructedTag(n.Tag) {
		return append(out, t.buf[n.Offset:n.Offset+n.Length]...), nil
	}
	for c := n.FirstChild; c != None; c = t.nodes[c].NextSibling {
		if out, err = t.appendNode(out, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}
