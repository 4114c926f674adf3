package tlv

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/gregLibert/cardsec/pkg/fault"
)

// OIDToString converts the value of an OBJECT IDENTIFIER into dotted form.
func OIDToString(value []byte) (string, error) {
	if len(value) == 0 {
		return "", fault.New(fault.KindFormat, "tlv.OIDToString", "empty object identifier")
	}
	var arcs []string
	var acc uint64
	first := true
	for i, b := range value {
		if acc > (1<<57)-1 {
			return "", fault.New(fault.KindFormat, "tlv.OIDToString", "arc too large at byte %d", i)
		}
		acc = acc<<7 | uint64(b&0x7F)
		if b&0x80 != 0 {
			if i == len(value)-1 {
				return "", fault.New(fault.KindFormat, "tlv.OIDToString", "truncated arc")
			}
			continue
		}
		if first {
			// The first subidentifier packs the first two arcs as 40*X+Y.
			switch {
			case acc < 40:
				arcs = append(arcs, "0", strconv.FormatUint(acc, 10))
			case acc < 80:
				arcs = append(arcs, "1", strconv.FormatUint(acc-40, 10))
			default:
				arcs = append(arcs, "2", strconv.FormatUint(acc-80, 10))
			}
			first = false
		} else {
			arcs = append(arcs, strconv.FormatUint(acc, 10))
		}
		acc = 0
	}
	return strings.Join(arcs, "."), nil
}

// StringToOID encodes a dotted object identifier into OBJECT IDENTIFIER value bytes.
func StringToOID(s string) ([]byte, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fault.New(fault.KindFormat, "tlv.StringToOID", "object identifier %q needs at least two arcs", s)
	}
	arcs := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 57)
		if err != nil {
			return nil, fault.Wrap(fault.KindFormat, "tlv.StringToOID", err)
		}
		arcs[i] = v
	}
	if arcs[0] > 2 || (arcs[0] < 2 && arcs[1] >= 40) {
		return nil, fault.New(fault.KindFormat, "tlv.StringToOID", "invalid leading arcs in %q", s)
	}

	out := appendBase128(nil, arcs[0]*40+arcs[1])
	for _, a := range arcs[2:] {
		out = appendBase128(out, a)
	}
	return out, nil
}

func appendBase128(out []byte, v uint64) []byte {
	var tmp [10]byte
	n := len(tmp) - 1
	tmp[n] = byte(v & 0x7F)
	for v >>= 7; v > 0; v >>= 7 {
		n--
		tmp[n] = byte(v&0x7F) | 0x80
	}
	return append(out, tmp[n:]...)
}

// EncodeInteger returns the DER INTEGER value bytes of a non-negative number.
func EncodeInteger(v uint64) []byte {
	return EncodeBigInteger(new(big.Int).SetUint64(v))
}

// EncodeBigInteger returns the DER INTEGER value bytes of a non-negative
// number: minimal big-endian two's complement with a leading 0x00 when the
// high bit would otherwise be set.
func EncodeBigInteger(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) == 0 {
		return []byte{0x00}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0x00}, b...)
	}
	return b
}

// DecodeInteger interprets DER INTEGER value bytes as a signed number.
func DecodeInteger(value []byte) (*big.Int, error) {
	if len(value) == 0 {
		return nil, fault.New(fault.KindFormat, "tlv.DecodeInteger", "empty integer")
	}
	n := new(big.Int).SetBytes(value)
	if value[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(value))*8))
	}
	return n, nil
}
