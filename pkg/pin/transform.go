package pin

import (
	"strings"
	"unicode/utf8"

	"github.com/gregLibert/cardsec/pkg/fault"
)

// Transform encodes an entered PIN into the bytes the card compares against.
// Letters are upper-cased unless the PIN is case sensitive; with
// FlagNeedsPadding the result is padded to StoredLength.
func (a *Attributes) Transform(value string) ([]byte, error) {
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return nil, fault.New(fault.KindSecurity, "pin.Transform", "pin %q cannot be empty", a.Label)
	}
	if n < a.MinLength {
		return nil, fault.New(fault.KindSecurity, "pin.Transform", "pin %q shorter than %d characters", a.Label, a.MinLength)
	}
	if max := a.MaxLen(); max > 0 && n > max {
		return nil, fault.New(fault.KindSecurity, "pin.Transform", "pin %q longer than %d characters", a.Label, max)
	}
	if !a.Flags.Has(FlagCaseSensitive) {
		value = strings.ToUpper(value)
	}

	var data []byte
	switch a.Type {
	case ASCII:
		for i := 0; i < len(value); i++ {
			if value[i] > 0x7F {
				return nil, fault.New(fault.KindSecurity, "pin.Transform", "pin %q must be ASCII", a.Label)
			}
		}
		data = []byte(value)
	case UTF8:
		data = []byte(value)
	case BCD:
		digits, err := a.digits(value)
		if err != nil {
			return nil, err
		}
		data = packNibbles(digits, a.Pad&0x0F)
	case HalfNibbleBCD:
		digits, err := a.digits(value)
		if err != nil {
			return nil, err
		}
		data = make([]byte, len(digits))
		for i, d := range digits {
			data[i] = 0xF0 | d
		}
	case ISO9564:
		digits, err := a.digits(value)
		if err != nil {
			return nil, err
		}
		// Format 2 PIN block: control nibble 2, length nibble, digits, F fill.
		data = append([]byte{0x20 | byte(len(digits))}, packNibbles(digits, 0x0F)...)
		for len(data) < a.StoredLength {
			data = append(data, 0xFF)
		}
		return data, nil
	default:
		return nil, fault.New(fault.KindSecurity, "pin.Transform", "unsupported pin type %s", a.Type)
	}

	if a.Flags.Has(FlagNeedsPadding) {
		if len(data) > a.StoredLength {
			return nil, fault.New(fault.KindSecurity, "pin.Transform", "encoded pin %q exceeds %d bytes", a.Label, a.StoredLength)
		}
		for len(data) < a.StoredLength {
			data = append(data, a.Pad)
		}
	}
	return data, nil
}

func (a *Attributes) digits(value string) ([]byte, error) {
	out := make([]byte, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c < '0' || c > '9' {
			return nil, fault.New(fault.KindSecurity, "pin.Transform", "pin %q must be numeric", a.Label)
		}
		out[i] = c - '0'
	}
	return out, nil
}

// packNibbles packs two digits per byte, high nibble first, filling an odd
// trailing nibble with fill.
func packNibbles(digits []byte, fill byte) []byte {
	out := make([]byte, (len(digits)+1)/2)
	for i, d := range digits {
		if i%2 == 0 {
			out[i/2] = d << 4
		} else {
			out[i/2] |= d
		}
	}
	if len(digits)%2 == 1 {
		out[len(out)-1] |= fill
	}
	return out
}
