package tlv

import (
	"encoding/hex"
	"strings"

	"github.com/gregLibert/cardsec/pkg/fault"
)

// hexSeparators are dropped before decoding, so dumps such as "00 A4 04 00",
// "A0:00:00:00:03" or multi-line policy values parse as written.
var hexSeparators = strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "", ":", "")

// ParseHex decodes the concatenation of parts, ignoring separators.
func ParseHex(parts ...string) ([]byte, error) {
	s := hexSeparators.Replace(strings.Join(parts, ""))
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fault.Wrap(fault.KindFormat, "tlv.ParseHex", err)
	}
	return b, nil
}

// Hex is ParseHex for literals known to be valid, as in tests and tables. It
// panics on malformed input.
func Hex(parts ...string) []byte {
	b, err := ParseHex(parts...)
	if err != nil {
		panic(err)
	}
	return b
}
