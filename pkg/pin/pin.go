// Package pin describes card PINs the way PKCS#15 PinAttributes do: how the
// entered value is encoded, its length bounds, its padding and the flags that
// restrict which PIN management operations the card holder may run.
package pin

import (
	"fmt"
	"strings"

	"github.com/gregLibert/cardsec/pkg/bits"
	"github.com/gregLibert/cardsec/pkg/fault"
)

// Type is the PIN encoding (PKCS#15 PinType).
type Type int

const (
	BCD Type = iota
	ASCII
	UTF8
	HalfNibbleBCD
	ISO9564
)

var typeTokens = map[string]Type{
	"bcd":         BCD,
	"ascii":       ASCII,
	"utf":         UTF8,
	"half-nibble": HalfNibbleBCD,
	"iso":         ISO9564,
}

// ParseType maps a policy file token to a Type.
func ParseType(token string) (Type, error) {
	t, ok := typeTokens[strings.ToLower(token)]
	if !ok {
		return 0, fmt.Errorf("unknown pin type %q", token)
	}
	return t, nil
}

func (t Type) String() string {
	for token, v := range typeTokens {
		if v == t {
			return token
		}
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Flags is the PKCS#15 PinFlags bit string.
type Flags uint16

const (
	FlagCaseSensitive            Flags = 0x0001
	FlagLocal                    Flags = 0x0002
	FlagChangeDisabled           Flags = 0x0004
	FlagUnblockDisabled          Flags = 0x0008
	FlagInitialized              Flags = 0x0010
	FlagNeedsPadding             Flags = 0x0020
	FlagUnblockingPIN            Flags = 0x0040
	FlagSOPIN                    Flags = 0x0080
	FlagDisableAllowed           Flags = 0x0100
	FlagIntegrityProtected       Flags = 0x0200
	FlagConfidentialityProtected Flags = 0x0400
	FlagExchangeRefData          Flags = 0x0800
)

var flagTokens = []struct {
	token string
	flag  Flags
}{
	{"case-sensitive", FlagCaseSensitive},
	{"local", FlagLocal},
	{"change-disabled", FlagChangeDisabled},
	{"unblock-disabled", FlagUnblockDisabled},
	{"initialized", FlagInitialized},
	{"needs-padding", FlagNeedsPadding},
	{"unblocking-pin", FlagUnblockingPIN},
	{"so-pin", FlagSOPIN},
	{"disable-allowed", FlagDisableAllowed},
	{"integrity-protected", FlagIntegrityProtected},
	{"confidentiality-protected", FlagConfidentialityProtected},
	{"exchange-ref-data", FlagExchangeRefData},
}

// ParseFlag maps a policy file token to a flag.
func ParseFlag(token string) (Flags, error) {
	for _, f := range flagTokens {
		if f.token == strings.ToLower(token) {
			return f.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown pin flag %q", token)
}

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool {
	return bits.HasAll(fl, f)
}

func (fl Flags) String() string {
	var names []string
	for _, f := range flagTokens {
		if fl.Has(f.flag) {
			names = append(names, f.token)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Op is a PIN management operation.
type Op int

const (
	Verify Op = iota
	Change
	Disable
	Enable
	Unblock
)

var opTokens = [...]string{"verify", "change", "disable", "enable", "unblock"}

// ParseOp maps a policy file token to an Op.
func ParseOp(token string) (Op, error) {
	for i, name := range opTokens {
		if name == strings.ToLower(token) {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pin operation %q", token)
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opTokens) {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	return opTokens[o]
}

// Values returns how many PIN values the operation takes: the current PIN,
// plus the new one for change and unblock.
func (o Op) Values() int {
	if o == Change || o == Unblock {
		return 2
	}
	return 1
}

// Attributes describes one PIN of a card application.
type Attributes struct {
	Label string
	ID    int
	Type  Type

	MinLength    int
	StoredLength int
	MaxLength    int

	// Reference is the PIN reference sent in P2 of the ISO VERIFY family.
	Reference byte
	Pad       byte
	Flags     Flags
}

// MaxLen returns the longest PIN, in characters, the holder may enter.
// With padding the limit derives from the stored length, whose unit depends
// on the encoding.
func (a *Attributes) MaxLen() int {
	if !a.Flags.Has(FlagNeedsPadding) {
		return a.MaxLength
	}
	switch a.Type {
	case BCD:
		return a.StoredLength * 2
	case ISO9564:
		// One control byte, then two digits per byte.
		return (a.StoredLength - 1) * 2
	default:
		return a.StoredLength
	}
}

// IsUnblockingPIN reports whether this PIN may unblock other PINs.
func (a *Attributes) IsUnblockingPIN() bool {
	return a.Flags.Has(FlagUnblockingPIN)
}

// Permits checks the PIN flags against an operation. A refusal is a security
// error.
func (a *Attributes) Permits(op Op) error {
	switch op {
	case Verify:
		return nil
	case Change:
		if a.Flags.Has(FlagChangeDisabled) {
			return fault.New(fault.KindSecurity, "pin.Permits", "changing pin %q is disabled", a.Label)
		}
	case Disable, Enable:
		if !a.Flags.Has(FlagDisableAllowed) {
			return fault.New(fault.KindSecurity, "pin.Permits", "pin %q cannot be disabled or enabled", a.Label)
		}
	case Unblock:
		if a.Flags.Has(FlagUnblockDisabled) {
			return fault.New(fault.KindSecurity, "pin.Permits", "unblocking pin %q is disabled", a.Label)
		}
	default:
		return fault.New(fault.KindSecurity, "pin.Permits", "unknown operation %s", op)
	}
	return nil
}

func (a *Attributes) String() string {
	return fmt.Sprintf("pin %q id=%d type=%s len=%d..%d stored=%d ref=%02X pad=%02X flags=%s",
		a.Label, a.ID, a.Type, a.MinLength, a.MaxLen(), a.StoredLength, a.Reference, a.Pad, a.Flags)
}
