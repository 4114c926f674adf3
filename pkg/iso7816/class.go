package iso7816

import (
	"fmt"

	"github.com/gregLibert/cardsec/pkg/bits"
)

// CLA byte (ISO/IEC 7816-4 section 5.1.1):
//
//	0 0 0 c s s n n   first interindustry, channels 0-3, SM on 2 bits
//	0 1 s c n n n n   further interindustry, channels 4-19, SM on 1 bit
//	1 x x x x x x x   proprietary (FF is invalid)
//
// c is command chaining, s secure messaging, n the channel (minus 4 in the
// further range). Bit 6 of the first range is RFU and must be 0.
//
// The stack moves commands between channels: a host application addresses
// its logical channel without knowing its number, and the access control
// policy is matched with the channel bits cleared. Proprietary classes keep
// bit 8 and follow the same channel layout, as JCRMI does with 0x80.

// MaxChannel is the highest logical channel number.
const MaxChannel = 19

// SecureMessaging is the SM indication of the CLA byte.
type SecureMessaging int

const (
	SMNone         SecureMessaging = iota // no SM or no indication
	SMProprietary                         // first range only
	SMHeaderNoProc                        // ISO SM, header not processed
	SMHeaderAuth                          // ISO SM, header authenticated, first range only
)

func (sm SecureMessaging) String() string {
	switch sm {
	case SMNone:
		return "none"
	case SMProprietary:
		return "proprietary"
	case SMHeaderNoProc:
		return "ISO, header not processed"
	case SMHeaderAuth:
		return "ISO, header authenticated"
	}
	return fmt.Sprintf("SM(%d)", int(sm))
}

// Class is a decoded CLA byte.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8
}

// NewClass decodes cla.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA FF")
	}
	c := Class{
		Raw:           cla,
		IsProprietary: bits.IsSet(cla, 8),
		IsChained:     bits.IsSet(cla, 5),
		Channel:       ChannelOf(cla),
	}
	switch {
	case c.IsProprietary:
		c.IsChained = false
	case bits.IsSet(cla, 7):
		if bits.IsSet(cla, 6) {
			c.SecureMessaging = SMHeaderNoProc
		}
	default:
		c.SecureMessaging = SecureMessaging(bits.Field(cla, 4, 3))
	}
	return c, nil
}

// NewInterindustryClass builds the interindustry CLA addressing channel.
func NewInterindustryClass(chained bool, sm SecureMessaging, channel uint8) (Class, error) {
	c := Class{IsChained: chained, SecureMessaging: sm, Channel: channel}
	raw, err := c.Encode()
	if err != nil {
		return Class{}, err
	}
	c.Raw = raw
	return c, nil
}

// Encode returns the CLA byte. A proprietary class is returned as decoded.
func (c Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > MaxChannel {
		return 0, fmt.Errorf("channel %d out of range 0-%d", c.Channel, MaxChannel)
	}

	var cla byte
	if c.IsChained {
		cla = bits.Set(cla, 5)
	}
	if c.Channel <= 3 {
		cla = bits.WithField(cla, 4, 3, byte(c.SecureMessaging))
		return bits.WithField(cla, 2, 1, c.Channel), nil
	}

	switch c.SecureMessaging {
	case SMNone:
	case SMHeaderNoProc:
		cla = bits.Set(cla, 6)
	default:
		return 0, fmt.Errorf("secure messaging %q needs a channel in 0-3, got %d", c.SecureMessaging, c.Channel)
	}
	cla = bits.Set(cla, 7)
	return bits.WithField(cla, 4, 1, c.Channel-4), nil
}

// OnChannel returns the class moved to channel. A proprietary class keeps
// bit 8, and its SM bits while it stays in the first range:
// 80 becomes 81..83 or C0..CF.
func (c Class) OnChannel(channel uint8) (Class, error) {
	if !c.IsProprietary {
		return NewInterindustryClass(c.IsChained, c.SecureMessaging, channel)
	}

	moved, err := NewInterindustryClass(bits.IsSet(c.Raw, 5), SMNone, channel)
	if err != nil {
		return Class{}, err
	}
	raw := bits.Set(moved.Raw, 8)
	if channel <= 3 && !bits.IsSet(c.Raw, 7) {
		raw = bits.WithField(raw, 4, 3, bits.Field(c.Raw, 4, 3))
	}
	return NewClass(raw)
}

// ChannelOf returns the logical channel addressed by any CLA byte,
// proprietary or not.
func ChannelOf(cla byte) uint8 {
	if bits.IsSet(cla, 7) {
		return bits.Field(cla, 4, 1) + 4
	}
	return bits.Field(cla, 2, 1)
}

// Verbose describes the class on one line.
func (c Class) Verbose() string {
	if c.IsProprietary {
		return fmt.Sprintf("CLA %02X: proprietary, channel %d", c.Raw, c.Channel)
	}
	chaining := "last or only command"
	if c.IsChained {
		chaining = "chained"
	}
	return fmt.Sprintf("CLA %02X: interindustry, channel %d, SM %s, %s", c.Raw, c.Channel, c.SecureMessaging, chaining)
}
