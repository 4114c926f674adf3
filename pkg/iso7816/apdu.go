package iso7816

import (
	"fmt"
)

// C-APDU ENCODING (ISO/IEC 7816-3 section 12.1):
//
//	case 1   CLA INS P1 P2
//	case 2   CLA INS P1 P2 Le
//	case 3   CLA INS P1 P2 Lc Data
//	case 4   CLA INS P1 P2 Lc Data Le
//
// Short fields are one byte, Le 00 meaning 256. Extended fields are two
// bytes after a 00 marker, which appears once: before Lc, or before Le when
// there is no data. Le 0000 means 65536. A command is extended as soon as
// Nc or Ne does not fit the short form.
//
// The R-APDU is the response data followed by SW1 SW2.

// Length limits of the short and extended forms.
const (
	MaxShortLc    = 255
	MaxShortLe    = 256
	MaxExtendedLc = 65535
	MaxExtendedLe = 65536
)

// CommandAPDU is a command for the card. Ne is the number of response bytes
// expected, 0 for none.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int
}

// NewCommandAPDU assembles a command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{Class: cla, Instruction: ins, P1: p1, P2: p2, Data: data, Ne: ne}
}

// Header packs CLA INS P1 P2 into a big-endian word, the form the access
// control policy matches.
func (c *CommandAPDU) Header() (uint32, error) {
	cla, err := c.Class.Encode()
	if err != nil {
		return 0, err
	}
	return uint32(cla)<<24 | uint32(c.Instruction.Raw)<<16 | uint32(c.P1)<<8 | uint32(c.P2), nil
}

// Bytes encodes the command, in the extended form when needed.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	cla, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding CLA: %w", err)
	}
	nc, ne := len(c.Data), c.Ne
	if nc > MaxExtendedLc || ne > MaxExtendedLe || ne < 0 {
		return nil, fmt.Errorf("Nc %d / Ne %d out of range", nc, ne)
	}

	out := make([]byte, 0, 4+3+nc+2)
	out = append(out, cla, byte(c.Instruction.Raw), c.P1, c.P2)
	if nc <= MaxShortLc && ne <= MaxShortLe {
		if nc > 0 {
			out = append(out, byte(nc))
			out = append(out, c.Data...)
		}
		if ne > 0 {
			out = append(out, byte(ne))
		}
		return out, nil
	}

	out = append(out, 0x00)
	if nc > 0 {
		out = append(out, byte(nc>>8), byte(nc))
		out = append(out, c.Data...)
	}
	if ne > 0 {
		out = append(out, byte(ne>>8), byte(ne))
	}
	return out, nil
}

func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s P1=%02X P2=%02X Nc=%d Ne=%d", c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ParseCommandAPDU decodes a raw C-APDU of any case, short or extended.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("command of %d bytes, want at least 4", len(raw))
	}
	cla, err := NewClass(raw[0])
	if err != nil {
		return nil, err
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, err
	}
	cmd := &CommandAPDU{Class: cla, Instruction: ins, P1: raw[2], P2: raw[3]}
	if cmd.Data, cmd.Ne, err = parseBody(raw[4:]); err != nil {
		return nil, err
	}
	return cmd, nil
}

func parseBody(body []byte) (data []byte, ne int, err error) {
	switch {
	case len(body) == 0:
		return nil, 0, nil
	case len(body) == 1:
		return nil, length(body, MaxShortLe), nil
	case body[0] != 0x00:
		nc := int(body[0])
		switch rest := body[1:]; len(rest) {
		case nc:
			return rest, 0, nil
		case nc + 1:
			return rest[:nc], length(rest[nc:], MaxShortLe), nil
		}
		return nil, 0, fmt.Errorf("short Lc %d does not match a body of %d bytes", nc, len(body))
	case len(body) == 3:
		return nil, length(body[1:], MaxExtendedLe), nil
	case len(body) > 3:
		nc := int(body[1])<<8 | int(body[2])
		switch rest := body[3:]; len(rest) {
		case nc:
			return rest, 0, nil
		case nc + 2:
			return rest[:nc], length(rest[nc:], MaxExtendedLe), nil
		}
		return nil, 0, fmt.Errorf("extended Lc %d does not match a body of %d bytes", nc, len(body))
	}
	return nil, 0, fmt.Errorf("malformed body of %d bytes", len(body))
}

// length decodes a 1 or 2 byte Le, where zero stands for limit.
func length(le []byte, limit int) int {
	v := 0
	for _, b := range le {
		v = v<<8 | int(b)
	}
	if v == 0 {
		return limit
	}
	return v
}

// ResponseAPDU is a response from the card.
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU splits raw into data and status word.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response of %d bytes, want at least 2", len(raw))
	}
	n := len(raw) - 2
	return &ResponseAPDU{Data: raw[:n], Status: NewStatusWord(raw[n], raw[n+1])}, nil
}

// Bytes encodes the response, status word last.
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("%d bytes, %s", len(r.Data), r.Status.Verbose())
}
