package iso7816

import (
	"fmt"
)

// MANAGE CHANNEL (INS '70', ISO 7816-4 section 11.1.2):
// - P1 = '00': open. With P2 = '00' the card assigns the channel number and
//   returns it as a single data byte.
// - P1 = '80': close the channel given in P2. The command is sent on the
//   channel being closed.
// The basic channel 0 is always open and cannot be closed.

const (
	manageChannelOpen  byte = 0x00
	manageChannelClose byte = 0x80
)

// NewOpenChannelCommand builds a MANAGE CHANNEL request asking the card to
// assign a new logical channel, issued from the basic channel.
func NewOpenChannelCommand() *CommandAPDU {
	cla, _ := NewInterindustryClass(false, SMNone, 0)
	ins, _ := NewInstruction(INS_MANAGE_CHANNEL)
	return NewCommandAPDU(cla, ins, manageChannelOpen, 0x00, nil, 1)
}

// NewCloseChannelCommand builds a MANAGE CHANNEL request closing channel.
func NewCloseChannelCommand(channel uint8) (*CommandAPDU, error) {
	if channel == 0 {
		return nil, fmt.Errorf("the basic channel cannot be closed")
	}
	cla, err := NewInterindustryClass(false, SMNone, channel)
	if err != nil {
		return nil, err
	}
	ins, _ := NewInstruction(INS_MANAGE_CHANNEL)
	return NewCommandAPDU(cla, ins, manageChannelClose, channel, nil, 0), nil
}

// ParseOpenChannelResponse extracts the channel number assigned by the card.
func ParseOpenChannelResponse(trace Trace) (uint8, error) {
	resp, err := trace.Response()
	if err != nil {
		return 0, err
	}
	if !resp.Status.IsSuccess() {
		return 0, fmt.Errorf("MANAGE CHANNEL refused: %s", resp.Status.Verbose())
	}
	if len(resp.Data) != 1 {
		return 0, fmt.Errorf("MANAGE CHANNEL returned %d bytes, want 1", len(resp.Data))
	}
	if ch := resp.Data[0]; ch != 0 && ch <= MaxChannel {
		return ch, nil
	}
	return 0, fmt.Errorf("MANAGE CHANNEL returned invalid channel %d", resp.Data[0])
}
