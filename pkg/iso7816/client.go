package iso7816

import (
	"fmt"
)

// T=0 READER BEHAVIOUR:
// Over T=0 the card cannot send response data and a status word in one go,
// so it answers with a procedure status the reader must complete:
//
//	61XX   send GET RESPONSE with Le = XX on the same channel, possibly
//	       several times for long responses
//	6CXX   resend the same command with Le = XX
//
// The Client completes these exchanges and records every step in a Trace.
// A card stuck announcing data is cut off after MaxSteps exchanges.

// MaxSteps bounds the exchanges a single Send may perform.
const MaxSteps = 32

// Transmitter sends one raw C-APDU and returns the raw R-APDU.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client completes T=0 procedure statuses over a Transmitter.
type Client struct {
	Card Transmitter
}

// NewClient returns a client sending through card.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits cmd and follows 61XX and 6CXX until the card returns a
// final status. The trace is returned with any error, up to the failing step.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	var trace Trace
	for next := cmd; next != nil; {
		if len(trace) == MaxSteps {
			return trace, fmt.Errorf("card still pending after %d exchanges", MaxSteps)
		}
		resp, err := c.exchange(next)
		if err != nil {
			return trace, err
		}
		trace = append(trace, Transaction{Command: next, Response: resp})

		if next, err = followUp(next, resp.Status); err != nil {
			return trace, err
		}
	}
	return trace, nil
}

func (c *Client) exchange(cmd *CommandAPDU) (*ResponseAPDU, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd.Instruction.Raw, err)
	}
	out, err := c.Card.Transmit(raw)
	if err != nil {
		return nil, fmt.Errorf("transmitting %s: %w", cmd.Instruction.Raw, err)
	}
	return ParseResponseAPDU(out)
}

// followUp returns the command completing a procedure status, or nil.
func followUp(cmd *CommandAPDU, sw StatusWord) (*CommandAPDU, error) {
	if n, ok := sw.CorrectLength(); ok {
		retry := *cmd
		retry.Ne = n
		return &retry, nil
	}
	n, ok := sw.BytesAvailable()
	if !ok {
		return nil, nil
	}
	// GET RESPONSE is interindustry and never chained, on the channel of
	// the command it continues.
	sm := cmd.Class.SecureMessaging
	if cmd.Class.IsProprietary {
		sm = SMNone
	}
	cla, err := NewInterindustryClass(false, sm, cmd.Class.Channel)
	if err != nil {
		return nil, err
	}
	ins, _ := NewInstruction(INS_GET_RESPONSE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, nil, n), nil
}
