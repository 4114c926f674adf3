package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/iso7816"
	"github.com/gregLibert/cardsec/pkg/log"
)

// CHANNEL MANAGEMENT:
// Channels are opened with MANAGE CHANNEL from the basic channel. A card
// without logical channel support answers with an error status (6881, 6D00,
// 6E00...); the basic channel 0 is then handed out instead, to one user at a
// time. Closing channel 0 sends nothing to the card.

// Card is a Transport over the card inserted in one slot.
type Card struct {
	slot   int
	client *iso7816.Client

	// mu serializes exchanges: the card processes one command at a time.
	mu   sync.Mutex
	open map[uint8]bool
}

// NewCard returns a transport for the card reached through tx, answering
// for slot.
func NewCard(slot int, tx iso7816.Transmitter) *Card {
	return &Card{slot: slot, client: iso7816.NewClient(tx), open: map[uint8]bool{}}
}

func (c *Card) check(ctx context.Context, op string, slot int) error {
	if slot != c.slot {
		return fault.New(fault.KindTransport, op, "no card in slot %d", slot)
	}
	if err := ctx.Err(); err != nil {
		return fault.Wrap(fault.KindTransport, op, err)
	}
	return nil
}

func (c *Card) send(cmd *iso7816.CommandAPDU) (iso7816.Trace, error) {
	if raw, err := cmd.Bytes(); err == nil {
		log.Debug(fmt.Sprintf("slot %d >> %X", c.slot, raw))
	}
	trace, err := c.client.Send(cmd)
	if err != nil {
		return trace, fault.Wrap(fault.KindTransport, "transport.Exchange", err)
	}
	if last := trace.Last(); last != nil && last.Response != nil {
		log.Debug(fmt.Sprintf("slot %d << %X (%d step(s))", c.slot, last.Response.Bytes(), len(trace)))
	}
	return trace, nil
}

// OpenChannel implements Transport.
func (c *Card) OpenChannel(ctx context.Context, slot int) (Channel, error) {
	if err := c.check(ctx, "transport.OpenChannel", slot); err != nil {
		return Channel{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	trace, err := c.send(iso7816.NewOpenChannelCommand())
	if err != nil {
		return Channel{}, err
	}
	n, err := iso7816.ParseOpenChannelResponse(trace)
	if err != nil {
		if c.open[0] {
			return Channel{}, fault.New(fault.KindTransport, "transport.OpenChannel", "no logical channel available: %v", err)
		}
		log.Debug(fmt.Sprintf("slot %d: %v; using the basic channel", c.slot, err))
		n = 0
	}
	c.open[n] = true
	return Channel{Slot: c.slot, Number: n}, nil
}

// ExchangeAPDU implements Transport.
func (c *Card) ExchangeAPDU(ctx context.Context, ch Channel, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	if err := c.check(ctx, "transport.ExchangeAPDU", ch.Slot); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open[ch.Number] {
		return nil, fault.New(fault.KindTransport, "transport.ExchangeAPDU", "%s is not open", ch)
	}
	trace, err := c.send(cmd)
	if err != nil {
		return nil, err
	}
	resp, err := trace.Response()
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, "transport.ExchangeAPDU", err)
	}
	return resp, nil
}

// CloseChannel implements Transport.
func (c *Card) CloseChannel(ctx context.Context, ch Channel) error {
	if err := c.check(ctx, "transport.CloseChannel", ch.Slot); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open[ch.Number] {
		return nil
	}
	delete(c.open, ch.Number)
	if ch.Number == 0 {
		return nil
	}
	cmd, err := iso7816.NewCloseChannelCommand(ch.Number)
	if err != nil {
		return fault.Wrap(fault.KindTransport, "transport.CloseChannel", err)
	}
	trace, err := c.send(cmd)
	if err != nil {
		return err
	}
	if resp, err := trace.Response(); err != nil || !resp.Status.IsSuccess() {
		return fault.New(fault.KindTransport, "transport.CloseChannel", "closing %s refused: %v", ch, traceOutcome(resp, err))
	}
	return nil
}

func traceOutcome(resp *iso7816.ResponseAPDU, err error) string {
	if err != nil {
		return err.Error()
	}
	return resp.Status.Verbose()
}
