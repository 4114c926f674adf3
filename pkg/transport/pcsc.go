package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebfe/scard"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/iso7816"
	"github.com/gregLibert/cardsec/pkg/log"
)

// PCSC is a Transport over the PC/SC readers of the host. Slot N is the Nth
// reader reported by the resource manager; the card of a slot is connected
// on first use.
type PCSC struct {
	ctx     *scard.Context
	readers []string

	mu    sync.Mutex
	cards map[int]*pcscSlot
}

type pcscSlot struct {
	handle *scard.Card
	*Card
}

// NewPCSC establishes a PC/SC context and lists the readers.
func NewPCSC() (*PCSC, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, "transport.NewPCSC", fmt.Errorf("establishing context: %w", err))
	}
	readers, err := ctx.ListReaders()
	if err != nil {
		if relErr := ctx.Release(); relErr != nil {
			log.Warning(fmt.Sprintf("pcsc: failed to release context: %v", relErr))
		}
		return nil, fault.Wrap(fault.KindTransport, "transport.NewPCSC", fmt.Errorf("listing readers: %w", err))
	}
	return &PCSC{ctx: ctx, readers: readers, cards: map[int]*pcscSlot{}}, nil
}

// Readers returns the reader names, indexed by slot.
func (p *PCSC) Readers() []string {
	return append([]string(nil), p.readers...)
}

func (p *PCSC) card(slot int) (*Card, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.cards[slot]; ok {
		return s.Card, nil
	}
	if slot < 0 || slot >= len(p.readers) {
		return nil, fault.New(fault.KindTransport, "transport.PCSC", "no reader for slot %d (%d reader(s))", slot, len(p.readers))
	}
	// T=0 or T=1 only: ProtocolAny makes some drivers fail with "Parameter Incorrect".
	handle, err := p.ctx.Connect(p.readers[slot], scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, "transport.PCSC", fmt.Errorf("connecting to %q: %w", p.readers[slot], err))
	}
	log.Info(fmt.Sprintf("pcsc: slot %d connected to %q", slot, p.readers[slot]))
	s := &pcscSlot{handle: handle, Card: NewCard(slot, handle)}
	p.cards[slot] = s
	return s.Card, nil
}

// OpenChannel implements Transport.
func (p *PCSC) OpenChannel(ctx context.Context, slot int) (Channel, error) {
	c, err := p.card(slot)
	if err != nil {
		return Channel{}, err
	}
	return c.OpenChannel(ctx, slot)
}

// ExchangeAPDU implements Transport.
func (p *PCSC) ExchangeAPDU(ctx context.Context, ch Channel, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	c, err := p.card(ch.Slot)
	if err != nil {
		return nil, err
	}
	return c.ExchangeAPDU(ctx, ch, cmd)
}

// CloseChannel implements Transport.
func (p *PCSC) CloseChannel(ctx context.Context, ch Channel) error {
	c, err := p.card(ch.Slot)
	if err != nil {
		return err
	}
	return c.CloseChannel(ctx, ch)
}

// Close disconnects every card, leaving it powered, and releases the context.
func (p *PCSC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for slot, s := range p.cards {
		if err := s.handle.Disconnect(scard.LeaveCard); err != nil {
			log.Warning(fmt.Sprintf("pcsc: failed to disconnect slot %d: %v", slot, err))
		}
		delete(p.cards, slot)
	}
	if err := p.ctx.Release(); err != nil {
		return fault.Wrap(fault.KindTransport, "transport.Close", err)
	}
	return nil
}
