// Package transport moves APDUs between the host and the card slots.
//
// A Transport exposes logical channels. Callers put the channel number into
// the CLA byte of the commands they send; the transport neither rewrites nor
// filters commands.
package transport

import (
	"context"
	"fmt"

	"github.com/gregLibert/cardsec/pkg/iso7816"
)

// Channel is an open logical channel of a slot.
type Channel struct {
	Slot   int
	Number uint8
}

func (c Channel) String() string {
	return fmt.Sprintf("slot %d channel %d", c.Slot, c.Number)
}

// Transport is the card side collaborator of connections.
type Transport interface {
	// OpenChannel opens a logical channel on the card in slot.
	OpenChannel(ctx context.Context, slot int) (Channel, error)
	// ExchangeAPDU sends cmd on ch and returns the complete response. T=0
	// continuations (61XX, 6CXX) are resolved by the transport.
	ExchangeAPDU(ctx context.Context, ch Channel, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error)
	// CloseChannel releases ch.
	CloseChannel(ctx context.Context, ch Channel) error
}
