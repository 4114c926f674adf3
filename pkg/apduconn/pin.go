package apduconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/iso7816"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/pin"
)

// PIN COMMANDS:
// The policy maps each PIN operation to a command header (pin_apdu). The data
// field carries the transformed PIN values, concatenated in prompt order:
//   verify, disable, enable   PIN
//   change                    current PIN || new PIN
//   unblock                   unblocking PIN || new PIN
// The status word of the card is returned unchanged, e.g. 63CX for a wrong
// PIN with X tries left.

// EnterPIN verifies PIN id and returns the status word of the card.
func (c *Conn) EnterPIN(ctx context.Context, id int) (int, error) {
	return c.pinOp(ctx, pin.Verify, id, 0)
}

// ChangePIN replaces the value of PIN id.
func (c *Conn) ChangePIN(ctx context.Context, id int) (int, error) {
	return c.pinOp(ctx, pin.Change, id, 0)
}

// DisablePIN disables PIN id.
func (c *Conn) DisablePIN(ctx context.Context, id int) (int, error) {
	return c.pinOp(ctx, pin.Disable, id, 0)
}

// EnablePIN enables PIN id.
func (c *Conn) EnablePIN(ctx context.Context, id int) (int, error) {
	return c.pinOp(ctx, pin.Enable, id, 0)
}

// UnblockPIN resets PIN id with the unblocking PIN unblockingID.
func (c *Conn) UnblockPIN(ctx context.Context, id, unblockingID int) (int, error) {
	return c.pinOp(ctx, pin.Unblock, id, unblockingID)
}

func (c *Conn) pinOp(ctx context.Context, op pin.Op, id, unblockingID int) (int, error) {
	header, err := c.perms.PINCommand(id, op)
	if err != nil {
		return 0, err
	}
	attrs, err := c.perms.PINAttributes(id)
	if err != nil {
		return 0, err
	}
	req := pin.Request{Op: op, PIN: attrs}
	if op == pin.Unblock {
		if req.Unblocking, err = c.perms.PINAttributes(unblockingID); err != nil {
			return 0, err
		}
	}
	values, err := pin.Collect(ctx, c.opts.PINEntry, req)
	if errors.Is(err, pin.ErrCancelled) {
		log.Info(fmt.Sprintf("apduconn: %s of pin %x cancelled", op, id))
		return PINCancelled, nil
	}
	if err != nil {
		return 0, err
	}
	var data []byte
	for _, v := range values {
		data = append(data, v...)
	}

	cla, err := iso7816.NewClass(byte(header >> 24))
	if err != nil {
		return 0, fault.Wrap(fault.KindPolicy, "apduconn.PIN", err)
	}
	ins, err := iso7816.NewInstruction(iso7816.InsCode(header >> 16))
	if err != nil {
		return 0, fault.Wrap(fault.KindPolicy, "apduconn.PIN", err)
	}
	if !ins.Raw.IsPINManagement() {
		log.Debug(fmt.Sprintf("apduconn: %s of pin %x uses proprietary %s", op, id, ins.Verbose()))
	}
	cmd := iso7816.NewCommandAPDU(cla, ins, byte(header>>8), byte(header), data, 0)
	resp, err := c.send(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if n, ok := resp.Status.RetriesLeft(); ok {
		log.Notice(fmt.Sprintf("apduconn: %s of pin %x refused, %d tries left", op, id, n))
	}
	return int(resp.Status), nil
}
