package jcrmi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/pin"
)

// PINCancelled is returned by the PIN operations when the holder dismissed
// the PIN prompt. Nothing is sent to the card in that case.
const PINCancelled = -1

// EnterPIN verifies PIN id and returns the result of the card method.
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
	method, err := c.perms.PINMethod(id, op)
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
		log.Info(fmt.Sprintf("jcrmi: %s of pin %x cancelled", op, id))
		return PINCancelled, nil
	}
	if err != nil {
		return 0, err
	}
	params := make([]interface{}, len(values))
	for i, v := range values {
		params[i] = v
	}

	if !strings.Contains(method, "(") {
		method += "(" + strings.Repeat("[B", len(params)) + ")S"
	}
	res, err := c.invoke(ctx, c.initial, method, false, params)
	if err != nil {
		return 0, err
	}
	s, ok := res.(int16)
	if !ok {
		return 0, fault.New(fault.KindProtocol, "jcrmi.PIN", "%s returned %T, want a short", method, res)
	}
	return int(s), nil
}
