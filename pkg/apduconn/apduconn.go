// Package apduconn gives host applications raw APDU access to one card
// application, filtered by the access control policy of the slot.
//
// The connection owns a logical channel: it selects the application once and
// refuses commands that would select another application or manage channels.
// Every other command is matched against the APDU permissions of the policy
// before it is sent.
package apduconn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gregLibert/cardsec/pkg/acl"
	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/iso7816"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/pin"
	"github.com/gregLibert/cardsec/pkg/transport"
)

// PINCancelled is returned by the PIN operations when the holder dismissed
// the PIN prompt.
const PINCancelled = -1

// ErrConnectionClosed is returned by operations on a closed connection.
var ErrConnectionClosed = &fault.Error{Kind: fault.KindTransport, Op: "apduconn", Err: errors.New("connection closed")}

// Options configures a connection.
type Options struct {
	// Principal is the hash of the host application certificate.
	Principal string
	// Policy is the policy of the slot. A nil policy denies everything.
	Policy *acl.Policy
	// PINEntry collects PIN values for the PIN operations.
	PINEntry pin.Entry
}

// Conn is an open APDU connection.
type Conn struct {
	t     transport.Transport
	ch    transport.Channel
	aid   []byte
	perms *acl.APDUPermissions
	opts  Options

	selection *iso7816.SelectResult

	mu     sync.Mutex
	closed bool
}

// Open evaluates the policy for aid, opens a logical channel on slot and
// selects the application.
func Open(ctx context.Context, t transport.Transport, slot int, aid []byte, opts Options) (*Conn, error) {
	policy := opts.Policy
	if policy == nil {
		policy = acl.DenyAll()
	}
	perms, err := policy.APDUPermissions(opts.Principal, aid)
	if err != nil {
		return nil, err
	}

	ch, err := t.OpenChannel(ctx, slot)
	if err != nil {
		return nil, err
	}
	c := &Conn{t: t, ch: ch, aid: append([]byte(nil), aid...), perms: perms, opts: opts}
	if err := c.selectApplication(ctx); err != nil {
		if cerr := t.CloseChannel(ctx, ch); cerr != nil {
			log.Warning(fmt.Sprintf("apduconn: closing %s after failed open: %v", ch, cerr))
		}
		return nil, err
	}
	log.Info(fmt.Sprintf("apduconn: opened %X on %s", aid, ch))
	return c, nil
}

func (c *Conn) selectApplication(ctx context.Context) error {
	cla, err := iso7816.NewInterindustryClass(false, iso7816.SMNone, c.ch.Number)
	if err != nil {
		return fault.Wrap(fault.KindTransport, "apduconn.Open", err)
	}
	cmd := iso7816.SelectByAID(cla, c.aid)
	resp, err := c.t.ExchangeAPDU(ctx, c.ch, cmd)
	if err != nil {
		return err
	}
	if err := resp.Status.Err("apduconn.Open"); err != nil {
		return err
	}
	c.selection, err = iso7816.NewSelectResult(iso7816.Trace{{Command: cmd, Response: resp}})
	return err
}

// Selection returns the outcome of the SELECT sent at open.
func (c *Conn) Selection() *iso7816.SelectResult {
	return c.selection
}

// Channel returns the logical channel of the connection.
func (c *Conn) Channel() transport.Channel {
	return c.ch
}

// Exchange sends a raw command APDU and returns the raw response, status
// word last. The logical channel of the connection replaces the one encoded
// in the CLA byte; the header is checked with the channel bits cleared.
func (c *Conn) Exchange(ctx context.Context, raw []byte) ([]byte, error) {
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return nil, fault.Wrap(fault.KindFormat, "apduconn.Exchange", err)
	}
	switch {
	case iso7816.IsApplicationSelect(cmd):
		return nil, fault.New(fault.KindSecurity, "apduconn.Exchange", "selecting another application is not allowed")
	case cmd.Instruction.Raw == iso7816.INS_MANAGE_CHANNEL:
		return nil, fault.New(fault.KindSecurity, "apduconn.Exchange", "MANAGE CHANNEL is not allowed")
	}

	header, err := headerOnChannel(cmd, 0)
	if err != nil {
		return nil, err
	}
	if err := c.perms.CheckAPDU(header); err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

// headerOnChannel moves cmd to channel and returns its header.
func headerOnChannel(cmd *iso7816.CommandAPDU, channel uint8) (uint32, error) {
	cla, err := cmd.Class.OnChannel(channel)
	if err != nil {
		return 0, fault.Wrap(fault.KindFormat, "apduconn", err)
	}
	cmd.Class = cla
	h, err := cmd.Header()
	if err != nil {
		return 0, fault.Wrap(fault.KindFormat, "apduconn", err)
	}
	return h, nil
}

func (c *Conn) send(ctx context.Context, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if _, err := headerOnChannel(cmd, c.ch.Number); err != nil {
		return nil, err
	}
	return c.t.ExchangeAPDU(ctx, c.ch, cmd)
}

// Close closes the logical channel. Closing twice is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	log.Info(fmt.Sprintf("apduconn: closing %X on %s", c.aid, c.ch))
	return c.t.CloseChannel(ctx, c.ch)
}
