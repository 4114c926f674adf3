// Package jcrmi invokes methods of Java Card applets over APDUs.
//
// A Conn selects an applet on its own logical channel and exposes the
// initial remote reference the applet publishes. Every invocation is checked
// against the access control policy before a byte reaches the card:
//
//	conn, err := jcrmi.Open(ctx, t, slot, aid, jcrmi.Options{Principal: p, Policy: pol})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close(ctx)
//	balance, err := jcrmi.Call[int16](ctx, conn, conn.InitialReference(), "getBalance()S")
package jcrmi

import (
	"context"
	"fmt"
	"sync"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/cardsec/pkg/acl"
	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/iso7816"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/pin"
	"github.com/gregLibert/cardsec/pkg/tlv"
	"github.com/gregLibert/cardsec/pkg/transport"
)

// Response tags.
const (
	tagNormal            = 0x81
	tagException         = 0x82
	tagExceptionSubclass = 0x83
	tagError             = 0x99
)

// SELECT parameters of a JCRMI applet.
const (
	selectP1 = 0x04
	selectP2 = 0x10
)

// invokeCLA is the proprietary class of INVOKE commands, before the channel
// is encoded.
const invokeCLA = 0x80

// Options configures a connection.
type Options struct {
	// Principal is the hash of the host application certificate, matched
	// against the root lists of the policy.
	Principal string
	// Policy is the policy of the slot. A nil policy denies everything.
	Policy *acl.Policy
	// Proxies maps remote interfaces to typed proxies. May be nil.
	Proxies *ProxyRegistry
	// PINEntry collects PIN values for the PIN operations. May be nil when
	// no PIN operation is used.
	PINEntry pin.Entry
}

// Conn is an open JCRMI connection.
type Conn struct {
	t     transport.Transport
	ch    transport.Channel
	aid   []byte
	perms *acl.JCRMIPermissions
	opts  Options

	// Version is the JCRMI version announced by the applet.
	Version uint16

	cla     iso7816.Class
	ins     iso7816.Instruction
	initial *RemoteRef

	// mu serializes invocations: one exchange cycle at a time.
	mu     sync.Mutex
	closed bool
	broken error
}

// selectResponse maps the FCI returned when selecting a JCRMI applet.
type selectResponse struct {
	FCI struct {
		ApplicationData struct {
			RMIData []byte `tlv:"5E"`
		} `tlv:"6E"`
	} `tlv:"6F"`
}

// Open evaluates the policy for aid, opens a logical channel on slot and
// selects the applet. Nothing is sent to the card when the policy denies
// the request.
func Open(ctx context.Context, t transport.Transport, slot int, aid []byte, opts Options) (*Conn, error) {
	policy := opts.Policy
	if policy == nil {
		policy = acl.DenyAll()
	}
	perms, err := policy.JCRMIPermissions(opts.Principal, aid)
	if err != nil {
		return nil, err
	}

	ch, err := t.OpenChannel(ctx, slot)
	if err != nil {
		return nil, err
	}
	c := &Conn{t: t, ch: ch, aid: append([]byte(nil), aid...), perms: perms, opts: opts}
	if err := c.selectApplet(ctx); err != nil {
		if cerr := t.CloseChannel(ctx, ch); cerr != nil {
			log.Warning(fmt.Sprintf("jcrmi: closing %s after failed open: %v", ch, cerr))
		}
		return nil, err
	}
	log.Info(fmt.Sprintf("jcrmi: opened %X on %s, version %04X, initial reference %s", aid, ch, c.Version, c.initial))
	return c, nil
}

func (c *Conn) selectApplet(ctx context.Context) error {
	cla, err := iso7816.NewInterindustryClass(false, iso7816.SMNone, c.ch.Number)
	if err != nil {
		return fault.Wrap(fault.KindTransport, "jcrmi.Open", err)
	}
	ins, _ := iso7816.NewInstruction(iso7816.INS_SELECT)
	cmd := iso7816.NewCommandAPDU(cla, ins, selectP1, selectP2, c.aid, 0)
	resp, err := c.t.ExchangeAPDU(ctx, c.ch, cmd)
	if err != nil {
		return err
	}
	if resp.Status != iso7816.SW_NO_ERROR {
		return &ProtocolError{Status: resp.Status}
	}

	data, err := rmiData(resp.Data)
	if err != nil {
		return err
	}
	r := &reader{buf: data}
	if c.Version, err = r.u2(); err != nil {
		return err
	}
	insByte, err := r.u1()
	if err != nil {
		return err
	}
	if c.ins, err = iso7816.NewInstruction(iso7816.InsCode(insByte)); err != nil {
		return protocolErrorf("invoke instruction: %v", err)
	}
	base, _ := iso7816.NewClass(invokeCLA)
	if c.cla, err = base.OnChannel(c.ch.Number); err != nil {
		return fault.Wrap(fault.KindTransport, "jcrmi.Open", err)
	}

	tag, err := r.u1()
	if err != nil {
		return err
	}
	switch tag {
	case tagNormal:
		if c.initial, err = c.readRef(r); err != nil {
			return err
		}
		if c.initial == nil {
			return protocolErrorf("applet published a null initial reference")
		}
	case tagError:
		detail, err := r.u2()
		if err != nil {
			return err
		}
		return &ProtocolError{Detail: ErrorDetail(detail)}
	default:
		return protocolErrorf("unexpected tag %02X in jc_rmi_data", tag)
	}
	if r.remaining() != 0 {
		return protocolErrorf("%d trailing byte(s) in jc_rmi_data", r.remaining())
	}
	return nil
}

// rmiData extracts the content of the jc_rmi_data tag (5E) from a SELECT
// response.
func rmiData(fci []byte) ([]byte, error) {
	var sr selectResponse
	if err := tlv.Unmarshal(fci, &sr); err != nil {
		return nil, protocolErrorf("decoding select response: %v", err)
	}
	if data := sr.FCI.ApplicationData.RMIData; len(data) > 0 {
		return data, nil
	}
	// Some applets omit the application data template.
	packets, err := bertlv.Decode(fci)
	if err != nil {
		return nil, protocolErrorf("decoding select response: %v", err)
	}
	if p, ok := tlv.Find(packets, 0x5E); ok && len(p.Value) > 0 {
		return p.Value, nil
	}
	return nil, protocolErrorf("no jc_rmi_data in select response %X", fci)
}

// Channel returns the logical channel of the connection.
func (c *Conn) Channel() transport.Channel {
	return c.ch
}

// InitialReference returns the reference published at selection.
func (c *Conn) InitialReference() *RemoteRef {
	return c.initial
}

// InitialProxy returns the proxy of the initial reference, or the reference
// itself when its interface has no registered proxy.
func (c *Conn) InitialProxy() interface{} {
	return c.opts.Proxies.Proxy(c.initial)
}

// Invoke calls methodSig, a method name followed by its descriptor such as
// "debit(S)V", on ref. Parameters must be of type int8, uint8, bool, int16,
// int32 or a slice of those (except uint8 slices are []byte); nil encodes a
// null array.
//
// The result is nil for void methods and null arrays, int8, bool, int16,
// int32, the matching slice type, or a reference: the registered proxy of
// its interface, otherwise a *RemoteRef.
//
// An exception thrown by the method is returned as a *RemoteException and
// leaves the connection usable. A non-success status word, or a response
// that cannot be decoded, is a *ProtocolError and makes the connection
// unusable.
func (c *Conn) Invoke(ctx context.Context, ref *RemoteRef, methodSig string, params ...interface{}) (interface{}, error) {
	return c.invoke(ctx, ref, methodSig, true, params)
}

func (c *Conn) invoke(ctx context.Context, ref *RemoteRef, methodSig string, checkACL bool, params []interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.broken != nil {
		return nil, fault.Wrap(fault.KindProtocol, "jcrmi.Invoke", fmt.Errorf("connection unusable after %w", c.broken))
	}
	if ref == nil {
		return nil, fault.New(fault.KindProtocol, "jcrmi.Invoke", "invocation on a null reference")
	}
	if ref.conn != c {
		return nil, ErrConnectionClosed
	}
	if checkACL {
		if err := c.perms.CheckPermission(ref.ClassName, methodSig); err != nil {
			return nil, err
		}
	}
	rt, err := returnType(methodSig)
	if err != nil {
		return nil, err
	}

	digest := acl.MethodDigest(ref.HashModifier, methodSig)
	data, err := marshalParams(digest[:], params)
	if err != nil {
		return nil, err
	}
	cmd := iso7816.NewCommandAPDU(c.cla, c.ins, byte(ref.ObjectID>>8), byte(ref.ObjectID), data, 0xFF)
	resp, err := c.t.ExchangeAPDU(ctx, c.ch, cmd)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if resp.Status != iso7816.SW_NO_ERROR {
		err = &ProtocolError{Status: resp.Status}
	} else {
		v, err = c.decodeResponse(resp.Data, rt)
	}
	if pe, ok := err.(*ProtocolError); ok {
		c.broken = pe
		log.Warning(fmt.Sprintf("jcrmi: %s on %s: %v", methodSig, ref, err))
	}
	return v, err
}

func (c *Conn) decodeResponse(data []byte, rt string) (interface{}, error) {
	r := &reader{buf: data}
	tag, err := r.u1()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNormal:
		v, err := c.unmarshalValue(r, rt)
		if err != nil {
			return nil, err
		}
		if r.remaining() != 0 {
			return nil, protocolErrorf("%d trailing byte(s) after return value", r.remaining())
		}
		return v, nil
	case tagException, tagExceptionSubclass:
		code, err := r.u1()
		if err != nil {
			return nil, err
		}
		reason, err := r.u2()
		if err != nil {
			return nil, err
		}
		ex, err := newRemoteException(tag, code, reason)
		if err != nil {
			return nil, err
		}
		return nil, ex
	case tagError:
		detail, err := r.u2()
		if err != nil {
			return nil, err
		}
		return nil, &ProtocolError{Detail: ErrorDetail(detail)}
	default:
		return nil, protocolErrorf("unexpected response tag %02X", tag)
	}
}

// Call invokes methodSig and converts the result to T. A nil result yields
// the zero value of T.
func Call[T any](ctx context.Context, c *Conn, ref *RemoteRef, methodSig string, params ...interface{}) (T, error) {
	var zero T
	v, err := c.Invoke(ctx, ref, methodSig, params...)
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fault.New(fault.KindProtocol, "jcrmi.Call", "%s returned %T, want %T", methodSig, v, zero)
	}
	return out, nil
}

// Close deselects the applet by closing the logical channel. References of
// the connection become invalid. Closing twice is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	log.Info(fmt.Sprintf("jcrmi: closing %X on %s", c.aid, c.ch))
	return c.t.CloseChannel(ctx, c.ch)
}
