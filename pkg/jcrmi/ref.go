package jcrmi

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// RemoteInterface is the root of every remote interface hierarchy.
const RemoteInterface = "java.rmi.Remote"

// RemoteRef identifies one object exported by the card applet. A reference
// is only valid on the connection it was received from, until that
// connection is closed.
type RemoteRef struct {
	ObjectID     uint16
	HashModifier string
	// ClassName is the most derived remote interface the object implements.
	ClassName string
	// Interfaces lists every interface of the descriptor, in card order.
	Interfaces []string

	conn *Conn
}

// Invoke calls methodSig on the object. See Conn.Invoke.
func (r *RemoteRef) Invoke(ctx context.Context, methodSig string, params ...interface{}) (interface{}, error) {
	if r.conn == nil {
		return nil, ErrConnectionClosed
	}
	return r.conn.Invoke(ctx, r, methodSig, params...)
}

func (r *RemoteRef) String() string {
	return fmt.Sprintf("%s@%04X", r.ClassName, r.ObjectID)
}

// ProxyFactory builds the typed proxy of a remote interface around a
// reference.
type ProxyFactory func(ref *RemoteRef) interface{}

type proxyEntry struct {
	supers  []string
	factory ProxyFactory
}

// ProxyRegistry maps remote interface names to their super interfaces and
// proxy constructors. Interfaces are registered up front; references to
// unregistered interfaces are returned as bare *RemoteRef.
type ProxyRegistry struct {
	mu      sync.RWMutex
	entries map[string]proxyEntry
}

// NewProxyRegistry returns an empty registry.
func NewProxyRegistry() *ProxyRegistry {
	return &ProxyRegistry{entries: map[string]proxyEntry{}}
}

// Register declares iface with its direct super interfaces. factory may be
// nil for interfaces that only take part in the hierarchy.
func (p *ProxyRegistry) Register(iface string, supers []string, factory ProxyFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[iface] = proxyEntry{supers: append([]string(nil), supers...), factory: factory}
}

// isA reports whether sub is assignable to super.
func (p *ProxyRegistry) isA(sub, super string) bool {
	if sub == super || super == RemoteInterface {
		return true
	}
	if p == nil {
		return false
	}
	p.mu.RLock()
	e, ok := p.entries[sub]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	for _, s := range e.supers {
		if p.isA(s, super) {
			return true
		}
	}
	return false
}

// MostDerived returns the interface of ifaces assignable to every other
// one. An empty or inconsistent set is a protocol error.
func (p *ProxyRegistry) MostDerived(ifaces []string) (string, error) {
	for _, cand := range ifaces {
		ok := true
		for _, other := range ifaces {
			if !p.isA(cand, other) {
				ok = false
				break
			}
		}
		if ok {
			return cand, nil
		}
	}
	return "", protocolErrorf("no most derived interface among %v", ifaces)
}

// Proxy returns the registered proxy of ref's class, or ref itself.
func (p *ProxyRegistry) Proxy(ref *RemoteRef) interface{} {
	if p == nil || ref == nil {
		return ref
	}
	p.mu.RLock()
	e, ok := p.entries[ref.ClassName]
	p.mu.RUnlock()
	if !ok || e.factory == nil {
		return ref
	}
	return e.factory(ref)
}

// reader walks a JCRMI response payload.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) u1() (byte, error) {
	if r.remaining() < 1 {
		return 0, protocolErrorf("truncated response at offset %d", r.off)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) u2() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, protocolErrorf("truncated response at offset %d: need %d byte(s), have %d", r.off, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) string8() (string, error) {
	n, err := r.u1()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// REMOTE REFERENCE DESCRIPTOR:
//   u2 object id            FFFF encodes null
//   u1 length, hash modifier
//   u1 interface count      at least one
//   per interface:
//     u1 length, package    empty reuses the previous package, '/' separated
//     u1 length, name

// readRef decodes a reference descriptor. A null reference returns nil.
func (c *Conn) readRef(r *reader) (*RemoteRef, error) {
	id, err := r.u2()
	if err != nil {
		return nil, err
	}
	if id == 0xFFFF {
		return nil, nil
	}
	hm, err := r.string8()
	if err != nil {
		return nil, err
	}
	count, err := r.u1()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, protocolErrorf("reference %04X declares no interface", id)
	}
	ifaces := make([]string, 0, count)
	pkg := ""
	for i := 0; i < int(count); i++ {
		p, err := r.string8()
		if err != nil {
			return nil, err
		}
		if p != "" {
			pkg = strings.ReplaceAll(p, "/", ".")
		}
		name, err := r.string8()
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, protocolErrorf("reference %04X: empty interface name", id)
		}
		if pkg != "" {
			name = pkg + "." + name
		}
		ifaces = append(ifaces, name)
	}
	class, err := c.opts.Proxies.MostDerived(ifaces)
	if err != nil {
		return nil, err
	}
	return &RemoteRef{ObjectID: id, HashModifier: hm, ClassName: class, Interfaces: ifaces, conn: c}, nil
}
