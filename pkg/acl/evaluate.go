package acl

import (
	"crypto/sha1"
	"fmt"

	"github.com/pkg/errors"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/pin"
)

// ErrAccessDenied is returned when the policy refuses a request. It is a
// security error: errors.Is(err, fault.ErrSecurity) holds.
var ErrAccessDenied = &fault.Error{Kind: fault.KindSecurity, Op: "acl", Err: errors.New("access denied")}

// Kind selects the permission family of a request.
type Kind int

const (
	KindAPDU Kind = iota
	KindJCRMI
)

func (k Kind) String() string {
	if k == KindJCRMI {
		return "jcrmi"
	}
	return "apdu"
}

// Decision is the outcome of evaluating a request.
type Decision int

const (
	Deny Decision = iota
	Allow
	Check
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "ALLOW"
	case Check:
		return "CHECK"
	default:
		return "DENY"
	}
}

// Request identifies who wants to talk to which application, and how.
type Request struct {
	Principal string
	AID       []byte
	Kind      Kind
}

// Result is the evaluated decision plus what the caller needs to enforce it.
type Result struct {
	Decision Decision
	// APDU or JCRMI hold the accumulated permissions for a Check decision.
	APDU  []APDUPermission
	JCRMI []JCRMIPermission
	// PIN tables of the matched ACLs, for the requested kind.
	APDUPINs  []APDUPINEntry
	JCRMIPINs []JCRMIPINEntry
}

// Evaluate decides on a request.
func (p *Policy) Evaluate(req Request) Result {
	var res Result
	matched := false
	blanket := false

	for _, acl := range p.ACLs {
		if !acl.Matches(req.AID) {
			continue
		}
		matched = true

		if req.Kind == KindAPDU {
			res.APDUPINs = append(res.APDUPINs, acl.APDUPINs...)
		} else {
			res.JCRMIPINs = append(res.JCRMIPINs, acl.JCRMIPINs...)
		}

		for _, ace := range acl.ACEs {
			if !ace.AppliesTo(req.Principal) {
				continue
			}
			if !ace.HasPermissions() {
				blanket = true
				continue
			}
			if req.Kind == KindAPDU {
				res.APDU = append(res.APDU, ace.APDU...)
			} else {
				res.JCRMI = append(res.JCRMI, ace.JCRMI...)
			}
		}
	}

	switch {
	case !matched:
		res.Decision = Deny
	case blanket:
		res.Decision = Allow
		res.APDU, res.JCRMI = nil, nil
	case len(res.APDU) > 0 || len(res.JCRMI) > 0:
		res.Decision = Check
	default:
		res.Decision = Deny
	}
	return res
}

// APDUPermissions evaluates an APDU request and returns its verifier. A Deny
// decision returns ErrAccessDenied.
func (p *Policy) APDUPermissions(principal string, aid []byte) (*APDUPermissions, error) {
	res := p.Evaluate(Request{Principal: principal, AID: aid, Kind: KindAPDU})
	if res.Decision == Deny {
		return nil, denied("acl.APDUPermissions", "no apdu permission for %q on AID %X", principal, aid)
	}
	return &APDUPermissions{Result: res, pins: p.PINs}, nil
}

// JCRMIPermissions evaluates a JCRMI request and returns its verifier. A Deny
// decision returns ErrAccessDenied.
func (p *Policy) JCRMIPermissions(principal string, aid []byte) (*JCRMIPermissions, error) {
	res := p.Evaluate(Request{Principal: principal, AID: aid, Kind: KindJCRMI})
	if res.Decision == Deny {
		return nil, denied("acl.JCRMIPermissions", "no jcrmi permission for %q on AID %X", principal, aid)
	}
	v := &JCRMIPermissions{Result: res, pins: p.PINs}
	for _, perm := range res.JCRMI {
		digests := make(map[[sha1.Size]byte]bool, len(perm.Methods))
		for _, m := range perm.Methods {
			digests[MethodDigest(perm.HashModifier, m)] = true
		}
		v.digests = append(v.digests, digests)
	}
	return v, nil
}

func denied(op, format string, args ...interface{}) error {
	return fault.Wrap(fault.KindSecurity, op, errors.Wrap(ErrAccessDenied, fmt.Sprintf(format, args...)))
}

// MethodDigest identifies a remote method: SHA-1 over the hash modifier
// followed by the method signature, both UTF-8.
func MethodDigest(hashModifier, methodSig string) [sha1.Size]byte {
	h := sha1.New()
	h.Write([]byte(hashModifier))
	h.Write([]byte(methodSig))
	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// APDUPermissions verifies commands sent on an APDU connection.
type APDUPermissions struct {
	Result
	pins map[int]*pin.Attributes
}

// CheckAPDU tests a command header (CLA INS P1 P2, channel bits cleared).
func (v *APDUPermissions) CheckAPDU(header uint32) error {
	if v.Decision == Allow {
		return nil
	}
	for _, perm := range v.APDU {
		if perm.Permits(header) {
			return nil
		}
	}
	return denied("acl.CheckAPDU", "command %08X not permitted", header)
}

// PINCommand returns the command header the policy assigns to a PIN operation.
func (v *APDUPermissions) PINCommand(id int, op pin.Op) (uint32, error) {
	for _, e := range v.APDUPINs {
		if e.ID != id {
			continue
		}
		if h, ok := e.Commands[op]; ok {
			return h, nil
		}
	}
	return 0, denied("acl.PINCommand", "no %s command for pin %x", op, id)
}

// PINAttributes returns the attributes of PIN id.
func (v *APDUPermissions) PINAttributes(id int) (*pin.Attributes, error) {
	return pinAttributes(v.pins, id)
}

// JCRMIPermissions verifies remote method invocations.
type JCRMIPermissions struct {
	Result
	pins map[int]*pin.Attributes
	// digests[i] holds the method digests of JCRMI[i].
	digests []map[[sha1.Size]byte]bool
}

// CheckPermission tests a call of methodSig on a remote object of class.
func (v *JCRMIPermissions) CheckPermission(class, methodSig string) error {
	if v.Decision == Allow {
		return nil
	}
	for i, perm := range v.JCRMI {
		if !contains(perm.Classes, class) {
			continue
		}
		if len(perm.Methods) == 0 || v.digests[i][MethodDigest(perm.HashModifier, methodSig)] {
			return nil
		}
	}
	return denied("acl.CheckPermission", "method %s of %s not permitted", methodSig, class)
}

// PINMethod returns the remote method the policy assigns to a PIN operation.
func (v *JCRMIPermissions) PINMethod(id int, op pin.Op) (string, error) {
	for _, e := range v.JCRMIPINs {
		if e.ID != id {
			continue
		}
		if m, ok := e.Methods[op]; ok {
			return m, nil
		}
	}
	return "", denied("acl.PINMethod", "no %s method for pin %x", op, id)
}

// PINAttributes returns the attributes of PIN id.
func (v *JCRMIPermissions) PINAttributes(id int) (*pin.Attributes, error) {
	return pinAttributes(v.pins, id)
}

func pinAttributes(pins map[int]*pin.Attributes, id int) (*pin.Attributes, error) {
	if a, ok := pins[id]; ok {
		return a, nil
	}
	return nil, denied("acl.PINAttributes", "no pin_data for pin %x", id)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
