// Package acl compiles per-slot access control files into policies and
// evaluates them before any command reaches the card.
//
// A policy is a list of ACLs. Each ACL applies to the applications whose AID
// starts with the recorded AID (or to every application when no AID is
// recorded) and holds ACEs. An ACE grants APDU or JCRMI permissions to the
// principals listed as its roots, or to everybody when it lists none. An ACE
// with no permissions at all grants everything.
//
// Evaluation yields one of three decisions:
//
//	Allow  a matching ACE granted everything
//	Check  the command must be tested against the accumulated permissions
//	Deny   nothing matched; the request is refused
//
// Policies are immutable once parsed and safe for concurrent use.
package acl

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gregLibert/cardsec/pkg/bits"
	"github.com/gregLibert/cardsec/pkg/pin"
)

// APDUPermission grants the commands whose 4 byte header equals Command on
// the bits set in Mask.
type APDUPermission struct {
	Command uint32
	Mask    uint32
}

// Permits reports whether the header matches the permission.
func (p APDUPermission) Permits(header uint32) bool {
	return bits.Masked(header, p.Command, p.Mask)
}

func (p APDUPermission) String() string {
	return fmt.Sprintf("%08X/%08X", p.Command, p.Mask)
}

// JCRMIPermission grants methods of remote classes.
type JCRMIPermission struct {
	Classes      []string
	HashModifier string
	// Methods lists method signatures such as "foo(I)I". Empty means all
	// methods of the classes.
	Methods []string
}

// ACE is one access control entry.
type ACE struct {
	// Roots names the principals the entry applies to. Empty applies to all.
	Roots []string
	APDU  []APDUPermission
	JCRMI []JCRMIPermission
}

// HasPermissions reports whether the entry restricts anything.
func (e *ACE) HasPermissions() bool {
	return len(e.APDU) > 0 || len(e.JCRMI) > 0
}

// AppliesTo reports whether the entry covers principal.
func (e *ACE) AppliesTo(principal string) bool {
	if len(e.Roots) == 0 {
		return true
	}
	for _, r := range e.Roots {
		if r == principal {
			return true
		}
	}
	return false
}

// APDUPINEntry maps PIN operations of one PIN to APDU headers.
type APDUPINEntry struct {
	ID       int
	Commands map[pin.Op]uint32
}

// JCRMIPINEntry maps PIN operations of one PIN to remote method names.
type JCRMIPINEntry struct {
	ID      int
	Methods map[pin.Op]string
}

// ACL groups the entries applying to one application.
type ACL struct {
	// AID is the recorded application identifier. Nil matches any AID.
	AID       []byte
	ACEs      []*ACE
	APDUPINs  []APDUPINEntry
	JCRMIPINs []JCRMIPINEntry
}

// Matches reports whether the ACL applies to the selected AID.
func (a *ACL) Matches(aid []byte) bool {
	return a.AID == nil || bytes.HasPrefix(aid, a.AID)
}

// Policy is the compiled access control file of one slot.
type Policy struct {
	ACLs []*ACL
	PINs map[int]*pin.Attributes
}

// DenyAll returns the empty policy, which denies every request.
func DenyAll() *Policy {
	return &Policy{PINs: map[int]*pin.Attributes{}}
}

// PIN returns the attributes of PIN id.
func (p *Policy) PIN(id int) (*pin.Attributes, bool) {
	a, ok := p.PINs[id]
	return a, ok
}

// String renders the policy back in the file grammar, normalized.
func (p *Policy) String() string {
	var sb strings.Builder
	for _, a := range p.ACLs {
		sb.WriteString("acf")
		for _, b := range a.AID {
			fmt.Fprintf(&sb, " %02x", b)
		}
		sb.WriteString(" {\n")
		for _, e := range a.ACEs {
			sb.WriteString("  ace {\n")
			for _, r := range e.Roots {
				fmt.Fprintf(&sb, "    root %s\n", r)
			}
			for _, perm := range e.APDU {
				fmt.Fprintf(&sb, "    apdu { %s %s }\n", spacedHex(perm.Command), spacedHex(perm.Mask))
			}
			for _, perm := range e.JCRMI {
				fmt.Fprintf(&sb, "    jcrmi { classes { %s }", strings.Join(perm.Classes, " "))
				if perm.HashModifier != "" {
					fmt.Fprintf(&sb, " hashModifier %s", perm.HashModifier)
				}
				if len(perm.Methods) > 0 {
					fmt.Fprintf(&sb, " methods { %s }", strings.Join(perm.Methods, " "))
				}
				sb.WriteString(" }\n")
			}
			sb.WriteString("  }\n")
		}
		for _, e := range a.APDUPINs {
			fmt.Fprintf(&sb, "  pin_apdu { id %x", e.ID)
			for op := pin.Verify; op <= pin.Unblock; op++ {
				if h, ok := e.Commands[op]; ok {
					fmt.Fprintf(&sb, " %s %08X", op, h)
				}
			}
			sb.WriteString(" }\n")
		}
		for _, e := range a.JCRMIPINs {
			fmt.Fprintf(&sb, "  pin_jcrmi { id %x", e.ID)
			for op := pin.Verify; op <= pin.Unblock; op++ {
				if m, ok := e.Methods[op]; ok {
					fmt.Fprintf(&sb, " %s %s", op, m)
				}
			}
			sb.WriteString(" }\n")
		}
		sb.WriteString("}\n")
	}
	for id := 0; len(p.PINs) > 0 && id <= maxPINID(p.PINs); id++ {
		a, ok := p.PINs[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "pin_data {\n  label %s\n  id %x type %s min %x stored %x max %x reference %x pad %x",
			a.Label, a.ID, a.Type, a.MinLength, a.StoredLength, a.MaxLength, a.Reference, a.Pad)
		if a.Flags != 0 {
			for _, f := range strings.Split(a.Flags.String(), ",") {
				fmt.Fprintf(&sb, " flag %s", f)
			}
		}
		sb.WriteString("\n}\n")
	}
	return sb.String()
}

func spacedHex(v uint32) string {
	return fmt.Sprintf("%02X %02X %02X %02X", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func maxPINID(pins map[int]*pin.Attributes) int {
	m := 0
	for id := range pins {
		if id > m {
			m = id
		}
	}
	return m
}
