package acl

import (
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/pin"
)

// ACCESS CONTROL FILE GRAMMAR:
// The file is a whitespace separated token stream where braces are tokens on
// their own, even when glued to a word ("classes{").
//
//	acf <aid>? {
//	    ace {
//	        root <principal, rest of line up to a closing brace>
//	        apdu { <8 hex bytes: command then mask>+ }
//	        jcrmi { classes { <name>+ } hashModifier <m>? methods { <sig>* }? }
//	    }
//	    pin_apdu { id <hex> (<op> <header>)+ }
//	    pin_jcrmi { id <hex> (<op> <method>)+ }
//	}
//	pin_data { label <text, rest of line up to '}'> id <hex> type <t> min <hex> stored <hex>
//	           max <hex> reference <hex> pad <hex> flag <f>* }
//
// An AID is a run of byte tokens ("a0 00 00 00 62") or one dotted or colon
// separated token ("a0.0.0.0.62"); no AID matches every application.
// A <header> is one 8 digit token or four byte tokens. pin_apdu and pin_jcrmi
// are also accepted inside an ace and then belong to the enclosing acf.
// A token starting with '#' comments out the rest of its line.

type token struct {
	text string
	line int
	// rest is the trimmed remainder of the source line after the token.
	rest string
}

func tokenize(src string) []token {
	var toks []token
	for n, line := range strings.Split(src, "\n") {
		i := 0
		for i < len(line) {
			c := line[i]
			switch {
			case c == ' ' || c == '\t' || c == '\r':
				i++
				continue
			case c == '#':
				i = len(line)
				continue
			case c == '{' || c == '}':
				toks = append(toks, token{text: line[i : i+1], line: n + 1, rest: strings.TrimSpace(line[i+1:])})
				i++
				continue
			}
			start := i
			for i < len(line) && !strings.ContainsRune(" \t\r{}", rune(line[i])) {
				i++
			}
			toks = append(toks, token{text: line[start:i], line: n + 1, rest: strings.TrimSpace(line[i:])})
		}
	}
	return toks
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) next() (token, error) {
	if p.eof() {
		line := 0
		if len(p.toks) > 0 {
			line = p.toks[len(p.toks)-1].line
		}
		return token{}, errors.Errorf("line %d: unexpected end of file", line)
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

func (p *parser) peek() string {
	if p.eof() {
		return ""
	}
	return p.toks[p.pos].text
}

func (p *parser) expect(text string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t.text != text {
		return errors.Errorf("line %d: expected %q, found %q", t.line, text, t.text)
	}
	return nil
}

// restOfLine consumes the tokens following t on its line, up to a closing
// brace, and returns their raw text.
func (p *parser) restOfLine(t token) (string, error) {
	for !p.eof() && p.toks[p.pos].line == t.line && p.toks[p.pos].text != "}" {
		p.pos++
	}
	value, _, _ := strings.Cut(t.rest, "}")
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.Errorf("line %d: %s needs a value", t.line, t.text)
	}
	return value, nil
}

func (p *parser) hexValue() (uint64, token, error) {
	t, err := p.next()
	if err != nil {
		return 0, t, err
	}
	v, err := strconv.ParseUint(t.text, 16, 32)
	if err != nil {
		return 0, t, errors.Wrapf(err, "line %d: bad hex value %q", t.line, t.text)
	}
	return v, t, nil
}

// Parse compiles an access control file.
func Parse(r io.Reader) (*Policy, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fault.Wrap(fault.KindPolicy, "acl.Parse", err)
	}
	policy, err := parse(string(src))
	if err != nil {
		return nil, fault.Wrap(fault.KindPolicy, "acl.Parse", err)
	}
	return policy, nil
}

// ParseFile compiles the access control file at path.
func ParseFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindPolicy, "acl.ParseFile", err)
	}
	defer f.Close()
	return Parse(f)
}

func parse(src string) (*Policy, error) {
	p := &parser{toks: tokenize(src)}
	policy := DenyAll()
	for !p.eof() {
		t, _ := p.next()
		switch t.text {
		case "acf":
			acl, err := p.parseACF()
			if err != nil {
				return nil, err
			}
			policy.ACLs = append(policy.ACLs, acl)
		case "pin_data":
			attrs, err := p.parsePINData()
			if err != nil {
				return nil, err
			}
			if _, dup := policy.PINs[attrs.ID]; dup {
				return nil, errors.Errorf("line %d: duplicate pin_data id %x", t.line, attrs.ID)
			}
			policy.PINs[attrs.ID] = attrs
		default:
			return nil, errors.Errorf("line %d: unexpected token %q", t.line, t.text)
		}
	}
	return policy, nil
}

func (p *parser) parseACF() (*ACL, error) {
	acl := &ACL{}
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t.text == "{" {
			break
		}
		b, err := parseAIDToken(t)
		if err != nil {
			return nil, err
		}
		acl.AID = append(acl.AID, b...)
	}

	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		switch t.text {
		case "}":
			return acl, nil
		case "ace":
			ace, err := p.parseACE(acl)
			if err != nil {
				return nil, err
			}
			acl.ACEs = append(acl.ACEs, ace)
		case "pin_apdu":
			if err := p.parsePINAPDU(acl); err != nil {
				return nil, err
			}
		case "pin_jcrmi":
			if err := p.parsePINJCRMI(acl); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("line %d: unexpected token %q in acf", t.line, t.text)
		}
	}
}

func parseAIDToken(t token) ([]byte, error) {
	var parts []string
	switch {
	case strings.ContainsAny(t.text, ".:"):
		parts = strings.FieldsFunc(t.text, func(r rune) bool { return r == '.' || r == ':' })
	case len(t.text) > 2:
		b, err := hex.DecodeString(t.text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: bad AID %q", t.line, t.text)
		}
		return b, nil
	default:
		parts = []string{t.text}
	}

	out := make([]byte, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: bad AID byte %q", t.line, part)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func (p *parser) parseACE(acl *ACL) (*ACE, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	ace := &ACE{}
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		switch t.text {
		case "}":
			return ace, nil
		case "root":
			root, err := p.restOfLine(t)
			if err != nil {
				return nil, err
			}
			ace.Roots = append(ace.Roots, root)
		case "apdu":
			perms, err := p.parseAPDU()
			if err != nil {
				return nil, err
			}
			ace.APDU = append(ace.APDU, perms...)
		case "jcrmi":
			perm, err := p.parseJCRMI()
			if err != nil {
				return nil, err
			}
			ace.JCRMI = append(ace.JCRMI, perm)
		case "pin_apdu":
			if err := p.parsePINAPDU(acl); err != nil {
				return nil, err
			}
		case "pin_jcrmi":
			if err := p.parsePINJCRMI(acl); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("line %d: unexpected token %q in ace", t.line, t.text)
		}
	}
}

func (p *parser) parseAPDU() ([]APDUPermission, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var raw []byte
	var open token
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if open.line == 0 {
			open = t
		}
		if t.text == "}" {
			break
		}
		v, err := strconv.ParseUint(t.text, 16, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: bad apdu byte %q", t.line, t.text)
		}
		raw = append(raw, byte(v))
	}
	if len(raw) == 0 || len(raw)%8 != 0 {
		return nil, errors.Errorf("line %d: apdu needs groups of 8 bytes, got %d", open.line, len(raw))
	}

	perms := make([]APDUPermission, 0, len(raw)/8)
	for i := 0; i < len(raw); i += 8 {
		perms = append(perms, APDUPermission{Command: be32(raw[i:]), Mask: be32(raw[i+4:])})
	}
	return perms, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (p *parser) parseNameList() ([]string, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var names []string
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t.text == "}" {
			return names, nil
		}
		if t.text == "{" {
			return nil, errors.Errorf("line %d: unexpected %q in list", t.line, t.text)
		}
		names = append(names, t.text)
	}
}

func (p *parser) parseJCRMI() (JCRMIPermission, error) {
	var perm JCRMIPermission
	if err := p.expect("{"); err != nil {
		return perm, err
	}
	for {
		t, err := p.next()
		if err != nil {
			return perm, err
		}
		switch t.text {
		case "}":
			if len(perm.Classes) == 0 {
				return perm, errors.Errorf("line %d: jcrmi permission without classes", t.line)
			}
			return perm, nil
		case "classes":
			names, err := p.parseNameList()
			if err != nil {
				return perm, err
			}
			perm.Classes = append(perm.Classes, names...)
		case "methods":
			names, err := p.parseNameList()
			if err != nil {
				return perm, err
			}
			perm.Methods = append(perm.Methods, names...)
		case "hashModifier":
			m, err := p.next()
			if err != nil {
				return perm, err
			}
			if m.text == "{" || m.text == "}" {
				return perm, errors.Errorf("line %d: hashModifier needs a value", m.line)
			}
			perm.HashModifier = m.text
		default:
			return perm, errors.Errorf("line %d: unexpected token %q in jcrmi", t.line, t.text)
		}
	}
}

func (p *parser) pinID() (int, error) {
	if err := p.expect("id"); err != nil {
		return 0, err
	}
	v, _, err := p.hexValue()
	return int(v), err
}

func (p *parser) parsePINAPDU(acl *ACL) error {
	if err := p.expect("{"); err != nil {
		return err
	}
	id, err := p.pinID()
	if err != nil {
		return err
	}
	entry := APDUPINEntry{ID: id, Commands: map[pin.Op]uint32{}}
	for {
		t, err := p.next()
		if err != nil {
			return err
		}
		if t.text == "}" {
			break
		}
		op, err := pin.ParseOp(t.text)
		if err != nil {
			return errors.Wrapf(err, "line %d", t.line)
		}
		header, err := p.pinHeader()
		if err != nil {
			return err
		}
		entry.Commands[op] = header
	}
	if len(entry.Commands) == 0 {
		return errors.Errorf("pin_apdu id %x maps no operation", id)
	}
	acl.APDUPINs = append(acl.APDUPINs, entry)
	return nil
}

// pinHeader reads one 8 digit token or four byte tokens.
func (p *parser) pinHeader() (uint32, error) {
	t, err := p.next()
	if err != nil {
		return 0, err
	}
	if len(t.text) == 8 {
		v, err := strconv.ParseUint(t.text, 16, 32)
		if err != nil {
			return 0, errors.Wrapf(err, "line %d: bad pin command %q", t.line, t.text)
		}
		return uint32(v), nil
	}

	var header uint32
	for i := 0; i < 4; i++ {
		if i > 0 {
			if t, err = p.next(); err != nil {
				return 0, err
			}
		}
		v, err := strconv.ParseUint(t.text, 16, 8)
		if err != nil {
			return 0, errors.Wrapf(err, "line %d: bad pin command byte %q", t.line, t.text)
		}
		header = header<<8 | uint32(v)
	}
	return header, nil
}

func (p *parser) parsePINJCRMI(acl *ACL) error {
	if err := p.expect("{"); err != nil {
		return err
	}
	id, err := p.pinID()
	if err != nil {
		return err
	}
	entry := JCRMIPINEntry{ID: id, Methods: map[pin.Op]string{}}
	for {
		t, err := p.next()
		if err != nil {
			return err
		}
		if t.text == "}" {
			break
		}
		op, err := pin.ParseOp(t.text)
		if err != nil {
			return errors.Wrapf(err, "line %d", t.line)
		}
		m, err := p.next()
		if err != nil {
			return err
		}
		if m.text == "{" || m.text == "}" {
			return errors.Errorf("line %d: %s needs a method name", m.line, op)
		}
		entry.Methods[op] = m.text
	}
	if len(entry.Methods) == 0 {
		return errors.Errorf("pin_jcrmi id %x maps no operation", id)
	}
	acl.JCRMIPINs = append(acl.JCRMIPINs, entry)
	return nil
}

func (p *parser) parsePINData() (*pin.Attributes, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	attrs := &pin.Attributes{ID: -1}
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		switch t.text {
		case "}":
			if attrs.ID < 0 {
				return nil, errors.Errorf("line %d: pin_data without id", t.line)
			}
			return attrs, nil
		case "label":
			if attrs.Label, err = p.restOfLine(t); err != nil {
				return nil, err
			}
		case "type":
			v, err := p.next()
			if err != nil {
				return nil, err
			}
			if attrs.Type, err = pin.ParseType(v.text); err != nil {
				return nil, errors.Wrapf(err, "line %d", v.line)
			}
		case "flag":
			v, err := p.next()
			if err != nil {
				return nil, err
			}
			f, err := pin.ParseFlag(v.text)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", v.line)
			}
			attrs.Flags |= f
		case "id", "min", "stored", "max", "reference", "pad":
			v, _, err := p.hexValue()
			if err != nil {
				return nil, err
			}
			switch t.text {
			case "id":
				attrs.ID = int(v)
			case "min":
				attrs.MinLength = int(v)
			case "stored":
				attrs.StoredLength = int(v)
			case "max":
				attrs.MaxLength = int(v)
			case "reference":
				attrs.Reference = byte(v)
			case "pad":
				attrs.Pad = byte(v)
			}
		default:
			return nil, errors.Errorf("line %d: unexpected token %q in pin_data", t.line, t.text)
		}
	}
}
