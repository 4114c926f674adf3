// Package cert models X.509 certificates on top of the TLV arena.
//
// Only the fields needed to match and link certificates are exposed: serial
// number, issuer and subject names, validity and the subject public key.
// Trust decisions beyond issuer linkage, expiry and signature are left to the
// caller.
package cert

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/tlv"
)

// Certificate is a parsed X.509 certificate. It keeps the DER it was parsed
// from; every accessor reads from it.
type Certificate struct {
	raw  []byte
	tree *tlv.Tree

	tbs       tlv.Index
	serial    tlv.Index
	tbsAlg    tlv.Index
	issuer    tlv.Index
	validity  tlv.Index
	subject   tlv.Index
	spki      tlv.Index
	sigAlg    tlv.Index
	signature tlv.Index
}

// Parse decodes a DER certificate.
//
//	Certificate ::= SEQUENCE { tbsCertificate, signatureAlgorithm, signatureValue }
//	TBSCertificate ::= SEQUENCE { [0] version OPTIONAL, serialNumber, signature,
//	                              issuer, validity, subject, subjectPublicKeyInfo, ... }
func Parse(der []byte) (*Certificate, error) {
	t, next, err := tlv.Parse(der, 0)
	if err != nil {
		return nil, err
	}
	if next != len(der) {
		return nil, fault.New(fault.KindFormat, "cert.Parse", "%d trailing bytes after certificate", len(der)-next)
	}
	root := t.Root()
	top := t.Children(root)
	if t.Tag(root) != tlv.TagSequence || len(top) != 3 {
		return nil, fault.New(fault.KindFormat, "cert.Parse", "certificate is not a SEQUENCE of 3 elements")
	}
	c := &Certificate{raw: der, tree: t, tbs: top[0], sigAlg: top[1], signature: top[2]}
	if t.Tag(c.tbs) != tlv.TagSequence || t.Tag(c.sigAlg) != tlv.TagSequence || t.Tag(c.signature) != tlv.TagBitString {
		return nil, fault.New(fault.KindFormat, "cert.Parse", "unexpected certificate outer structure")
	}

	fields := t.Children(c.tbs)
	if len(fields) > 0 && t.Tag(fields[0]) == tlv.TagContextExplicit0 {
		fields = fields[1:]
	}
	if len(fields) < 6 {
		return nil, fault.New(fault.KindFormat, "cert.Parse", "TBSCertificate has %d fields, want at least 6", len(fields))
	}
	c.serial, c.tbsAlg, c.issuer, c.validity, c.subject, c.spki =
		fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]

	want := []struct {
		idx  tlv.Index
		tag  uint32
		name string
	}{
		{c.serial, tlv.TagInteger, "serialNumber"},
		{c.tbsAlg, tlv.TagSequence, "signature"},
		{c.issuer, tlv.TagSequence, "issuer"},
		{c.validity, tlv.TagSequence, "validity"},
		{c.subject, tlv.TagSequence, "subject"},
		{c.spki, tlv.TagSequence, "subjectPublicKeyInfo"},
	}
	for _, w := range want {
		if t.Tag(w.idx) != w.tag {
			return nil, fault.New(fault.KindFormat, "cert.Parse", "%s has tag %02X, want %02X", w.name, t.Tag(w.idx), w.tag)
		}
	}
	if len(t.Children(c.validity)) != 2 {
		return nil, fault.New(fault.KindFormat, "cert.Parse", "validity is not a pair of times")
	}
	return c, nil
}

// Raw returns the DER encoding of the certificate.
func (c *Certificate) Raw() []byte {
	return c.raw
}

// TBS returns the DER encoding of the TBSCertificate, the signed part.
func (c *Certificate) TBS() []byte {
	b, _ := c.tree.Raw(c.tbs)
	return b
}

// SerialNumber returns the certificate serial number.
func (c *Certificate) SerialNumber() *big.Int {
	n, err := tlv.DecodeInteger(c.tree.Value(c.serial))
	if err != nil {
		return new(big.Int)
	}
	return n
}

// Issuer returns the issuer name.
func (c *Certificate) Issuer() Name {
	return Name{tree: c.tree, idx: c.issuer}
}

// Subject returns the subject name.
func (c *Certificate) Subject() Name {
	return Name{tree: c.tree, idx: c.subject}
}

// KeyAlgorithm returns the dotted OID of the subject public key algorithm.
func (c *Certificate) KeyAlgorithm() string {
	return algorithmOID(c.tree, c.tree.Child(c.spki, 0))
}

// SignatureAlgorithm returns the dotted OID of the outer signature algorithm.
func (c *Certificate) SignatureAlgorithm() string {
	return algorithmOID(c.tree, c.sigAlg)
}

func algorithmOID(t *tlv.Tree, alg tlv.Index) string {
	oid := t.Child(alg, 0)
	if oid == tlv.None || t.Tag(oid) != tlv.TagOID {
		return ""
	}
	s, err := tlv.OIDToString(t.Value(oid))
	if err != nil {
		return ""
	}
	return s
}

// NotBefore returns the start of the validity period.
func (c *Certificate) NotBefore() (time.Time, error) {
	return c.validityTime(0)
}

// NotAfter returns the end of the validity period.
func (c *Certificate) NotAfter() (time.Time, error) {
	return c.validityTime(1)
}

func (c *Certificate) validityTime(n int) (time.Time, error) {
	i := c.tree.Child(c.validity, n)
	return tlv.ParseTime(c.tree.Tag(i), c.tree.Value(i))
}

// IsExpired reports whether now falls outside the validity period. A
// validity that cannot be decoded counts as expired.
func (c *Certificate) IsExpired(now time.Time) bool {
	nb, err := c.NotBefore()
	if err != nil {
		return true
	}
	na, err := c.NotAfter()
	if err != nil {
		return true
	}
	return now.Before(nb) || now.After(na)
}

// IsIssuedBy reports whether other issued c: the issuer of c is the subject
// of other and c is not self-issued.
func (c *Certificate) IsIssuedBy(other *Certificate) bool {
	if other == nil {
		return false
	}
	return c.Issuer().Equal(other.Subject()) && !c.Issuer().Equal(c.Subject())
}

// PublicKey decodes the subject public key.
func (c *Certificate) PublicKey() (crypto.PublicKey, error) {
	spki, err := c.tree.Raw(c.spki)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fault.Wrap(fault.KindFormat, "cert.PublicKey", err)
	}
	return pub, nil
}

// Signature returns the signature value bits.
func (c *Certificate) Signature() ([]byte, error) {
	return bitString(c.tree.Value(c.signature))
}

func bitString(v []byte) ([]byte, error) {
	if len(v) == 0 || v[0] != 0 {
		return nil, fault.New(fault.KindFormat, "cert.bitString", "signature is not a whole number of bytes")
	}
	return v[1:], nil
}

// CheckSignatureFrom verifies that issuer's key signed c.
func (c *Certificate) CheckSignatureFrom(issuer *Certificate) error {
	pub, err := issuer.PublicKey()
	if err != nil {
		return err
	}
	sig, err := c.Signature()
	if err != nil {
		return err
	}
	return VerifySignature(pub, c.SignatureAlgorithm(), c.TBS(), sig)
}

// Describe renders a human readable summary.
func (c *Certificate) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== CERTIFICATE ===\n")
	sb.WriteString(fmt.Sprintf("    + Serial:    %X\n", c.SerialNumber()))
	sb.WriteString(fmt.Sprintf("    + Issuer:    %s\n", c.Issuer()))
	sb.WriteString(fmt.Sprintf("    + Subject:   %s\n", c.Subject()))
	if nb, err := c.NotBefore(); err == nil {
		sb.WriteString(fmt.Sprintf("    + NotBefore: %s\n", nb.Format(time.RFC3339)))
	}
	if na, err := c.NotAfter(); err == nil {
		sb.WriteString(fmt.Sprintf("    + NotAfter:  %s\n", na.Format(time.RFC3339)))
	}
	sb.WriteString(fmt.Sprintf("    + Key:       %s\n", algorithmName(c.KeyAlgorithm())))
	sb.WriteString(fmt.Sprintf("    + Signature: %s", algorithmName(c.SignatureAlgorithm())))
	return sb.String()
}

// ValidateChain checks a chain ordered leaf first: every certificate is
// within its validity period and was issued, and signed, by the next one.
// The last certificate is only checked for expiry.
func ValidateChain(chain []*Certificate, now time.Time) error {
	if len(chain) == 0 {
		return fault.New(fault.KindSecurity, "cert.ValidateChain", "empty chain")
	}
	for i, c := range chain {
		if c.IsExpired(now) {
			return fault.New(fault.KindSecurity, "cert.ValidateChain", "certificate %d (%s) is expired", i, c.Subject())
		}
		if i == len(chain)-1 {
			break
		}
		next := chain[i+1]
		if !c.IsIssuedBy(next) {
			return fault.New(fault.KindSecurity, "cert.ValidateChain", "certificate %d (%s) is not issued by %s", i, c.Subject(), next.Subject())
		}
		if err := c.CheckSignatureFrom(next); err != nil {
			return fault.New(fault.KindSecurity, "cert.ValidateChain", "certificate %d: %v", i, err)
		}
	}
	return nil
}
