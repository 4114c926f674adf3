package ca

import (
	"crypto"
	"crypto/x509"

	"github.com/gregLibert/cardsec/pkg/cert"
	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/tlv"
)

// Request is a parsed PKCS#10 certification request.
//
//	CertificationRequest ::= SEQUENCE {
//	    certificationRequestInfo SEQUENCE { version, subject, subjectPKInfo, [0] attributes },
//	    signatureAlgorithm AlgorithmIdentifier,
//	    signature BIT STRING }
type Request struct {
	tree *tlv.Tree

	info      tlv.Index
	subject   tlv.Index
	spki      tlv.Index
	sigAlg    tlv.Index
	signature tlv.Index
}

// ParseRequest decodes a DER certification request.
func ParseRequest(der []byte) (*Request, error) {
	t, next, err := tlv.Parse(der, 0)
	if err != nil {
		return nil, err
	}
	if next != len(der) {
		return nil, fault.New(fault.KindFormat, "ca.ParseRequest", "%d trailing bytes after request", len(der)-next)
	}
	top := t.Children(t.Root())
	if t.Tag(t.Root()) != tlv.TagSequence || len(top) != 3 {
		return nil, fault.New(fault.KindFormat, "ca.ParseRequest", "request is not a SEQUENCE of 3 elements")
	}
	r := &Request{tree: t, info: top[0], sigAlg: top[1], signature: top[2]}
	if t.Tag(r.info) != tlv.TagSequence || t.Tag(r.sigAlg) != tlv.TagSequence || t.Tag(r.signature) != tlv.TagBitString {
		return nil, fault.New(fault.KindFormat, "ca.ParseRequest", "unexpected request outer structure")
	}
	fields := t.Children(r.info)
	if len(fields) < 3 || t.Tag(fields[0]) != tlv.TagInteger ||
		t.Tag(fields[1]) != tlv.TagSequence || t.Tag(fields[2]) != tlv.TagSequence {
		return nil, fault.New(fault.KindFormat, "ca.ParseRequest", "malformed certificationRequestInfo")
	}
	r.subject, r.spki = fields[1], fields[2]
	return r, nil
}

// Subject returns the requested subject name.
func (r *Request) Subject() cert.Name {
	return cert.NameAt(r.tree, r.subject)
}

// SignatureAlgorithm returns the dotted OID the request is signed with.
func (r *Request) SignatureAlgorithm() string {
	oid := r.tree.Child(r.sigAlg, 0)
	if oid == tlv.None {
		return ""
	}
	s, _ := tlv.OIDToString(r.tree.Value(oid))
	return s
}

// PublicKey decodes the requested public key.
func (r *Request) PublicKey() (crypto.PublicKey, error) {
	spki, err := r.tree.Raw(r.spki)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fault.Wrap(fault.KindFormat, "ca.PublicKey", err)
	}
	return pub, nil
}

// Verify checks the proof of possession: the request is signed by the key
// it carries.
func (r *Request) Verify() error {
	pub, err := r.PublicKey()
	if err != nil {
		return err
	}
	sig := r.tree.Value(r.signature)
	if len(sig) == 0 || sig[0] != 0 {
		return fault.New(fault.KindFormat, "ca.Verify", "signature is not a whole number of bytes")
	}
	info, err := r.tree.Raw(r.info)
	if err != nil {
		return err
	}
	return cert.VerifySignature(pub, r.SignatureAlgorithm(), info, sig[1:])
}
