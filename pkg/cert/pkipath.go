package cert

import (
	"github.com/fullsailor/pkcs7"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/tlv"
)

// IssuerAndSerialNumber returns the DER of
//
//	IssuerAndSerialNumber ::= SEQUENCE { issuer Name, serialNumber INTEGER }
//
// which identifies c in CMS structures.
func (c *Certificate) IssuerAndSerialNumber() ([]byte, error) {
	t := tlv.NewTree()
	seq := t.Constructed(tlv.TagSequence, t.CopyFrom(c.tree, c.issuer), t.CopyFrom(c.tree, c.serial))
	return t.Encode(seq)
}

// MatchesIssuerAndSerial reports whether der is an IssuerAndSerialNumber
// identifying c.
func (c *Certificate) MatchesIssuerAndSerial(der []byte) bool {
	t, next, err := tlv.Parse(der, 0)
	if err != nil || next != len(der) || t.Tag(t.Root()) != tlv.TagSequence {
		return false
	}
	issuer, serial := t.Child(t.Root(), 0), t.Child(t.Root(), 1)
	if issuer == tlv.None || serial == tlv.None || t.Tag(serial) != tlv.TagInteger {
		return false
	}
	if !c.Issuer().Equal(Name{tree: t, idx: issuer}) {
		return false
	}
	n, err := tlv.DecodeInteger(t.Value(serial))
	return err == nil && n.Cmp(c.SerialNumber()) == 0
}

// ParsePkiPath decodes a PkiPath, a SEQUENCE OF Certificate ordered from the
// trust anchor to the end entity.
func ParsePkiPath(der []byte) ([]*Certificate, error) {
	t, next, err := tlv.Parse(der, 0)
	if err != nil {
		return nil, err
	}
	if next != len(der) || t.Tag(t.Root()) != tlv.TagSequence {
		return nil, fault.New(fault.KindFormat, "cert.ParsePkiPath", "PkiPath is not a single SEQUENCE")
	}
	var certs []*Certificate
	for _, i := range t.Children(t.Root()) {
		raw, err := t.Raw(i)
		if err != nil {
			return nil, err
		}
		c, err := Parse(raw)
		if err != nil {
			return nil, fault.Wrap(fault.KindFormat, "cert.ParsePkiPath", err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// EncodePkiPath encodes certs, given trust anchor first, as a PkiPath.
func EncodePkiPath(certs []*Certificate) ([]byte, error) {
	t := tlv.NewTree()
	seq := t.Constructed(tlv.TagSequence)
	for _, c := range certs {
		t.Append(seq, t.CopyFrom(c.tree, c.tree.Root()))
	}
	return t.Encode(seq)
}

// ParseBundle extracts the certificates of a certs-only PKCS#7 SignedData.
func ParseBundle(p7 []byte) ([]*Certificate, error) {
	msg, err := pkcs7.Parse(p7)
	if err != nil {
		return nil, fault.Wrap(fault.KindFormat, "cert.ParseBundle", err)
	}
	certs := make([]*Certificate, 0, len(msg.Certificates))
	for _, xc := range msg.Certificates {
		c, err := Parse(xc.Raw)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, nil
}
