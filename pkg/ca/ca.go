// Package ca issues end-entity certificates from PKCS#10 requests.
//
// The authority signs with any crypto.Signer, so the key may live in memory,
// in an HSM or on a card.
package ca

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/fullsailor/pkcs7"

	"github.com/gregLibert/cardsec/pkg/cert"
	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/tlv"
)

// DefaultValidity is the lifetime of issued certificates.
const DefaultValidity = 30 * 24 * time.Hour

// Options tune an Authority. Zero values select the defaults.
type Options struct {
	// Now returns the issuance time. Defaults to time.Now.
	Now func() time.Time
	// Validity defaults to DefaultValidity.
	Validity time.Duration
	// Rand feeds the signer. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Authority issues certificates under one CA certificate.
type Authority struct {
	cert   *cert.Certificate
	signer crypto.Signer
	opts   Options

	mu     sync.Mutex
	serial *big.Int
}

// New returns an authority for the CA certificate caDER whose private key is
// held by signer.
func New(caDER []byte, signer crypto.Signer, opts Options) (*Authority, error) {
	c, err := cert.Parse(caDER)
	if err != nil {
		return nil, err
	}
	pub, err := c.PublicKey()
	if err != nil {
		return nil, err
	}
	eq, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !eq.Equal(pub) {
		return nil, fault.New(fault.KindSecurity, "ca.New", "signer does not hold the key of %s", c.Subject())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Validity <= 0 {
		opts.Validity = DefaultValidity
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	return &Authority{cert: c, signer: signer, opts: opts}, nil
}

// Certificate returns the CA certificate.
func (a *Authority) Certificate() *cert.Certificate {
	return a.cert
}

// nextSerial derives serials from the issuance time, YYMMDDhhmmss read as a
// decimal number, and keeps them strictly increasing.
func (a *Authority) nextSerial(now time.Time) *big.Int {
	now = now.UTC()
	seed := int64(now.Year()%100)*10000000000 +
		int64(now.Month())*100000000 +
		int64(now.Day())*1000000 +
		int64(now.Hour())*10000 +
		int64(now.Minute())*100 +
		int64(now.Second())

	a.mu.Lock()
	defer a.mu.Unlock()
	next := big.NewInt(seed)
	if a.serial != nil && next.Cmp(a.serial) <= 0 {
		next.Add(a.serial, big.NewInt(1))
	}
	a.serial = next
	return new(big.Int).Set(next)
}

// Issue verifies the request csrDER and returns the DER of a v3 certificate
// for its subject and key, signed by the authority.
func (a *Authority) Issue(csrDER []byte) ([]byte, error) {
	req, err := ParseRequest(csrDER)
	if err != nil {
		return nil, err
	}
	if err := req.Verify(); err != nil {
		return nil, fault.New(fault.KindSecurity, "ca.Issue", "request signature: %v", err)
	}

	algOID, hash, err := cert.SignatureAlgorithmFor(a.signer.Public())
	if err != nil {
		return nil, err
	}
	issuer, err := a.cert.Subject().DER()
	if err != nil {
		return nil, err
	}
	issuerTree, _, err := tlv.Parse(issuer, 0)
	if err != nil {
		return nil, err
	}

	now := a.opts.Now()
	serial := a.nextSerial(now)

	t := tlv.NewTree()
	tbs := t.Constructed(tlv.TagSequence,
		t.Constructed(tlv.TagContextExplicit0, t.Primitive(tlv.TagInteger, []byte{0x02})),
		t.Primitive(tlv.TagInteger, tlv.EncodeBigInteger(serial)),
		algorithmIdentifier(t, algOID, a.signer.Public()),
		t.CopyFrom(issuerTree, issuerTree.Root()),
		t.Constructed(tlv.TagSequence,
			t.Primitive(tlv.TagUTCTime, tlv.UTCTime(now)),
			t.Primitive(tlv.TagUTCTime, tlv.UTCTime(now.Add(a.opts.Validity)))),
		t.CopyFrom(req.tree, req.subject),
		t.CopyFrom(req.tree, req.spki),
	)
	tbsDER, err := t.Encode(tbs)
	if err != nil {
		return nil, err
	}

	h := hash.New()
	h.Write(tbsDER)
	sig, err := a.signer.Sign(a.opts.Rand, h.Sum(nil), hash)
	if err != nil {
		return nil, fault.Wrap(fault.KindSecurity, "ca.Issue", fmt.Errorf("signing: %w", err))
	}

	root := t.Constructed(tlv.TagSequence,
		tbs,
		algorithmIdentifier(t, algOID, a.signer.Public()),
		t.Primitive(tlv.TagBitString, append([]byte{0x00}, sig...)),
	)
	der, err := t.Encode(root)
	if err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("ca: issued serial %s to %s", serial, req.Subject()))
	return der, nil
}

// algorithmIdentifier builds the AlgorithmIdentifier of alg. RSA signature
// algorithms carry explicit NULL parameters, ECDSA ones none.
func algorithmIdentifier(t *tlv.Tree, alg string, pub crypto.PublicKey) tlv.Index {
	oid, _ := tlv.StringToOID(alg)
	id := t.Constructed(tlv.TagSequence, t.Primitive(tlv.TagOID, oid))
	if _, ok := pub.(*rsa.PublicKey); ok {
		t.Append(id, t.Primitive(tlv.TagNull, nil))
	}
	return id
}

// Bundle wraps an issued certificate and the CA certificate in a certs-only
// PKCS#7 SignedData, the usual way to hand a chain to a client.
func (a *Authority) Bundle(issued []byte) ([]byte, error) {
	if _, err := cert.Parse(issued); err != nil {
		return nil, err
	}
	chain := append(append([]byte{}, issued...), a.cert.Raw()...)
	p7, err := pkcs7.DegenerateCertificate(chain)
	if err != nil {
		return nil, fault.Wrap(fault.KindFormat, "ca.Bundle", err)
	}
	return p7, nil
}
