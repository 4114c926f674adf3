package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/cardsec/pkg/cert"
	"github.com/gregLibert/cardsec/pkg/fault"
)

var issuedAt = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newCA(t *testing.T) ([]byte, *x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Example"}, CommonName: "Issuing CA"},
		NotBefore:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	xc, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return der, xc, key
}

func newRequest(t *testing.T, key crypto.Signer, cn string) []byte {
	t.Helper()
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{Organization: []string{"Example"}, CommonName: cn},
	}, key)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func newAuthority(t *testing.T) (*Authority, *x509.Certificate) {
	t.Helper()
	caDER, caX509, caKey := newCA(t)
	a, err := New(caDER, caKey, Options{Now: func() time.Time { return issuedAt }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, caX509
}

func TestIssue(t *testing.T) {
	a, caX509 := newAuthority(t)

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		key        crypto.Signer
		wantSerial int64
	}{
		{"ecdsa request", ecKey, 240506070809},
		{"rsa request", rsaKey, 240506070810},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			der, err := a.Issue(newRequest(t, tt.key, "Card Holder"))
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}

			xc, err := x509.ParseCertificate(der)
			if err != nil {
				t.Fatalf("issued certificate does not parse: %v", err)
			}
			if err := xc.CheckSignatureFrom(caX509); err != nil {
				t.Errorf("CheckSignatureFrom: %v", err)
			}
			if xc.Version != 3 {
				t.Errorf("Version = %d, want 3", xc.Version)
			}
			if !xc.NotBefore.Equal(issuedAt) || !xc.NotAfter.Equal(issuedAt.Add(DefaultValidity)) {
				t.Errorf("validity = %s .. %s", xc.NotBefore, xc.NotAfter)
			}
			pub := tt.key.Public().(interface{ Equal(crypto.PublicKey) bool })
			if !pub.Equal(xc.PublicKey) {
				t.Error("issued key does not match the request")
			}

			c, err := cert.Parse(der)
			if err != nil {
				t.Fatal(err)
			}
			if got := c.SerialNumber().Int64(); got != tt.wantSerial {
				t.Errorf("serial = %d, want %d", got, tt.wantSerial)
			}
			if got, want := c.Subject().String(), "CN=Card Holder,O=Example"; got != want {
				t.Errorf("Subject = %q, want %q", got, want)
			}
			if err := cert.ValidateChain([]*cert.Certificate{c, a.Certificate()}, issuedAt.Add(time.Hour)); err != nil {
				t.Errorf("ValidateChain: %v", err)
			}
		})
	}
}

func TestIssueRejectsBadRequests(t *testing.T) {
	a, _ := newAuthority(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	csr := newRequest(t, key, "Card Holder")

	tampered := append([]byte{}, csr...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := a.Issue(tampered); !errors.Is(err, fault.ErrSecurity) {
		t.Errorf("Issue(tampered) = %v, want security error", err)
	}

	if _, err := a.Issue(csr[:len(csr)-1]); !errors.Is(err, fault.ErrFormat) {
		t.Errorf("Issue(truncated) = %v, want format error", err)
	}
}

func TestParseRequest(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	r, err := ParseRequest(newRequest(t, key, "Alice"))
	if err != nil {
		t.Fatal(err)
	}
	if got := r.SignatureAlgorithm(); got != cert.OIDECDSAWithSHA256 {
		t.Errorf("SignatureAlgorithm = %s", got)
	}
	if got := r.Subject().String(); got != "CN=Alice,O=Example" {
		t.Errorf("Subject = %q", got)
	}
	if err := r.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestNewRejectsForeignSigner(t *testing.T) {
	caDER, _, _ := newCA(t)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(caDER, other, Options{}); !errors.Is(err, fault.ErrSecurity) {
		t.Errorf("New = %v, want security error", err)
	}
}

func TestSerialsAreUnique(t *testing.T) {
	a, _ := newAuthority(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	csr := newRequest(t, key, "Card Holder")

	const n = 8
	serials := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			der, err := a.Issue(csr)
			if err != nil {
				t.Error(err)
				return
			}
			c, err := cert.Parse(der)
			if err != nil {
				t.Error(err)
				return
			}
			serials[i] = c.SerialNumber().Int64()
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, s := range serials {
		if seen[s] {
			t.Errorf("serial %d issued twice", s)
		}
		seen[s] = true
	}
	if !seen[240506070809] || !seen[240506070809+n-1] {
		t.Errorf("serials %v do not form the expected run", serials)
	}
}

func TestBundle(t *testing.T) {
	a, _ := newAuthority(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	issued, err := a.Issue(newRequest(t, key, "Card Holder"))
	if err != nil {
		t.Fatal(err)
	}
	p7, err := a.Bundle(issued)
	if err != nil {
		t.Fatal(err)
	}
	certs, err := cert.ParseBundle(p7)
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Fatalf("bundle holds %d certificates, want 2", len(certs))
	}
	if diff := cmp.Diff(issued, certs[0].Raw()); diff != "" {
		t.Errorf("issued certificate mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(a.Certificate().Raw(), certs[1].Raw()); diff != "" {
		t.Errorf("CA certificate mismatch (-want +got):\n%s", diff)
	}
}
