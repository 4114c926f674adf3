package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/gregLibert/cardsec/pkg/fault"
)

// Algorithm OIDs.
const (
	OIDRSAEncryption   = "1.2.840.113549.1.1.1"
	OIDSHA1WithRSA     = "1.2.840.113549.1.1.5"
	OIDSHA256WithRSA   = "1.2.840.113549.1.1.11"
	OIDSHA384WithRSA   = "1.2.840.113549.1.1.12"
	OIDSHA512WithRSA   = "1.2.840.113549.1.1.13"
	OIDECPublicKey     = "1.2.840.10045.2.1"
	OIDECDSAWithSHA1   = "1.2.840.10045.4.1"
	OIDECDSAWithSHA256 = "1.2.840.10045.4.3.2"
	OIDECDSAWithSHA384 = "1.2.840.10045.4.3.3"
	OIDECDSAWithSHA512 = "1.2.840.10045.4.3.4"
)

type signatureScheme struct {
	name  string
	hash  crypto.Hash
	ecdsa bool
}

var signatureSchemes = map[string]signatureScheme{
	OIDSHA1WithRSA:     {"sha1WithRSAEncryption", crypto.SHA1, false},
	OIDSHA256WithRSA:   {"sha256WithRSAEncryption", crypto.SHA256, false},
	OIDSHA384WithRSA:   {"sha384WithRSAEncryption", crypto.SHA384, false},
	OIDSHA512WithRSA:   {"sha512WithRSAEncryption", crypto.SHA512, false},
	OIDECDSAWithSHA1:   {"ecdsa-with-SHA1", crypto.SHA1, true},
	OIDECDSAWithSHA256: {"ecdsa-with-SHA256", crypto.SHA256, true},
	OIDECDSAWithSHA384: {"ecdsa-with-SHA384", crypto.SHA384, true},
	OIDECDSAWithSHA512: {"ecdsa-with-SHA512", crypto.SHA512, true},
}

func algorithmName(oid string) string {
	switch oid {
	case OIDRSAEncryption:
		return "rsaEncryption"
	case OIDECPublicKey:
		return "id-ecPublicKey"
	}
	if s, ok := signatureSchemes[oid]; ok {
		return s.name
	}
	return oid
}

// VerifySignature checks sig over signed with pub, using the signature
// algorithm identified by the dotted OID alg. Mismatches are security errors.
func VerifySignature(pub crypto.PublicKey, alg string, signed, sig []byte) error {
	scheme, ok := signatureSchemes[alg]
	if !ok {
		return fault.New(fault.KindSecurity, "cert.VerifySignature", "unsupported signature algorithm %s", alg)
	}
	h := scheme.hash.New()
	h.Write(signed)
	digest := h.Sum(nil)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		if scheme.ecdsa {
			return fault.New(fault.KindSecurity, "cert.VerifySignature", "%s needs an EC key", scheme.name)
		}
		if err := rsa.VerifyPKCS1v15(key, scheme.hash, digest, sig); err != nil {
			return fault.Wrap(fault.KindSecurity, "cert.VerifySignature", err)
		}
	case *ecdsa.PublicKey:
		if !scheme.ecdsa {
			return fault.New(fault.KindSecurity, "cert.VerifySignature", "%s needs an RSA key", scheme.name)
		}
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return fault.New(fault.KindSecurity, "cert.VerifySignature", "ECDSA signature mismatch")
		}
	default:
		return fault.New(fault.KindSecurity, "cert.VerifySignature", "unsupported public key %T", pub)
	}
	return nil
}

// SignatureAlgorithmFor returns the OID and hash the holder of pub signs
// with: sha256WithRSAEncryption for RSA keys, ecdsa-with-SHA256 for EC keys.
func SignatureAlgorithmFor(pub crypto.PublicKey) (string, crypto.Hash, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return OIDSHA256WithRSA, crypto.SHA256, nil
	case *ecdsa.PublicKey:
		return OIDECDSAWithSHA256, crypto.SHA256, nil
	default:
		return "", 0, fault.New(fault.KindSecurity, "cert.SignatureAlgorithmFor", "unsupported public key %T", pub)
	}
}
