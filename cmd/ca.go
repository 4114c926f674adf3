package cmd

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/ca"
)

// CACommand issues certificates from PKCS#10 requests.
func CACommand() *cli.Command {
	return &cli.Command{
		Name:  "ca",
		Usage: "Certificate authority operations",
		Commands: []*cli.Command{
			caIssueCommand(),
		},
	}
}

func caIssueCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue",
		Usage: "Issue a certificate for a certification request",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "ca-cert",
				Usage:    "CA certificate, PEM or DER",
				Required: true,
				Sources:  cli.EnvVars("CARDSEC_CA_CERT"),
			},
			&cli.StringFlag{
				Name:     "ca-key",
				Usage:    "CA private key, PEM (PKCS#8, SEC 1 or PKCS#1)",
				Required: true,
				Sources:  cli.EnvVars("CARDSEC_CA_KEY"),
			},
			&cli.StringFlag{
				Name:     "csr",
				Usage:    "Certification request, PEM or DER",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out",
				Usage:    "Output file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "bundle",
				Usage: "Write a PKCS#7 bundle with the CA certificate instead of the DER certificate",
			},
			&cli.DurationFlag{
				Name:  "validity",
				Usage: "Certificate lifetime",
				Value: ca.DefaultValidity,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			caDER, err := readDER(cmd.String("ca-cert"), "CERTIFICATE")
			if err != nil {
				return err
			}
			signer, err := readSigner(cmd.String("ca-key"))
			if err != nil {
				return err
			}
			csr, err := readDER(cmd.String("csr"), "CERTIFICATE REQUEST")
			if err != nil {
				return err
			}

			authority, err := ca.New(caDER, signer, ca.Options{Validity: cmd.Duration("validity")})
			if err != nil {
				return err
			}
			out, err := authority.Issue(csr)
			if err != nil {
				return err
			}
			if cmd.Bool("bundle") {
				if out, err = authority.Bundle(out); err != nil {
					return err
				}
			}
			if err := os.WriteFile(cmd.String("out"), out, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(outWriter(cmd), "issued %s at %s\n", cmd.String("out"), time.Now().Format(time.RFC3339))
			return nil
		},
	}
}

func readSigner(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, _ := pem.Decode(data)
	if b == nil {
		return nil, fmt.Errorf("%s: no PEM block", path)
	}
	var key interface{}
	switch b.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(b.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(b.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(b.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s: %T cannot sign", path, key)
	}
	return signer, nil
}
