package cmd

import (
	"bytes"
	"context"
	"encoding/pem"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/cert"
)

// CertCommand decodes certificates and chains.
func CertCommand() *cli.Command {
	return &cli.Command{
		Name:  "cert",
		Usage: "Decode and validate certificates",
		Commands: []*cli.Command{
			certShowCommand(),
		},
	}
}

func certShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Describe the certificates of a file, leaf first",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Input format: auto, der, pem, pkipath or pkcs7",
				Value: "auto",
			},
			&cli.BoolFlag{
				Name:  "chain",
				Usage: "Validate the certificates as a chain",
			},
			&cli.StringFlag{
				Name:  "at",
				Usage: "Validation time, RFC 3339 (default: now)",
			},
			&cli.StringFlag{
				Name:  "pkipath",
				Usage: "Also write the chain as a PkiPath to this file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected one certificate file")
			}
			data, err := os.ReadFile(cmd.Args().First())
			if err != nil {
				return err
			}
			chain, err := readChain(data, cmd.String("format"))
			if err != nil {
				return err
			}

			w := outWriter(cmd)
			for i, c := range chain {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintln(w, c.Describe())
			}

			if cmd.Bool("chain") {
				now := time.Now()
				if at := cmd.String("at"); at != "" {
					if now, err = time.Parse(time.RFC3339, at); err != nil {
						return fmt.Errorf("invalid --at: %w", err)
					}
				}
				if err := cert.ValidateChain(chain, now); err != nil {
					return err
				}
				fmt.Fprintf(w, "\nchain of %d certificate(s) is valid at %s\n", len(chain), now.Format(time.RFC3339))
			}

			if out := cmd.String("pkipath"); out != "" {
				anchorFirst := slices.Clone(chain)
				slices.Reverse(anchorFirst)
				der, err := cert.EncodePkiPath(anchorFirst)
				if err != nil {
					return err
				}
				return os.WriteFile(out, der, 0o644)
			}
			return nil
		},
	}
}

// readChain decodes data as certificates ordered leaf first. A PkiPath lists
// the trust anchor first and is reversed.
func readChain(data []byte, format string) ([]*cert.Certificate, error) {
	if format == "auto" {
		format = sniffFormat(data)
	}
	switch format {
	case "der":
		c, err := cert.Parse(data)
		if err != nil {
			return nil, err
		}
		return []*cert.Certificate{c}, nil
	case "pem":
		blocks, err := pemBlocks(data, "CERTIFICATE")
		if err != nil {
			return nil, err
		}
		var chain []*cert.Certificate
		for _, der := range blocks {
			c, err := cert.Parse(der)
			if err != nil {
				return nil, err
			}
			chain = append(chain, c)
		}
		return chain, nil
	case "pkipath":
		chain, err := cert.ParsePkiPath(data)
		if err != nil {
			return nil, err
		}
		slices.Reverse(chain)
		return chain, nil
	case "pkcs7":
		return cert.ParseBundle(data)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// sniffFormat tells PEM from the DER encodings. A DER certificate starts with
// a SEQUENCE holding a SEQUENCE (tbsCertificate, then the signature
// algorithm); a PkiPath is a SEQUENCE of such certificates; a PKCS#7
// ContentInfo starts with an OID.
func sniffFormat(data []byte) string {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		return "pem"
	}
	if _, err := cert.Parse(data); err == nil {
		return "der"
	}
	if _, err := cert.ParsePkiPath(data); err == nil {
		return "pkipath"
	}
	return "pkcs7"
}

// pemBlocks returns the DER of every PEM block of type typ.
func pemBlocks(data []byte, typ string) ([][]byte, error) {
	var out [][]byte
	for {
		var b *pem.Block
		b, data = pem.Decode(data)
		if b == nil {
			break
		}
		if b.Type == typ {
			out = append(out, b.Bytes)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no %s PEM block", typ)
	}
	return out, nil
}

// readDER reads a single object of type typ, PEM or DER encoded.
func readDER(path, typ string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		return data, nil
	}
	blocks, err := pemBlocks(data, typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return blocks[0], nil
}
