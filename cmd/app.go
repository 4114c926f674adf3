// Package cmd implements the cardsec command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/acl"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/pin"
	"github.com/gregLibert/cardsec/pkg/tlv"
	"github.com/gregLibert/cardsec/pkg/transport"
)

// DefaultPolicyDir holds the acl_<slot> policy files unless --policy-dir is set.
const DefaultPolicyDir = "/etc/cardsec"

// App returns the root command.
func App() *cli.Command {
	return &cli.Command{
		Name:  "cardsec",
		Usage: "Smart card access control, certificates and JCRMI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "policy-dir",
				Usage:   "Directory of the acl_<slot> policy files",
				Value:   DefaultPolicyDir,
				Sources: cli.EnvVars("CARDSEC_POLICY_DIR"),
			},
			&cli.StringFlag{
				Name:    "reader",
				Usage:   "Select the slot by reader name (substring match)",
				Sources: cli.EnvVars("CARDSEC_READER"),
			},
			&cli.IntFlag{
				Name:    "slot",
				Usage:   "Card slot",
				Sources: cli.EnvVars("CARDSEC_SLOT"),
			},
			&cli.StringFlag{
				Name:    "principal",
				Usage:   "Hash of the host application certificate",
				Sources: cli.EnvVars("CARDSEC_PRINCIPAL"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Log APDU traffic and decoding details",
				Sources: cli.EnvVars("CARDSEC_VERBOSE"),
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			ReadersCommand(),
			ACLCommand(),
			CertCommand(),
			CACommand(),
			JCRMICommand(),
			APDUCommand(),
		},
	}
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	priority := log.WARNING
	if cmd.Bool("verbose") {
		priority = log.DEBUG
	}
	l, err := log.New(priority, errWriter(cmd))
	if err != nil {
		return ctx, err
	}
	log.SetLogger(l)
	return ctx, nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

// policy loads the policy of the selected slot. A missing or malformed file
// is reported and the deny-all policy is used.
func policy(cmd *cli.Command, slot int) *acl.Policy {
	p, err := acl.NewRegistry(cmd.String("policy-dir")).Load(slot)
	if err != nil {
		fmt.Fprintf(errWriter(cmd), "warning: %v; every request is denied\n", err)
	}
	return p
}

// openCard connects to the PC/SC readers and resolves the slot from --reader
// or --slot.
func openCard(cmd *cli.Command) (*transport.PCSC, int, error) {
	p, err := transport.NewPCSC()
	if err != nil {
		return nil, 0, err
	}
	slot, err := resolveSlot(p.Readers(), cmd.String("reader"), int(cmd.Int("slot")))
	if err != nil {
		if cerr := p.Close(); cerr != nil {
			log.Warning(fmt.Sprintf("closing pcsc: %v", cerr))
		}
		return nil, 0, err
	}
	return p, slot, nil
}

func resolveSlot(readers []string, reader string, slot int) (int, error) {
	if reader == "" {
		if slot < 0 || slot >= len(readers) {
			return 0, fmt.Errorf("slot %d out of range: %d reader(s)", slot, len(readers))
		}
		return slot, nil
	}
	for i, name := range readers {
		if strings.Contains(strings.ToLower(name), strings.ToLower(reader)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no reader matching %q", reader)
}

func parseHex(name, s string) ([]byte, error) {
	b, err := tlv.ParseHex(strings.ReplaceAll(s, ".", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return b, nil
}

// pinEntry answers PIN prompts with the --pin values.
func pinEntry(cmd *cli.Command) pin.Entry {
	return pin.Static(cmd.StringSlice("pin"))
}
