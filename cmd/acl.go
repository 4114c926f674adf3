package cmd

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/acl"
)

// ACLCommand inspects the access control policy of a slot.
func ACLCommand() *cli.Command {
	return &cli.Command{
		Name:  "acl",
		Usage: "Inspect the access control policy of a slot",
		Commands: []*cli.Command{
			aclShowCommand(),
			aclCheckCommand(),
		},
	}
}

func aclShowCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the compiled policy of the slot",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := acl.NewRegistry(cmd.String("policy-dir")).Load(int(cmd.Int("slot")))
			if err != nil {
				return err
			}
			fmt.Fprint(outWriter(cmd), p)
			return nil
		},
	}
}

func aclCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Evaluate a request against the policy of the slot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "aid",
				Usage:    "Application identifier, hex",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "jcrmi",
				Usage: "Evaluate JCRMI permissions instead of APDU permissions",
			},
			&cli.StringFlag{
				Name:  "command",
				Usage: "APDU header to check, 4 bytes hex (CLA INS P1 P2)",
			},
			&cli.StringFlag{
				Name:  "class",
				Usage: "Remote class to check, with --method",
			},
			&cli.StringFlag{
				Name:  "method",
				Usage: "Remote method signature to check, e.g. debit(S)V",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			aid, err := parseHex("aid", cmd.String("aid"))
			if err != nil {
				return err
			}
			p := policy(cmd, int(cmd.Int("slot")))
			principal := cmd.String("principal")
			w := outWriter(cmd)

			kind := acl.KindAPDU
			if cmd.Bool("jcrmi") {
				kind = acl.KindJCRMI
			}
			res := p.Evaluate(acl.Request{Principal: principal, AID: aid, Kind: kind})
			fmt.Fprintf(w, "%s %X: %s\n", kind, aid, res.Decision)
			if res.Decision == acl.Deny {
				return nil
			}

			if kind == acl.KindAPDU && cmd.String("command") != "" {
				header, err := parseHex("command", cmd.String("command"))
				if err != nil {
					return err
				}
				if len(header) != 4 {
					return fmt.Errorf("command header must be 4 bytes, got %d", len(header))
				}
				perms, err := p.APDUPermissions(principal, aid)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "command %X: %s\n", header, verdict(perms.CheckAPDU(binary.BigEndian.Uint32(header))))
			}
			if kind == acl.KindJCRMI && cmd.String("method") != "" {
				perms, err := p.JCRMIPermissions(principal, aid)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "method %s.%s: %s\n", cmd.String("class"), cmd.String("method"),
					verdict(perms.CheckPermission(cmd.String("class"), cmd.String("method"))))
			}
			return nil
		},
	}
}

func verdict(err error) string {
	if err != nil {
		return "denied"
	}
	return "allowed"
}
