package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/apduconn"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/pin"
)

// APDUCommand exchanges raw APDUs with a card application.
func APDUCommand() *cli.Command {
	return &cli.Command{
		Name:  "apdu",
		Usage: "Raw APDU access to a card application",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "aid",
				Usage:    "Application identifier, hex",
				Required: true,
			},
		},
		Commands: []*cli.Command{
			apduSendCommand(),
			apduPINCommand(),
		},
	}
}

func apduSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send command APDUs and print the responses",
		ArgsUsage: "COMMAND [COMMAND ...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return fmt.Errorf("expected at least one command APDU")
			}
			var commands [][]byte
			for _, a := range cmd.Args().Slice() {
				raw, err := parseHex("command", a)
				if err != nil {
					return err
				}
				commands = append(commands, raw)
			}
			return withAPDU(ctx, cmd, func(c *apduconn.Conn) error {
				w := outWriter(cmd)
				if cmd.Bool("verbose") {
					fmt.Fprintln(w, c.Selection().Describe())
				}
				for _, raw := range commands {
					resp, err := c.Exchange(ctx, raw)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "> %X\n< %X\n", raw, resp)
				}
				return nil
			})
		},
	}
}

func apduPINCommand() *cli.Command {
	return &cli.Command{
		Name:  "pin",
		Usage: "Run a PIN operation with the command headers of the policy",
		Flags: pinFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			op, err := pin.ParseOp(cmd.String("op"))
			if err != nil {
				return err
			}
			return withAPDU(ctx, cmd, func(c *apduconn.Conn) error {
				sw, err := runPIN(ctx, c, op, int(cmd.Int("id")), int(cmd.Int("unblocking-id")))
				if err != nil {
					return err
				}
				fmt.Fprintln(outWriter(cmd), pinOutcome(cmd, sw, apduconn.PINCancelled, "%04X"))
				return nil
			})
		},
	}
}

// withAPDU opens an APDU connection to --aid on the selected slot, runs fn
// and closes everything.
func withAPDU(ctx context.Context, cmd *cli.Command, fn func(*apduconn.Conn) error) error {
	aid, err := parseHex("aid", cmd.String("aid"))
	if err != nil {
		return err
	}
	p, slot, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warning(fmt.Sprintf("closing pcsc: %v", err))
		}
	}()

	c, err := apduconn.Open(ctx, p, slot, aid, apduconn.Options{
		Principal: cmd.String("principal"),
		Policy:    policy(cmd, slot),
		PINEntry:  pinEntry(cmd),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(ctx); err != nil {
			log.Warning(fmt.Sprintf("closing apdu connection: %v", err))
		}
	}()
	return fn(c)
}
