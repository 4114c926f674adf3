package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/pin"
)

// pinConn is the PIN surface shared by JCRMI and APDU connections.
type pinConn interface {
	EnterPIN(ctx context.Context, id int) (int, error)
	ChangePIN(ctx context.Context, id int) (int, error)
	DisablePIN(ctx context.Context, id int) (int, error)
	EnablePIN(ctx context.Context, id int) (int, error)
	UnblockPIN(ctx context.Context, id, unblockingID int) (int, error)
}

func pinFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "op",
			Usage:    "PIN operation: verify, change, disable, enable or unblock",
			Required: true,
		},
		&cli.IntFlag{
			Name:     "id",
			Usage:    "PIN identifier",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "unblocking-id",
			Usage: "Identifier of the unblocking PIN, for unblock",
		},
		&cli.StringSliceFlag{
			Name:    "pin",
			Usage:   "PIN value(s): the current or unblocking PIN, then the new PIN",
			Sources: cli.EnvVars("CARDSEC_PIN"),
		},
	}
}

func runPIN(ctx context.Context, c pinConn, op pin.Op, id, unblockingID int) (int, error) {
	switch op {
	case pin.Verify:
		return c.EnterPIN(ctx, id)
	case pin.Change:
		return c.ChangePIN(ctx, id)
	case pin.Disable:
		return c.DisablePIN(ctx, id)
	case pin.Enable:
		return c.EnablePIN(ctx, id)
	case pin.Unblock:
		return c.UnblockPIN(ctx, id, unblockingID)
	}
	return 0, fmt.Errorf("unknown pin operation %s", op)
}

// pinOutcome renders the result of a PIN operation, formatted with verb
// unless it is the cancelled value.
func pinOutcome(cmd *cli.Command, result, cancelled int, verb string) string {
	if result == cancelled {
		return fmt.Sprintf("%s of pin %d cancelled", cmd.String("op"), cmd.Int("id"))
	}
	return fmt.Sprintf("%s of pin %d: "+verb, cmd.String("op"), cmd.Int("id"), result)
}
