package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/transport"
)

// ReadersCommand lists the PC/SC readers with their slot numbers.
func ReadersCommand() *cli.Command {
	return &cli.Command{
		Name:  "readers",
		Usage: "List the card readers and their slots",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := transport.NewPCSC()
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					log.Warning(fmt.Sprintf("closing pcsc: %v", err))
				}
			}()
			w := outWriter(cmd)
			for slot, name := range p.Readers() {
				fmt.Fprintf(w, "%d\t%s\n", slot, name)
			}
			return nil
		},
	}
}
