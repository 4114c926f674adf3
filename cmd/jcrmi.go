package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/gregLibert/cardsec/pkg/jcrmi"
	"github.com/gregLibert/cardsec/pkg/log"
	"github.com/gregLibert/cardsec/pkg/pin"
)

// JCRMICommand calls remote methods of a Java Card applet.
func JCRMICommand() *cli.Command {
	return &cli.Command{
		Name:  "jcrmi",
		Usage: "Java Card remote method invocation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "aid",
				Usage:    "Applet identifier, hex",
				Required: true,
			},
		},
		Commands: []*cli.Command{
			jcrmiInvokeCommand(),
			jcrmiPINCommand(),
		},
	}
}

func jcrmiInvokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "Invoke a method of the initial remote object",
		ArgsUsage: "[TYPE:VALUE ...]",
		Description: "Arguments are typed with their JCRMI descriptor: B:-1, Z:true, S:300, I:70000,\n" +
			"[B:CAFE, [Z:true,false, [S:1,2, [I:1,2, or null for a null array.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "method",
				Usage:    "Method signature, e.g. debit(S)V",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			params := make([]interface{}, 0, cmd.Args().Len())
			for _, a := range cmd.Args().Slice() {
				p, err := parseArg(a)
				if err != nil {
					return err
				}
				params = append(params, p)
			}
			return withJCRMI(ctx, cmd, func(c *jcrmi.Conn) error {
				res, err := c.Invoke(ctx, c.InitialReference(), cmd.String("method"), params...)
				if err != nil {
					return err
				}
				fmt.Fprintln(outWriter(cmd), formatValue(res))
				return nil
			})
		},
	}
}

func jcrmiPINCommand() *cli.Command {
	return &cli.Command{
		Name:  "pin",
		Usage: "Run a PIN operation through the remote PIN methods of the policy",
		Flags: pinFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			op, err := pin.ParseOp(cmd.String("op"))
			if err != nil {
				return err
			}
			return withJCRMI(ctx, cmd, func(c *jcrmi.Conn) error {
				res, err := runPIN(ctx, c, op, int(cmd.Int("id")), int(cmd.Int("unblocking-id")))
				if err != nil {
					return err
				}
				fmt.Fprintln(outWriter(cmd), pinOutcome(cmd, res, jcrmi.PINCancelled, "%d"))
				return nil
			})
		},
	}
}

// withJCRMI opens a JCRMI connection to --aid on the selected slot, runs fn
// and closes everything.
func withJCRMI(ctx context.Context, cmd *cli.Command, fn func(*jcrmi.Conn) error) error {
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

	c, err := jcrmi.Open(ctx, p, slot, aid, jcrmi.Options{
		Principal: cmd.String("principal"),
		Policy:    policy(cmd, slot),
		PINEntry:  pinEntry(cmd),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(ctx); err != nil {
			log.Warning(fmt.Sprintf("closing jcrmi connection: %v", err))
		}
	}()
	return fn(c)
}

// parseArg decodes a TYPE:VALUE command line argument into the Go value the
// JCRMI marshaller expects.
func parseArg(arg string) (interface{}, error) {
	if arg == "null" {
		return nil, nil
	}
	typ, value, ok := strings.Cut(arg, ":")
	if !ok {
		return nil, fmt.Errorf("argument %q: expected TYPE:VALUE", arg)
	}
	switch typ {
	case "B":
		n, err := strconv.ParseInt(value, 0, 8)
		return int8(n), argError(arg, err)
	case "Z":
		b, err := strconv.ParseBool(value)
		return b, argError(arg, err)
	case "S":
		n, err := strconv.ParseInt(value, 0, 16)
		return int16(n), argError(arg, err)
	case "I":
		n, err := strconv.ParseInt(value, 0, 32)
		return int32(n), argError(arg, err)
	case "[B":
		return parseHex("argument", value)
	case "[Z":
		out := []bool{}
		for _, f := range listFields(value) {
			b, err := strconv.ParseBool(f)
			if err != nil {
				return nil, argError(arg, err)
			}
			out = append(out, b)
		}
		return out, nil
	case "[S":
		out := []int16{}
		for _, f := range listFields(value) {
			n, err := strconv.ParseInt(f, 0, 16)
			if err != nil {
				return nil, argError(arg, err)
			}
			out = append(out, int16(n))
		}
		return out, nil
	case "[I":
		out := []int32{}
		for _, f := range listFields(value) {
			n, err := strconv.ParseInt(f, 0, 32)
			if err != nil {
				return nil, argError(arg, err)
			}
			out = append(out, int32(n))
		}
		return out, nil
	}
	return nil, fmt.Errorf("argument %q: unknown type %q", arg, typ)
}

func listFields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func argError(arg string, err error) error {
	if err != nil {
		return fmt.Errorf("argument %q: %w", arg, err)
	}
	return nil
}

// formatValue renders a JCRMI return value.
func formatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("%X", v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
