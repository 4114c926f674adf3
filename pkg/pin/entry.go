package pin

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregLibert/cardsec/pkg/fault"
)

// ErrCancelled is returned by an Entry when the holder dismissed the prompt.
var ErrCancelled = errors.New("pin entry cancelled")

// Request tells an Entry what to ask for.
type Request struct {
	Op Op
	// PIN is the PIN being operated on.
	PIN *Attributes
	// Unblocking is the PIN used to unblock PIN. Only set for Unblock.
	Unblocking *Attributes
}

// Prompt returns a one-line description of the request, suitable for a UI.
func (r Request) Prompt() string {
	switch r.Op {
	case Change:
		return fmt.Sprintf("Enter current and new %s", r.PIN.Label)
	case Unblock:
		label := "unblocking PIN"
		if r.Unblocking != nil {
			label = r.Unblocking.Label
		}
		return fmt.Sprintf("Enter %s and new %s", label, r.PIN.Label)
	default:
		return fmt.Sprintf("Enter %s to %s it", r.PIN.Label, r.Op)
	}
}

// Entry collects PIN values from the card holder. It returns Op.Values()
// strings in order: the current (or unblocking) PIN first, then the new PIN.
type Entry interface {
	PromptPIN(ctx context.Context, req Request) ([]string, error)
}

// EntryFunc adapts a function to the Entry interface.
type EntryFunc func(ctx context.Context, req Request) ([]string, error)

// PromptPIN calls f.
func (f EntryFunc) PromptPIN(ctx context.Context, req Request) ([]string, error) {
	return f(ctx, req)
}

// Static is an Entry answering every request with fixed values, for
// non-interactive use. An empty Static behaves as a cancelled prompt.
type Static []string

// PromptPIN returns the configured values.
func (s Static) PromptPIN(ctx context.Context, req Request) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, ErrCancelled
	}
	if len(s) < req.Op.Values() {
		return nil, fmt.Errorf("%s needs %d pin values, got %d", req.Op, req.Op.Values(), len(s))
	}
	return s[:req.Op.Values()], nil
}

// Collect checks req against the PIN flags, prompts entry and encodes the
// values: the first with req.Unblocking for an unblock, the others with
// req.PIN. ErrCancelled is returned unwrapped; other failures are security
// errors.
func Collect(ctx context.Context, entry Entry, req Request) ([][]byte, error) {
	if err := req.PIN.Permits(req.Op); err != nil {
		return nil, err
	}
	first := req.PIN
	if req.Op == Unblock {
		if req.Unblocking == nil || !req.Unblocking.IsUnblockingPIN() {
			return nil, fault.New(fault.KindSecurity, "pin.Collect", "no unblocking pin for %q", req.PIN.Label)
		}
		first = req.Unblocking
	}
	if entry == nil {
		return nil, fault.New(fault.KindSecurity, "pin.Collect", "no pin entry configured")
	}

	values, err := entry.PromptPIN(ctx, req)
	if errors.Is(err, ErrCancelled) {
		return nil, ErrCancelled
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindSecurity, "pin.Collect", err)
	}
	if len(values) != req.Op.Values() {
		return nil, fault.New(fault.KindSecurity, "pin.Collect", "%s needs %d pin value(s), got %d", req.Op, req.Op.Values(), len(values))
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		a := req.PIN
		if i == 0 {
			a = first
		}
		if out[i], err = a.Transform(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}
