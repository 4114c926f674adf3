package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/cardsec/pkg/tlv"
)

// SelectResult is the trace of a SELECT, including the GET RESPONSE or Le
// correction exchanges that completed it.
type SelectResult struct {
	Trace
}

// NewSelectResult wraps t, which must start with a SELECT.
func NewSelectResult(t Trace) (*SelectResult, error) {
	if len(t) == 0 || t[0].Command == nil {
		return nil, fmt.Errorf("empty SELECT trace")
	}
	if ins := t[0].Command.Instruction.Raw; ins != INS_SELECT {
		return nil, fmt.Errorf("trace starts with %s, not SELECT", ins)
	}
	return &SelectResult{Trace: t}, nil
}

// Command returns the SELECT that started the trace.
func (r *SelectResult) Command() *CommandAPDU {
	return r.Trace[0].Command
}

// FCI decodes the response data according to the P2 of the SELECT.
func (r *SelectResult) FCI() (*FileControlInfo, error) {
	resp, err := r.Response()
	if err != nil {
		return nil, err
	}
	if err := resp.Status.Err("iso7816.SelectResult"); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("SELECT returned no data")
	}
	return ParseSelectData(resp.Data, r.Command().P2)
}

// Describe renders the selection for diagnostics:
//
//	SELECT A0000000030000 (by DF name, first occurrence, return FCI)
//	  > 00A4040007A0000000030000
//	  < 6110
//	  > 00C0000010
//	  < 6F0E...9000
//	status [9000] OK
//	    - FCP.DFName (84): A0000000030000 (".......")
func (r *SelectResult) Describe() string {
	var sb strings.Builder
	cmd := r.Command()
	ctrl, occ := SplitSelectP2(cmd.P2)
	fmt.Fprintf(&sb, "SELECT %X (%s, %s, %s)\n", cmd.Data, SelectionMethod(cmd.P1), occ, ctrl)

	for _, tx := range r.Trace {
		raw, _ := tx.Command.Bytes()
		fmt.Fprintf(&sb, "  > %X\n", raw)
		if tx.Response != nil {
			fmt.Fprintf(&sb, "  < %X\n", tx.Response.Bytes())
		}
	}

	resp, err := r.Response()
	if err != nil {
		sb.WriteString(err.Error())
		return sb.String()
	}
	fmt.Fprintf(&sb, "status %s", resp.Status.Verbose())
	if !resp.Status.IsSuccess() || len(resp.Data) == 0 {
		return sb.String()
	}

	fci, err := ParseSelectData(resp.Data, cmd.P2)
	switch {
	case err != nil:
		fmt.Fprintf(&sb, "\nresponse data not decoded: %v", err)
	case fci == nil:
	case fci.ProprietaryRawData != nil:
		fmt.Fprintf(&sb, "\n    - Proprietary: %X", fci.ProprietaryRawData)
	default:
		if fci.FCP != nil {
			tlv.WriteStructFields(&sb, "FCP", fci.FCP)
		}
		if fci.FMD != nil {
			tlv.WriteStructFields(&sb, "FMD", fci.FMD)
		}
		for _, u := range fci.Unknown {
			fmt.Fprintf(&sb, "\n    - Unknown Tag %s: %X", strings.ToUpper(u.Tag), u.Value)
		}
	}
	return sb.String()
}
