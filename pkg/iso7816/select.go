package iso7816

import (
	"fmt"

	"github.com/gregLibert/cardsec/pkg/bits"
)

// SELECT (INS A4, ISO/IEC 7816-4 section 11.2.2):
// P1 is the selection method. P2 carries the file occurrence in bits 2-1
// and the requested response template in bits 4-3.
//
// A command selecting by DF name (P1 = 04) switches the application of the
// channel. Connections bound to one application refuse it.

// SelectionMethod is the P1 of SELECT.
type SelectionMethod byte

const (
	SelectByFileID          SelectionMethod = 0x00
	SelectChildDF           SelectionMethod = 0x01
	SelectEFUnderCurrentDF  SelectionMethod = 0x02
	SelectParentDF          SelectionMethod = 0x03
	SelectByDFName          SelectionMethod = 0x04
	SelectPathFromMF        SelectionMethod = 0x08
	SelectPathFromCurrentDF SelectionMethod = 0x09
)

var methodNames = map[SelectionMethod]string{
	SelectByFileID:          "by file identifier",
	SelectChildDF:           "child DF",
	SelectEFUnderCurrentDF:  "EF under current DF",
	SelectParentDF:          "parent DF",
	SelectByDFName:          "by DF name",
	SelectPathFromMF:        "path from MF",
	SelectPathFromCurrentDF: "path from current DF",
}

func (m SelectionMethod) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("method %02X", byte(m))
}

// FileOccurrence is bits 2-1 of P2.
type FileOccurrence byte

const (
	FirstOrOnlyOccurrence FileOccurrence = iota
	LastOccurrence
	NextOccurrence
	PreviousOccurrence
)

func (o FileOccurrence) String() string {
	return [...]string{"first occurrence", "last occurrence", "next occurrence", "previous occurrence"}[o&3]
}

// SelectionControl is bits 4-3 of P2, the template the card answers with.
type SelectionControl byte

const (
	ReturnFCI SelectionControl = iota
	ReturnFCP
	ReturnFMD
	ReturnNoData
)

func (c SelectionControl) String() string {
	return [...]string{"return FCI", "return FCP", "return FMD", "no response data"}[c&3]
}

// SelectP2 assembles the P2 of SELECT.
func SelectP2(ctrl SelectionControl, occ FileOccurrence) byte {
	return bits.WithField(bits.WithField(byte(0), 4, 3, byte(ctrl)), 2, 1, byte(occ))
}

// SplitSelectP2 is the inverse of SelectP2.
func SplitSelectP2(p2 byte) (SelectionControl, FileOccurrence) {
	return SelectionControl(bits.Field(p2, 4, 3)), FileOccurrence(bits.Field(p2, 2, 1))
}

// NewSelectCommand builds a SELECT. Le is only sent without data: over
// T=0 a case 4 command gets 61XX and the data comes back through GET
// RESPONSE.
func NewSelectCommand(cla Class, method SelectionMethod, occ FileOccurrence, ctrl SelectionControl, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)
	ne := 0
	if len(data) == 0 && ctrl != ReturnNoData {
		ne = MaxShortLe
	}
	return NewCommandAPDU(cla, ins, byte(method), SelectP2(ctrl, occ), data, ne)
}

// SelectByAID selects the application named aid and asks for its FCI.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, FirstOrOnlyOccurrence, ReturnFCI, aid)
}

// IsApplicationSelect reports a SELECT by DF name.
func IsApplicationSelect(cmd *CommandAPDU) bool {
	return cmd.Instruction.Raw == INS_SELECT && SelectionMethod(cmd.P1) == SelectByDFName
}
