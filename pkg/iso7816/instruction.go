package iso7816

import (
	"fmt"

	"github.com/gregLibert/cardsec/pkg/bits"
)

// INS byte (ISO/IEC 7816-4 section 5.1.2). 6X and 9X are invalid: the
// transport layer reads them as procedure bytes. An odd INS in the
// interindustry class announces BER-TLV encoded data (B0 READ BINARY, B1
// READ BINARY with offset data object).

// InsCode is the raw instruction byte.
type InsCode byte

// Instructions used by the stack. The access control policy matches any
// instruction, listed or not.
const (
	INS_VERIFY                      InsCode = 0x20
	INS_MANAGE_SECURITY_ENVIRONMENT InsCode = 0x22
	INS_CHANGE_REFERENCE_DATA       InsCode = 0x24
	INS_DISABLE_VERIF_REQ           InsCode = 0x26
	INS_ENABLE_VERIF_REQ            InsCode = 0x28
	INS_PERFORM_SECURITY_OPERATION  InsCode = 0x2A
	INS_RESET_RETRY_COUNTER         InsCode = 0x2C
	INS_MANAGE_CHANNEL              InsCode = 0x70
	INS_EXTERNAL_AUTHENTICATE       InsCode = 0x82
	INS_GET_CHALLENGE               InsCode = 0x84
	INS_INTERNAL_AUTHENTICATE       InsCode = 0x88
	INS_SELECT                      InsCode = 0xA4
	INS_READ_BINARY                 InsCode = 0xB0
	INS_READ_BINARY_BER             InsCode = 0xB1
	INS_READ_RECORD                 InsCode = 0xB2
	INS_GET_RESPONSE                InsCode = 0xC0
	INS_ENVELOPE                    InsCode = 0xC2
	INS_GET_DATA                    InsCode = 0xCA
	INS_UPDATE_BINARY               InsCode = 0xD6
	INS_PUT_DATA                    InsCode = 0xDA
	INS_UPDATE_RECORD               InsCode = 0xDC
)

var insNames = map[InsCode]string{
	INS_VERIFY:                      "VERIFY",
	INS_MANAGE_SECURITY_ENVIRONMENT: "MANAGE SECURITY ENVIRONMENT",
	INS_CHANGE_REFERENCE_DATA:       "CHANGE REFERENCE DATA",
	INS_DISABLE_VERIF_REQ:           "DISABLE VERIFICATION REQUIREMENT",
	INS_ENABLE_VERIF_REQ:            "ENABLE VERIFICATION REQUIREMENT",
	INS_PERFORM_SECURITY_OPERATION:  "PERFORM SECURITY OPERATION",
	INS_RESET_RETRY_COUNTER:         "RESET RETRY COUNTER",
	INS_MANAGE_CHANNEL:              "MANAGE CHANNEL",
	INS_EXTERNAL_AUTHENTICATE:       "EXTERNAL AUTHENTICATE",
	INS_GET_CHALLENGE:               "GET CHALLENGE",
	INS_INTERNAL_AUTHENTICATE:       "INTERNAL AUTHENTICATE",
	INS_SELECT:                      "SELECT",
	INS_READ_BINARY:                 "READ BINARY",
	INS_READ_BINARY_BER:             "READ BINARY",
	INS_READ_RECORD:                 "READ RECORD",
	INS_GET_RESPONSE:                "GET RESPONSE",
	INS_ENVELOPE:                    "ENVELOPE",
	INS_GET_DATA:                    "GET DATA",
	INS_UPDATE_BINARY:               "UPDATE BINARY",
	INS_PUT_DATA:                    "PUT DATA",
	INS_UPDATE_RECORD:               "UPDATE RECORD",
}

// String returns the command name, or the hex value of an unlisted code.
func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS %02X", byte(i))
}

// IsPINManagement reports the VERIFY, CHANGE, DISABLE, ENABLE and RESET
// RETRY COUNTER family.
func (i InsCode) IsPINManagement() bool {
	switch i {
	case INS_VERIFY, INS_CHANGE_REFERENCE_DATA, INS_DISABLE_VERIF_REQ, INS_ENABLE_VERIF_REQ, INS_RESET_RETRY_COUNTER:
		return true
	}
	return false
}

// Instruction is a validated INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction validates ins.
func NewInstruction(ins InsCode) (Instruction, error) {
	if hi := bits.Field(byte(ins), 8, 5); hi == 0x6 || hi == 0x9 {
		return Instruction{}, fmt.Errorf("invalid INS %02X: 6X and 9X are procedure bytes", byte(ins))
	}
	return Instruction{Raw: ins, IsBERTLV: bits.IsSet(byte(ins), 1)}, nil
}

// Verbose returns the name and encoding of the instruction.
func (i Instruction) Verbose() string {
	if i.IsBERTLV {
		return fmt.Sprintf("%s (%02X, BER-TLV data)", i.Raw, byte(i.Raw))
	}
	return fmt.Sprintf("%s (%02X)", i.Raw, byte(i.Raw))
}
