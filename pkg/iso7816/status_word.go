package iso7816

import (
	"fmt"

	"github.com/gregLibert/cardsec/pkg/bits"
	"github.com/gregLibert/cardsec/pkg/fault"
)

// STATUS WORD LAYOUT (ISO/IEC 7816-4 section 5.6):
//
//	9000         normal processing
//	61XX         normal processing, XX more bytes available (00 = 256)
//	62XX, 63XX   warning processing, card state unchanged / changed
//	63CX         warning, counter X (PIN tries left after VERIFY)
//	64XX..66XX   execution error
//	67XX..6FXX   checking error
//	6CXX         wrong Le, XX is the exact length (00 = 256)
//
// Any other SW1 (90XX with XX != 00, 91XX...) is proprietary.

// StatusWord is the SW1-SW2 trailer of a response APDU.
type StatusWord uint16

// Status words the stack reacts to or reports by name.
const (
	SW_NO_ERROR StatusWord = 0x9000

	SW_WARN_NO_INFO            StatusWord = 0x6200
	SW_WARN_TRIGGERING_BY_CARD StatusWord = 0x6202
	SW_WARN_EOF_REACHED        StatusWord = 0x6282
	SW_WARN_FILE_DEACTIVATED   StatusWord = 0x6283
	SW_WARN_NV_CHANGED_NO_INFO StatusWord = 0x6300
	SW_WARN_COUNTER_0          StatusWord = 0x63C0

	SW_ERR_EXEC_NO_INFO   StatusWord = 0x6400
	SW_ERR_MEMORY_FAILURE StatusWord = 0x6581

	SW_ERR_WRONG_LENGTH              StatusWord = 0x6700
	SW_ERR_LOGICAL_CHANNEL_NOT_SUPP  StatusWord = 0x6881
	SW_ERR_SECURE_MESSAGING_NOT_SUPP StatusWord = 0x6882

	SW_ERR_CMD_NOT_ALLOWED_NO_INFO StatusWord = 0x6900
	SW_ERR_SECURITY_STATUS_NOT_SAT StatusWord = 0x6982
	SW_ERR_AUTH_METHOD_BLOCKED     StatusWord = 0x6983
	SW_ERR_REF_DATA_NOT_USABLE     StatusWord = 0x6984
	SW_ERR_COND_OF_USE_NOT_SAT     StatusWord = 0x6985

	SW_ERR_INCORRECT_PARAMS_DATA StatusWord = 0x6A80
	SW_ERR_FUNC_NOT_SUPPORTED    StatusWord = 0x6A81
	SW_ERR_FILE_NOT_FOUND        StatusWord = 0x6A82
	SW_ERR_NOT_ENOUGH_MEMORY     StatusWord = 0x6A84
	SW_ERR_INCORRECT_PARAMS_P1P2 StatusWord = 0x6A86
	SW_ERR_REF_DATA_NOT_FOUND    StatusWord = 0x6A88

	SW_ERR_WRONG_P1P2        StatusWord = 0x6B00
	SW_ERR_INS_INVALID       StatusWord = 0x6D00
	SW_ERR_CLA_NOT_SUPPORTED StatusWord = 0x6E00
	SW_ERR_UNKNOWN           StatusWord = 0x6F00
)

var statusTexts = map[StatusWord]string{
	SW_NO_ERROR:                      "OK",
	SW_WARN_NO_INFO:                  "warning, state unchanged",
	SW_WARN_EOF_REACHED:              "end of file reached before Le bytes",
	SW_WARN_FILE_DEACTIVATED:         "selected file deactivated",
	SW_WARN_NV_CHANGED_NO_INFO:       "warning, state changed",
	SW_ERR_EXEC_NO_INFO:              "execution error, state unchanged",
	SW_ERR_MEMORY_FAILURE:            "memory failure",
	SW_ERR_WRONG_LENGTH:              "wrong length",
	SW_ERR_LOGICAL_CHANNEL_NOT_SUPP:  "logical channel not supported",
	SW_ERR_SECURE_MESSAGING_NOT_SUPP: "secure messaging not supported",
	SW_ERR_CMD_NOT_ALLOWED_NO_INFO:   "command not allowed",
	SW_ERR_SECURITY_STATUS_NOT_SAT:   "security status not satisfied",
	SW_ERR_AUTH_METHOD_BLOCKED:       "authentication method blocked",
	SW_ERR_REF_DATA_NOT_USABLE:       "reference data not usable",
	SW_ERR_COND_OF_USE_NOT_SAT:       "conditions of use not satisfied",
	SW_ERR_INCORRECT_PARAMS_DATA:     "incorrect parameters in the data field",
	SW_ERR_FUNC_NOT_SUPPORTED:        "function not supported",
	SW_ERR_FILE_NOT_FOUND:            "file or application not found",
	SW_ERR_NOT_ENOUGH_MEMORY:         "not enough memory",
	SW_ERR_INCORRECT_PARAMS_P1P2:     "incorrect parameters P1-P2",
	SW_ERR_REF_DATA_NOT_FOUND:        "reference data not found",
	SW_ERR_WRONG_P1P2:                "wrong parameters P1-P2",
	SW_ERR_INS_INVALID:               "instruction not supported",
	SW_ERR_CLA_NOT_SUPPORTED:         "class not supported",
	SW_ERR_UNKNOWN:                   "no precise diagnosis",
}

// NewStatusWord assembles a status word from SW1 and SW2.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

func (sw StatusWord) SW1() byte { return byte(sw >> 8) }
func (sw StatusWord) SW2() byte { return byte(sw) }

// Category is the processing outcome encoded by SW1.
type Category int

const (
	CategoryProprietary Category = iota
	CategoryNormal
	CategoryWarning
	CategoryExecutionError
	CategoryCheckingError
)

func (c Category) String() string {
	switch c {
	case CategoryNormal:
		return "normal"
	case CategoryWarning:
		return "warning"
	case CategoryExecutionError:
		return "execution error"
	case CategoryCheckingError:
		return "checking error"
	default:
		return "proprietary"
	}
}

// Category classifies the status word.
func (sw StatusWord) Category() Category {
	switch sw1 := sw.SW1(); {
	case sw == SW_NO_ERROR, sw1 == 0x61:
		return CategoryNormal
	case sw1 == 0x62, sw1 == 0x63:
		return CategoryWarning
	case sw1 >= 0x64 && sw1 <= 0x66:
		return CategoryExecutionError
	case sw1 >= 0x67 && sw1 <= 0x6F:
		return CategoryCheckingError
	default:
		return CategoryProprietary
	}
}

// IsSuccess reports normal processing, 9000 or 61XX.
func (sw StatusWord) IsSuccess() bool { return sw.Category() == CategoryNormal }

// IsWarning reports 62XX or 63XX.
func (sw StatusWord) IsWarning() bool { return sw.Category() == CategoryWarning }

// IsError reports an execution or checking error.
func (sw StatusWord) IsError() bool {
	c := sw.Category()
	return c == CategoryExecutionError || c == CategoryCheckingError
}

// BytesAvailable returns the length announced by 61XX.
func (sw StatusWord) BytesAvailable() (int, bool) {
	if sw.SW1() != 0x61 {
		return 0, false
	}
	return shortLength(sw.SW2()), true
}

// CorrectLength returns the exact Le announced by 6CXX.
func (sw StatusWord) CorrectLength() (int, bool) {
	if sw.SW1() != 0x6C {
		return 0, false
	}
	return shortLength(sw.SW2()), true
}

// RetriesLeft returns the counter of 63CX, the tries left after a failed
// PIN verification.
func (sw StatusWord) RetriesLeft() (int, bool) {
	if sw.SW1() != 0x63 || bits.Field(sw.SW2(), 8, 5) != 0x0C {
		return 0, false
	}
	return int(bits.Field(sw.SW2(), 4, 1)), true
}

// QueryLength returns XX of a 62XX or 64XX "triggering by the card" status,
// XX in 02..80, the number of bytes the card asks the terminal to query.
func (sw StatusWord) QueryLength() (int, bool) {
	sw1, sw2 := sw.SW1(), sw.SW2()
	if (sw1 != 0x62 && sw1 != 0x64) || sw2 < 0x02 || sw2 > 0x80 {
		return 0, false
	}
	return int(sw2), true
}

func shortLength(b byte) int {
	if b == 0 {
		return MaxShortLe
	}
	return int(b)
}

func (sw StatusWord) String() string {
	return fmt.Sprintf("%04X", uint16(sw))
}

// Verbose returns the status word followed by its meaning.
func (sw StatusWord) Verbose() string {
	return fmt.Sprintf("[%04X] %s", uint16(sw), sw.text())
}

func (sw StatusWord) text() string {
	if n, ok := sw.BytesAvailable(); ok {
		return fmt.Sprintf("%d bytes available", n)
	}
	if n, ok := sw.CorrectLength(); ok {
		return fmt.Sprintf("wrong Le, exact length is %d", n)
	}
	if n, ok := sw.RetriesLeft(); ok {
		return fmt.Sprintf("counter %d", n)
	}
	if n, ok := sw.QueryLength(); ok {
		return fmt.Sprintf("%s, card asks for a query of %d bytes", sw.Category(), n)
	}
	if s, ok := statusTexts[sw]; ok {
		return s
	}
	return sw.Category().String()
}

// Err returns nil for normal processing and a protocol fault naming the
// status word otherwise.
func (sw StatusWord) Err(op string) error {
	if sw.IsSuccess() {
		return nil
	}
	return fault.New(fault.KindProtocol, op, "card returned %s", sw.Verbose())
}
