package iso7816

import "fmt"

// Transaction is one command and the response it got. Response is nil when
// the exchange failed.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess reports a response with a normal status.
func (t *Transaction) IsSuccess() bool {
	return t.Response != nil && t.Response.Status.IsSuccess()
}

// Trace is the sequence of exchanges performed for one logical command:
// the command itself, then any GET RESPONSE or Le correction.
type Trace []Transaction

// Last returns the final exchange, or nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess reports whether the final exchange succeeded. Intermediate
// procedure statuses do not count.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	return last != nil && last.IsSuccess()
}

// ResponseData returns the data of the final response prefixed with the
// data of the responses it continues through GET RESPONSE.
func (t Trace) ResponseData() []byte {
	var data []byte
	for _, tx := range t {
		if tx.Response == nil {
			continue
		}
		if tx.Command == nil || tx.Command.Instruction.Raw != INS_GET_RESPONSE {
			data = nil
		}
		data = append(data, tx.Response.Data...)
	}
	return data
}

// Response folds the trace into the response of the logical command: the
// assembled data and the final status word.
func (t Trace) Response() (*ResponseAPDU, error) {
	last := t.Last()
	if last == nil || last.Response == nil {
		return nil, fmt.Errorf("no response from the card")
	}
	return &ResponseAPDU{Data: t.ResponseData(), Status: last.Response.Status}, nil
}
