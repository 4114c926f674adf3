package iso7816

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/cardsec/pkg/tlv"
)

func step(ins InsCode, response string) Transaction {
	i, _ := NewInstruction(ins)
	resp, _ := ParseResponseAPDU(tlv.Hex(response))
	return Transaction{Command: &CommandAPDU{Instruction: i}, Response: resp}
}

func TestTraceOutcome(t *testing.T) {
	tests := []struct {
		name     string
		trace    Trace
		success  bool
		wantData string
	}{
		{name: "empty"},
		{
			name:     "single",
			trace:    Trace{step(INS_GET_DATA, "0102 9000")},
			success:  true,
			wantData: "0102",
		},
		{
			name:     "get response chain",
			trace:    Trace{step(INS_SELECT, "6104"), step(INS_GET_RESPONSE, "AABB 6102"), step(INS_GET_RESPONSE, "CCDD 9000")},
			success:  true,
			wantData: "AABBCCDD",
		},
		{
			name:     "wrong length resent",
			trace:    Trace{step(INS_GET_DATA, "6C02"), step(INS_GET_DATA, "0102 9000")},
			success:  true,
			wantData: "0102",
		},
		{
			name:     "final failure",
			trace:    Trace{step(INS_SELECT, "6102"), step(INS_GET_RESPONSE, "6A82")},
			wantData: "",
		},
		{
			name:  "missing response",
			trace: Trace{{Command: &CommandAPDU{}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.trace.IsSuccess(); got != tc.success {
				t.Errorf("IsSuccess() = %v, want %v", got, tc.success)
			}
			if diff := cmp.Diff(tlv.Hex(tc.wantData), tc.trace.ResponseData(), cmpBytes); diff != "" {
				t.Errorf("ResponseData mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTraceResponse(t *testing.T) {
	tr := Trace{step(INS_SELECT, "6104"), step(INS_GET_RESPONSE, "CAFEBABE 9000")}
	resp, err := tr.Response()
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	want := &ResponseAPDU{Data: tlv.Hex("CAFEBABE"), Status: SW_NO_ERROR}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Response mismatch (-want +got):\n%s", diff)
	}

	if _, err := (Trace{}).Response(); err == nil {
		t.Error("empty trace: want error")
	}
}

// cmpBytes treats nil and empty byte slices alike.
var cmpBytes = cmp.Comparer(func(a, b []byte) bool {
	return string(a) == string(b)
})
