package iso7816

import "testing"

func TestNewInstruction(t *testing.T) {
	tests := []struct {
		ins     InsCode
		want    Instruction
		wantErr bool
	}{
		{ins: INS_SELECT, want: Instruction{Raw: INS_SELECT}},
		{ins: INS_READ_BINARY_BER, want: Instruction{Raw: INS_READ_BINARY_BER, IsBERTLV: true}},
		{ins: 0x50, want: Instruction{Raw: 0x50}},
		{ins: 0x6A, wantErr: true},
		{ins: 0x90, wantErr: true},
		{ins: 0x9F, wantErr: true},
	}

	for _, tc := range tests {
		got, err := NewInstruction(tc.ins)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NewInstruction(%02X) succeeded, want error", byte(tc.ins))
			}
			continue
		}
		if err != nil {
			t.Errorf("NewInstruction(%02X): %v", byte(tc.ins), err)
			continue
		}
		if got != tc.want {
			t.Errorf("NewInstruction(%02X) = %+v, want %+v", byte(tc.ins), got, tc.want)
		}
	}
}

func TestInstructionVerbose(t *testing.T) {
	tests := []struct {
		ins  InsCode
		want string
	}{
		{INS_GET_RESPONSE, "GET RESPONSE (C0)"},
		{INS_READ_BINARY_BER, "READ BINARY (B1, BER-TLV data)"},
		{0x50, "INS 50 (50)"},
	}

	for _, tc := range tests {
		ins, err := NewInstruction(tc.ins)
		if err != nil {
			t.Fatalf("NewInstruction: %v", err)
		}
		if got := ins.Verbose(); got != tc.want {
			t.Errorf("Verbose() = %q, want %q", got, tc.want)
		}
	}
}

func TestIsPINManagement(t *testing.T) {
	for _, ins := range []InsCode{INS_VERIFY, INS_CHANGE_REFERENCE_DATA, INS_DISABLE_VERIF_REQ, INS_ENABLE_VERIF_REQ, INS_RESET_RETRY_COUNTER} {
		if !ins.IsPINManagement() {
			t.Errorf("%s is a PIN instruction", ins)
		}
	}
	for _, ins := range []InsCode{INS_SELECT, INS_GET_DATA, 0x21} {
		if ins.IsPINManagement() {
			t.Errorf("%s is not a PIN instruction", ins)
		}
	}
}
