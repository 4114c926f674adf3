package iso7816

import (
	"errors"
	"testing"

	"github.com/gregLibert/cardsec/pkg/fault"
)

func TestStatusWordCategory(t *testing.T) {
	tests := []struct {
		sw   StatusWord
		want Category
	}{
		{SW_NO_ERROR, CategoryNormal},
		{0x6110, CategoryNormal},
		{SW_WARN_EOF_REACHED, CategoryWarning},
		{0x63C2, CategoryWarning},
		{SW_ERR_MEMORY_FAILURE, CategoryExecutionError},
		{SW_ERR_WRONG_LENGTH, CategoryCheckingError},
		{SW_ERR_FILE_NOT_FOUND, CategoryCheckingError},
		{0x9001, CategoryProprietary},
		{0x9100, CategoryProprietary},
	}

	for _, tc := range tests {
		if got := tc.sw.Category(); got != tc.want {
			t.Errorf("%s.Category() = %s, want %s", tc.sw, got, tc.want)
		}
		if got, want := tc.sw.IsSuccess(), tc.want == CategoryNormal; got != want {
			t.Errorf("%s.IsSuccess() = %v", tc.sw, got)
		}
		if got, want := tc.sw.IsWarning(), tc.want == CategoryWarning; got != want {
			t.Errorf("%s.IsWarning() = %v", tc.sw, got)
		}
		if got, want := tc.sw.IsError(), tc.want == CategoryExecutionError || tc.want == CategoryCheckingError; got != want {
			t.Errorf("%s.IsError() = %v", tc.sw, got)
		}
	}
}

func TestStatusWordLengths(t *testing.T) {
	tests := []struct {
		name string
		sw   StatusWord
		get  func(StatusWord) (int, bool)
		want int
		ok   bool
	}{
		{"available", 0x6120, StatusWord.BytesAvailable, 32, true},
		{"available 256", 0x6100, StatusWord.BytesAvailable, 256, true},
		{"not available", SW_NO_ERROR, StatusWord.BytesAvailable, 0, false},
		{"correct length", 0x6C05, StatusWord.CorrectLength, 5, true},
		{"correct length 256", 0x6C00, StatusWord.CorrectLength, 256, true},
		{"retries", 0x63C2, StatusWord.RetriesLeft, 2, true},
		{"retries exhausted", SW_WARN_COUNTER_0, StatusWord.RetriesLeft, 0, true},
		{"not a counter", 0x6381, StatusWord.RetriesLeft, 0, false},
		{"query lower bound", SW_WARN_TRIGGERING_BY_CARD, StatusWord.QueryLength, 2, true},
		{"query upper bound", 0x6480, StatusWord.QueryLength, 0x80, true},
		{"query out of range", 0x6281, StatusWord.QueryLength, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.get(tc.sw)
			if got != tc.want || ok != tc.ok {
				t.Errorf("got (%d, %v), want (%d, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestStatusWordVerbose(t *testing.T) {
	tests := []struct {
		sw   StatusWord
		want string
	}{
		{SW_NO_ERROR, "[9000] OK"},
		{0x6120, "[6120] 32 bytes available"},
		{0x6C05, "[6C05] wrong Le, exact length is 5"},
		{0x63C3, "[63C3] counter 3"},
		{0x6210, "[6210] warning, card asks for a query of 16 bytes"},
		{SW_ERR_FILE_NOT_FOUND, "[6A82] file or application not found"},
		{0x6A8F, "[6A8F] checking error"},
		{0x9100, "[9100] proprietary"},
	}

	for _, tc := range tests {
		if got := tc.sw.Verbose(); got != tc.want {
			t.Errorf("Verbose(%s) = %q, want %q", tc.sw, got, tc.want)
		}
	}
}

func TestStatusWordErr(t *testing.T) {
	if err := SW_NO_ERROR.Err("op"); err != nil {
		t.Errorf("9000: %v", err)
	}
	if err := StatusWord(0x6110).Err("op"); err != nil {
		t.Errorf("6110: %v", err)
	}
	err := SW_ERR_SECURITY_STATUS_NOT_SAT.Err("select")
	if !errors.Is(err, fault.ErrProtocol) {
		t.Errorf("6982: %v, want protocol error", err)
	}
}
