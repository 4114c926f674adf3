package apduconn

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/cardsec/pkg/acl"
	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/iso7816"
	"github.com/gregLibert/cardsec/pkg/pin"
	"github.com/gregLibert/cardsec/pkg/tlv"
	"github.com/gregLibert/cardsec/pkg/transport"
)

const testPolicy = `
acf a0 00 00 00 03 {
  ace {
    apdu { 00 B0 00 00 FF FF 00 00
           80 CA 9F 7F FF FF FF FF }
  }
  pin_apdu { id 1 verify 00 20 00 81 unblock 002C0081 disable 00260081 }
}
pin_data {
  label PIN
  id 1 type ascii min 4 stored 8 max 8 reference 81 pad ff flag needs-padding flag disable-allowed
}
pin_data {
  label PUK
  id 2 type ascii min 8 stored 8 max 8 reference 82 flag unblocking-pin
}
`

var testAID = tlv.Hex("A0 00 00 00 03")

type fakeCard struct {
	responses []string
	sent      []string
	opened    int
	closed    []transport.Channel
}

func (f *fakeCard) OpenChannel(ctx context.Context, slot int) (transport.Channel, error) {
	f.opened++
	return transport.Channel{Slot: slot, Number: 2}, nil
}

func (f *fakeCard) ExchangeAPDU(ctx context.Context, ch transport.Channel, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, err
	}
	f.sent = append(f.sent, strings.ToUpper(hex.EncodeToString(raw)))
	if len(f.responses) == 0 {
		return nil, fault.New(fault.KindTransport, "fakeCard", "unexpected command %X", raw)
	}
	resp, err := iso7816.ParseResponseAPDU(tlv.Hex(f.responses[0]))
	f.responses = f.responses[1:]
	return resp, err
}

func (f *fakeCard) CloseChannel(ctx context.Context, ch transport.Channel) error {
	f.closed = append(f.closed, ch)
	return nil
}

func open(t *testing.T, entry pin.Entry) (*Conn, *fakeCard) {
	t.Helper()
	p, err := acl.Parse(strings.NewReader(testPolicy))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	card := &fakeCard{responses: []string{"6F 07 84 05 A0 00 00 00 03 9000"}}
	conn, err := Open(context.Background(), card, 0, testAID, Options{Policy: p, PINEntry: entry})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return conn, card
}

func TestOpen(t *testing.T) {
	conn, card := open(t, nil)

	if diff := cmp.Diff([]string{"02A4040005A000000003"}, card.sent); diff != "" {
		t.Errorf("SELECT mismatch (-want +got):\n%s", diff)
	}
	fci, err := conn.Selection().FCI()
	if err != nil {
		t.Fatalf("FCI: %v", err)
	}
	if diff := cmp.Diff(testAID, fci.GetAID()); diff != "" {
		t.Errorf("AID mismatch (-want +got):\n%s", diff)
	}
	if conn.Channel().Number != 2 {
		t.Errorf("channel = %s", conn.Channel())
	}
}

func TestOpenErrors(t *testing.T) {
	p, err := acl.Parse(strings.NewReader(testPolicy))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	t.Run("denied", func(t *testing.T) {
		card := &fakeCard{}
		if _, err := Open(context.Background(), card, 0, tlv.Hex("A0 00 00 00 04"), Options{Policy: p}); !errors.Is(err, fault.ErrSecurity) {
			t.Errorf("Open = %v, want security error", err)
		}
		if card.opened != 0 {
			t.Error("a denied open must not reach the card")
		}
	})

	t.Run("select failure", func(t *testing.T) {
		card := &fakeCard{responses: []string{"6A82"}}
		if _, err := Open(context.Background(), card, 0, testAID, Options{Policy: p}); !errors.Is(err, fault.ErrProtocol) {
			t.Errorf("Open = %v, want protocol error", err)
		}
		if len(card.closed) != 1 {
			t.Errorf("half-open channel not closed: %v", card.closed)
		}
	})
}

func TestExchange(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		command  string
		response string
		wantSent string
		wantErr  error
	}{
		{name: "permitted", command: "00B0000010", response: "CAFE9000", wantSent: "02B0000010"},
		{name: "channel forced", command: "03B0000010", response: "9000", wantSent: "02B0000010"},
		{name: "proprietary class", command: "80CA9F7F00", response: "9000", wantSent: "82CA9F7F00"},
		{name: "not permitted", command: "00D6000001AA", wantErr: fault.ErrSecurity},
		{name: "select by name", command: "00A4040005A000000004", wantErr: fault.ErrSecurity},
		{name: "manage channel", command: "0070000001", wantErr: fault.ErrSecurity},
		{name: "malformed", command: "00B0", wantErr: fault.ErrFormat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn, card := open(t, nil)
			if tc.response != "" {
				card.responses = append(card.responses, tc.response)
			}

			got, err := conn.Exchange(ctx, tlv.Hex(tc.command))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("Exchange = %v, want %v", err, tc.wantErr)
				}
				if len(card.sent) != 1 {
					t.Errorf("a refused command reached the card: %v", card.sent[1:])
				}
				return
			}
			if err != nil {
				t.Fatalf("Exchange: %v", err)
			}
			if diff := cmp.Diff(tlv.Hex(tc.response), got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
			if card.sent[1] != tc.wantSent {
				t.Errorf("sent %s, want %s", card.sent[1], tc.wantSent)
			}
		})
	}
}

func TestPINOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("verify", func(t *testing.T) {
		conn, card := open(t, pin.Static{"1234"})
		card.responses = append(card.responses, "63C2")
		sw, err := conn.EnterPIN(ctx, 1)
		if err != nil {
			t.Fatalf("EnterPIN: %v", err)
		}
		if sw != 0x63C2 {
			t.Errorf("status = %04X, want 63C2", sw)
		}
		if want := "022000810831323334FFFFFFFF"; card.sent[1] != want {
			t.Errorf("VERIFY = %s, want %s", card.sent[1], want)
		}
	})

	t.Run("unblock", func(t *testing.T) {
		conn, card := open(t, pin.Static{"12345678", "5678"})
		card.responses = append(card.responses, "9000")
		sw, err := conn.UnblockPIN(ctx, 1, 2)
		if err != nil || sw != 0x9000 {
			t.Fatalf("UnblockPIN = %04X, %v", sw, err)
		}
		if want := "022C0081103132333435363738" + "35363738FFFFFFFF"; card.sent[1] != want {
			t.Errorf("RESET RETRY COUNTER = %s, want %s", card.sent[1], want)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		conn, card := open(t, pin.Static{})
		sw, err := conn.DisablePIN(ctx, 1)
		if err != nil || sw != PINCancelled {
			t.Errorf("DisablePIN = %d, %v; want PINCancelled", sw, err)
		}
		if len(card.sent) != 1 {
			t.Error("a cancelled prompt must not reach the card")
		}
	})

	t.Run("not mapped", func(t *testing.T) {
		conn, card := open(t, pin.Static{"1234", "5678"})
		if _, err := conn.ChangePIN(ctx, 1); !errors.Is(err, fault.ErrSecurity) {
			t.Errorf("ChangePIN = %v, want security error", err)
		}
		if _, err := conn.EnablePIN(ctx, 1); !errors.Is(err, fault.ErrSecurity) {
			t.Errorf("EnablePIN = %v, want security error", err)
		}
		if len(card.sent) != 1 {
			t.Error("a refused pin operation must not reach the card")
		}
	})
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	conn, card := open(t, nil)

	if err := conn.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(card.closed) != 1 {
		t.Errorf("closed %d channel(s), want 1", len(card.closed))
	}
	if _, err := conn.Exchange(ctx, tlv.Hex("00B0000010")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Exchange after Close = %v, want ErrConnectionClosed", err)
	}
}
