package tlv

import (
	"time"

	"github.com/gregLibert/cardsec/pkg/fault"
)

const (
	utcTimeLayout         = "060102150405Z0700"
	generalizedTimeLayout = "20060102150405Z0700"
)

// UTCTime returns the 13 byte UTCTime value YYMMDDHHMMSSZ of t in UTC.
// The year is reduced modulo 100.
func UTCTime(t time.Time) []byte {
	return []byte(t.UTC().Format("060102150405") + "Z")
}

// ParseTime decodes a UTCTime (tag 0x17) or GeneralizedTime (tag 0x18) value.
// Two-digit years below 50 map to 20YY, the others to 19YY.
func ParseTime(tag uint32, value []byte) (time.Time, error) {
	var layout string
	switch tag {
	case TagUTCTime:
		layout = utcTimeLayout
	case TagGeneralizedTime:
		layout = generalizedTimeLayout
	default:
		return time.Time{}, fault.New(fault.KindFormat, "tlv.ParseTime", "tag %X is not a time", tagBytes(tag))
	}
	t, err := time.Parse(layout, string(value))
	if err != nil {
		return time.Time{}, fault.Wrap(fault.KindFormat, "tlv.ParseTime", err)
	}
	if tag == TagUTCTime && t.Year() >= 2050 {
		t = t.AddDate(-100, 0, 0)
	}
	return t.UTC(), nil
}
