// Package tlv encodes and decodes the TLV structures smart cards exchange.
//
// Two models are provided. The Tree is an arena of DER nodes used for
// certificates and requests, where exact re-encoding matters. The struct
// mapping (Unmarshal) decodes BER-TLV responses, such as SELECT data, into
// tagged Go structs:
//
//	type appData struct {
//	    RMIData []byte       `tlv:"5E"`
//	    Unknown []bertlv.TLV `tlv:",unknown"`
//	}
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/cardsec/pkg/fault"
)

// Unmarshaler is implemented by field types decoding their own value.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

var tlvSliceType = reflect.TypeOf([]bertlv.TLV{})

// Unmarshal decodes BER-TLV data into the struct pointed to by target.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fault.Wrap(fault.KindFormat, "tlv.Unmarshal", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps decoded TLVs onto the fields of target by their
// `tlv:"<hex tag>"` struct tag. A tag occurring several times fills a slice
// field element by element. TLVs matching no field go to the field tagged
// `tlv:",unknown"`, when there is one.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fault.New(fault.KindFormat, "tlv.Unmarshal", "target must be a non-nil pointer to a struct, got %T", target)
	}
	v = v.Elem()
	typ := v.Type()

	consumed := make([]bool, len(packets))
	unknown := -1
	for i := 0; i < typ.NumField(); i++ {
		tag, isUnknown := fieldTag(typ.Field(i))
		if isUnknown {
			unknown = i
			continue
		}
		if tag == "" {
			continue
		}
		for j, p := range packets {
			if !strings.EqualFold(p.Tag, tag) {
				continue
			}
			if err := assign(v.Field(i), p); err != nil {
				return fault.Wrap(fault.KindFormat, "tlv.Unmarshal", fmt.Errorf("tag %s into %s: %w", tag, typ.Field(i).Name, err))
			}
			consumed[j] = true
		}
	}

	if unknown < 0 || !v.Field(unknown).CanSet() || v.Field(unknown).Type() != tlvSliceType {
		return nil
	}
	var rest []bertlv.TLV
	for j, p := range packets {
		if !consumed[j] {
			rest = append(rest, p)
		}
	}
	if len(rest) > 0 {
		v.Field(unknown).Set(reflect.ValueOf(rest))
	}
	return nil
}

// fieldTag returns the hex tag of a field, or reports the catch-all field.
func fieldTag(f reflect.StructField) (tag string, unknown bool) {
	conf, ok := f.Tag.Lookup("tlv")
	if !ok {
		return "", f.Name == "Unknown" && f.Type == tlvSliceType
	}
	name, opt, _ := strings.Cut(conf, ",")
	if opt == "unknown" {
		return "", true
	}
	return name, false
}

// assign stores one TLV into field, appending when field is a slice of
// anything but bytes.
func assign(field reflect.Value, p bertlv.TLV) error {
	if field.Kind() == reflect.Slice && !isByteSlice(field.Type()) {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeValue(elem, p); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}
	return decodeValue(field, p)
}

func decodeValue(field reflect.Value, p bertlv.TLV) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(content(p))
		}
	}
	switch {
	case isByteSlice(field.Type()):
		field.SetBytes(content(p))
	case field.Kind() == reflect.String:
		field.SetString(strings.ToUpper(hex.EncodeToString(p.Value)))
	case field.Kind() == reflect.Struct:
		return decodeNested(field.Addr(), p)
	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return decodeNested(field, p)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func decodeNested(ptr reflect.Value, p bertlv.TLV) error {
	if len(p.TLVs) > 0 {
		return UnmarshalFromPackets(p.TLVs, ptr.Interface())
	}
	if len(p.Value) == 0 {
		return nil
	}
	return Unmarshal(p.Value, ptr.Interface())
}

// content returns the value bytes of p, re-encoding the children of a
// constructed TLV.
func content(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

func isByteSlice(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

// Find searches packets depth first for the first TLV with the given tag.
func Find(packets []bertlv.TLV, tag uint) (bertlv.TLV, bool) {
	want := fmt.Sprintf("%X", tag)
	var walk func([]bertlv.TLV) (bertlv.TLV, bool)
	walk = func(ps []bertlv.TLV) (bertlv.TLV, bool) {
		for _, p := range ps {
			if strings.EqualFold(p.Tag, want) {
				return p, true
			}
			if found, ok := walk(p.TLVs); ok {
				return found, true
			}
		}
		return bertlv.TLV{}, false
	}
	return walk(packets)
}
