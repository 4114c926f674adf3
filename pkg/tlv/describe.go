package tlv

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// REPORT FORMAT:
// WriteStructFields renders the set fields of a tagged struct, one per line:
//
//	    - <prefix>.<Field> (<tag>): <value>
//
// Byte fields are printed in hex; `fmt:"ascii"` adds the printable text and
// `fmt:"int"` the big-endian unsigned value. Nested structs are rendered
// under <prefix>.<Field>, and the catch-all field lists the TLVs that
// matched nothing. Unset fields are omitted.

// WriteStructFields appends the report of s, a struct or pointer to struct,
// to sb. Lines are separated, not terminated, by newlines; a separator is
// added first when sb already holds text.
func WriteStructFields(sb *strings.Builder, prefix string, s interface{}) {
	lines := structLines(prefix, reflect.ValueOf(s))
	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func structLines(prefix string, v reflect.Value) []string {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	var lines []string
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		field := v.Field(i)
		name := f.Name
		if tag, _ := fieldTag(f); tag != "" {
			name = fmt.Sprintf("%s (%s)", name, strings.ToUpper(tag))
		}

		switch {
		case field.Type() == tlvSliceType:
			for _, p := range field.Interface().([]bertlv.TLV) {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %X", prefix, strings.ToUpper(p.Tag), content(p)))
			}
		case isByteSlice(field.Type()):
			if field.Len() > 0 {
				lines = append(lines, fmt.Sprintf("    - %s.%s: %s", prefix, name, formatBytes(field.Bytes(), f.Tag.Get("fmt"))))
			}
		case field.Kind() == reflect.String:
			if field.Len() > 0 {
				lines = append(lines, fmt.Sprintf("    - %s.%s: %s", prefix, name, field.String()))
			}
		case field.Kind() == reflect.Struct, field.Kind() == reflect.Ptr:
			lines = append(lines, structLines(prefix+"."+f.Name, field)...)
		case field.Kind() == reflect.Slice:
			for j := 0; j < field.Len(); j++ {
				lines = append(lines, structLines(fmt.Sprintf("%s.%s[%d]", prefix, f.Name, j), field.Index(j))...)
			}
		}
	}
	return lines
}

func formatBytes(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, Printable(data))
	case "int":
		return fmt.Sprintf("%X (Dec: %s)", data, new(big.Int).SetBytes(data))
	default:
		return fmt.Sprintf("%X", data)
	}
}

// Printable replaces the bytes outside printable ASCII with dots.
func Printable(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 0x20 || b > 0x7E {
			b = '.'
		}
		out[i] = b
	}
	return string(out)
}
