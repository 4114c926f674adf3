package jcrmi

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PARAMETER ENCODING:
// Parameters follow the method digest, big-endian, without separators.
//   byte, boolean     1 byte (boolean: 01 true, 00 false)
//   short             2 bytes
//   int               4 bytes
//   arrays            u1 element count, then the elements; FF encodes null
// Arrays hold at most maxArrayLen elements.

const maxArrayLen = 254

const nullArray = 0xFF

// marshalParams appends the encoding of params to out.
func marshalParams(out []byte, params []interface{}) ([]byte, error) {
	for i, p := range params {
		var err error
		out, err = marshalParam(out, p)
		if err != nil {
			return nil, protocolErrorf("parameter %d: %v", i, err)
		}
	}
	return out, nil
}

func marshalParam(out []byte, p interface{}) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return append(out, nullArray), nil
	case int8:
		return append(out, byte(v)), nil
	case uint8:
		return append(out, v), nil
	case bool:
		if v {
			return append(out, 1), nil
		}
		return append(out, 0), nil
	case int16:
		return binary.BigEndian.AppendUint16(out, uint16(v)), nil
	case int32:
		return binary.BigEndian.AppendUint32(out, uint32(v)), nil
	case []byte:
		if v == nil {
			return append(out, nullArray), nil
		}
		if len(v) > maxArrayLen {
			return nil, arrayTooLong(len(v))
		}
		out = append(out, byte(len(v)))
		return append(out, v...), nil
	case []int8:
		if v == nil {
			return append(out, nullArray), nil
		}
		if len(v) > maxArrayLen {
			return nil, arrayTooLong(len(v))
		}
		out = append(out, byte(len(v)))
		for _, e := range v {
			out = append(out, byte(e))
		}
		return out, nil
	case []bool:
		if v == nil {
			return append(out, nullArray), nil
		}
		if len(v) > maxArrayLen {
			return nil, arrayTooLong(len(v))
		}
		out = append(out, byte(len(v)))
		for _, e := range v {
			if e {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
		return out, nil
	case []int16:
		if v == nil {
			return append(out, nullArray), nil
		}
		if len(v) > maxArrayLen {
			return nil, arrayTooLong(len(v))
		}
		out = append(out, byte(len(v)))
		for _, e := range v {
			out = binary.BigEndian.AppendUint16(out, uint16(e))
		}
		return out, nil
	case []int32:
		if v == nil {
			return append(out, nullArray), nil
		}
		if len(v) > maxArrayLen {
			return nil, arrayTooLong(len(v))
		}
		out = append(out, byte(len(v)))
		for _, e := range v {
			out = binary.BigEndian.AppendUint32(out, uint32(e))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", p)
	}
}

func arrayTooLong(n int) error {
	return fmt.Errorf("array of %d elements exceeds %d", n, maxArrayLen)
}

// returnType extracts the descriptor of the return value: the part of
// methodSig after ')'.
func returnType(methodSig string) (string, error) {
	i := strings.LastIndexByte(methodSig, ')')
	if i < 0 || i == len(methodSig)-1 {
		return "", protocolErrorf("method %q has no return descriptor", methodSig)
	}
	rt := methodSig[i+1:]
	switch rt {
	case "V", "B", "Z", "S", "I", "[B", "[Z", "[S", "[I":
		return rt, nil
	}
	if strings.HasPrefix(rt, "L") && strings.HasSuffix(rt, ";") && len(rt) > 2 {
		return rt, nil
	}
	return "", protocolErrorf("method %q: unsupported return type %q", methodSig, rt)
}

// unmarshalValue decodes the value of a normal response according to the
// return descriptor rt.
func (c *Conn) unmarshalValue(r *reader, rt string) (interface{}, error) {
	switch rt {
	case "V":
		return nil, nil
	case "B":
		b, err := r.u1()
		return int8(b), err
	case "Z":
		b, err := r.u1()
		if err != nil {
			return nil, err
		}
		switch b {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, protocolErrorf("invalid boolean %02X", b)
	case "S":
		v, err := r.u2()
		return int16(v), err
	case "I":
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	}

	if strings.HasPrefix(rt, "L") {
		ref, err := c.readRef(r)
		if err != nil || ref == nil {
			return nil, err
		}
		return c.opts.Proxies.Proxy(ref), nil
	}

	// Arrays.
	n, err := r.u1()
	if err != nil {
		return nil, err
	}
	if n == nullArray {
		return nil, nil
	}
	switch rt {
	case "[B":
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case "[Z":
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]bool, n)
		for i, e := range b {
			out[i] = e != 0
		}
		return out, nil
	case "[S":
		b, err := r.bytes(2 * int(n))
		if err != nil {
			return nil, err
		}
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
		}
		return out, nil
	case "[I":
		b, err := r.bytes(4 * int(n))
		if err != nil {
			return nil, err
		}
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.BigEndian.Uint32(b[4*i:]))
		}
		return out, nil
	}
	return nil, protocolErrorf("unsupported return type %q", rt)
}
