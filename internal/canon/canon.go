// Package canon implements the single canonical byte encoding used for every
// hashed or signed value in the chain. Two implementations that agree on the
// input value must emit byte-identical output; nothing hashes or signs a
// value through any other route.
package canon

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// Value is anything encodable by Bytes: nil, bool, int/int64/uint64,
// *big.Int, string, []byte, an ordered []Value (Seq), or a sorted
// string-keyed mapping (Map). Structs implement Canon() (Value, error) to
// participate; see Canonicalizer.
type Value interface{}

// Seq is an ordered sequence of values (a JSON array analogue).
type Seq []Value

// Map is a string-keyed mapping; keys are sorted before encoding regardless
// of insertion order, so a Go map[string]Value is always safe to wrap.
type Map map[string]Value

// Canonicalizer is implemented by types with a custom canonical form.
type Canonicalizer interface {
	Canon() (Value, error)
}

// Bytes returns the canonical encoding of v.
func Bytes(v Value) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf, err := encode(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// tag bytes prefix every encoded value so that e.g. the string "5" and the
// integer 5 never collide in the byte stream.
const (
	tagNil   = 'n'
	tagBool  = 'b'
	tagInt   = 'i'
	tagStr   = 's'
	tagBytes = 'x'
	tagSeq   = 'l'
	tagMap   = 'm'
)

func encode(buf []byte, v Value) ([]byte, error) {
	if v == nil {
		return append(buf, tagNil), nil
	}
	if c, ok := v.(Canonicalizer); ok {
		cv, err := c.Canon()
		if err != nil {
			return nil, err
		}
		return encode(buf, cv)
	}

	switch x := v.(type) {
	case bool:
		buf = append(buf, tagBool)
		if x {
			return append(buf, '1'), nil
		}
		return append(buf, '0'), nil
	case int:
		return encodeInt(buf, int64(x)), nil
	case int64:
		return encodeInt(buf, x), nil
	case uint64:
		return encodeUint(buf, x), nil
	case *big.Int:
		return encodeBigInt(buf, x), nil
	case string:
		return encodeString(buf, x), nil
	case []byte:
		return encodeBytes(buf, x), nil
	case float64:
		// The free-form transaction `data` field round-trips through JSON,
		// whose decoder produces float64 for every number; encode integral
		// floats as decimal integers so re-decoded data canonicalizes the
		// same as data built programmatically with int64/*big.Int.
		return encodeInt(buf, int64(x)), nil
	case Seq:
		return encodeSeq(buf, x)
	case []Value:
		return encodeSeq(buf, Seq(x))
	case []any:
		seq := make(Seq, len(x))
		for i, item := range x {
			seq[i] = item
		}
		return encodeSeq(buf, seq)
	case Map:
		return encodeMap(buf, x)
	case map[string]Value:
		return encodeMap(buf, Map(x))
	case map[string]any:
		m := make(Map, len(x))
		for k, item := range x {
			m[k] = item
		}
		return encodeMap(buf, m)
	default:
		return nil, fmt.Errorf("canon: unsupported type %T", v)
	}
}

func encodeInt(buf []byte, n int64) []byte {
	buf = append(buf, tagInt)
	return strconv.AppendInt(buf, n, 10)
}

func encodeUint(buf []byte, n uint64) []byte {
	buf = append(buf, tagInt)
	return strconv.AppendUint(buf, n, 10)
}

// encodeBigInt emits a decimal integer with no leading zeros (big.Int.String
// already produces that form). Nil is treated as zero so an unset amount
// hashes identically to an explicit zero.
func encodeBigInt(buf []byte, n *big.Int) []byte {
	buf = append(buf, tagInt)
	if n == nil {
		return append(buf, '0')
	}
	return append(buf, n.String()...)
}

// encodeString emits the length-prefixed minimal printable form: a decimal
// byte length followed by ':' then the raw bytes. Length-prefixing (rather
// than escaping) keeps the form unambiguous without an escaping dialect.
func encodeString(buf []byte, s string) []byte {
	buf = append(buf, tagStr)
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, ':')
	return append(buf, s...)
}

func encodeBytes(buf []byte, b []byte) []byte {
	buf = append(buf, tagBytes)
	buf = strconv.AppendInt(buf, int64(len(b)), 10)
	buf = append(buf, ':')
	return append(buf, b...)
}

func encodeSeq(buf []byte, seq Seq) ([]byte, error) {
	buf = append(buf, tagSeq)
	buf = strconv.AppendInt(buf, int64(len(seq)), 10)
	buf = append(buf, ':')
	var err error
	for _, item := range seq {
		buf, err = encode(buf, item)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func encodeMap(buf []byte, m Map) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, tagMap)
	buf = strconv.AppendInt(buf, int64(len(keys)), 10)
	buf = append(buf, ':')
	var err error
	for _, k := range keys {
		buf = encodeString(buf, k)
		buf, err = encode(buf, m[k])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
