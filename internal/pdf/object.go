// Package pdf implements the minimal PDF structure handling needed for
// incremental document timestamping: locating and parsing the
// cross-reference table (or stream) and trailer, resolving objects, and
// appending an incremental update carrying a signature dictionary.
//
// It deliberately understands nothing about page content; it only knows
// how to locate, parse and append objects without disturbing any byte of
// the original document.
package pdf

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Object is any PDF object. Concrete types are:
//   - nil (null)
//   - bool
//   - int64
//   - float64
//   - String (literal string)
//   - HexString
//   - Name
//   - Array
//   - Dict
//   - Stream
//   - Ref
type Object any

// Name is a PDF name without the leading slash.
type Name string

// Array is an ordered collection of objects.
type Array []Object

// Dict maps names to objects.
type Dict map[Name]Object

// String is a literal PDF string.
type String []byte

// HexString is a hexadecimal PDF string.
type HexString []byte

// Ref is an indirect object reference.
type Ref struct {
	Num int
	Gen int
}

// Stream is a dictionary followed by raw (still encoded) stream data.
type Stream struct {
	Dict Dict
	Raw  []byte
}

// GetName returns the named entry as a Name, or "" when absent or of a
// different type.
func (d Dict) GetName(key Name) Name {
	if n, ok := d[key].(Name); ok {
		return n
	}
	return ""
}

// GetInt returns the named entry as an integer.
func (d Dict) GetInt(key Name) (int64, bool) {
	switch v := d[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// GetArray returns the named entry as an Array, or nil.
func (d Dict) GetArray(key Name) Array {
	if a, ok := d[key].(Array); ok {
		return a
	}
	return nil
}

// GetDict returns the named entry as a Dict, or nil.
func (d Dict) GetDict(key Name) Dict {
	if sub, ok := d[key].(Dict); ok {
		return sub
	}
	return nil
}

// GetRef returns the named entry as a Ref.
func (d Dict) GetRef(key Name) (Ref, bool) {
	r, ok := d[key].(Ref)
	return r, ok
}

// Clone returns a shallow copy of the dictionary.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// nameNeedsEscape reports whether c must be #-escaped inside a name.
func nameNeedsEscape(c byte) bool {
	if c <= 0x20 || c >= 0x7f {
		return true
	}
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%', '#':
		return true
	}
	return false
}

// appendObject serializes obj in PDF syntax. Dictionary keys are written
// in sorted order so output is deterministic.
func appendObject(b []byte, obj Object) []byte {
	switch v := obj.(type) {
	case nil:
		return append(b, "null"...)
	case bool:
		if v {
			return append(b, "true"...)
		}
		return append(b, "false"...)
	case int:
		return strconv.AppendInt(b, int64(v), 10)
	case int64:
		return strconv.AppendInt(b, v, 10)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.AppendInt(b, int64(v), 10)
		}
		return strconv.AppendFloat(b, v, 'f', -1, 64)
	case Name:
		b = append(b, '/')
		for i := 0; i < len(v); i++ {
			if nameNeedsEscape(v[i]) {
				b = append(b, fmt.Sprintf("#%02X", v[i])...)
			} else {
				b = append(b, v[i])
			}
		}
		return b
	case String:
		b = append(b, '(')
		for _, c := range v {
			switch c {
			case '(', ')', '\\':
				b = append(b, '\\', c)
			case '\n':
				b = append(b, '\\', 'n')
			case '\r':
				b = append(b, '\\', 'r')
			default:
				b = append(b, c)
			}
		}
		return append(b, ')')
	case HexString:
		b = append(b, '<')
		b = append(b, strings.ToUpper(fmt.Sprintf("%x", []byte(v)))...)
		return append(b, '>')
	case Array:
		b = append(b, '[')
		for i, item := range v {
			if i > 0 {
				b = append(b, ' ')
			}
			b = appendObject(b, item)
		}
		return append(b, ']')
	case Dict:
		return appendDict(b, v)
	case Stream:
		b = appendDict(b, v.Dict)
		b = append(b, "\nstream\n"...)
		b = append(b, v.Raw...)
		return append(b, "\nendstream"...)
	case Ref:
		b = strconv.AppendInt(b, int64(v.Num), 10)
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(v.Gen), 10)
		return append(b, " R"...)
	default:
		// Unknown object types cannot occur for objects built by this
		// package; render null rather than corrupting the file.
		return append(b, "null"...)
	}
}

func appendDict(b []byte, d Dict) []byte {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	b = append(b, "<<"...)
	for _, k := range keys {
		b = append(b, ' ')
		b = appendObject(b, Name(k))
		b = append(b, ' ')
		b = appendObject(b, d[Name(k)])
	}
	return append(b, " >>"...)
}
