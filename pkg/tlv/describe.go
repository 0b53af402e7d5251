package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// REPORT FORMAT:
// Every populated []byte field of a template becomes one indented line:
//
//	    - <Prefix>.<Field> (<TAG>): <VALUE>
//
// The `fmt` struct tag selects how VALUE is rendered:
//   - "ascii": hex dump followed by the printable characters.
//   - "int":   hex dump followed by the big-endian decimal value.
//   - "bin":   hex dump followed by the bit pattern of every byte.
//   - default: upper-case hex dump.
//
// Packets collected in an unknown-tag field are listed as "Unknown Tag <TAG>".

// WriteStructFields inspects a struct and writes its fields to the strings.Builder.
// Lines are joined with newlines without a trailing newline; if the builder already
// holds content, a newline separates the new block from it.
func WriteStructFields(sb *strings.Builder, prefix string, s interface{}) {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	var lines []string

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		switch {
		case field.Type() == tlvSliceType:
			lines = append(lines, formatUnknownField(prefix, field)...)
		case isByteSlice(field):
			if line := formatByteSliceField(prefix, field, fieldType); line != "" {
				lines = append(lines, line)
			}
		}
	}

	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func formatByteSliceField(prefix string, field reflect.Value, fieldType reflect.StructField) string {
	if field.Len() == 0 {
		return ""
	}

	name := fieldType.Name
	if tag, _ := fieldTag(fieldType); tag != "" {
		name = fmt.Sprintf("%s (%s)", name, tag)
	}

	return fmt.Sprintf("    - %s.%s: %s", prefix, name, FormatValue(field.Bytes(), fieldType.Tag.Get("fmt")))
}

func formatUnknownField(prefix string, field reflect.Value) []string {
	if field.Len() == 0 {
		return nil
	}

	var lines []string
	for _, t := range field.Interface().([]bertlv.TLV) {
		lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %s", prefix, strings.ToUpper(t.Tag), UpperHex(RawValue(t))))
	}
	return lines
}

// FormatValue renders data according to a `fmt` struct tag value.
func FormatValue(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		var integer uint64
		for _, b := range data {
			integer = (integer << 8) | uint64(b)
		}
		return fmt.Sprintf("%X (Dec: %d)", data, integer)
	case "bin":
		patterns := make([]string, len(data))
		for i, b := range data {
			patterns[i] = fmt.Sprintf("%08b", b)
		}
		return fmt.Sprintf("%X (0b%s)", data, strings.Join(patterns, "_"))
	default:
		return UpperHex(data)
	}
}

// MakeSafeASCII replaces every non-printable byte with a dot.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}

// UpperHex is the dump format used by every report and log line.
func UpperHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}
