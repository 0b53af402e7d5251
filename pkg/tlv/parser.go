// Package tlv maps BER-TLV (Basic Encoding Rules - Tag-Length-Value) data onto Go structures
// using struct tags, and renders those structures as indented reports.
//
// A field opts in with `tlv:"<TAG>"` (hex, case-insensitive). Supported field kinds:
//   - []byte: raw value (constructed values are re-encoded).
//   - string: hex representation of the value.
//   - struct or *struct: nested template, decoded recursively.
//   - []struct: every occurrence of a repeated tag.
//   - any type implementing Unmarshaler.
//
// A field tagged `tlv:",unknown"` of type []bertlv.TLV collects the packets no field claimed.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

var tlvSliceType = reflect.TypeOf([]bertlv.TLV{})

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps pre-decoded packets onto the struct pointed to by target.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct (got %T)", target)
	}
	v = v.Elem()
	t := v.Type()

	claimed := make([]bool, len(packets))
	unknownIdx := -1

	for i := 0; i < t.NumField(); i++ {
		tag, isUnknown := fieldTag(t.Field(i))
		if isUnknown {
			unknownIdx = i
			continue
		}
		if tag == "" {
			continue
		}

		for idx, packet := range packets {
			if !strings.EqualFold(packet.Tag, tag) {
				continue
			}
			if err := assign(packet, v.Field(i)); err != nil {
				return fmt.Errorf("tag %s -> field %s: %w", tag, t.Field(i).Name, err)
			}
			claimed[idx] = true
		}
	}

	if unknownIdx < 0 {
		return nil
	}

	var leftovers []bertlv.TLV
	for idx, packet := range packets {
		if !claimed[idx] {
			leftovers = append(leftovers, packet)
		}
	}
	if len(leftovers) > 0 {
		v.Field(unknownIdx).Set(reflect.ValueOf(leftovers))
	}
	return nil
}

// fieldTag returns the hex tag of a struct field and whether it is the catch-all field.
func fieldTag(f reflect.StructField) (string, bool) {
	config, ok := f.Tag.Lookup("tlv")
	if f.Type == tlvSliceType && (config == ",unknown" || f.Name == "Unknown") {
		return "", true
	}
	if !ok || config == "" {
		return "", false
	}
	return strings.ToUpper(strings.Split(config, ",")[0]), false
}

// assign stores one packet in field. Repeated tags append to slices of structs.
func assign(packet bertlv.TLV, field reflect.Value) error {
	if field.Kind() == reflect.Slice && !isByteSlice(field) && field.Type() != tlvSliceType {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeInto(packet, elem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}
	return decodeInto(packet, field)
}

func decodeInto(packet bertlv.TLV, field reflect.Value) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(RawValue(packet))
		}
	}

	switch {
	case isByteSlice(field):
		field.SetBytes(RawValue(packet))
	case field.Kind() == reflect.String:
		field.SetString(hex.EncodeToString(RawValue(packet)))
	case field.Kind() == reflect.Struct:
		return decodeTemplate(packet, field.Addr())
	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return decodeTemplate(packet, field)
	}
	return nil
}

func decodeTemplate(packet bertlv.TLV, target reflect.Value) error {
	if len(packet.TLVs) > 0 {
		return UnmarshalFromPackets(packet.TLVs, target.Interface())
	}
	if len(packet.Value) == 0 {
		return nil
	}
	return Unmarshal(packet.Value, target.Interface())
}

// RawValue returns the value field of a packet. For constructed packets the
// nested TLVs are re-encoded so the caller always sees the on-card bytes.
func RawValue(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

// Find walks nested templates following path (e.g. "6F", "A5", "BF0C", "C7")
// and returns the packet at the end of it.
func Find(packets []bertlv.TLV, path ...string) (bertlv.TLV, bool) {
	if len(path) == 0 {
		return bertlv.TLV{}, false
	}
	for _, p := range packets {
		if !strings.EqualFold(p.Tag, path[0]) {
			continue
		}
		if len(path) == 1 {
			return p, true
		}
		return Find(p.TLVs, path[1:]...)
	}
	return bertlv.TLV{}, false
}

// GetValue decodes data and returns the raw value found at path.
func GetValue(data []byte, path ...string) ([]byte, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode failed: %w", err)
	}
	p, ok := Find(packets, path...)
	if !ok {
		return nil, fmt.Errorf("tag path %s not found", strings.Join(path, "/"))
	}
	return RawValue(p), nil
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}
