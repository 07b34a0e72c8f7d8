package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// ValueKind is the logical type an entry was written with.
type ValueKind uint8

const (
	KindString ValueKind = 1
	KindInt    ValueKind = 2
	KindJSON   ValueKind = 3
	KindBytes  ValueKind = 4
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindJSON:
		return "json"
	case KindBytes:
		return "bytes"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// entry is the plaintext CBOR envelope sealed into each row.
type entry struct {
	Kind ValueKind `cbor:"1,keyasint"`
	Data []byte    `cbor:"2,keyasint"`
}

func (e entry) marshal() ([]byte, error) {
	return cbor.Marshal(e)
}

func unmarshalEntry(b []byte) (entry, error) {
	var e entry
	if err := cbor.Unmarshal(b, &e); err != nil {
		return entry{}, err
	}
	switch e.Kind {
	case KindString, KindInt, KindJSON, KindBytes:
	default:
		return entry{}, fmt.Errorf("unknown value kind %d", e.Kind)
	}
	return e, nil
}

// encodeValue turns a caller value into an entry.
// Strings, integers and raw bytes keep their own kind; everything else is JSON.
func encodeValue(v any) (entry, error) {
	switch x := v.(type) {
	case nil:
		return entry{}, fmt.Errorf("nil value")
	case string:
		return entry{Kind: KindString, Data: []byte(x)}, nil
	case int:
		return intEntry(int64(x)), nil
	case int32:
		return intEntry(int64(x)), nil
	case int64:
		return intEntry(x), nil
	case uint32:
		return intEntry(int64(x)), nil
	case []byte:
		return entry{Kind: KindBytes, Data: append([]byte(nil), x...)}, nil
	case json.RawMessage:
		if !json.Valid(x) {
			return entry{}, fmt.Errorf("invalid JSON value")
		}
		return entry{Kind: KindJSON, Data: append([]byte(nil), x...)}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return entry{}, fmt.Errorf("encode JSON value: %w", err)
		}
		return entry{Kind: KindJSON, Data: data}, nil
	}
}

func intEntry(n int64) entry {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n))
	return entry{Kind: KindInt, Data: buf}
}

// decode returns the Go value for e: string, int64, []byte, or the
// JSON document as map[string]any / []any with json.Number numbers.
func (e entry) decode() (any, bool) {
	switch e.Kind {
	case KindString:
		return string(e.Data), true
	case KindInt:
		if len(e.Data) != 8 {
			return nil, false
		}
		return int64(binary.LittleEndian.Uint64(e.Data)), true
	case KindBytes:
		return append([]byte(nil), e.Data...), true
	case KindJSON:
		dec := json.NewDecoder(bytes.NewReader(e.Data))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

// decodeInto decodes e into out, reporting false on any mismatch.
func (e entry) decodeInto(out any) bool {
	switch p := out.(type) {
	case *string:
		if e.Kind == KindString {
			*p = string(e.Data)
			return true
		}
	case *int64:
		if e.Kind == KindInt {
			v, ok := e.decode()
			if ok {
				*p = v.(int64)
			}
			return ok
		}
	case *int:
		if e.Kind == KindInt {
			v, ok := e.decode()
			if ok {
				*p = int(v.(int64))
			}
			return ok
		}
	case *[]byte:
		if e.Kind == KindBytes {
			*p = append([]byte(nil), e.Data...)
			return true
		}
	}
	if e.Kind != KindJSON && e.Kind != KindString {
		return false
	}
	// Objects written by the widget or older SDKs may arrive as JSON text.
	return json.Unmarshal(e.Data, out) == nil
}

// classifyLegacy guesses the kind of an untyped legacy value: a JSON object,
// then a fixed-width integer, then UTF-8 text, else opaque bytes. Eight
// printable bytes are read as text.
func classifyLegacy(data []byte) entry {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return entry{Kind: KindJSON, Data: append([]byte(nil), trimmed...)}
	}
	if len(data) == 8 && !printable(data) {
		return entry{Kind: KindInt, Data: append([]byte(nil), data...)}
	}
	if utf8.Valid(data) {
		return entry{Kind: KindString, Data: append([]byte(nil), data...)}
	}
	return entry{Kind: KindBytes, Data: append([]byte(nil), data...)}
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
