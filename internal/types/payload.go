package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// FieldKind tags the value held by a Field.
type FieldKind int

const (
	KindString FieldKind = iota + 1
	KindNumber
	KindBool
	KindFile
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// FileRef points at a local file captured by the UI (typically a photo).
type FileRef struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// Field is one named form value. Exactly one of the value members is
// meaningful, selected by Kind.
type Field struct {
	Name   string
	Kind   FieldKind
	String string
	Number float64
	Bool   bool
	File   *FileRef
}

// StringField builds a string-valued field.
func StringField(name, v string) Field {
	return Field{Name: name, Kind: KindString, String: v}
}

// NumberField builds a numeric field.
func NumberField(name string, v float64) Field {
	return Field{Name: name, Kind: KindNumber, Number: v}
}

// BoolField builds a boolean field.
func BoolField(name string, v bool) Field {
	return Field{Name: name, Kind: KindBool, Bool: v}
}

// FileField builds a file-reference field.
func FileField(name string, f FileRef) Field {
	return Field{Name: name, Kind: KindFile, File: &f}
}

// FormValue renders a non-file field as a multipart form value.
func (f Field) FormValue() (string, error) {
	switch f.Kind {
	case KindString:
		return f.String, nil
	case KindNumber:
		return strconv.FormatFloat(f.Number, 'f', -1, 64), nil
	case KindBool:
		return strconv.FormatBool(f.Bool), nil
	case KindFile:
		return "", fmt.Errorf("field %q is a file reference", f.Name)
	default:
		return "", fmt.Errorf("field %q has unknown kind %s", f.Name, f.Kind)
	}
}

// Payload is an ordered, flat set of form fields. Its JSON form is an object
// mapping field name to string, number, boolean, or {uri, mimeType, fileName}.
type Payload []Field

// Get returns the named field.
func (p Payload) Get(name string) (Field, bool) {
	for _, f := range p {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// MarshalJSON writes the payload as a flat JSON object, preserving field order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v any
		switch f.Kind {
		case KindString:
			v = f.String
		case KindNumber:
			v = f.Number
		case KindBool:
			v = f.Bool
		case KindFile:
			if f.File == nil {
				return nil, fmt.Errorf("field %q: nil file reference", f.Name)
			}
			v = f.File
		default:
			return nil, fmt.Errorf("field %q has unknown kind %s", f.Name, f.Kind)
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object, keeping the document's key order.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("payload must be a JSON object")
	}

	var fields Payload
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("payload key must be a string, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		f, err := decodeField(name, raw)
		if err != nil {
			return err
		}
		fields = append(fields, f)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = fields
	return nil
}

func decodeField(name string, raw json.RawMessage) (Field, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Field{}, fmt.Errorf("field %q: empty value", name)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		return StringField(name, s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		return BoolField(name, b), nil
	case '{':
		var ref FileRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		if ref.URI == "" {
			return Field{}, fmt.Errorf("field %q: file reference without uri", name)
		}
		return FileField(name, ref), nil
	case 'n':
		return Field{}, fmt.Errorf("field %q: null is not a valid value", name)
	default:
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return Field{}, fmt.Errorf("field %q: unsupported value %s", name, raw)
		}
		return NumberField(name, n), nil
	}
}
