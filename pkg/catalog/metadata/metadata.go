// Package metadata implements the closed set of scientific metadata shapes
// that can be attached to a product.
//
// Every shape is a Go struct registered under a discriminator string (the
// "metadata_type" field of the wire payload). The set of shapes is fixed at
// build time; payloads carrying an unknown discriminator are rejected by
// Validate and Parse, never deferred to rendering.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DiscriminatorField is the payload key selecting the metadata shape.
const DiscriminatorField = "metadata_type"

// Metadata is implemented by every registered metadata shape.
type Metadata interface {
	MetadataType() string
}

// Field is one rendered attribute of a metadata instance.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ErrInvalid is wrapped by every validation failure of this package.
var ErrInvalid = errors.New("invalid metadata")

// ValidationError describes why a payload was rejected.
type ValidationError struct {
	Type   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("metadata %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("metadata %q: field %s: %s", e.Type, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

type factory func() Metadata

var variants = map[string]factory{
	TypeSimple:        func() Metadata { return &Simple{} },
	TypeCatalog:       func() Metadata { return &Catalog{} },
	TypeMapSet:        func() Metadata { return &MapSet{} },
	TypeMap:           func() Metadata { return &Map{} },
	TypeBeam:          func() Metadata { return &Beam{} },
	TypeNumeric:       func() Metadata { return &Numeric{} },
	TypePowerSpectrum: func() Metadata { return &PowerSpectrum{} },
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Types returns the registered discriminators in sorted order.
func Types() []string {
	out := make([]string, 0, len(variants))
	for k := range variants {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Known reports whether discriminator names a registered shape.
func Known(discriminator string) bool {
	_, ok := variants[discriminator]
	return ok
}

// Parse validates a payload whose shape is selected by its own
// metadata_type field.
func Parse(payload []byte) (Metadata, error) {
	fields, err := splitPayload(payload)
	if err != nil {
		return nil, err
	}
	raw, ok := fields[DiscriminatorField]
	if !ok {
		return nil, &ValidationError{Field: DiscriminatorField, Reason: "missing discriminator"}
	}
	var discriminator string
	if err := json.Unmarshal(raw, &discriminator); err != nil {
		return nil, &ValidationError{Field: DiscriminatorField, Reason: "discriminator must be a string"}
	}
	return decode(discriminator, fields)
}

// Validate checks payload against the shape named by discriminator and
// returns the typed instance. A payload that carries its own metadata_type
// must agree with discriminator.
func Validate(discriminator string, payload []byte) (Metadata, error) {
	fields, err := splitPayload(payload)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Type = discriminator
		}
		return nil, err
	}
	if raw, ok := fields[DiscriminatorField]; ok {
		var embedded string
		if err := json.Unmarshal(raw, &embedded); err != nil || embedded != discriminator {
			return nil, &ValidationError{
				Type:   discriminator,
				Field:  DiscriminatorField,
				Reason: fmt.Sprintf("payload discriminator %s does not match", string(raw)),
			}
		}
	}
	return decode(discriminator, fields)
}

// Check runs the shape rules against an already typed instance.
func Check(m Metadata) error {
	if m == nil {
		return nil
	}
	if !Known(m.MetadataType()) {
		return &ValidationError{Type: m.MetadataType(), Reason: "unknown metadata type"}
	}
	return structErrors(m.MetadataType(), validate.Struct(m))
}

// Marshal encodes m with its discriminator included.
func Marshal(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(m.MetadataType())
	fields[DiscriminatorField] = tag
	return json.Marshal(fields)
}

// Render returns the display form of m in declaration order, excluding the
// discriminator and unset optional fields.
func Render(m Metadata) []Field {
	if m == nil {
		return nil
	}
	v := reflect.ValueOf(m)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	t := v.Type()
	out := make([]Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := strings.SplitN(sf.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" || name == DiscriminatorField {
			continue
		}
		fv := v.Field(i)
		if isUnset(fv) {
			continue
		}
		out = append(out, Field{Name: name, Value: display(fv)})
	}
	return out
}

func splitPayload(payload []byte) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, &ValidationError{Reason: "empty payload"}
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, &ValidationError{Reason: "payload is not a JSON object"}
	}
	return fields, nil
}

func decode(discriminator string, fields map[string]json.RawMessage) (Metadata, error) {
	newShape, ok := variants[discriminator]
	if !ok {
		return nil, &ValidationError{Type: discriminator, Field: DiscriminatorField, Reason: "unknown metadata type"}
	}
	delete(fields, DiscriminatorField)
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	m := newShape()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return nil, &ValidationError{Type: discriminator, Reason: err.Error()}
	}
	if err := structErrors(discriminator, validate.Struct(m)); err != nil {
		return nil, err
	}
	return m, nil
}

func structErrors(discriminator string, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := "failed " + fe.Tag()
		if fe.Tag() == "required" {
			reason = "is required"
		} else if fe.Param() != "" {
			reason = fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		return &ValidationError{Type: discriminator, Field: field, Reason: reason}
	}
	return &ValidationError{Type: discriminator, Reason: err.Error()}
}

func isUnset(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	}
	return false
}

func display(v reflect.Value) string {
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Map, reflect.Slice, reflect.Struct:
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprint(v.Interface())
		}
		return string(b)
	}
	return fmt.Sprint(v.Interface())
}
