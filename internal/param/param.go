// Package param coerces raw application arguments into typed values.
package param

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedParameterType is returned for a type tag outside the closed
// set below.
var ErrUnsupportedParameterType = errors.New("unsupported parameter type")

// Type is a parameter type tag.
type Type int

// Parameter type tags.
const (
	TypeString Type = iota + 1
	TypeDouble
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeFile
	TypeURI
	TypeStringArray
	TypeDoubleArray
	TypeIntegerArray
	TypeFloatArray
	TypeBooleanArray
	TypeFileArray
	TypeURIArray
)

var typeNames = map[Type]string{
	TypeString:       "String",
	TypeDouble:       "Double",
	TypeInteger:      "Integer",
	TypeFloat:        "Float",
	TypeBoolean:      "Boolean",
	TypeFile:         "File",
	TypeURI:          "URI",
	TypeStringArray:  "StringArray",
	TypeDoubleArray:  "DoubleArray",
	TypeIntegerArray: "IntegerArray",
	TypeFloatArray:   "FloatArray",
	TypeBooleanArray: "BooleanArray",
	TypeFileArray:    "FileArray",
	TypeURIArray:     "URIArray",
}

// elementDelimiter separates elements of an array value given as text.
const elementDelimiter = ','

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// IsArray reports whether t is one of the array tags.
func (t Type) IsArray() bool {
	return t >= TypeStringArray && t <= TypeURIArray
}

// Elem returns the scalar tag of an array tag, or t itself for scalars.
func (t Type) Elem() Type {
	if t.IsArray() {
		return t - (TypeStringArray - TypeString)
	}
	return t
}

// ParseType maps an external type name such as "Integer" or "URIArray" to
// its tag. Matching ignores case.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedParameterType, name)
}

// Spec declares a named, typed parameter.
type Spec struct {
	Name string
	Type Type
}

// Source is the raw form of an argument. Text holds the element text; Values
// holds child value entries, consulted only when Text is empty.
type Source struct {
	Text   string
	Values []string
}

// Text returns a Source for a plain string argument.
func Text(s string) Source {
	return Source{Text: s}
}

// Value is a coerced parameter. Scalar holds a string, float64, int64,
// float32 or bool depending on the element type; Items holds the elements of
// an array. Set is false when the raw text was empty and the type has no
// empty default.
type Value struct {
	Type   Type
	Set    bool
	Scalar any
	Items  []any
}

// String renders the value as text. Array elements are joined with the
// element delimiter and quoted when they contain it.
func (v Value) String() string {
	if !v.Set {
		return ""
	}
	if !v.Type.IsArray() {
		return formatScalar(v.Scalar)
	}

	fields := make([]string, len(v.Items))
	for i, item := range v.Items {
		fields[i] = formatScalar(item)
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = elementDelimiter
	_ = w.Write(fields)
	w.Flush()
	return strings.TrimRight(b.String(), "\r\n")
}

// Coerce converts src into a typed value for spec.
//
// An empty source yields "" for String and URI and an unset value for every
// other type. Text that does not parse as the declared type is an error.
func Coerce(spec Spec, src Source) (Value, error) {
	if _, ok := typeNames[spec.Type]; !ok {
		return Value{}, fmt.Errorf("parameter %q: %w: %v", spec.Name, ErrUnsupportedParameterType, spec.Type)
	}

	if spec.Type.IsArray() {
		return coerceArray(spec, src)
	}

	v := Value{Type: spec.Type}
	text := src.Text
	if text == "" && len(src.Values) > 0 {
		text = src.Values[0]
	}
	if text == "" {
		if spec.Type == TypeString || spec.Type == TypeURI {
			v.Scalar = ""
			v.Set = true
		}
		return v, nil
	}

	x, err := parseScalar(spec.Type, text)
	if err != nil {
		return Value{}, fmt.Errorf("parameter %q: %w", spec.Name, err)
	}
	v.Scalar = x
	v.Set = true
	return v, nil
}

// CoerceString converts a plain string argument.
func CoerceString(spec Spec, raw string) (Value, error) {
	return Coerce(spec, Text(raw))
}

func coerceArray(spec Spec, src Source) (Value, error) {
	v := Value{Type: spec.Type}

	var elems []string
	if src.Text != "" {
		split, err := splitElements(src.Text)
		if err != nil {
			return Value{}, fmt.Errorf("parameter %q: split elements: %w", spec.Name, err)
		}
		elems = split
	} else {
		elems = src.Values
	}
	if len(elems) == 0 {
		return v, nil
	}

	elemType := spec.Type.Elem()
	v.Items = make([]any, 0, len(elems))
	for i, e := range elems {
		x, err := parseScalar(elemType, e)
		if err != nil {
			return Value{}, fmt.Errorf("parameter %q element %d: %w", spec.Name, i, err)
		}
		v.Items = append(v.Items, x)
	}
	v.Set = true
	return v, nil
}

// splitElements splits delimited text. Elements may be double-quoted to
// carry the delimiter; surrounding whitespace is dropped.
func splitElements(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = elementDelimiter
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

func parseScalar(t Type, s string) (any, error) {
	switch t {
	case TypeString, TypeFile, TypeURI:
		return s, nil
	case TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return f, nil
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return float32(f), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedParameterType, t)
	}
}

func formatScalar(x any) string {
	switch v := x.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
