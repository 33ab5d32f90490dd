package state

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrNotObject    = errors.New("state payload is not a JSON object")
	ErrEmptyField   = errors.New("partial state contains an empty field name")
	ErrUnknownField = errors.New("field is not part of the state")
	ErrMissingField = errors.New("state payload is missing a field")
)

// Partial holds a subset of a state's fields, keyed by their JSON names.
type Partial map[string]interface{}

// PartialFromJSON parses a JSON object into a Partial.
func PartialFromJSON(b []byte) (Partial, error) {
	if !gjson.ValidBytes(b) {
		return nil, errors.New("invalid JSON document")
	}
	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return nil, ErrNotObject
	}
	out := Partial{}
	doc.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = json.RawMessage(value.Raw)
		return true
	})
	return out, nil
}

// Fields returns the sorted field names carried by p.
func (p Partial) Fields() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
)

// apply sets every field of p at the top level of doc.
func (p Partial) apply(doc []byte) ([]byte, error) {
	if bytes.Equal(bytes.TrimSpace(doc), []byte("null")) {
		doc = []byte("{}")
	}
	if !gjson.ParseBytes(doc).IsObject() {
		return nil, ErrNotObject
	}
	for _, field := range p.Fields() {
		raw, err := json.Marshal(p[field])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode field %q", field)
		}
		doc, err = sjson.SetRawBytes(doc, pathEscaper.Replace(field), raw)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to set field %q", field)
		}
	}
	return doc, nil
}

// decode strictly decodes a JSON object into a fresh T: unknown fields,
// type mismatches and trailing data are all rejected.
func decode[T any](b []byte) (T, error) {
	var out T
	if !gjson.ValidBytes(b) {
		return out, errors.New("invalid JSON document")
	}
	if !gjson.ParseBytes(b).IsObject() {
		return out, ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	if dec.More() {
		return out, errors.New("trailing data after state object")
	}
	return out, nil
}

// shape lists the exact top-level JSON names of a state type.
type shape struct {
	// known is nil when any name is accepted, as for maps.
	known map[string]struct{}
	// required holds the fields every encoded value carries.
	required []string
}

func shapeOf[T any]() shape {
	var zero T
	out := shape{known: knownFields(reflect.TypeOf((*T)(nil)).Elem())}
	if doc, err := json.Marshal(zero); err == nil {
		if parsed := gjson.ParseBytes(doc); parsed.IsObject() {
			parsed.ForEach(func(key, _ gjson.Result) bool {
				out.required = append(out.required, key.String())
				return true
			})
		}
	}
	return out
}

func (s shape) check(field string) error {
	if field == "" {
		return ErrEmptyField
	}
	if s.known == nil {
		return nil
	}
	if _, ok := s.known[field]; !ok {
		return errors.Wrapf(ErrUnknownField, "%q", field)
	}
	return nil
}

// complete checks that doc, a JSON object, names only known fields with
// their exact spelling and carries every required one.
func (s shape) complete(doc []byte) error {
	var err error
	gjson.ParseBytes(doc).ForEach(func(key, _ gjson.Result) bool {
		err = s.check(key.String())
		return err == nil
	})
	if err != nil {
		return err
	}
	for _, field := range s.required {
		if !gjson.GetBytes(doc, pathEscaper.Replace(field)).Exists() {
			return errors.Wrapf(ErrMissingField, "%q", field)
		}
	}
	return nil
}

// knownFields returns the JSON names encoding/json gives the fields of t, or
// nil when t is not a struct.
func knownFields(t reflect.Type) map[string]struct{} {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	out := map[string]struct{}{}
	collectFields(t, out)
	return out
}

func collectFields(t reflect.Type, out map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, out)
				continue
			}
		}
		if f.PkgPath != "" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = struct{}{}
	}
}
