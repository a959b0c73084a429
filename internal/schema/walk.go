package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Visitor receives callbacks while a document is walked against a Schema.
// Either callback may be nil.
type Visitor struct {
	// Field is called for every declared field of every object reached,
	// whether or not the key is present.
	Field func(path string, f Field, v any, present bool)
	// Object is called once per object reached, with its declared fields.
	Object func(path string, fields []Field, obj map[string]any)
}

// Walk visits doc against the schema description. Objects and arrays of
// objects are only descended into when the value has the declared type.
func (s Schema) Walk(doc map[string]any, v Visitor) {
	walkObject("", s.Fields, doc, v)
}

func walkObject(path string, fields []Field, obj map[string]any, v Visitor) {
	if v.Object != nil {
		v.Object(path, fields, obj)
	}
	for _, f := range fields {
		val, present := obj[f.Name]
		p := join(path, f.Name)
		if v.Field != nil {
			v.Field(p, f, val, present)
		}
		if !present || val == nil {
			continue
		}
		switch f.Kind {
		case KindObject:
			if child, ok := val.(map[string]any); ok {
				walkObject(p, f.Fields, child, v)
			}
		case KindArray:
			if f.Elem != KindObject {
				continue
			}
			items, ok := val.([]any)
			if !ok {
				continue
			}
			for i, item := range items {
				if child, ok := item.(map[string]any); ok {
					walkObject(fmt.Sprintf("%s[%d]", p, i), f.Fields, child, v)
				}
			}
		}
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// KindOf returns the schema kind of a decoded JSON value and whether it is
// null. Numbers report an empty kind.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case nil:
		return "", true
	case string:
		return KindString, false
	case bool:
		return KindBool, false
	case map[string]any:
		return KindObject, false
	case []any:
		return KindArray, false
	}
	return "", false
}

// ApplyDefaults fills every absent optional key of doc with its declared
// default and replaces null in non-nullable scalar fields with the default.
// Objects are created as needed; existing values of the wrong type are left
// for the caller to coerce or reject.
func (s Schema) ApplyDefaults(doc map[string]any) {
	applyDefaults(s.Fields, doc)
}

func applyDefaults(fields []Field, obj map[string]any) {
	for _, f := range fields {
		val, present := obj[f.Name]
		switch f.Kind {
		case KindObject:
			child, ok := val.(map[string]any)
			if !ok {
				if present && val != nil {
					continue
				}
				child = map[string]any{}
				obj[f.Name] = child
			}
			applyDefaults(f.Fields, child)
		case KindArray:
			items, ok := val.([]any)
			if !ok {
				if present && val != nil {
					continue
				}
				items = []any{}
				obj[f.Name] = items
			}
			if f.Elem == KindObject {
				for _, item := range items {
					if child, ok := item.(map[string]any); ok {
						applyDefaults(f.Fields, child)
					}
				}
			}
		default:
			if f.IDPrefix != "" || f.Default == nil && f.Required {
				continue
			}
			if !present || (val == nil && !f.Nullable) {
				obj[f.Name] = f.Default
			}
		}
	}
}

// Template renders the documented default-value template for the schema as
// indented JSON. Arrays of objects carry one example element whose IDs use
// the first number of their scheme.
func (s Schema) Template() string {
	var sb strings.Builder
	writeTemplate(&sb, s.Fields, "")
	sb.WriteString("\n")
	return sb.String()
}

func writeTemplate(sb *strings.Builder, fields []Field, indent string) {
	inner := indent + "  "
	sb.WriteString("{\n")
	for i, f := range fields {
		sb.WriteString(inner)
		sb.WriteString(quote(f.Name))
		sb.WriteString(": ")
		writeTemplateValue(sb, f, inner)
		if i < len(fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(indent)
	sb.WriteString("}")
}

func writeTemplateValue(sb *strings.Builder, f Field, indent string) {
	switch {
	case f.Kind == KindObject:
		writeTemplate(sb, f.Fields, indent)
	case f.Kind == KindArray && f.Elem == KindObject:
		sb.WriteString("[\n")
		sb.WriteString(indent + "  ")
		writeTemplate(sb, f.Fields, indent+"  ")
		sb.WriteString("\n")
		sb.WriteString(indent)
		sb.WriteString("]")
	case f.Kind == KindArray:
		sb.WriteString("[]")
	case f.IDPrefix != "":
		sb.WriteString(quote(f.IDPrefix + "001"))
	case f.Name == "incident_id":
		sb.WriteString(quote(""))
	case f.Kind == KindBool:
		sb.WriteString("false")
	case f.Default == nil:
		sb.WriteString("null")
	case len(f.Enum) > 0:
		sb.WriteString(quote(strings.Join(f.Enum, "|")))
	default:
		sb.WriteString(quote(fmt.Sprint(f.Default)))
	}
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
