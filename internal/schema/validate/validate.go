// Package validate checks incident records against a schema description and
// runs the schema-check batch over a collection.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema"
)

// Parse decodes a single JSON object as returned by a model asked for
// "exactly one JSON object". A markdown code fence around the object is
// dropped first.
func Parse(raw string) (map[string]any, error) {
	body := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(body, "```"); ok {
		// The opening fence line may carry a language tag.
		if _, after, found := strings.Cut(rest, "\n"); found {
			body = after
		} else {
			body = rest
		}
		if b, ok := strings.CutSuffix(strings.TrimSpace(body), "```"); ok {
			body = b
		}
	}
	doc, err := Decode([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("JSON parse failed: %w", err)
	}
	return doc, nil
}

// Decode unmarshals data into a JSON object. A leading UTF-8 byte order mark
// is ignored. Anything other than exactly one object, optionally followed by
// whitespace, is an error.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// More reports false on a stray '}' or ']', so read again and insist on EOF.
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is not an object")
	}
	return doc, nil
}

var utf8BOM = []byte("\ufeff")

// File validates the raw bytes of one record. Invalid JSON yields a single
// ParseError.
func File(s schema.Schema, data []byte, strict bool) []report.Reason {
	doc, err := Decode(data)
	if err != nil {
		return []report.Reason{{
			Kind:     report.KindParseError,
			Message:  err.Error(),
			Blocking: true,
		}}
	}
	return Record(s, doc, strict)
}

// Record validates a decoded record. Reasons are returned in schema order.
// With strict set, soft findings block.
func Record(s schema.Schema, doc map[string]any, strict bool) []report.Reason {
	c := checker{strict: strict, seen: map[string]string{}}
	s.Walk(doc, schema.Visitor{Field: c.field, Object: c.object})
	c.checkLinks()
	return c.reasons
}

type control struct {
	path         string
	threats      []string
	consequences []string
}

type checker struct {
	strict   bool
	reasons  []report.Reason
	seen     map[string]string // id -> first path
	controls []control
}

func (c *checker) add(kind report.Kind, path, format string, args ...any) {
	c.reasons = append(c.reasons, report.Reason{
		Kind:     kind,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Blocking: !kind.Soft() || c.strict,
	})
}

func (c *checker) field(path string, f schema.Field, v any, present bool) {
	if !present {
		switch {
		case f.Section:
			c.add(report.KindMissingSection, path, "required section %q is missing", f.Name)
		case f.Required:
			c.add(report.KindMissingField, path, "required field %q is missing", f.Name)
		}
		return
	}

	kind, isNull := schema.KindOf(v)
	if isNull {
		if !f.Nullable {
			switch {
			case f.Section:
				c.add(report.KindMissingSection, path, "required section %q is null", f.Name)
			case f.Required:
				c.add(report.KindMissingField, path, "required field %q is null", f.Name)
			default:
				c.add(report.KindInvalidType, path, "%s must not be null", f.Name)
			}
		}
		return
	}
	if kind != f.Kind {
		c.add(report.KindInvalidType, path, "%s must be %s, got %s", f.Name, f.Kind, describe(v))
		return
	}

	switch f.Kind {
	case schema.KindArray:
		if f.Elem == schema.KindObject {
			return
		}
		for i, item := range v.([]any) {
			if k, _ := schema.KindOf(item); k != f.Elem {
				c.add(report.KindInvalidType, fmt.Sprintf("%s[%d]", path, i),
					"%s items must be %s, got %s", f.Name, f.Elem, describe(item))
			}
		}
	case schema.KindString:
		c.checkString(path, f, v.(string))
	}
}

func (c *checker) checkString(path string, f schema.Field, s string) {
	if f.Required && f.IDPrefix == "" && strings.TrimSpace(s) == "" {
		c.add(report.KindMissingField, path, "required field %q is empty", f.Name)
		return
	}
	if !f.Allows(s) {
		c.add(report.KindInvalidEnum, path, "%q is not one of %s", s, strings.Join(f.Enum, ", "))
		return
	}
	if re := f.IDPattern(); re != nil {
		if !re.MatchString(s) {
			c.add(report.KindDuplicateOrMalformedID, path, "id %q does not match %sNNN", s, f.IDPrefix)
			return
		}
		if first, dup := c.seen[s]; dup {
			c.add(report.KindDuplicateOrMalformedID, path, "id %q duplicates %s", s, first)
			return
		}
		c.seen[s] = path
	}
}

func (c *checker) object(path string, fields []schema.Field, obj map[string]any) {
	for _, p := range schema.Pairs(fields) {
		mentioned, _ := obj[p.Mentioned].(bool)
		value, hasValue := obj[p.Value]
		if _, isStr := value.(string); !isStr && value != nil {
			// wrong type is reported by field
			continue
		}
		switch {
		case !mentioned && hasValue && value != nil:
			// mentioned=false with a value is never acceptable
			c.reasons = append(c.reasons, report.Reason{
				Kind:     report.KindMentionedValueMismatch,
				Path:     join(path, p.Value),
				Message:  fmt.Sprintf("%s is false but %s is set", p.Mentioned, p.Value),
				Blocking: true,
			})
		case mentioned && value == nil:
			c.add(report.KindMentionedValueMismatch, join(path, p.Value),
				"%s is true but %s is null", p.Mentioned, p.Value)
		}
	}

	if !declares(fields, "linked_threat_ids") {
		return
	}
	ctl := control{
		path:         path,
		threats:      stringList(obj["linked_threat_ids"]),
		consequences: stringList(obj["linked_consequence_ids"]),
	}
	c.controls = append(c.controls, ctl)
	if len(ctl.threats) > 0 && len(ctl.consequences) > 0 {
		c.add(report.KindLinkConflict, path, "control links both threats and consequences")
		return
	}
	side, _ := obj["side"].(string)
	switch {
	case side == string(schema.SidePrevention) && len(ctl.consequences) > 0:
		c.add(report.KindLinkConflict, path, "prevention control links consequences")
	case side == string(schema.SideMitigation) && len(ctl.threats) > 0:
		c.add(report.KindLinkConflict, path, "mitigation control links threats")
	}
}

// checkLinks reports control links that name no threat or consequence in the
// record.
func (c *checker) checkLinks() {
	for _, ctl := range c.controls {
		for _, id := range ctl.threats {
			if !c.known(id, "T-") {
				c.add(report.KindLinkConflict, join(ctl.path, "linked_threat_ids"), "unknown threat %q", id)
			}
		}
		for _, id := range ctl.consequences {
			if !c.known(id, "CON-") {
				c.add(report.KindLinkConflict, join(ctl.path, "linked_consequence_ids"), "unknown consequence %q", id)
			}
		}
	}
}

func (c *checker) known(id, prefix string) bool {
	_, ok := c.seen[id]
	return ok && strings.HasPrefix(id, prefix)
}

func declares(fields []schema.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func describe(v any) string {
	switch v.(type) {
	case float64, json.Number:
		return "number"
	case nil:
		return "null"
	}
	k, _ := schema.KindOf(v)
	return string(k)
}
