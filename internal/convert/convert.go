// Package convert maps raw or legacy incident JSON onto the canonical
// Schema v2.3 record.
package convert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/bowtie/internal/schema"
)

// ErrMissingID is returned when a record has no usable incident_id.
var ErrMissingID = errors.New("incident_id is missing or empty")

// Normalize converts one decoded raw record into a v2.3 incident. doc is
// modified in place. The returned counts name every coercion applied.
func Normalize(doc map[string]any) (*schema.Incident, Counts, error) {
	counts := Counts{}
	if isV1(doc) {
		doc = liftV1(doc, counts)
	}
	remapKeys(doc, counts)

	id, err := incidentID(doc["incident_id"], counts)
	if err != nil {
		return nil, counts, err
	}
	doc["incident_id"] = id

	s := schema.V23
	s.Walk(doc, schema.Visitor{
		Object: func(_ string, fields []schema.Field, obj map[string]any) {
			isControl := declares(fields, "linked_threat_ids")
			rawSide := obj["side"]
			coerceObject(fields, obj, counts)
			if isControl {
				inferSide(fields, obj, rawSide, counts)
			}
		},
	})
	s.ApplyDefaults(doc)

	if bf, ok := s.Field("bowtie"); ok {
		assignIDs(bf, doc["bowtie"].(map[string]any), counts)
	}
	notes := doc["notes"].(map[string]any)
	if notes["schema_version"] != s.Version {
		notes["schema_version"] = s.Version
		counts.Add("schema_version_set")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, counts, fmt.Errorf("encoding normalized record: %w", err)
	}
	var inc schema.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, counts, fmt.Errorf("decoding normalized record: %w", err)
	}
	return &inc, counts, nil
}

func incidentID(v any, counts Counts) (string, error) {
	var id string
	switch x := v.(type) {
	case string:
		id = strings.TrimSpace(x)
	case float64:
		id = strconv.FormatFloat(x, 'f', -1, 64)
		counts.Add("incident_id_to_str")
	}
	if id == "" {
		return "", ErrMissingID
	}
	return id, nil
}

// inferSide places a control whose side was missing or unmappable on the
// mitigation side when it only links consequences.
func inferSide(fields []schema.Field, obj map[string]any, raw any, counts Counts) {
	f, _ := lookup(fields, "side")
	if raw != nil {
		if _, ok := canonicalEnum(f, stringify(raw)); ok {
			return
		}
	}
	threats, _ := obj["linked_threat_ids"].([]any)
	consequences, _ := obj["linked_consequence_ids"].([]any)
	if len(threats) == 0 && len(consequences) > 0 {
		obj["side"] = string(schema.SideMitigation)
		counts.Add("side_inferred_mitigation")
	}
}

func declares(fields []schema.Field, name string) bool {
	_, ok := lookup(fields, name)
	return ok
}

func lookup(fields []schema.Field, name string) (schema.Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return schema.Field{}, false
}

// Encode renders an incident as canonical indented JSON with a trailing
// newline.
func Encode(inc *schema.Incident) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(inc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// OutputName derives the output file name from an incident ID.
func OutputName(incidentID string) string {
	name := unsafeName.ReplaceAllString(incidentID, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "_"
	}
	return name + ".json"
}
