package convert

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/bowtie/internal/schema"
)

// Counts tallies the coercions applied during conversion, keyed by kind.
type Counts map[string]int

// Add increments the named counter.
func (c Counts) Add(kind string) { c[kind]++ }

// Merge adds every counter of o into c.
func (c Counts) Merge(o Counts) {
	for k, v := range o {
		c[k] += v
	}
}

// synonyms maps legacy spellings to canonical enum values, per field.
var synonyms = map[string]map[string]string{
	"side": {
		"left": "prevention", "prevent": "prevention", "preventive": "prevention", "preventative": "prevention",
		"right": "mitigation", "mitigate": "mitigation", "mitigative": "mitigation", "recovery": "mitigation",
	},
	"line_of_defense": {
		"1": "1st", "first": "1st", "primary": "1st",
		"2": "2nd", "second": "2nd", "secondary": "2nd",
		"3": "3rd", "third": "3rd", "tertiary": "3rd",
		"4": "recovery",
	},
	"barrier_status": {
		"ok": "active", "effective": "active", "in_place": "active", "in place": "active",
		"installed": "active", "worked": "active", "working": "active",
		"partial": "degraded", "weak": "degraded", "impaired": "degraded",
		"broken": "failed", "ineffective": "failed", "did_not_work": "failed",
		"not installed": "not_installed", "missing": "not_installed", "absent": "not_installed",
		"bypass": "bypassed", "overridden": "bypassed", "inhibited": "bypassed",
		"none": "unknown", "na": "unknown", "n-a": "unknown", "n/a": "unknown",
	},
	"barrier_type": {
		"engineered": "engineering", "technical": "engineering", "hardware": "engineering",
		"procedural": "administrative", "organizational": "administrative", "organisational": "administrative",
		"personal protective equipment": "ppe", "personal_protective_equipment": "ppe",
	},
	"confidence": {
		"h": "high", "strong": "high",
		"m": "medium", "moderate": "medium", "med": "medium",
		"l": "low", "weak": "low",
	},
}

// coerceObject repairs the direct fields of obj in place so they have the
// declared kinds and enum values.
func coerceObject(fields []schema.Field, obj map[string]any, counts Counts) {
	for _, f := range fields {
		v, present := obj[f.Name]
		if !present || v == nil {
			continue
		}
		switch f.Kind {
		case schema.KindString:
			coerceString(f, obj, v, counts)
		case schema.KindBool:
			if _, ok := v.(bool); !ok {
				obj[f.Name] = truthy(v)
				counts.Add(f.Name + "_to_bool")
			}
		case schema.KindObject:
			if _, ok := v.(map[string]any); !ok {
				delete(obj, f.Name)
				counts.Add(f.Name + "_dropped")
			}
		case schema.KindArray:
			if f.Elem == schema.KindObject {
				obj[f.Name] = objectList(v, f, counts)
			} else {
				coerceStringList(f, obj, v, counts)
			}
		}
	}
	coercePairs(fields, obj, counts)
}

func coerceString(f schema.Field, obj map[string]any, v any, counts Counts) {
	s, isStr := v.(string)
	if !isStr {
		if m, ok := v.(map[string]any); ok && len(m) == 0 && f.Nullable {
			obj[f.Name] = nil
			counts.Add(f.Name + "_empty_object_to_null")
			return
		}
		s = stringify(v)
		counts.Add(f.Name + "_to_str")
	}
	switch {
	case len(f.Enum) > 0:
		canon, ok := canonicalEnum(f, s)
		switch {
		case !ok:
			counts.Add(f.Name + "_unmapped")
		case canon != s:
			counts.Add(f.Name + "_mapped")
		}
		s = canon
	case f.Name == "operating_phase":
		s = strings.ToLower(strings.TrimSpace(s))
	case f.Required && f.IDPrefix == "" && strings.TrimSpace(s) == "" && f.Default != nil:
		s = fmt.Sprint(f.Default)
		counts.Add(f.Name + "_empty_to_default")
	case f.Name == "incident_type" && strings.TrimSpace(s) == "":
		s = schema.Unknown
		counts.Add(f.Name + "_empty_to_unknown")
	}
	obj[f.Name] = s
}

// canonicalEnum maps s onto the field's enum. Unmappable values become
// "unknown" when the enum has it, otherwise the field default; ok is false
// in that case.
func canonicalEnum(f schema.Field, s string) (string, bool) {
	if f.Allows(s) {
		return s, true
	}
	norm := strings.ToLower(strings.TrimSpace(s))
	if f.Allows(norm) {
		return norm, true
	}
	if canon, ok := synonyms[f.Name][norm]; ok {
		return canon, true
	}
	if canon, ok := synonyms[f.Name][strings.ReplaceAll(norm, "_", " ")]; ok {
		return canon, true
	}
	if f.Allows(schema.Unknown) {
		return schema.Unknown, false
	}
	return fmt.Sprint(f.Default), false
}

func coerceStringList(f schema.Field, obj map[string]any, v any, counts Counts) {
	switch x := v.(type) {
	case []any:
		out := make([]any, 0, len(x))
		changed := false
		for _, item := range x {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case nil:
				changed = true
			default:
				out = append(out, stringify(it))
				changed = true
			}
		}
		if changed {
			counts.Add(f.Name + "_items_to_str")
		}
		obj[f.Name] = out
	case string:
		if x == "" {
			obj[f.Name] = []any{}
		} else {
			obj[f.Name] = []any{x}
		}
		counts.Add(f.Name + "_str_to_list")
	case map[string]any:
		out := []any{}
		for _, k := range sortedKeys(x) {
			if x[k] == nil {
				continue
			}
			if s := stringify(x[k]); strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		obj[f.Name] = out
		counts.Add(f.Name + "_object_to_list")
	default:
		obj[f.Name] = []any{stringify(x)}
		counts.Add(f.Name + "_to_list")
	}
}

// objectList normalizes an array-of-objects field. A single object is
// wrapped and bare strings become {"name": s}.
func objectList(v any, f schema.Field, counts Counts) []any {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case map[string]any:
		items = []any{x}
		counts.Add(f.Name + "_object_to_list")
	case string:
		items = []any{x}
	default:
		counts.Add(f.Name + "_dropped")
		return []any{}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case map[string]any:
			out = append(out, it)
		case string:
			out = append(out, map[string]any{"name": it})
			counts.Add(f.Name + "_str_to_object")
		default:
			counts.Add(f.Name + "_item_dropped")
		}
	}
	return out
}

// coercePairs enforces mentioned=false => value=null. A value given without
// any mentioned flag marks the field as mentioned.
func coercePairs(fields []schema.Field, obj map[string]any, counts Counts) {
	for _, p := range schema.Pairs(fields) {
		value := obj[p.Value]
		m, hasFlag := obj[p.Mentioned]
		if !hasFlag || m == nil {
			if value != nil {
				obj[p.Mentioned] = true
				counts.Add("mentioned_inferred")
			}
			continue
		}
		if mentioned, _ := m.(bool); !mentioned && value != nil {
			obj[p.Value] = nil
			counts.Add("value_cleared_not_mentioned")
		}
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err == nil {
			return b
		}
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "y":
			return true
		}
		return false
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return false
}

// stringify renders a non-string JSON value as text: lists are joined with
// "; " (a single element is used as is), objects are encoded as JSON.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if item != nil {
				parts = append(parts, stringify(item))
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
