package convert

import (
	"fmt"

	"github.com/dshills/bowtie/internal/schema"
)

// v1Keys mark a flat pre-bowtie record.
var v1Keys = []string{"causes", "hazard", "prevention_barriers", "mitigation_barriers"}

func isV1(doc map[string]any) bool {
	if _, ok := doc["bowtie"]; ok {
		return false
	}
	for _, k := range v1Keys {
		if _, ok := doc[k]; ok {
			return true
		}
	}
	if items, ok := doc["consequences"].([]any); ok {
		for _, item := range items {
			if _, isStr := item.(string); isStr {
				return true
			}
		}
	}
	return false
}

// liftV1 rewrites a flat record into the sectioned shape. Bowtie entries get
// sequential IDs; barriers carry their side but no links, since the flat
// format never recorded which cause a barrier guards.
func liftV1(doc map[string]any, counts Counts) map[string]any {
	out := map[string]any{"incident_id": doc["incident_id"]}

	source := map[string]any{}
	switch v := doc["source"].(type) {
	case string:
		source["title"] = v
	case map[string]any:
		source = v
	}
	moveKey(doc, "date", source, "date_occurred")
	out["source"] = source

	context := map[string]any{}
	moveKey(doc, "location", context, "region")
	moveKey(doc, "facility_type", context, "operating_phase")
	out["context"] = context

	event := map[string]any{}
	moveKey(doc, "top_event", event, "top_event")
	moveKey(doc, "incident_type", event, "incident_type")
	moveKey(doc, "description", event, "summary")
	out["event"] = event

	severity := doc["severity"]
	bowtie := map[string]any{
		"hazards":      named(doc["hazard"], "hazard_id", "H-", nil),
		"threats":      named(doc["causes"], "threat_id", "T-", nil),
		"consequences": named(doc["consequences"], "consequence_id", "CON-", severity),
	}
	controls := named(doc["prevention_barriers"], "control_id", "C-", nil)
	for _, c := range controls {
		c.(map[string]any)["side"] = string(schema.SidePrevention)
	}
	for _, c := range named(doc["mitigation_barriers"], "control_id", "C-", nil) {
		m := c.(map[string]any)
		m["side"] = string(schema.SideMitigation)
		m["control_id"] = fmt.Sprintf("C-%03d", len(controls)+1)
		controls = append(controls, m)
	}
	bowtie["controls"] = controls
	out["bowtie"] = bowtie

	counts.Add("v1_record_lifted")
	return out
}

// named turns a string or list of strings into entity objects with
// sequential IDs.
func named(v any, idKey, prefix string, severity any) []any {
	var names []string
	switch x := v.(type) {
	case string:
		if x != "" {
			names = []string{x}
		}
	case []any:
		for _, item := range x {
			if s, ok := item.(string); ok && s != "" {
				names = append(names, s)
			}
		}
	}
	out := make([]any, 0, len(names))
	for i, n := range names {
		item := map[string]any{idKey: fmt.Sprintf("%s%03d", prefix, i+1), "name": n}
		if severity != nil {
			item["severity"] = severity
		}
		out = append(out, item)
	}
	return out
}

func moveKey(from map[string]any, key string, to map[string]any, as string) {
	if v, ok := from[key]; ok && v != nil {
		to[as] = v
	}
}

// remapKeys fixes key drift seen in model output: misplaced top-level
// controls, renamed event keys and generic "id" keys on bowtie entries.
func remapKeys(doc map[string]any, counts Counts) {
	if ctrls, ok := doc["controls"]; ok {
		bt, isObj := doc["bowtie"].(map[string]any)
		switch {
		case !isObj && doc["bowtie"] == nil:
			doc["bowtie"] = map[string]any{"controls": ctrls}
			delete(doc, "controls")
			counts.Add("controls_moved_to_bowtie")
		case isObj && empty(bt["controls"]):
			bt["controls"] = ctrls
			delete(doc, "controls")
			counts.Add("controls_moved_to_bowtie")
		}
	}

	if event, ok := doc["event"].(map[string]any); ok {
		rename(event, "type", "top_event", counts)
		rename(event, "description", "summary", counts)
		rename(event, "category", "incident_type", counts)
	}

	bt, ok := doc["bowtie"].(map[string]any)
	if !ok {
		return
	}
	for list, idKey := range map[string]string{
		"hazards":      "hazard_id",
		"threats":      "threat_id",
		"consequences": "consequence_id",
		"controls":     "control_id",
	} {
		items, _ := bt[list].([]any)
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				if _, has := m["id"]; has {
					if _, typed := m[idKey]; !typed {
						m[idKey] = m["id"]
						delete(m, "id")
						counts.Add(idKey + "_remapped")
					}
				}
			}
		}
	}
}

func rename(m map[string]any, from, to string, counts Counts) {
	v, ok := m[from]
	if !ok {
		return
	}
	if _, exists := m[to]; exists {
		return
	}
	m[to] = v
	delete(m, from)
	counts.Add("event_" + from + "_renamed")
}

func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	}
	return false
}
