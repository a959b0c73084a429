package convert

import (
	"fmt"

	"github.com/dshills/bowtie/internal/schema"
)

// renumber assigns IDs to one bowtie entity list. When every entry already
// carries a well-formed ID and no two collide, the list is left alone.
// Otherwise every entry is renumbered from 001 in list order and the old to
// new mapping is returned; an old ID shared by several entries maps to the
// first of them.
func renumber(items []any, f schema.Field, counts Counts) map[string]string {
	idField := f.Fields[0]
	re := idField.IDPattern()
	seen := map[string]bool{}
	ok := true
	for _, item := range items {
		id, _ := item.(map[string]any)[idField.Name].(string)
		if !re.MatchString(id) || seen[id] {
			ok = false
			break
		}
		seen[id] = true
	}
	if ok {
		return nil
	}

	mapping := map[string]string{}
	for i, item := range items {
		m := item.(map[string]any)
		next := fmt.Sprintf("%s%03d", idField.IDPrefix, i+1)
		if old, isStr := m[idField.Name].(string); isStr && old != "" {
			if _, dup := mapping[old]; !dup {
				mapping[old] = next
			}
		}
		m[idField.Name] = next
	}
	counts.Add(f.Name + "_renumbered")
	return mapping
}

// assignIDs renumbers every bowtie list as needed and rewrites control links
// through the threat and consequence mappings. Links are de-duplicated
// keeping first occurrence.
func assignIDs(bowtieField schema.Field, bt map[string]any, counts Counts) {
	maps := map[string]map[string]string{}
	for _, f := range bowtieField.Fields {
		items, _ := bt[f.Name].([]any)
		if len(items) == 0 || f.Elem != schema.KindObject || f.Fields[0].IDPrefix == "" {
			continue
		}
		maps[f.Name] = renumber(items, f, counts)
	}

	controls, _ := bt["controls"].([]any)
	for _, c := range controls {
		ctl := c.(map[string]any)
		relink(ctl, "linked_threat_ids", maps["threats"], counts)
		relink(ctl, "linked_consequence_ids", maps["consequences"], counts)
	}
}

func relink(ctl map[string]any, key string, mapping map[string]string, counts Counts) {
	links, ok := ctl[key].([]any)
	if !ok {
		return
	}
	out := make([]any, 0, len(links))
	seen := map[string]bool{}
	for _, l := range links {
		id, _ := l.(string)
		if next, ok := mapping[id]; ok && next != id {
			id = next
			counts.Add(key + "_remapped")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	ctl[key] = out
}
