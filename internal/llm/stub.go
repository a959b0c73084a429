package llm

import (
	"context"
	"encoding/json"

	"github.com/dshills/bowtie/internal/schema"
)

// stubProvider answers every request with the same small, valid v2.3
// record. It needs no network or API key.
type stubProvider struct{}

func (stubProvider) Complete(_ context.Context, _ *Request) (*Response, error) {
	doc := map[string]any{
		"incident_id": "STUB-001",
		"source": map[string]any{
			"doc_type": "investigation_report",
			"title":    "Stub Incident Report",
		},
		"context": map[string]any{
			"region":          "Gulf of Mexico",
			"operator":        "Stub Operator",
			"operating_phase": "production",
			"materials":       []any{"hydrocarbon"},
		},
		"event": map[string]any{
			"top_event":     "Loss of Containment",
			"incident_type": "gas_release",
			"actions_taken": []any{"Emergency shutdown activated"},
			"summary":       "Stub incident for testing purposes.",
			"key_phrases":   []any{"loss of containment", "gas release"},
		},
		"bowtie": map[string]any{
			"hazards":      []any{map[string]any{"hazard_id": "H-001", "name": "Hydrocarbon release"}},
			"threats":      []any{map[string]any{"threat_id": "T-001", "name": "Corrosion"}},
			"consequences": []any{map[string]any{"consequence_id": "CON-001", "name": "Fire", "severity": "major"}},
			"controls": []any{map[string]any{
				"control_id":        "C-001",
				"name":              "Gas detection system",
				"side":              "prevention",
				"barrier_role":      "detect",
				"barrier_type":      "engineering",
				"line_of_defense":   "1st",
				"linked_threat_ids": []any{"T-001"},
				"performance": map[string]any{
					"barrier_status":       "active",
					"detection_applicable": true,
					"detection_mentioned":  true,
					"detection_value":      "Gas detection system was operational",
				},
				"evidence": map[string]any{
					"supporting_text": []any{"Gas detection system was operational at time of incident"},
					"confidence":      "medium",
				},
			}},
		},
	}
	schema.V23.ApplyDefaults(doc)
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Response{Content: string(out), Model: "stub"}, nil
}
