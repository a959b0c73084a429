package llm

import (
	"fmt"
	"strings"
)

// Placeholders substituted by BuildPrompt.
const (
	SchemaPlaceholder = "{{SCHEMA_TEMPLATE}}"
	TextPlaceholder   = "{{INCIDENT_TEXT}}"
)

// SystemPrompt is sent with every extraction request.
const SystemPrompt = `You are a process safety analyst. You read oil and gas incident reports and
record them as bowtie risk diagrams in a fixed JSON schema.

Output rules:
- Return JSON only: no prose, no markdown fences, no explanation
- The JSON must match the provided template exactly; do not add or drop keys
- Use null for unknown values and "unknown" where an enum allows it`

// DefaultTemplate is the extraction prompt. It must contain both
// placeholders.
const DefaultTemplate = `Extract one incident record from the report below.

Bowtie rules:
- hazards, threats and consequences get IDs H-001, T-001, CON-001 and so on, numbered in order
- every control gets an ID C-001, C-002 and so on
- a prevention control links threats through linked_threat_ids and leaves linked_consequence_ids empty
- a mitigation control links consequences through linked_consequence_ids and leaves linked_threat_ids empty
- side is prevention or mitigation
- barrier_type is engineering, administrative, ppe or unknown
- line_of_defense is 1st, 2nd, 3rd, recovery or unknown
- barrier_status is active, degraded, failed, bypassed, not_installed or unknown
- confidence is high, medium or low

Evidence rules:
- every *_mentioned flag is true only when the report states it
- when a *_mentioned flag is true, the matching *_value quotes or paraphrases the report
- when a *_mentioned flag is false, the matching *_value is null
- *_applicable says whether the mechanism applies to the control at all; it does not depend on *_mentioned
- evidence.supporting_text holds short quotes from the report supporting the control

Template:
{{SCHEMA_TEMPLATE}}

Report:
<incident>
{{INCIDENT_TEXT}}
</incident>`

// ValidateTemplate reports a template missing either placeholder.
func ValidateTemplate(tmpl string) error {
	for _, p := range []string{SchemaPlaceholder, TextPlaceholder} {
		if !strings.Contains(tmpl, p) {
			return fmt.Errorf("prompt template is missing %s", p)
		}
	}
	return nil
}

// BuildPrompt fills the template with the schema template and the incident
// narrative. The narrative is substituted last so text that happens to
// contain a placeholder is left as is.
func BuildPrompt(tmpl, schemaTemplate, text string) string {
	out := strings.Replace(tmpl, SchemaPlaceholder, strings.TrimSpace(schemaTemplate), 1)
	return strings.Replace(out, TextPlaceholder, text, 1)
}

// RepairPrompt appends a correction request to the original prompt. Only a
// fixed error category is added; the rejected model output is never echoed
// back into the prompt.
func RepairPrompt(prompt string, parseErr error) string {
	return prompt + fmt.Sprintf(
		"\n\nYour previous response was not a single valid JSON object (error category: %q). Return only the JSON record matching the template above.",
		errorCategory(parseErr),
	)
}

// errorCategory classifies a parse error into a fixed category string
// without echoing any model-generated content.
func errorCategory(err error) string {
	if err == nil {
		return "invalid JSON"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "trailing data"):
		return "more than one JSON value"
	case strings.Contains(msg, "not an object"):
		return "top-level value is not an object"
	case strings.Contains(msg, "unexpected end"):
		return "truncated JSON"
	default:
		return "JSON syntax error"
	}
}
