package report

import (
	"bytes"
	"fmt"
	"text/template"
)

type markdownRenderer struct{}

var mdTemplate = template.Must(template.New("report").Parse(`# {{ .Command }} report

**Checked:** {{ .Summary.Checked }} | **Passed:** {{ .Summary.Passed }} | **Failed:** {{ .Summary.Failed }} | **Skipped:** {{ .Summary.Skipped }} | **Warned:** {{ .Summary.Warned }}
**Input:** {{ .Input.Dir }}{{ if .Input.OutDir }} → {{ .Input.OutDir }}{{ end }}{{ if .Input.CorpusID }}
**Corpus:** {{ .Input.CorpusID }}{{ end }}
{{ if .Failures }}
---

## Failures
{{ range .Failures }}
### {{ .File }}
{{ range .Reasons }}
- **{{ .Kind }}**{{ if .Path }} ` + "`{{ .Path }}`" + `{{ end }}: {{ .Message }}{{ end }}
{{ end }}{{ end }}{{ if .Warnings }}
---

## Warnings
{{ range .Warnings }}
### {{ .File }}
{{ range .Reasons }}
- **{{ .Kind }}**{{ if .Path }} ` + "`{{ .Path }}`" + `{{ end }}: {{ .Message }}{{ end }}
{{ end }}{{ end }}{{ if .Coercions }}
---

## Coercions
{{ range $k, $v := .Coercions }}
- {{ $k }}: {{ $v }}{{ end }}
{{ end }}{{ with .Metrics }}
---

## Metrics

| metric | value |
|---|---|
| files | {{ .Files }} |
| parse failures | {{ .ParseFailures }} |
| files with zero controls | {{ .NoControlsFiles }} ({{ printf "%.3f" .NoControlsRatio }}) |
| controls | {{ .Controls }} |
| controls missing evidence | {{ .ControlsMissingEvidence }} (completeness {{ printf "%.3f" .EvidenceCompleteness }}) |
| mentioned without value | {{ .MentionedMissingValue }}/{{ .MentionedFields }} ({{ printf "%.3f" .MentionedMissingValueRatio }}) |
| unknown enum values | {{ .UnknownEnums }}/{{ .EnumFields }} ({{ printf "%.3f" .UnknownEnumRatio }}) |
{{ range $k, $v := .ConfidenceDistribution }}| confidence {{ $k }} | {{ $v }} |
{{ end }}{{ end }}{{ with .Baseline }}
---

## Baseline

**Controls:** {{ .TotalControls }} | **Incidents:** {{ .TotalIncidents }}

| barrier status | count | share |
|---|---|---|
{{ range $k, $v := .StatusDistribution }}| {{ $k }} | {{ $v.Count }} | {{ printf "%.4f" $v.Pct }} |
{{ end }}
| group | value | failed | total | rate |
|---|---|---|---|---|
{{ range $k, $v := .FailureByBarrierType }}| barrier_type | {{ $k }} | {{ $v.Failed }} | {{ $v.Total }} | {{ printf "%.4f" $v.Rate }} |
{{ end }}{{ range $k, $v := .FailureBySide }}| side | {{ $k }} | {{ $v.Failed }} | {{ $v.Total }} | {{ printf "%.4f" $v.Rate }} |
{{ end }}{{ range $k, $v := .FailureByLineOfDef }}| line_of_defense | {{ $k }} | {{ $v.Failed }} | {{ $v.Total }} | {{ printf "%.4f" $v.Rate }} |
{{ end }}
Human contribution recorded on {{ .Human.Mentioned }} control(s) ({{ printf "%.4f" .Human.MentionedPct }}); {{ .Human.FailedHuman }} failed through it ({{ printf "%.4f" .Human.FailedHumanPct }}).
{{ end }}{{ with .Gate }}
---

## Gate: {{ .Verdict }} (profile {{ .Profile }})
{{ range .Breaches }}
- **{{ .Metric }}**: {{ .Message }}{{ end }}
{{ end }}{{ if .Outputs }}
---

## Outputs
{{ range .Outputs }}
- {{ . }}{{ end }}
{{ end }}
---
*{{ .Tool }} {{ .Version }}*
`))

func (r *markdownRenderer) Render(rep *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, rep); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}
