// Package report holds the structured output of every batch command and
// the renderers that format it.
package report

// Kind classifies a per-file finding or a run-level failure.
type Kind string

const (
	KindParseError             Kind = "ParseError"
	KindMissingSection         Kind = "MissingSection"
	KindMissingField           Kind = "MissingField"
	KindInvalidType            Kind = "InvalidType"
	KindInvalidEnum            Kind = "InvalidEnum"
	KindDuplicateOrMalformedID Kind = "DuplicateOrMalformedID"
	KindMentionedValueMismatch Kind = "MentionedValueMismatch"
	KindLinkConflict           Kind = "LinkConflict"
	KindOutputCollision        Kind = "OutputCollision"
	KindThresholdBreach        Kind = "ThresholdBreach"
	KindIOError                Kind = "IOError"
	KindExtractionFailed       Kind = "ExtractionFailed"
	KindTextRejected           Kind = "TextRejected"
)

// Soft reports whether findings of this kind are quality defects that only
// block under strict validation.
func (k Kind) Soft() bool {
	switch k {
	case KindMentionedValueMismatch, KindLinkConflict:
		return true
	}
	return false
}

// Reason is one finding against a file.
type Reason struct {
	Kind     Kind   `json:"kind"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// FileResult lists the findings for one input file.
type FileResult struct {
	File    string   `json:"file"`
	Output  string   `json:"output,omitempty"`
	Reasons []Reason `json:"reasons"`
}

// Blocking reports whether any reason blocks the file.
func (f FileResult) Blocking() bool {
	for _, r := range f.Reasons {
		if r.Blocking {
			return true
		}
	}
	return false
}

// Report is the top-level output of a batch command.
type Report struct {
	Tool      string         `json:"tool"`
	Version   string         `json:"version"`
	Command   string         `json:"command"`
	Input     Input          `json:"input"`
	Summary   Summary        `json:"summary"`
	Failures  []FileResult   `json:"failures"`
	Warnings  []FileResult   `json:"warnings"`
	Coercions map[string]int `json:"coercions,omitempty"`
	Metrics   *Metrics       `json:"metrics,omitempty"`
	Baseline  *Baseline      `json:"baseline,omitempty"`
	Gate      *Gate          `json:"gate,omitempty"`
	Outputs   []string       `json:"outputs,omitempty"`
}

// Input captures what the run read and where it wrote.
type Input struct {
	Dir      string `json:"dir"`
	OutDir   string `json:"out_dir,omitempty"`
	Strict   bool   `json:"strict"`
	CorpusID string `json:"corpus_id,omitempty"` // UUIDv5 over file keys and content hashes
	Files    int    `json:"files"`
}

// Summary holds per-file counts.
type Summary struct {
	Checked int `json:"checked"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Warned  int `json:"warned"`
}

// OK reports whether the run should exit successfully.
func (r *Report) OK() bool {
	if r.Summary.Failed > 0 {
		return false
	}
	return r.Gate == nil || r.Gate.Passed
}

// New returns an empty report for the named command. Tool and Version are
// stamped by the CLI.
func New(command string) *Report {
	return &Report{
		Command:  command,
		Failures: []FileResult{},
		Warnings: []FileResult{},
	}
}

// Metrics are corpus completeness measurements computed by the quality gate.
type Metrics struct {
	Files                      int            `json:"files"`
	ParseFailures              int            `json:"parse_failures"`
	NoControlsFiles            int            `json:"no_controls_files"`
	NoControlsRatio            float64        `json:"no_controls_ratio"`
	FilesWithSummary           int            `json:"files_with_summary"`
	Controls                   int            `json:"controls"`
	ControlsMissingEvidence    int            `json:"controls_missing_evidence"`
	MissingEvidenceRatio       float64        `json:"missing_evidence_ratio"`
	EvidenceCompleteness       float64        `json:"evidence_completeness"`
	MentionedFields            int            `json:"mentioned_fields"`
	MentionedMissingValue      int            `json:"mentioned_missing_value"`
	MentionedMissingValueRatio float64        `json:"mentioned_missing_value_ratio"`
	EnumFields                 int            `json:"enum_fields"`
	UnknownEnums               int            `json:"unknown_enums"`
	UnknownEnumRatio           float64        `json:"unknown_enum_ratio"`
	UnknownByField             map[string]int `json:"unknown_by_field"`
	ConfidenceDistribution     map[string]int `json:"confidence_distribution"`
}

// Baseline holds the per-control barrier statistics written by analyze.
type Baseline struct {
	TotalControls        int               `json:"total_controls"`
	TotalIncidents       int               `json:"total_incidents"`
	StatusDistribution   map[string]Share  `json:"barrier_status_distribution"`
	FailureByBarrierType map[string]Rate   `json:"failure_rate_by_barrier_type"`
	FailureBySide        map[string]Rate   `json:"failure_rate_by_side"`
	FailureByLineOfDef   map[string]Rate   `json:"failure_rate_by_line_of_defense"`
	Human                HumanContribution `json:"human_contribution"`
}

// Share is a count and its fraction of all controls.
type Share struct {
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// Rate is the failed fraction of a group of controls.
type Rate struct {
	Failed int     `json:"failed"`
	Total  int     `json:"total"`
	Rate   float64 `json:"rate"`
}

// HumanContribution counts controls with a recorded human contribution and
// those that failed because of it.
type HumanContribution struct {
	TotalControls  int     `json:"total_controls"`
	Mentioned      int     `json:"human_contribution_mentioned"`
	MentionedPct   float64 `json:"human_contribution_pct"`
	FailedHuman    int     `json:"barrier_failed_human_count"`
	FailedHumanPct float64 `json:"barrier_failed_human_pct"`
}

// Thresholds bound the quality metrics. A zero Max*/Min* value is a real
// bound, not "unset".
type Thresholds struct {
	MaxNoControlsRatio            float64 `json:"max_no_controls_ratio" yaml:"max_no_controls_ratio"`
	MaxMentionedMissingValueRatio float64 `json:"max_mentioned_missing_value_ratio" yaml:"max_mentioned_missing_value_ratio"`
	MinEvidenceCompleteness       float64 `json:"min_evidence_completeness" yaml:"min_evidence_completeness"`
	MaxUnknownEnumRatio           float64 `json:"max_unknown_enum_ratio" yaml:"max_unknown_enum_ratio"`
	MaxParseFailures              int     `json:"max_parse_failures" yaml:"max_parse_failures"`
}

// Verdict is the overall quality gate outcome.
type Verdict string

const (
	VerdictPass             Verdict = "PASS"
	VerdictPassWithWarnings Verdict = "PASS_WITH_WARNINGS"
	VerdictFail             Verdict = "FAIL"
)

// Breach is one threshold the corpus did not meet.
type Breach struct {
	Kind    Kind    `json:"kind"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

// Gate is the quality gate decision.
type Gate struct {
	Profile    string     `json:"profile"`
	Passed     bool       `json:"passed"`
	Verdict    Verdict    `json:"verdict"`
	Thresholds Thresholds `json:"thresholds"`
	Breaches   []Breach   `json:"breaches"`
}
