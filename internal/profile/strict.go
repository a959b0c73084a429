package profile

import "github.com/dshills/bowtie/internal/report"

// strict is meant for hand-curated gold sets.
func strict() *Profile {
	return &Profile{
		Name:    "strict",
		Summary: "hand-curated reference set",
		Thresholds: report.Thresholds{
			MaxNoControlsRatio:            0.05,
			MaxMentionedMissingValueRatio: 0.05,
			MinEvidenceCompleteness:       0.95,
			MaxUnknownEnumRatio:           0.25,
			MaxParseFailures:              0,
		},
		Strict: true,
	}
}
