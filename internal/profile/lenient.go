package profile

import "github.com/dshills/bowtie/internal/report"

func lenient() *Profile {
	return &Profile{
		Name:    "lenient",
		Summary: "first-pass extraction from scanned reports",
		Thresholds: report.Thresholds{
			MaxNoControlsRatio:            0.50,
			MaxMentionedMissingValueRatio: 0.50,
			MinEvidenceCompleteness:       0.50,
			MaxUnknownEnumRatio:           0.80,
			MaxParseFailures:              5,
		},
	}
}
