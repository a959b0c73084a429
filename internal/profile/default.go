package profile

import "github.com/dshills/bowtie/internal/report"

func defaults() *Profile {
	return &Profile{
		Name:    "default",
		Summary: "corpus fit for association mining",
		Thresholds: report.Thresholds{
			MaxNoControlsRatio:            0.20,
			MaxMentionedMissingValueRatio: 0.25,
			MinEvidenceCompleteness:       0.80,
			MaxUnknownEnumRatio:           0.50,
			MaxParseFailures:              0,
		},
	}
}
