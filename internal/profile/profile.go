// Package profile defines named quality-gate threshold presets.
package profile

import (
	"fmt"
	"strings"

	"github.com/dshills/bowtie/internal/report"
)

// Profile is a named set of quality thresholds.
type Profile struct {
	Name       string
	Summary    string
	Thresholds report.Thresholds
	// Strict makes soft schema findings blocking when the profile drives a
	// schema-check.
	Strict bool
}

// Names lists the built-in profiles.
var Names = []string{"default", "strict", "lenient"}

// Get returns the built-in profile for the given name.
func Get(name string) (*Profile, error) {
	switch name {
	case "default", "":
		return defaults(), nil
	case "strict":
		return strict(), nil
	case "lenient":
		return lenient(), nil
	default:
		return nil, fmt.Errorf("unknown profile %q: valid profiles are %s", name, strings.Join(Names, ", "))
	}
}

// Describe renders the thresholds one per line for terminal output.
func (p *Profile) Describe() string {
	t := p.Thresholds
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Profile: %s (%s)\n", p.Name, p.Summary))
	sb.WriteString(fmt.Sprintf("- max no-controls ratio: %.2f\n", t.MaxNoControlsRatio))
	sb.WriteString(fmt.Sprintf("- max mentioned-missing-value ratio: %.2f\n", t.MaxMentionedMissingValueRatio))
	sb.WriteString(fmt.Sprintf("- min evidence completeness: %.2f\n", t.MinEvidenceCompleteness))
	sb.WriteString(fmt.Sprintf("- max unknown-enum ratio: %.2f\n", t.MaxUnknownEnumRatio))
	sb.WriteString(fmt.Sprintf("- max parse failures: %d\n", t.MaxParseFailures))
	if p.Strict {
		sb.WriteString("- soft schema findings block\n")
	}
	return sb.String()
}
