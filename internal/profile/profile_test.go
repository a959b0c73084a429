package profile

import (
	"strings"
	"testing"
)

func TestGet_AllNamedProfiles(t *testing.T) {
	for _, name := range Names {
		t.Run(name, func(t *testing.T) {
			p, err := Get(name)
			if err != nil {
				t.Fatalf("Get(%q): %v", name, err)
			}
			if p.Name != name {
				t.Errorf("Name = %q, want %q", p.Name, name)
			}
			th := p.Thresholds
			if th.MinEvidenceCompleteness <= 0 || th.MinEvidenceCompleteness > 1 {
				t.Errorf("min evidence completeness out of range: %v", th.MinEvidenceCompleteness)
			}
		})
	}
}

func TestGet_EmptyNameReturnsDefault(t *testing.T) {
	p, err := Get("")
	if err != nil {
		t.Fatalf("Get(''): %v", err)
	}
	if p.Name != "default" {
		t.Errorf("expected default, got %q", p.Name)
	}
}

func TestGet_UnknownName(t *testing.T) {
	_, err := Get("paranoid")
	if err == nil {
		t.Error("expected error for unknown profile, got nil")
	}
}

func TestGet_StrictTighterThanLenient(t *testing.T) {
	s, _ := Get("strict")
	l, _ := Get("lenient")
	if s.Thresholds.MaxNoControlsRatio >= l.Thresholds.MaxNoControlsRatio {
		t.Error("strict no-controls ratio should be tighter than lenient")
	}
	if s.Thresholds.MinEvidenceCompleteness <= l.Thresholds.MinEvidenceCompleteness {
		t.Error("strict evidence completeness should be tighter than lenient")
	}
	if !s.Strict || l.Strict {
		t.Error("only the strict profile should make soft findings block")
	}
}

func TestDescribe_ListsThresholds(t *testing.T) {
	p, _ := Get("strict")
	out := p.Describe()
	for _, want := range []string{"Profile: strict", "max no-controls ratio: 0.05", "soft schema findings block"} {
		if !strings.Contains(out, want) {
			t.Errorf("Describe missing %q: %q", want, out)
		}
	}
}
