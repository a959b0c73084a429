package extract

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Text gate limits.
const (
	MinTextLen    = 400
	MaxCIDRatio   = 0.01
	MaxCIDCount   = 5
	MinAlphaRatio = 0.55
)

// Rejection reasons, checked in this order.
const (
	RejectEmpty     = "EMPTY_TEXT"
	RejectTooShort  = "TOO_SHORT"
	RejectCIDGibber = "CID_ENCODING_GIBBERISH"
	RejectLowAlpha  = "LOW_ALPHA_GIBBERISH"
)

var cidPattern = regexp.MustCompile(`\(cid:\d+\)`)

// TextMetrics describe a narrative. Lengths count runes.
type TextMetrics struct {
	TextLen         int     `json:"text_len"`
	AlphaRatio      float64 `json:"alpha_ratio"`
	CIDRatio        float64 `json:"cid_ratio"`
	WhitespaceRatio float64 `json:"whitespace_ratio"`
	CIDCount        int     `json:"cid_count"`
}

// Measure computes the metrics of text.
func Measure(text string) TextMetrics {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return TextMetrics{}
	}
	var alpha, space int
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			alpha++
		case unicode.IsSpace(r):
			space++
		}
	}
	cids := cidPattern.FindAllString(text, -1)
	cidChars := 0
	for _, m := range cids {
		cidChars += len(m)
	}
	return TextMetrics{
		TextLen:         n,
		AlphaRatio:      round4(float64(alpha) / float64(n)),
		CIDRatio:        round4(float64(cidChars) / float64(n)),
		WhitespaceRatio: round4(float64(space) / float64(n)),
		CIDCount:        len(cids),
	}
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// Gate returns the first rejection reason for text, or "" when it is usable.
func Gate(text string) (string, TextMetrics) {
	m := Measure(strings.TrimSpace(text))
	switch {
	case m.TextLen == 0:
		return RejectEmpty, m
	case m.TextLen < MinTextLen:
		return RejectTooShort, m
	case m.CIDRatio > MaxCIDRatio || m.CIDCount >= MaxCIDCount:
		return RejectCIDGibber, m
	case m.AlphaRatio < MinAlphaRatio:
		return RejectLowAlpha, m
	}
	return "", m
}

// describeRejection renders a rejection with the metric that caused it.
func describeRejection(reason string, m TextMetrics) string {
	switch reason {
	case RejectTooShort:
		return fmt.Sprintf("%s: %d characters, need %d", reason, m.TextLen, MinTextLen)
	case RejectCIDGibber:
		return fmt.Sprintf("%s: %d (cid:N) tokens, ratio %.4f", reason, m.CIDCount, m.CIDRatio)
	case RejectLowAlpha:
		return fmt.Sprintf("%s: alpha ratio %.4f, need %.2f", reason, m.AlphaRatio, MinAlphaRatio)
	}
	return reason
}

var quoteReplacer = strings.NewReplacer(
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2018", "'",
	"\u2019", "'",
	"\u00ab", `"`,
	"\u00bb", `"`,
)

var (
	multiSpace = regexp.MustCompile(`[^\S\n]{3,}`)
	multiBlank = regexp.MustCompile(`\n{4,}`)
)

// Normalize cleans narrative text extracted from reports: NFKC folding,
// ASCII quotes, no control characters other than newline, tab and carriage
// return, long space runs collapsed to two spaces, at most two blank lines
// in a row, and every line trimmed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = quoteReplacer.Replace(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.In(r, unicode.C) {
			return -1
		}
		return r
	}, text)
	text = multiSpace.ReplaceAllString(text, "  ")
	text = multiBlank.ReplaceAllString(text, "\n\n\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
