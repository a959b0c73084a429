// Package redact masks contact details and credentials in incident
// narratives before they leave the machine.
package redact

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// pemPattern matches PEM key blocks across multiple lines.
var pemPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+KEY-----.*?-----END [A-Z ]+KEY-----`)

type rule struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// rules are applied in order; earlier matches are not seen by later rules.
var rules = []rule{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	// International or North American numbers with separators. Bare digit
	// runs such as dates, well depths and report numbers are left alone.
	{"phone", regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?\(?\d{3}\)?[ .\-]\d{3}[ .\-]\d{4}\b`), "[PHONE]"},
	{"aws_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redacted},
	{"api_key", regexp.MustCompile(`\bsk-[a-zA-Z0-9\-_]{20,}`), redacted},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`), redacted},
	{"bearer", regexp.MustCompile(`(?i)Bearer[ \t]+[A-Za-z0-9\-._~+/]{20,}=*`), redacted},
	{"password", regexp.MustCompile(`(?i)password[ \t]*[:=][ \t]*\S+`), redacted},
}

// Counts maps a rule name to the number of matches replaced.
type Counts map[string]int

// Redact replaces known contact and secret patterns in input.
// Line structure is preserved: the number of newlines in the output
// always equals the number of newlines in the input.
func Redact(input string) (string, Counts) {
	counts := Counts{}
	// Handle PEM blocks first: replace each line within the block individually
	// so that line count is preserved.
	input = pemPattern.ReplaceAllStringFunc(input, func(match string) string {
		counts["pem"]++
		lines := strings.Split(match, "\n")
		for i := range lines {
			lines[i] = redacted
		}
		return strings.Join(lines, "\n")
	})

	for _, r := range rules {
		input = r.re.ReplaceAllStringFunc(input, func(string) string {
			counts[r.name]++
			return r.replacement
		})
	}
	return input, counts
}

// Total is the number of replacements made.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
