// Package redact strips personally identifiable information from
// inbound text before it is handed to the extractor.
package redact

import "regexp"

var (
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
)

// Text replaces SSN-like, credit-card-like, and email substrings with
// fixed markers. Order matters: SSNs and cards are checked before
// email so a digit-and-dash string never gets swallowed by a broader
// pattern first.
func Text(s string) string {
	s = ssnPattern.ReplaceAllString(s, "[SSN_REDACTED]")
	s = cardPattern.ReplaceAllString(s, "[CC_REDACTED]")
	s = emailPattern.ReplaceAllString(s, "[EMAIL_REDACTED]")
	return s
}
