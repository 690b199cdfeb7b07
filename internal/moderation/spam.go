package moderation

import (
	"regexp"
	"strings"
)

// Run lengths at which repetition counts as flooding.
const (
	charFloodRun = 5 // identical characters in a row
	wordFloodRun = 3 // identical words in a row, case-insensitive
)

var (
	// urlPattern matches scheme URLs, www. hosts and bare domains followed by
	// a path. The path requirement keeps "v2.0" and "3.14" clean.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches +1-555-123-4567, (555) 123-4567, 555.123.4567 and
	// similar, bounded by whitespace so short numbers stay clean.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// Spam pattern names reported in FilterResult.Term.
const (
	SpamURL       = "url"
	SpamPhone     = "phone"
	SpamCharFlood = "char_flood"
	SpamWordFlood = "word_flood"
)

// spamRules run in order; the first match wins.
var spamRules = []struct {
	name  string
	match func(string) bool
}{
	{SpamURL, urlPattern.MatchString},
	{SpamPhone, phonePattern.MatchString},
	{SpamCharFlood, func(text string) bool { return hasRun([]rune(text), charFloodRun) }},
	{SpamWordFlood, func(text string) bool { return hasRun(strings.Fields(strings.ToLower(text)), wordFloodRun) }},
}

// matchSpam returns the first spam rule text trips, if any.
func matchSpam(text string) FilterResult {
	for _, rule := range spamRules {
		if rule.match(text) {
			return FilterResult{Blocked: true, Reason: ReasonSpamPattern, Term: rule.name}
		}
	}
	return FilterResult{}
}

// hasRun reports whether seq holds n or more equal adjacent elements. RE2 has
// no backreferences, so repetition is found with a scan.
func hasRun[T comparable](seq []T, n int) bool {
	if len(seq) < n {
		return false
	}
	run := 1
	for i := 1; i < len(seq); i++ {
		if seq[i] != seq[i-1] {
			run = 1
			continue
		}
		run++
		if run >= n {
			return true
		}
	}
	return false
}
