// Package moderation provides content filtering and moderation capabilities.
// It screens chat messages for prohibited content and enforces community
// guidelines before messages are delivered to recipients.
package moderation

import (
	"strings"
)

// Reasons reported in FilterResult.Reason.
const (
	ReasonBlockedKeyword = "blocked_keyword"
	ReasonSpamPattern    = "spam_pattern"
)

// FilterResult describes why a message was blocked. The zero value means the
// message is clean.
type FilterResult struct {
	Blocked bool
	Reason  string // ReasonBlockedKeyword or ReasonSpamPattern
	Term    string // matched denylist term, or the spam check name
}

// Profanity reports whether the message matched the denylist.
func (r FilterResult) Profanity() bool {
	return r.Blocked && r.Reason == ReasonBlockedKeyword
}

// defaultTerms is the built-in denylist. Terms are matched as substrings, so
// short stems that occur inside ordinary words ("ass", "rape", "cum") are
// deliberately left out.
var defaultTerms = []string{
	// slurs
	"nigger", "nigga", "faggot", "tranny", "chink", "kike", "wetback",

	// profanity
	"fuck", "shit", "bitch", "cunt", "whore", "slut", "dickhead", "wanker",

	// self-harm
	"kill yourself", "go die", "hang yourself", "slit your wrists",

	// sexual exploitation
	"child porn", "send nudes", "jailbait", "underage nudes",

	// extremism and threats
	"heil hitler", "white power", "bomb threat", "shoot up the",

	// scams
	"free bitcoin", "crypto giveaway", "double your money",
}

// leetReplacer maps common character substitutions back to letters.
var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// Filter checks chat text against a case-insensitive substring denylist and a
// set of spam patterns. It is immutable after construction and safe for
// concurrent use.
type Filter struct {
	terms []string
}

// NewFilter creates a filter with the built-in denylist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a filter with a custom denylist. Terms are
// lower-cased and trimmed; blanks and duplicates are dropped. A nil list
// yields a filter that only applies spam patterns.
func NewFilterWithTerms(terms []string) *Filter {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return &Filter{terms: out}
}

// WithTerms returns a new filter holding f's terms plus extra.
func (f *Filter) WithTerms(extra []string) *Filter {
	all := make([]string, 0, len(f.terms)+len(extra))
	all = append(all, f.terms...)
	all = append(all, extra...)
	return NewFilterWithTerms(all)
}

// Len returns the number of denylist terms.
func (f *Filter) Len() int {
	return len(f.terms)
}

// Check screens text. Denylist matches take priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)
	if term, ok := f.matchTerm(lower); ok {
		return FilterResult{Blocked: true, Reason: ReasonBlockedKeyword, Term: term}
	}
	if leet := normalizeLeet(lower); leet != lower {
		if term, ok := f.matchTerm(leet); ok {
			return FilterResult{Blocked: true, Reason: ReasonBlockedKeyword, Term: term}
		}
	}
	return matchSpam(text)
}

func (f *Filter) matchTerm(s string) (string, bool) {
	for _, t := range f.terms {
		if strings.Contains(s, t) {
			return t, true
		}
	}
	return "", false
}

// normalizeLeet undoes digit and symbol substitutions. Input is expected to be
// lower-case already.
func normalizeLeet(s string) string {
	return leetReplacer.Replace(s)
}
