// Package moderation screens text before it is spent on synthesis. The
// avatar reads whatever it is told to say out loud, so abusive phrases, spam
// and obvious flooding are rejected up front rather than voiced.
package moderation

import (
	"strings"
	"unicode"
)

// Result is the outcome of screening one piece of text.
type Result struct {
	Blocked bool
	Reason  string // "blocked_term" or "abuse_pattern"
	Term    string // the matched term or pattern name
}

// defaultTerms is the built-in screening list. Deployments extend it through
// NewScreenerWithTerms; the built-ins cover phrases that must never be
// spoken by a therapeutic avatar regardless of configuration.
var defaultTerms = []string{
	"kill yourself",
	"go die",
	"hurt yourself",
	"end your life",
}

// Screener checks text against a term list and a set of abuse patterns.
// Single-word terms match on word boundaries; multi-word terms match as
// whole phrases. Matching is case-insensitive and sees through common
// character substitutions.
type Screener struct {
	words   map[string]bool
	phrases []string
}

// NewScreener returns a Screener loaded with the built-in term list.
func NewScreener() *Screener {
	return NewScreenerWithTerms(defaultTerms)
}

// NewScreenerWithTerms builds a Screener from the given terms. Empty and
// whitespace-only entries are dropped.
func NewScreenerWithTerms(terms []string) *Screener {
	s := &Screener{words: make(map[string]bool)}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			s.phrases = append(s.phrases, term)
		} else {
			s.words[term] = true
		}
	}
	return s
}

// Check screens text and returns the first violation found. Term matches are
// checked before abuse patterns.
func (s *Screener) Check(text string) Result {
	// Two normalized views: one with punctuation stripped, one that also
	// resolves character substitutions like "0" for "o". Both are needed:
	// stripping alone misses "b@dw0rd", substitution alone turns trailing
	// punctuation into letters and breaks boundary matching.
	for _, view := range []string{normalize(text, false), normalize(text, true)} {
		if r := s.checkTerms(view); r.Blocked {
			return r
		}
	}
	return s.checkAbusePatterns(text)
}

func (s *Screener) checkTerms(view string) Result {
	for _, w := range strings.Fields(view) {
		if s.words[w] {
			return Result{Blocked: true, Reason: "blocked_term", Term: w}
		}
	}
	padded := " " + view + " "
	for _, phrase := range s.phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return Result{Blocked: true, Reason: "blocked_term", Term: phrase}
		}
	}
	return Result{}
}

// leet maps common character substitutions back to the letter they stand for.
var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalize lowercases text and replaces every non-letter rune with a space.
// With substitutions enabled, leet characters become their letter first.
func normalize(text string, substitutions bool) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if substitutions {
			if sub, ok := leet[r]; ok {
				b.WriteRune(sub)
				continue
			}
		}
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
