package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Compiled once at package init; the patterns are applied on every synthesis
// request and must be safe for concurrent use.
var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains with a
	// trailing "/". The trailing slash requirement avoids false positives on
	// version strings like "v2.0" or decimals like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches common phone formats such as +1-555-123-4567,
	// (555) 123-4567 and 555.123.4567, anchored to whitespace so short
	// numbers like "100" pass.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// abuseCheck pairs a detection function with the name reported on a match.
type abuseCheck struct {
	name  string
	match func(string) bool
}

// abuseChecks is applied in order; the first match wins. URLs and phone
// numbers are rejected because the avatar would read them aloud verbatim;
// flooding is rejected because it burns synthesis budget on noise.
var abuseChecks = []abuseCheck{
	{name: "url", match: urlPattern.MatchString},
	{name: "phone", match: phonePattern.MatchString},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// hasCharFlood reports 5 or more consecutive identical characters. RE2 has
// no backreferences, so this is a linear scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports the same word appearing 3 or more times in a row,
// case-insensitive, with words delimited by whitespace.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}

func (s *Screener) checkAbusePatterns(text string) Result {
	for _, ac := range abuseChecks {
		if ac.match(text) {
			return Result{Blocked: true, Reason: "abuse_pattern", Term: ac.name}
		}
	}
	return Result{}
}
