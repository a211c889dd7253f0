package moderation

import "testing"

func TestNewScreenerHasBuiltins(t *testing.T) {
	s := NewScreener()
	if len(s.words)+len(s.phrases) == 0 {
		t.Fatal("NewScreener created an empty screener")
	}
}

func TestCheck_BlockedWord(t *testing.T) {
	s := NewScreenerWithTerms([]string{"badword", "offensive"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"exact match", "badword", true, "badword"},
		{"in sentence", "this is badword here", true, "badword"},
		{"case insensitive", "BADWORD", true, "badword"},
		{"mixed case", "BaDwOrD", true, "badword"},
		{"with punctuation", "hello, badword!", true, "badword"},
		{"clean text", "hello world", false, ""},
		{"prefix not blocked", "badwording is fine", false, ""},
		{"embedded not blocked", "mybadword", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Errorf("Check(%q).Blocked = %v, want %v", tt.input, result.Blocked, tt.blocked)
			}
			if tt.blocked && result.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, tt.term)
			}
			if tt.blocked && result.Reason != "blocked_term" {
				t.Errorf("Check(%q).Reason = %q", tt.input, result.Reason)
			}
		})
	}
}

func TestCheck_BlockedPhrase(t *testing.T) {
	s := NewScreenerWithTerms([]string{"kill yourself", "go die"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"exact phrase", "kill yourself", true, "kill yourself"},
		{"phrase in sentence", "you should kill yourself now", true, "kill yourself"},
		{"case insensitive phrase", "KILL YOURSELF", true, "kill yourself"},
		{"partial word no match", "kill yourselves", false, ""},
		{"words separated", "kill and yourself", false, ""},
		{"second phrase", "go die already", true, "go die"},
		{"clean text", "tell me about your day", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Errorf("Check(%q).Blocked = %v, want %v", tt.input, result.Blocked, tt.blocked)
			}
			if tt.blocked && result.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, tt.term)
			}
		})
	}
}

func TestCheck_CharacterSubstitutions(t *testing.T) {
	s := NewScreenerWithTerms([]string{"badword", "offensive"})

	inputs := []string{
		"b@dw0rd",
		"b@dword",
		"0ffens1ve",
		"offens!ve",
		"0ff3n$!v3",
	}
	for _, input := range inputs {
		if result := s.Check(input); !result.Blocked {
			t.Errorf("Check(%q) not blocked", input)
		}
	}
}

func TestCheck_AbusePatterns(t *testing.T) {
	s := NewScreenerWithTerms(nil) // no term list, isolate pattern checks

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"http url", "visit http://spam.example.com now", true, "url"},
		{"www url", "go to www.spam.example", true, "url"},
		{"bare domain with path", "check spam.ru/offer", true, "url"},
		{"phone number", "call +1-555-123-4567 today", true, "phone"},
		{"char flood", "aaaaaaaa", true, "char_flood"},
		{"word flood", "buy buy buy now", true, "word_flood"},
		{"version string ok", "we ship v2.0 tomorrow", false, ""},
		{"decimal ok", "pi is 3.14 roughly", false, ""},
		{"short number ok", "i am 100 percent sure", false, ""},
		{"clean text", "how are you feeling today", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Errorf("Check(%q).Blocked = %v, want %v", tt.input, result.Blocked, tt.blocked)
			}
			if tt.blocked && result.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, tt.term)
			}
			if tt.blocked && result.Reason != "abuse_pattern" {
				t.Errorf("Check(%q).Reason = %q", tt.input, result.Reason)
			}
		})
	}
}

func TestNewScreenerWithTerms_DropsEmpty(t *testing.T) {
	s := NewScreenerWithTerms([]string{"", "  ", "valid"})
	if len(s.words) != 1 || !s.words["valid"] {
		t.Errorf("words = %v, want just {valid}", s.words)
	}
	if len(s.phrases) != 0 {
		t.Errorf("phrases = %v, want none", s.phrases)
	}
}
