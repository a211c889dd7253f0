package speech

import "testing"

func TestWordVisemes(t *testing.T) {
	tests := []struct {
		word string
		want []Viseme
	}{
		{"mama", []Viseme{VisemePP, VisemeAA, VisemePP, VisemeAA}},
		{"she", []Viseme{VisemeCH, VisemeE}},
		{"this", []Viseme{VisemeTH, VisemeIH, VisemeSS}},
		{"hmm", []Viseme{VisemePP, VisemePP}},
		{"...", []Viseme{VisemeSilence}},
		{"", []Viseme{VisemeSilence}},
	}
	for _, tt := range tests {
		got := wordVisemes(tt.word)
		if len(got) != len(tt.want) {
			t.Errorf("wordVisemes(%q) = %v, want %v", tt.word, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("wordVisemes(%q)[%d] = %s, want %s", tt.word, i, got[i], tt.want[i])
			}
		}
	}
}

func TestBuildTimelineCuesAreOrderedAndCoverWords(t *testing.T) {
	cues := BuildTimeline([]Timing{
		{Word: "hello", StartMs: 0, DurationMs: 400},
		{Word: "there", StartMs: 420, DurationMs: 300},
	})
	if len(cues) == 0 {
		t.Fatal("no cues produced")
	}
	for i := 1; i < len(cues); i++ {
		if cues[i].StartMs < cues[i-1].StartMs {
			t.Fatalf("cue %d starts at %dms before cue %d at %dms",
				i, cues[i].StartMs, i-1, cues[i-1].StartMs)
		}
	}
	last := cues[len(cues)-1]
	if last.Viseme != VisemeSilence {
		t.Errorf("timeline ends with %s, want closing silence", last.Viseme)
	}
	if last.StartMs != 720 {
		t.Errorf("closing silence at %dms, want 720", last.StartMs)
	}
}

func TestBuildTimelineInsertsSilenceInLongGaps(t *testing.T) {
	cues := BuildTimeline([]Timing{
		{Word: "one", StartMs: 0, DurationMs: 200},
		{Word: "two", StartMs: 800, DurationMs: 200},
	})
	found := false
	for _, c := range cues {
		if c.Viseme == VisemeSilence && c.StartMs == 200 && c.DurationMs == 600 {
			found = true
		}
	}
	if !found {
		t.Errorf("no silence cue covering the 600ms gap, cues: %v", cues)
	}
}

func TestBuildTimelineSortsUnorderedInput(t *testing.T) {
	cues := BuildTimeline([]Timing{
		{Word: "late", StartMs: 500, DurationMs: 100},
		{Word: "early", StartMs: 0, DurationMs: 100},
	})
	for i := 1; i < len(cues); i++ {
		if cues[i].StartMs < cues[i-1].StartMs {
			t.Fatalf("cues not sorted: %v", cues)
		}
	}
}

func TestBuildTimelineEmptyAndZeroDuration(t *testing.T) {
	if cues := BuildTimeline(nil); cues != nil {
		t.Errorf("BuildTimeline(nil) = %v, want nil", cues)
	}
	cues := BuildTimeline([]Timing{{Word: "ghost", StartMs: 0, DurationMs: 0}})
	// Only the closing silence should remain.
	if len(cues) != 1 || cues[0].Viseme != VisemeSilence {
		t.Errorf("zero-duration word produced %v, want just closing silence", cues)
	}
}
