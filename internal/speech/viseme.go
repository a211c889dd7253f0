package speech

import "strings"

// Viseme identifies a mouth shape. The set follows the common 15-shape
// convention used by avatar blendshape rigs: silence plus fourteen
// articulation groups.
type Viseme string

const (
	VisemeSilence Viseme = "sil"
	VisemePP      Viseme = "PP" // p, b, m
	VisemeFF      Viseme = "FF" // f, v
	VisemeTH      Viseme = "TH"
	VisemeDD      Viseme = "DD" // d, t
	VisemeKK      Viseme = "kk" // k, g
	VisemeCH      Viseme = "CH" // ch, j, sh
	VisemeSS      Viseme = "SS" // s, z
	VisemeNN      Viseme = "nn" // n, l
	VisemeRR      Viseme = "RR"
	VisemeAA      Viseme = "aa"
	VisemeE       Viseme = "E"
	VisemeIH      Viseme = "ih"
	VisemeOH      Viseme = "oh"
	VisemeOU      Viseme = "ou"
)

// Timing is one spoken word with its position on the playback clock,
// both fields in milliseconds from utterance start.
type Timing struct {
	Word       string `json:"word"`
	StartMs    int    `json:"start_ms"`
	DurationMs int    `json:"duration_ms"`
}

// Cue is one scheduled mouth shape on the utterance timeline.
type Cue struct {
	Viseme     Viseme `json:"viseme"`
	StartMs    int    `json:"start_ms"`
	DurationMs int    `json:"duration_ms"`
}

// digraphs maps two-letter onsets to a viseme before single letters are
// considered. Order of lookup matters: "sh" must not decompose into SS+silence.
var digraphs = map[string]Viseme{
	"ch": VisemeCH,
	"sh": VisemeCH,
	"th": VisemeTH,
	"ph": VisemeFF,
	"oo": VisemeOU,
	"ou": VisemeOU,
	"ow": VisemeOU,
	"ee": VisemeE,
	"ea": VisemeE,
	"ai": VisemeE,
	"ay": VisemeE,
	"oa": VisemeOH,
	"ng": VisemeKK,
	"qu": VisemeKK,
}

var letters = map[byte]Viseme{
	'p': VisemePP, 'b': VisemePP, 'm': VisemePP,
	'f': VisemeFF, 'v': VisemeFF,
	'd': VisemeDD, 't': VisemeDD,
	'k': VisemeKK, 'g': VisemeKK, 'c': VisemeKK, 'q': VisemeKK, 'x': VisemeKK,
	'j': VisemeCH,
	's': VisemeSS, 'z': VisemeSS,
	'n': VisemeNN, 'l': VisemeNN,
	'r': VisemeRR,
	'a': VisemeAA,
	'e': VisemeE, 'y': VisemeE,
	'i': VisemeIH,
	'o': VisemeOH,
	'u': VisemeOU, 'w': VisemeOU,
	'h': VisemeSilence,
}

// wordVisemes decomposes a word into its viseme sequence. Unknown characters
// are skipped; a word with no mappable characters yields a single silence so
// its time slot is still occupied.
func wordVisemes(word string) []Viseme {
	w := strings.ToLower(word)
	var out []Viseme
	for i := 0; i < len(w); {
		if i+1 < len(w) {
			if v, ok := digraphs[w[i:i+2]]; ok {
				out = append(out, v)
				i += 2
				continue
			}
		}
		if v, ok := letters[w[i]]; ok {
			if v != VisemeSilence {
				out = append(out, v)
			}
			i++
			continue
		}
		i++
	}
	if len(out) == 0 {
		out = []Viseme{VisemeSilence}
	}
	return out
}

// interWordGapMs is the pause length above which an explicit silence cue is
// inserted between words instead of holding the previous shape.
const interWordGapMs = 120

// BuildTimeline expands word timings into a flat mouth-shape timeline.
// Each word's duration is divided evenly across its visemes; noticeable
// gaps between words become silence cues, and the timeline always ends
// with a closing silence. Input words out of order are handled; the
// returned cues are sorted by start time.
func BuildTimeline(timings []Timing) []Cue {
	if len(timings) == 0 {
		return nil
	}

	sorted := append([]Timing(nil), timings...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].StartMs < sorted[j-1].StartMs; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var cues []Cue
	prevEnd := 0
	for _, t := range sorted {
		if t.DurationMs <= 0 {
			continue
		}
		if t.StartMs-prevEnd > interWordGapMs {
			cues = append(cues, Cue{
				Viseme:     VisemeSilence,
				StartMs:    prevEnd,
				DurationMs: t.StartMs - prevEnd,
			})
		}
		vs := wordVisemes(t.Word)
		slot := t.DurationMs / len(vs)
		if slot <= 0 {
			slot = 1
		}
		for i, v := range vs {
			start := t.StartMs + i*slot
			dur := slot
			if i == len(vs)-1 {
				// Last viseme absorbs the division remainder.
				dur = t.StartMs + t.DurationMs - start
			}
			if dur <= 0 {
				continue
			}
			cues = append(cues, Cue{Viseme: v, StartMs: start, DurationMs: dur})
		}
		if end := t.StartMs + t.DurationMs; end > prevEnd {
			prevEnd = end
		}
	}

	cues = append(cues, Cue{Viseme: VisemeSilence, StartMs: prevEnd, DurationMs: 0})
	return cues
}
