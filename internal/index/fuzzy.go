package index

import (
	"sort"
	"strings"

	"github.com/sells-group/lineage-cli/internal/model"
)

// FuzzyPolicy tunes fallback field matching. Scores are rune lengths of the
// longest common substring that contains a whole shared token.
type FuzzyPolicy struct {
	Enabled  bool
	MinScore int // candidates scoring below this are ignored
	Margin   int // best must beat the runner-up by more than this
}

// DefaultFuzzyPolicy enables matching with a minimum score of 3 and no margin.
func DefaultFuzzyPolicy() FuzzyPolicy {
	return FuzzyPolicy{Enabled: true, MinScore: 3}
}

type token struct {
	text  string
	start int // rune offset into the label
}

// label is a normalized field name prepared for scoring.
type label struct {
	display string
	runes   []rune
	tokens  []token
}

func newLabel(display string) label {
	norm := model.NormalizeField(display)
	l := label{display: display, runes: []rune(norm)}
	start := -1
	for i, r := range l.runes {
		if r == ' ' {
			if start >= 0 {
				l.tokens = append(l.tokens, token{text: string(l.runes[start:i]), start: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		l.tokens = append(l.tokens, token{text: string(l.runes[start:]), start: start})
	}
	return l
}

// score returns the longest common substring of a and b that contains a
// whole token present in both, or 0 when they share no token.
func score(a, b label) int {
	best := 0
	for _, ta := range a.tokens {
		for _, tb := range b.tokens {
			if ta.text != tb.text {
				continue
			}
			n := len([]rune(ta.text))
			left := 0
			for ta.start-left-1 >= 0 && tb.start-left-1 >= 0 && a.runes[ta.start-left-1] == b.runes[tb.start-left-1] {
				left++
			}
			right := 0
			for ta.start+n+right < len(a.runes) && tb.start+n+right < len(b.runes) && a.runes[ta.start+n+right] == b.runes[tb.start+n+right] {
				right++
			}
			if l := left + n + right; l > best {
				best = l
			}
		}
	}
	return best
}

// rank scores every candidate sharing a token with query, best first, ties
// by display name.
func rank(query label, candidates []label) []model.FieldCandidate {
	var out []model.FieldCandidate
	for _, c := range candidates {
		if s := score(query, c); s > 0 {
			out = append(out, model.FieldCandidate{Field: c.display, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return strings.Compare(out[i].Field, out[j].Field) < 0
	})
	return out
}

const maxSuggestions = 5

func suggestions(ranked []model.FieldCandidate) []string {
	n := len(ranked)
	if n > maxSuggestions {
		n = maxSuggestions
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Field
	}
	return out
}
