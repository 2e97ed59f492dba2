package silence

import (
	"strings"
	"time"
)

var questionStarters = []string{
	"what ", "how ", "why ", "when ", "where ", "who ", "which ",
	"can you", "could you", "tell me", "describe", "explain",
}

var incompleteEndings = []string{
	" the", " a", " an", " to", " of", " for", " in", " on", " is", " are",
	" and", " but", " or", " with", " that", " which", " how", " what",
	" when", " where", " why", " between", " about", " from", " your",
}

// Threshold returns how much silence text needs before it is treated as a
// complete utterance. Punctuated text is fastest; short text and text ending
// on a connective word wait longest.
func Threshold(text string, wasFinal bool) time.Duration {
	t := strings.TrimSpace(text)
	if t == "" {
		return time.Second
	}
	words := len(strings.Fields(t))
	l := strings.ToLower(t)

	for _, p := range []string{".", "?", "!", "。", "？", "！"} {
		if strings.HasSuffix(t, p) {
			return 500 * time.Millisecond
		}
	}
	if wasFinal && words >= 5 {
		return 700 * time.Millisecond
	}
	if words >= 5 && hasAnyPrefix(l, questionStarters) {
		return 700 * time.Millisecond
	}
	if words < 4 {
		return 1300 * time.Millisecond
	}
	for _, e := range incompleteEndings {
		if strings.HasSuffix(l, e) {
			return 1300 * time.Millisecond
		}
	}
	return time.Second
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
