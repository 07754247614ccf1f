package command

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// phoneticThreshold is the Jaro-Winkler score a window needs when each of
// its words shares a Double Metaphone code with the matching phrase word.
// Scripts without a Metaphone encoding never take this path.
const phoneticThreshold = 0.70

// fuzzyMatch returns the action of the entry whose phrase is most similar to
// a window of the utterance with the same word count, provided the
// Jaro-Winkler score reaches threshold, or phoneticThreshold for windows
// that sound like the phrase. Ties keep table order.
func fuzzyMatch(entries []Entry, utterance string, threshold float64) Action {
	words := strings.Fields(utterance)
	if len(words) == 0 {
		return None
	}

	best, bestScore := None, 0.0
	for _, e := range entries {
		phrase := strings.Fields(e.Phrase)
		n := len(phrase)
		if n == 0 || n > len(words) {
			continue
		}
		for i := 0; i+n <= len(words); i++ {
			window := words[i : i+n]
			s := matchr.JaroWinkler(strings.Join(window, " "), e.Phrase, false)
			need := threshold
			if need > phoneticThreshold && soundsAlike(window, phrase) {
				need = phoneticThreshold
			}
			if s >= need && s > bestScore {
				best, bestScore = e.Action, s
			}
		}
	}
	return best
}

// soundsAlike reports whether every word pair shares a phonetic code.
func soundsAlike(window, phrase []string) bool {
	for i := range window {
		if !sharesCode(window[i], phrase[i]) {
			return false
		}
	}
	return true
}

func sharesCode(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, c := range []string{ap, as} {
		if c != "" && (c == bp || c == bs) {
			return true
		}
	}
	return false
}
