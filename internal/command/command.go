// Package command maps recognised utterances to viewer actions.
//
// Interpretation is table driven: each supported language owns an ordered
// list of (phrase, action) entries. An utterance matches an entry when the
// entry's phrase is contained in the normalised utterance; the first matching
// entry of the active language wins. There is no tokenisation and no
// cross-language fallback, so the vocabulary of one language never leaks into
// another.
//
// New languages are added with [Table.Register] without touching existing
// entries.
package command

import (
	"slices"
	"strings"
	"sync"
)

// Action is the outcome of interpreting an utterance.
type Action int

const (
	// None means the utterance matched no command.
	None Action = iota

	// ScrollUp scrolls the content view up by one step.
	ScrollUp

	// ScrollDown scrolls the content view down by one step.
	ScrollDown

	// StopListening ends the voice session.
	StopListening
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case ScrollUp:
		return "scroll_up"
	case ScrollDown:
		return "scroll_down"
	case StopListening:
		return "stop_listening"
	default:
		return "unknown"
	}
}

// Interpreter maps a language code and a normalised utterance to an Action.
// Implementations must be free of side effects and safe for concurrent use.
type Interpreter interface {
	Interpret(languageCode, utterance string) Action
}

// Entry pairs a phrase with the action it triggers.
type Entry struct {
	// Phrase is matched by substring containment against the normalised
	// utterance. It is stored lower-cased.
	Phrase string

	// Action is returned when Phrase matches.
	Action Action
}

// Option configures a [Table].
type Option func(*Table)

// WithFuzzy enables a Jaro-Winkler fallback that is consulted only when no
// entry matches by containment. threshold is the minimum similarity (0–1)
// between a phrase and a same-length word window of the utterance. Windows
// that sound like the phrase (Double Metaphone) are accepted from 0.70. A
// threshold of zero or less leaves fuzzy matching disabled.
func WithFuzzy(threshold float64) Option {
	return func(t *Table) {
		t.fuzzyThreshold = threshold
	}
}

// Table is a data-driven [Interpreter]. The zero value is an empty table;
// use [NewTable] for one pre-loaded with the built-in vocabulary.
//
// All methods are safe for concurrent use.
type Table struct {
	mu             sync.RWMutex
	entries        map[string][]Entry
	order          []string
	fuzzyThreshold float64
}

// NewTable returns a Table loaded with the built-in vocabulary
// (see [Builtin]).
func NewTable(opts ...Option) *Table {
	t := &Table{}
	for _, o := range opts {
		o(t)
	}
	for _, lang := range BuiltinLanguages() {
		t.Register(lang, Builtin(lang)...)
	}
	return t
}

// Register appends entries to the list for languageCode. Existing entries
// keep their position and therefore their precedence.
func (t *Table) Register(languageCode string, entries ...Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = make(map[string][]Entry)
	}
	for _, e := range entries {
		e.Phrase = Normalize(e.Phrase)
		if e.Phrase == "" {
			continue
		}
		if len(t.entries[languageCode]) == 0 {
			t.order = append(t.order, languageCode)
		}
		t.entries[languageCode] = append(t.entries[languageCode], e)
	}
}

// Languages returns the language codes with at least one entry, in the
// order they were first registered.
func (t *Table) Languages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.order)
}

// Entries returns a copy of the entries registered for languageCode.
func (t *Table) Entries(languageCode string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries[languageCode]))
	copy(out, t.entries[languageCode])
	return out
}

// Interpret implements [Interpreter]. utterance is expected to be normalised
// already (see [Normalize]); unsupported languages and unmatched utterances
// yield [None].
func (t *Table) Interpret(languageCode, utterance string) Action {
	t.mu.RLock()
	entries := t.entries[languageCode]
	threshold := t.fuzzyThreshold
	t.mu.RUnlock()

	if utterance == "" || len(entries) == 0 {
		return None
	}
	for _, e := range entries {
		if strings.Contains(utterance, e.Phrase) {
			return e.Action
		}
	}
	if threshold > 0 {
		return fuzzyMatch(entries, utterance, threshold)
	}
	return None
}

// Normalize prepares a raw transcript for interpretation: surrounding
// whitespace is trimmed and the text is lower-cased.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Ensure Table implements Interpreter at compile time.
var _ Interpreter = (*Table)(nil)
