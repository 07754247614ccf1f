package command

// builtin holds the shipped vocabulary. Within a language, entries are
// checked in order, so longer phrases precede the bare words they contain.
var builtin = map[string][]Entry{
	"en-US": {
		{Phrase: "scroll down", Action: ScrollDown},
		{Phrase: "scroll up", Action: ScrollUp},
		{Phrase: "stop listening", Action: StopListening},
	},
	"hi-IN": {
		{Phrase: "नीचे स्क्रॉल करें", Action: ScrollDown},
		{Phrase: "नीचे", Action: ScrollDown},
		{Phrase: "ऊपर स्क्रॉल करें", Action: ScrollUp},
		{Phrase: "ऊपर", Action: ScrollUp},
	},
	"te-IN": {
		{Phrase: "క్రిందకు స్క్రోల్ చేయి", Action: ScrollDown},
		{Phrase: "క్రిందకి", Action: ScrollDown},
		{Phrase: "పైకి స్క్రోల్ చేయి", Action: ScrollUp},
		{Phrase: "పైకి", Action: ScrollUp},
	},
}

// builtinOrder fixes the iteration order of [BuiltinLanguages].
var builtinOrder = []string{"en-US", "hi-IN", "te-IN"}

// BuiltinLanguages returns the language codes that ship with a vocabulary.
func BuiltinLanguages() []string {
	out := make([]string, len(builtinOrder))
	copy(out, builtinOrder)
	return out
}

// Builtin returns a copy of the shipped entries for languageCode, or nil.
func Builtin(languageCode string) []Entry {
	src := builtin[languageCode]
	if src == nil {
		return nil
	}
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}
