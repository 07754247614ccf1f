package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; every other
// change is summarised by RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AddedCommands lists vocabulary phrases present in the new config but
	// not in the old one, grouped by language. Command tables only grow, so
	// these can be registered live.
	AddedCommands []LanguageVocabulary

	// RestartRequired is set when a change cannot be applied live
	// (listen address, backend settings, removed phrases, timings).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldPhrases := phraseSet(old.Client.Vocabulary)
	newPhrases := phraseSet(new.Client.Vocabulary)

	for _, v := range new.Client.Vocabulary {
		var added []CommandPhrase
		for _, c := range v.Commands {
			if !oldPhrases[phraseKey{v.Language, c.Phrase, c.Action}] {
				added = append(added, c)
			}
		}
		if len(added) > 0 {
			d.AddedCommands = append(d.AddedCommands, LanguageVocabulary{Language: v.Language, Commands: added})
		}
	}
	for k := range oldPhrases {
		if !newPhrases[k] {
			d.RestartRequired = true
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		(old.Server.TLS == nil) != (new.Server.TLS == nil) ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		!sameBackend(old.Backend, new.Backend) ||
		!sameClientSettings(old.Client, new.Client) {
		d.RestartRequired = true
	}

	return d
}

type phraseKey struct {
	lang   string
	phrase string
	action CommandAction
}

func phraseSet(vocab []LanguageVocabulary) map[phraseKey]bool {
	set := make(map[phraseKey]bool)
	for _, v := range vocab {
		for _, c := range v.Commands {
			set[phraseKey{v.Language, c.Phrase, c.Action}] = true
		}
	}
	return set
}

func sameBackend(a, b BackendConfig) bool {
	return a.Enabled == b.Enabled &&
		a.UserAgent == b.UserAgent &&
		a.FetchTimeout == b.FetchTimeout &&
		a.AllowPrivateHosts == b.AllowPrivateHosts &&
		a.RateLimit == b.RateLimit &&
		a.Breaker == b.Breaker &&
		a.LLM.Name == b.LLM.Name &&
		a.LLM.Model == b.LLM.Model &&
		a.LLM.BaseURL == b.LLM.BaseURL &&
		a.LLM.APIKey == b.LLM.APIKey &&
		len(a.Fallbacks) == len(b.Fallbacks)
}

// sameClientSettings compares the scalar client settings; the vocabulary is
// handled separately.
func sameClientSettings(a, b ClientConfig) bool {
	return a.BackendURL == b.BackendURL &&
		a.DefaultLanguage == b.DefaultLanguage &&
		a.SynthesisLanguage == b.SynthesisLanguage &&
		a.InactivityTimeout == b.InactivityTimeout &&
		a.RestartDelay == b.RestartDelay &&
		a.ScrollStep == b.ScrollStep &&
		a.TranslationEnabled() == b.TranslationEnabled() &&
		a.FuzzyThreshold == b.FuzzyThreshold
}
