package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// server changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriptChanged is true when the rolling window tuning changed.
	TranscriptChanged bool
	NewTranscript     TranscriptConfig

	// ProfileChanged is true when the resume or job description paths
	// changed; the candidate profile should be rebuilt.
	ProfileChanged bool
}

// Changed reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TranscriptChanged || d.ProfileChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Transcript.MaxLen != new.Transcript.MaxLen ||
		!slices.Equal(old.Transcript.Vocabulary, new.Transcript.Vocabulary) {
		d.TranscriptChanged = true
		d.NewTranscript = new.Transcript
	}

	if old.Profile != new.Profile {
		d.ProfileChanged = true
	}

	return d
}
