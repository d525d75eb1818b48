package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider,
// persistence, and audio device changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PromptsChanged is true when either system prompt or a sampling
	// parameter changed; the orchestrator picks these up on the next turn.
	PromptsChanged bool

	// SegmentationChanged is true when any utterance boundary tunable
	// changed; applied the next time capture starts.
	SegmentationChanged bool

	// MeterChanged is true when any level display tunable changed.
	MeterChanged bool
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PromptsChanged || d.SegmentationChanged || d.MeterChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Conversation != new.Conversation {
		d.PromptsChanged = true
	}
	if old.Segmentation != new.Segmentation {
		d.SegmentationChanged = true
	}
	if old.Meter != new.Meter {
		d.MeterChanged = true
	}

	return d
}
