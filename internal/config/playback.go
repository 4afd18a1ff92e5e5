package config

// Up-next marker modes. "credits" prefers the start of the credits interval
// when credits run straight into the preview, "preview" always targets the
// preview start, "fixed" uses a fixed lead before the end, "disabled" turns
// the prompt off entirely.
const (
	UpNextDisabled = "disabled"
	UpNextFixed    = "fixed"
	UpNextCredits  = "credits"
	UpNextPreview  = "preview"
)

// Playback is a point-in-time snapshot of the settings the resolver and the
// playback session consult. Snapshotted once per playback request so a
// settings change mid-resolution cannot produce a mixed descriptor.
type Playback struct {
	AudioLocale      string
	SubtitleLocale   string
	SubtitleFallback string
	SoftSubtitles    bool

	// EnabledSkips maps skip category name (intro, credits, preview) to
	// whether the category may surface a prompt.
	EnabledSkips map[string]bool

	UpNextMode string
	// UpNextLeadSeconds is the fixed lead F before the end of the episode
	// used by the "fixed" marker mode.
	UpNextLeadSeconds float64

	SyncPlaytime bool
}

// LoadPlayback reads the playback settings snapshot. The locale fields stay
// empty when no setting overrides them; the resolver fills them from the
// account's persisted profile preferences.
func LoadPlayback(l *Loader) Playback {
	return Playback{
		AudioLocale:      l.String("playback.audio_locale", ""),
		SubtitleLocale:   l.String("playback.subtitle_locale", ""),
		SubtitleFallback: l.String("playback.subtitle_fallback", ""),
		SoftSubtitles:    l.Bool("playback.soft_subtitles", true),
		EnabledSkips: map[string]bool{
			"intro":   l.BoolDefaultTrue("playback.skip_intro"),
			"credits": l.BoolDefaultTrue("playback.skip_credits"),
			"preview": l.BoolDefaultTrue("playback.skip_preview"),
		},
		UpNextMode:        l.String("upnext.mode", UpNextCredits),
		UpNextLeadSeconds: l.Float64("upnext.lead_seconds", 15),
		SyncPlaytime:      l.BoolDefaultTrue("playback.sync_playtime"),
	}
}
