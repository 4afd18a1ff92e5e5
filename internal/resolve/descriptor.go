package resolve

// Interval is a resolved skip interval in seconds. Both bounds are always
// present; half-open intervals are dropped during fetch.
type Interval struct {
	Start float64
	End   float64
}

// SubtitleTrack is one subtitle track of the descriptor. URL is the remote
// URL, or a local file path once the cache has materialized it.
type SubtitleTrack struct {
	Locale string
	URL    string
	Format string
}

// License carries the DRM license endpoint and the headers the player must
// present to it.
type License struct {
	URL     string
	Headers map[string]string
}

// MarkerMode says which rule produced the end-of-episode marker
type MarkerMode string

const (
	MarkerOff     MarkerMode = "off"
	MarkerFixed   MarkerMode = "fixed"
	MarkerPreview MarkerMode = "preview"
	MarkerCredits MarkerMode = "credits"
)

// EndMarker is the computed point where the up-next prompt surfaces.
// At is meaningless when Mode is MarkerOff.
type EndMarker struct {
	Mode MarkerMode
	At   float64
}

// NextEpisode is the up-next candidate attached to a descriptor
type NextEpisode struct {
	ID            string
	Title         string
	SeriesTitle   string
	SeasonNumber  int
	EpisodeNumber int
	FullyWatched  bool
	NeverWatched  bool
}

// Descriptor is the playback descriptor the orchestrator hands to the
// playback session. Built once per playback request and immutable after
// construction; the requesting session owns it.
type Descriptor struct {
	StreamID    string
	URL         string
	AudioLocale string

	// Token is the video token the play service issued; the license request
	// and the stream release both present it.
	Token string

	Subtitles []SubtitleTrack
	License   *License

	// Skips maps category name (intro, credits, preview, recap) to its
	// interval, with disabled and half-open categories already stripped.
	Skips map[string]Interval

	// Playhead is the resume position in seconds; zero for a fresh or
	// fully watched episode.
	Playhead     float64
	FullyWatched bool

	// Duration in seconds, from the episode metadata; zero when the
	// metadata fetch failed.
	Duration float64

	EndMarker EndMarker
	Next      *NextEpisode

	Title       string
	SeriesTitle string
}
