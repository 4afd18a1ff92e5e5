package api

// Wire records, one per endpoint. Required fields are checked by the
// Validate methods; unknown fields are ignored by the decoder.

// TokenResponse is the OAuth-style token exchange response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	AccountID    string `json:"account_id"`
	ProfileID    string `json:"profile_id"`
	Country      string `json:"country"`
	Scope        string `json:"scope"`
}

// Validate checks the fields the session cannot proceed without
func (t *TokenResponse) Validate() error {
	if t.AccessToken == "" {
		return &DecodeError{Endpoint: "token", Field: "access_token"}
	}
	if t.TokenType == "" {
		return &DecodeError{Endpoint: "token", Field: "token_type"}
	}
	return nil
}

// DeviceCode is the device-activation issuance response. A new instance
// replaces the old one on retry; codes are never mutated in place.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

// IndexResponse carries the CMS signing parameters that authorize content
// access alongside the bearer token
type IndexResponse struct {
	CMS struct {
		Bucket    string `json:"bucket"`
		Policy    string `json:"policy"`
		Signature string `json:"signature"`
		KeyPairID string `json:"key_pair_id"`
		Expires   string `json:"expires"`
	} `json:"cms"`
}

// ProfileResponse is the account profile endpoint payload
type ProfileResponse struct {
	ProfileID        string `json:"profile_id"`
	ProfileName      string `json:"profile_name"`
	Username         string `json:"username"`
	Avatar           string `json:"avatar"`
	AudioLanguage    string `json:"preferred_content_audio_language"`
	SubtitleLanguage string `json:"preferred_content_subtitle_language"`
}

// MultiProfileResponse lists the account's profiles
type MultiProfileResponse struct {
	Total    int               `json:"total"`
	Profiles []ProfileResponse `json:"profiles"`
}

// StreamRendition is one playable URL variant
type StreamRendition struct {
	URL string `json:"url"`
}

// SubtitleEntry is one downloadable subtitle track
type SubtitleEntry struct {
	Locale string `json:"locale"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// StreamManifest is the play-service response for a stream id. URL is the
// multi-track rendition embedding soft subtitles; HardSubs maps locale to a
// hard-subtitled rendition, with "" as the unlocalized one.
type StreamManifest struct {
	URL         string                     `json:"url"`
	AudioLocale string                     `json:"audioLocale"`
	Token       string                     `json:"token"`
	HardSubs    map[string]StreamRendition `json:"hardSubs"`
	Subtitles   map[string]SubtitleEntry   `json:"subtitles"`
}

// Validate checks that the manifest is playable at all
func (m *StreamManifest) Validate() error {
	if m.URL == "" && len(m.HardSubs) == 0 {
		return &DecodeError{Endpoint: "play", Field: "url"}
	}
	return nil
}

// SkipInterval is a named time interval within a video. Start and End are
// pointers because the upstream payload routinely omits one of them, and a
// half-open interval must be dropped rather than defaulted to zero.
type SkipInterval struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// SkipEventsPayload is the primary skip-events response
type SkipEventsPayload struct {
	Intro   *SkipInterval `json:"intro"`
	Credits *SkipInterval `json:"credits"`
	Preview *SkipInterval `json:"preview"`
	Recap   *SkipInterval `json:"recap"`
}

// IntroV2Payload is the legacy intro-marker response used as fallback when
// the skip-events endpoint fails entirely
type IntroV2Payload struct {
	StartTime *float64 `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
}

// Playhead is one resume position entry
type Playhead struct {
	ContentID    string  `json:"content_id"`
	Playhead     float64 `json:"playhead"`
	FullyWatched bool    `json:"fully_watched"`
}

// PlayheadsResponse is the playheads batch lookup response
type PlayheadsResponse struct {
	Total int        `json:"total"`
	Data  []Playhead `json:"data"`
}

// EpisodeMetadata is the episode-specific slice of an object item
type EpisodeMetadata struct {
	SeriesID      string `json:"series_id"`
	SeriesTitle   string `json:"series_title"`
	SeasonID      string `json:"season_id"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	DurationMS    int64  `json:"duration_ms"`
}

// ObjectItem is one entry of the batch metadata endpoint
type ObjectItem struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	EpisodeMetadata *EpisodeMetadata `json:"episode_metadata"`
}

// ObjectsResponse is the batch metadata response
type ObjectsResponse struct {
	Total int          `json:"total"`
	Data  []ObjectItem `json:"data"`
}

// UpNextItem is the next-episode candidate
type UpNextItem struct {
	Playhead     float64    `json:"playhead"`
	FullyWatched bool       `json:"fully_watched"`
	NeverWatched bool       `json:"never_watched"`
	Panel        ObjectItem `json:"panel"`
}

// UpNextResponse is the next-episode lookup response
type UpNextResponse struct {
	Total int          `json:"total"`
	Data  []UpNextItem `json:"data"`
}

// TextPayload wraps non-JSON text bodies (e.g. fetched subtitle files) that
// the gateway normalizes into a single-field payload
type TextPayload struct {
	Data string `json:"data"`
}
