package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/config"
	"github.com/streamgate-dev/streamgate/internal/database"
	"github.com/streamgate-dev/streamgate/internal/session"
)

// SubtitleCache materializes a remote subtitle track as a local file and
// returns its path.
type SubtitleCache interface {
	Fetch(ctx context.Context, streamID string, track SubtitleTrack) (string, error)
}

// ProxyRewriter rewrites a protected stream URL to route through the local
// bypass proxy, starting or extending the listener as needed.
type ProxyRewriter interface {
	Rewrite(rawurl string) (string, error)
}

// Resolver turns a stream id into a playback descriptor. It fans out the
// five resolution fetches, joins on all of them, and assembles the
// descriptor from whatever settled successfully; only the manifest fetch is
// fatal.
type Resolver struct {
	sess   *session.Session
	eps    api.Endpoints
	loader *config.Loader

	// subs and proxy are optional collaborators; nil disables the
	// corresponding step.
	subs  SubtitleCache
	proxy ProxyRewriter
}

// New creates a resolver. subs and proxy may be nil.
func New(sess *session.Session, eps api.Endpoints, loader *config.Loader, subs SubtitleCache, proxy ProxyRewriter) *Resolver {
	return &Resolver{
		sess:   sess,
		eps:    eps,
		loader: loader,
		subs:   subs,
		proxy:  proxy,
	}
}

// Resolve builds the playback descriptor for a stream. seriesID may be
// empty; it only widens the metadata fetch. The descriptor is complete or
// the call fails with ResolutionError; no partial descriptor is returned.
func (r *Resolver) Resolve(ctx context.Context, streamID, seriesID string) (*Descriptor, error) {
	creds := r.sess.Credentials()
	if creds == nil {
		return nil, &api.AuthError{Message: "not authenticated"}
	}

	// Snapshot the settings once so a change mid-resolution cannot produce
	// a mixed descriptor.
	pb := playbackSnapshot(r.loader, creds)

	var (
		manifest  api.StreamManifest
		skips     map[string]Interval
		playheads map[string]api.Playhead
		objects   map[string]api.ObjectItem
		next      *api.UpNextItem
	)

	// Five independent fetches under one scope. Only the manifest closure
	// returns an error: without a manifest there is nothing to play, and
	// cancelling the rest is what failing resolution means anyway. The
	// others degrade to empty results and log.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := r.sess.Request(gctx, http.MethodGet, fmt.Sprintf(r.eps.Play, streamID), nil)
		if err != nil {
			return &api.ResolutionError{StreamID: streamID, Err: err}
		}
		if err := json.Unmarshal(body, &manifest); err != nil {
			return &api.ResolutionError{StreamID: streamID, Err: &api.DecodeError{Endpoint: "play", Field: "body"}}
		}
		if err := manifest.Validate(); err != nil {
			return &api.ResolutionError{StreamID: streamID, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		skips = r.fetchSkipEvents(gctx, streamID)
		return nil
	})
	g.Go(func() error {
		playheads = r.fetchPlayheads(gctx, creds.AccountID, streamID)
		return nil
	})
	g.Go(func() error {
		objects = r.fetchObjects(gctx, streamID, seriesID)
		return nil
	})
	g.Go(func() error {
		next = r.fetchUpNext(gctx, streamID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stripDisabled(skips, pb.EnabledSkips)

	audioLocale := manifest.AudioLocale
	if audioLocale == "" {
		audioLocale = pb.AudioLocale
	}

	desc := &Descriptor{
		StreamID:    streamID,
		URL:         r.selectStreamURL(&manifest, pb, creds),
		AudioLocale: audioLocale,
		Token:       manifest.Token,
		Skips:       skips,
		License: &License{
			URL: r.eps.License,
			Headers: map[string]string{
				"Authorization":    creds.TokenType + " " + creds.AccessToken,
				"Content-Type":     "application/octet-stream",
				"x-cr-content-id":  streamID,
				"x-cr-video-token": manifest.Token,
			},
		},
	}

	if pb.SoftSubtitles {
		desc.Subtitles = r.collectSubtitles(ctx, streamID, &manifest, pb)
	}

	if ph, ok := playheads[streamID]; ok {
		desc.FullyWatched = ph.FullyWatched
		if !ph.FullyWatched {
			desc.Playhead = ph.Playhead
		}
	}

	if item, ok := objects[streamID]; ok {
		desc.Title = item.Title
		if item.EpisodeMetadata != nil {
			desc.SeriesTitle = item.EpisodeMetadata.SeriesTitle
			desc.Duration = float64(item.EpisodeMetadata.DurationMS) / 1000
		}
	}

	if next != nil {
		desc.Next = &NextEpisode{
			ID:           next.Panel.ID,
			Title:        next.Panel.Title,
			FullyWatched: next.FullyWatched,
			NeverWatched: next.NeverWatched,
		}
		if md := next.Panel.EpisodeMetadata; md != nil {
			desc.Next.SeriesTitle = md.SeriesTitle
			desc.Next.SeasonNumber = md.SeasonNumber
			desc.Next.EpisodeNumber = md.EpisodeNumber
		}
	}

	desc.EndMarker = computeEndMarker(pb.UpNextMode, pb.UpNextLeadSeconds, desc.Duration, skips, desc.Next != nil)

	log.Debug().
		Str("stream_id", streamID).
		Str("marker", string(desc.EndMarker.Mode)).
		Int("subtitles", len(desc.Subtitles)).
		Int("skips", len(desc.Skips)).
		Msg("Resolved playback descriptor")

	return desc, nil
}

// playbackSnapshot merges the settings snapshot with the account's
// persisted preferences: an explicit setting wins, the profile preference
// fills the gap, and the platform defaults close the chain.
func playbackSnapshot(loader *config.Loader, creds *database.AccountRecord) config.Playback {
	pb := config.LoadPlayback(loader)
	if pb.AudioLocale == "" {
		pb.AudioLocale = creds.AudioLocale
	}
	if pb.AudioLocale == "" {
		pb.AudioLocale = "ja-JP"
	}
	if pb.SubtitleLocale == "" {
		pb.SubtitleLocale = creds.SubtitleLocale
	}
	if pb.SubtitleLocale == "" {
		pb.SubtitleLocale = "en-US"
	}
	if pb.SubtitleFallback == "" {
		pb.SubtitleFallback = creds.SubtitleFallback
	}
	return pb
}

// selectStreamURL picks the rendition per the subtitle mode. Hard-sub mode
// walks preferred locale, fallback locale, then the unlocalized rendition;
// soft-sub mode uses the multi-track rendition. A device-class session on a
// protected host gets the URL rewritten through the local bypass proxy.
func (r *Resolver) selectStreamURL(manifest *api.StreamManifest, pb config.Playback, creds *database.AccountRecord) string {
	streamURL := manifest.URL
	if !pb.SoftSubtitles {
		for _, locale := range []string{pb.SubtitleLocale, pb.SubtitleFallback, ""} {
			if rendition, ok := manifest.HardSubs[locale]; ok && rendition.URL != "" {
				streamURL = rendition.URL
				break
			}
		}
	}

	if r.proxy != nil && api.AgentClass(creds.AgentClass) == api.AgentDevice && r.eps.IsProtectedHost(streamURL) {
		rewritten, err := r.proxy.Rewrite(streamURL)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to route stream through bypass proxy")
		} else {
			streamURL = rewritten
		}
	}

	return streamURL
}

func (r *Resolver) collectSubtitles(ctx context.Context, streamID string, manifest *api.StreamManifest, pb config.Playback) []SubtitleTrack {
	var tracks []SubtitleTrack
	seen := map[string]bool{}
	for _, locale := range []string{pb.SubtitleLocale, pb.SubtitleFallback} {
		if locale == "" || seen[locale] {
			continue
		}
		seen[locale] = true

		entry, ok := manifest.Subtitles[locale]
		if !ok || entry.URL == "" {
			continue
		}

		track := SubtitleTrack{Locale: locale, URL: entry.URL, Format: entry.Format}
		if r.subs != nil {
			path, err := r.subs.Fetch(ctx, streamID, track)
			if err != nil {
				log.Warn().Err(err).Str("locale", locale).Msg("Failed to cache subtitle track")
			} else {
				track.URL = path
			}
		}
		tracks = append(tracks, track)
	}
	return tracks
}

func (r *Resolver) fetchPlayheads(ctx context.Context, accountID, streamID string) map[string]api.Playhead {
	body, err := r.sess.Request(ctx, http.MethodGet, fmt.Sprintf(r.eps.Playheads, accountID), &session.RequestOptions{
		Params: url.Values{"content_ids": {streamID}},
	})
	if err != nil {
		log.Debug().Err(err).Msg("Playhead fetch failed")
		return nil
	}

	var resp api.PlayheadsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Debug().Err(err).Msg("Playhead response malformed")
		return nil
	}

	out := make(map[string]api.Playhead, len(resp.Data))
	for _, ph := range resp.Data {
		out[ph.ContentID] = ph
	}
	return out
}

func (r *Resolver) fetchObjects(ctx context.Context, ids ...string) map[string]api.ObjectItem {
	var keep []string
	for _, id := range ids {
		if id != "" {
			keep = append(keep, id)
		}
	}
	if len(keep) == 0 {
		return nil
	}

	body, err := r.sess.Request(ctx, http.MethodGet, fmt.Sprintf(r.eps.Objects, strings.Join(keep, ",")), nil)
	if err != nil {
		log.Debug().Err(err).Msg("Object metadata fetch failed")
		return nil
	}

	var resp api.ObjectsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Debug().Err(err).Msg("Object metadata response malformed")
		return nil
	}

	out := make(map[string]api.ObjectItem, len(resp.Data))
	for _, item := range resp.Data {
		out[item.ID] = item
	}
	return out
}

func (r *Resolver) fetchUpNext(ctx context.Context, streamID string) *api.UpNextItem {
	body, err := r.sess.Request(ctx, http.MethodGet, fmt.Sprintf(r.eps.UpNext, streamID), nil)
	if err != nil {
		log.Debug().Err(err).Msg("Up-next fetch failed")
		return nil
	}

	var resp api.UpNextResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return nil
	}
	return &resp.Data[0]
}

// History returns the account's most recently watched items, newest first
func (r *Resolver) History(ctx context.Context, pageSize int) ([]api.ObjectItem, error) {
	creds := r.sess.Credentials()
	if creds == nil {
		return nil, &api.AuthError{Message: "not authenticated"}
	}

	body, err := r.sess.Request(ctx, http.MethodGet, fmt.Sprintf(r.eps.History, creds.AccountID), &session.RequestOptions{
		Params: url.Values{"page_size": {fmt.Sprint(pageSize)}},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Panel api.ObjectItem `json:"panel"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &api.DecodeError{Endpoint: "history", Field: "body"}
	}

	items := make([]api.ObjectItem, 0, len(resp.Data))
	for _, entry := range resp.Data {
		items = append(items, entry.Panel)
	}
	return items, nil
}
