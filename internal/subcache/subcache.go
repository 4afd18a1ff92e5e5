package subcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/database"
	"github.com/streamgate-dev/streamgate/internal/resolve"
	"github.com/streamgate-dev/streamgate/internal/session"
)

// DefaultTTL is how long cached subtitle files live without being refetched
const DefaultTTL = 7 * 24 * time.Hour

// localeNames maps subtitle locales to the display label embedded in the
// cached file name, which is how most players derive the track language.
var localeNames = map[string]string{
	"en-US": "English",
	"en-GB": "English",
	"es-ES": "Spanish",
	"es-LA": "Spanish",
	"es-419": "Spanish",
	"pt-BR": "Portuguese",
	"pt-PT": "Portuguese",
	"fr-FR": "French",
	"de-DE": "German",
	"it-IT": "Italian",
	"ru-RU": "Russian",
	"ar-SA": "Arabic",
	"ja-JP": "Japanese",
	"ko-KR": "Korean",
	"zh-CN": "Chinese",
	"hi-IN": "Hindi",
}

// Cache materializes remote subtitle tracks under a per-stream directory
// and prunes entries older than the TTL on an hourly schedule. It
// implements resolve.SubtitleCache.
type Cache struct {
	sess *session.Session
	db   *database.DB
	dir  string
	ttl  time.Duration
	cron *cron.Cron
}

// New creates a subtitle cache rooted at dir (DefaultTTL when ttl is zero)
func New(sess *session.Session, db *database.DB, dir string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		sess: sess,
		db:   db,
		dir:  dir,
		ttl:  ttl,
	}
}

// Fetch downloads a subtitle track into the cache, or reuses the cached
// file, and returns its local path.
func (c *Cache) Fetch(ctx context.Context, streamID string, track resolve.SubtitleTrack) (string, error) {
	fileName := cacheFileName(track)
	path := filepath.Join(c.dir, streamID, fileName)

	if _, err := os.Stat(path); err == nil {
		if err := c.db.RecordSubtitle(streamID, fileName); err != nil {
			log.Warn().Err(err).Msg("Failed to refresh subtitle cache index")
		}
		return path, nil
	}

	body, err := c.sess.RequestUnauthenticated(ctx, http.MethodGet, track.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch subtitle %s: %w", track.Locale, err)
	}

	// Subtitle endpoints answer text/plain, which the response decoder
	// wraps into a single-field payload.
	content := body
	var wrapped api.TextPayload
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != "" {
		content = []byte(wrapped.Data)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create subtitle cache dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write subtitle file: %w", err)
	}
	if err := c.db.RecordSubtitle(streamID, fileName); err != nil {
		log.Warn().Err(err).Msg("Failed to record subtitle in cache index")
	}

	log.Debug().Str("stream_id", streamID).Str("file", fileName).Msg("Cached subtitle track")
	return path, nil
}

// Start schedules the hourly prune job
func (c *Cache) Start() error {
	if c.cron != nil {
		return nil
	}
	c.cron = cron.New()
	if _, err := c.cron.AddFunc("@hourly", c.prune); err != nil {
		return fmt.Errorf("failed to schedule subtitle prune job: %w", err)
	}
	c.cron.Start()
	log.Info().Str("dir", c.dir).Dur("ttl", c.ttl).Msg("Started subtitle cache")
	return nil
}

// Stop cancels the prune schedule and waits for a running job to finish
func (c *Cache) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
	log.Info().Msg("Stopped subtitle cache")
}

// prune removes every stream directory whose newest cached file is older
// than the TTL, index rows included.
func (c *Cache) prune() {
	cutoff := time.Now().Add(-c.ttl)
	ids, err := c.db.StaleSubtitleStreams(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query stale subtitle entries")
		return
	}

	for _, id := range ids {
		if err := os.RemoveAll(filepath.Join(c.dir, id)); err != nil {
			log.Warn().Err(err).Str("stream_id", id).Msg("Failed to remove subtitle cache dir")
			continue
		}
		if err := c.db.DeleteSubtitleStream(id); err != nil {
			log.Warn().Err(err).Str("stream_id", id).Msg("Failed to remove subtitle cache index rows")
		}
	}

	if len(ids) > 0 {
		log.Info().Int("streams", len(ids)).Msg("Pruned stale subtitle cache entries")
	}
}

// cacheFileName builds "<Label>.<iso>.<format>", the layout players parse
// the track language from.
func cacheFileName(track resolve.SubtitleTrack) string {
	label, ok := localeNames[track.Locale]
	if !ok {
		label = track.Locale
	}

	iso := track.Locale
	if idx := strings.Index(iso, "-"); idx > 0 {
		iso = iso[:idx]
	}

	format := track.Format
	if format == "" {
		format = "ass"
	}

	return fmt.Sprintf("%s.%s.%s", label, iso, format)
}
