package player

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/config"
	"github.com/streamgate-dev/streamgate/internal/resolve"
	"github.com/streamgate-dev/streamgate/internal/session"
)

const (
	tickInterval = time.Second

	// syncThreshold is how far the playhead must move before the position
	// is pushed upstream again.
	syncThreshold = 10

	// maxSkipWindow caps how long a skip prompt stays actionable, so a
	// prompt over a long credits interval does not linger for minutes.
	maxSkipWindow = 10
)

// Position reports the host player's current position in seconds and
// whether playback is active.
type Position func() (float64, bool)

// Session tracks one playback of a resolved descriptor: it consumes skip
// events, surfaces the up-next prompt at the computed marker, pushes the
// playhead upstream, and releases the active stream on stop.
type Session struct {
	sess *session.Session
	eps  api.Endpoints
	desc *resolve.Descriptor
	cfg  config.Playback

	// Host UI contract; both optional. OnSkipPrompt receives the category
	// and the position the prompt stays actionable until.
	OnSkipPrompt func(category string, interval resolve.Interval, until float64)
	OnUpNext     func(next *resolve.NextEpisode)

	mu          sync.Mutex
	pending     map[string]resolve.Interval
	upNextFired bool
	lastSync    float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a playback session for a descriptor
func New(sess *session.Session, eps api.Endpoints, desc *resolve.Descriptor, cfg config.Playback) *Session {
	pending := make(map[string]resolve.Interval, len(desc.Skips))
	for category, iv := range desc.Skips {
		pending[category] = iv
	}
	return &Session{
		sess:     sess,
		eps:      eps,
		desc:     desc,
		cfg:      cfg,
		pending:  pending,
		lastSync: desc.Playhead,
	}
}

// Start begins the tick loop polling the host player's position
func (s *Session) Start(ctx context.Context, position Position) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pos, playing := position()
				if !playing {
					continue
				}
				s.tick(ctx, pos)
			}
		}
	}()
}

// Stop ends the session: the tick loop exits, the final playhead is pushed,
// and the active stream slot is released so the account does not run into
// the concurrent-stream limit.
func (s *Session) Stop(pos float64) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if pos > 0 {
		s.syncPlayhead(ctx, pos)
	}
	s.releaseStream(ctx)
}

func (s *Session) tick(ctx context.Context, pos float64) {
	s.mu.Lock()

	var firedSkip string
	var firedInterval resolve.Interval
	for category, iv := range s.pending {
		if pos >= iv.Start && pos < iv.End {
			firedSkip = category
			firedInterval = iv
			// Each event fires at most once per playback.
			delete(s.pending, category)
			break
		}
	}

	fireUpNext := false
	marker := s.desc.EndMarker
	if marker.Mode != resolve.MarkerOff && !s.upNextFired && pos >= marker.At {
		s.upNextFired = true
		fireUpNext = true
	}

	needSync := s.cfg.SyncPlaytime && pos-s.lastSync >= syncThreshold
	if needSync {
		s.lastSync = pos
	}

	s.mu.Unlock()

	if firedSkip != "" && s.OnSkipPrompt != nil {
		until := firedInterval.Start + maxSkipWindow
		if firedInterval.End < until {
			until = firedInterval.End
		}
		s.OnSkipPrompt(firedSkip, firedInterval, until)
	}
	if fireUpNext && s.OnUpNext != nil {
		s.OnUpNext(s.desc.Next)
	}
	if needSync {
		s.syncPlayhead(ctx, pos)
	}
}

// syncPlayhead pushes the resume position upstream. Failures are logged
// only; a lost sync never interrupts playback.
func (s *Session) syncPlayhead(ctx context.Context, pos float64) {
	creds := s.sess.Credentials()
	if creds == nil {
		return
	}

	_, err := s.sess.Request(ctx, http.MethodPost, fmt.Sprintf(s.eps.Playheads, creds.AccountID), &session.RequestOptions{
		JSON: map[string]any{
			"content_id": s.desc.StreamID,
			"playhead":   int64(pos),
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("stream_id", s.desc.StreamID).Msg("Failed to sync playhead")
		return
	}
	log.Debug().Str("stream_id", s.desc.StreamID).Float64("playhead", pos).Msg("Synced playhead")
}

// releaseStream frees the active-stream slot held by the video token
func (s *Session) releaseStream(ctx context.Context) {
	if s.desc.Token == "" {
		return
	}

	_, err := s.sess.Request(ctx, http.MethodDelete, fmt.Sprintf(s.eps.ClearStream, s.desc.StreamID, s.desc.Token), nil)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", s.desc.StreamID).Msg("Failed to release active stream")
		return
	}
	log.Debug().Str("stream_id", s.desc.StreamID).Msg("Released active stream")
}
