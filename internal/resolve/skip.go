package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/streamgate-dev/streamgate/internal/api"
)

// fetchSkipEvents collects the named skip intervals for a content id.
// The primary endpoint returns the full category map; when that call fails
// entirely the legacy intro endpoint is tried and its single pair becomes
// the intro category. Categories missing either bound are dropped.
func (r *Resolver) fetchSkipEvents(ctx context.Context, contentID string) map[string]Interval {
	out := map[string]Interval{}

	body, err := r.sess.RequestUnauthenticated(ctx, http.MethodGet, fmt.Sprintf(r.eps.SkipEvents, contentID), nil)
	if err == nil {
		var payload api.SkipEventsPayload
		if jsonErr := json.Unmarshal(body, &payload); jsonErr == nil {
			putInterval(out, "intro", payload.Intro)
			putInterval(out, "credits", payload.Credits)
			putInterval(out, "preview", payload.Preview)
			putInterval(out, "recap", payload.Recap)
			return out
		}
		err = &api.DecodeError{Endpoint: "skip events", Field: "body"}
	}

	log.Debug().Err(err).Str("content_id", contentID).Msg("Skip events unavailable, trying legacy intro endpoint")

	body, err = r.sess.RequestUnauthenticated(ctx, http.MethodGet, fmt.Sprintf(r.eps.IntroV2, contentID), nil)
	if err != nil {
		log.Debug().Err(err).Str("content_id", contentID).Msg("Legacy intro endpoint unavailable")
		return out
	}

	var legacy api.IntroV2Payload
	if err := json.Unmarshal(body, &legacy); err == nil && legacy.StartTime != nil && legacy.EndTime != nil {
		out["intro"] = Interval{Start: *legacy.StartTime, End: *legacy.EndTime}
	}
	return out
}

func putInterval(out map[string]Interval, name string, iv *api.SkipInterval) {
	if iv == nil || iv.Start == nil || iv.End == nil {
		return
	}
	out[name] = Interval{Start: *iv.Start, End: *iv.End}
}

// stripDisabled removes categories the configuration turned off. Categories
// without a setting are kept.
func stripDisabled(skips map[string]Interval, enabled map[string]bool) {
	for category := range skips {
		if allow, configured := enabled[category]; configured && !allow {
			delete(skips, category)
		}
	}
}
