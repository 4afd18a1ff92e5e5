package player

import (
	"context"
	"testing"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/config"
	"github.com/streamgate-dev/streamgate/internal/resolve"
)

func newTestSession(desc *resolve.Descriptor) *Session {
	return New(nil, api.Endpoints{}, desc, config.Playback{SyncPlaytime: false})
}

func TestTick_SkipPromptFiresOnce(t *testing.T) {
	desc := &resolve.Descriptor{
		StreamID: "EP1",
		Skips: map[string]resolve.Interval{
			"intro": {Start: 10, End: 90},
		},
	}
	s := newTestSession(desc)

	type prompt struct {
		category string
		until    float64
	}
	var prompts []prompt
	s.OnSkipPrompt = func(category string, iv resolve.Interval, until float64) {
		prompts = append(prompts, prompt{category, until})
	}

	ctx := context.Background()
	s.tick(ctx, 5)
	if len(prompts) != 0 {
		t.Fatalf("prompt fired before the interval: %+v", prompts)
	}

	s.tick(ctx, 15)
	if len(prompts) != 1 || prompts[0].category != "intro" {
		t.Fatalf("expected one intro prompt, got %+v", prompts)
	}
	// Window capped well below the 80s interval
	if prompts[0].until != 20 {
		t.Fatalf("expected prompt window to close at 20, got %v", prompts[0].until)
	}

	s.tick(ctx, 16)
	s.tick(ctx, 50)
	if len(prompts) != 1 {
		t.Fatalf("skip prompt fired more than once: %+v", prompts)
	}
}

func TestTick_ShortIntervalWindow(t *testing.T) {
	desc := &resolve.Descriptor{
		StreamID: "EP1",
		Skips: map[string]resolve.Interval{
			"recap": {Start: 100, End: 105},
		},
	}
	s := newTestSession(desc)

	var until float64
	s.OnSkipPrompt = func(category string, iv resolve.Interval, u float64) { until = u }

	s.tick(context.Background(), 101)
	if until != 105 {
		t.Fatalf("expected window to end with the interval at 105, got %v", until)
	}
}

func TestTick_UpNextFiresAtMarkerOnce(t *testing.T) {
	desc := &resolve.Descriptor{
		StreamID:  "EP1",
		EndMarker: resolve.EndMarker{Mode: resolve.MarkerCredits, At: 1400},
		Next:      &resolve.NextEpisode{ID: "EP2"},
	}
	s := newTestSession(desc)

	var fired int
	s.OnUpNext = func(next *resolve.NextEpisode) {
		fired++
		if next == nil || next.ID != "EP2" {
			t.Errorf("unexpected next episode: %+v", next)
		}
	}

	ctx := context.Background()
	s.tick(ctx, 1399)
	if fired != 0 {
		t.Fatal("up-next fired before the marker")
	}
	s.tick(ctx, 1400)
	s.tick(ctx, 1401)
	s.tick(ctx, 1430)
	if fired != 1 {
		t.Fatalf("expected exactly one up-next prompt, got %d", fired)
	}
}

func TestTick_MarkerOffNeverFires(t *testing.T) {
	desc := &resolve.Descriptor{
		StreamID:  "EP1",
		EndMarker: resolve.EndMarker{Mode: resolve.MarkerOff},
	}
	s := newTestSession(desc)

	s.OnUpNext = func(next *resolve.NextEpisode) {
		t.Error("up-next fired with marker off")
	}
	s.tick(context.Background(), 5000)
}
