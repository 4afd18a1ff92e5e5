package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/session"
	"github.com/streamgate-dev/streamgate/internal/transport"
)

func newSkipResolver(t *testing.T, handler http.Handler) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	eps := api.Endpoints{
		SkipEvents: srv.URL + "/skip/%s.json",
		IntroV2:    srv.URL + "/intro/%s.json",
	}
	sess := session.New(nil, transport.NewDirect(0), transport.NewDirect(0), eps)
	return New(sess, eps, nil, nil, nil)
}

func TestFetchSkipEvents_DropsHalfOpenIntervals(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/skip/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"intro":   {"start": 30, "end": 120},
			"credits": {"start": 1400},
			"preview": {"end": 1440}
		}`))
	})

	r := newSkipResolver(t, mux)
	skips := r.fetchSkipEvents(context.Background(), "EP1")

	if len(skips) != 1 {
		t.Fatalf("expected only the complete interval, got %v", skips)
	}
	if iv, ok := skips["intro"]; !ok || iv.Start != 30 || iv.End != 120 {
		t.Fatalf("unexpected intro interval: %v", skips)
	}
}

func TestFetchSkipEvents_LegacyFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/skip/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	})
	mux.HandleFunc("/intro/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"startTime": 45, "endTime": 135}`))
	})

	r := newSkipResolver(t, mux)
	skips := r.fetchSkipEvents(context.Background(), "EP1")

	if len(skips) != 1 {
		t.Fatalf("expected one interval from the legacy endpoint, got %v", skips)
	}
	if iv := skips["intro"]; iv.Start != 45 || iv.End != 135 {
		t.Fatalf("unexpected intro interval: %v", iv)
	}
}

func TestFetchSkipEvents_BothEndpointsDown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	})

	r := newSkipResolver(t, mux)
	skips := r.fetchSkipEvents(context.Background(), "EP1")
	if len(skips) != 0 {
		t.Fatalf("expected empty map, got %v", skips)
	}
}

func TestStripDisabled(t *testing.T) {
	skips := map[string]Interval{
		"intro":   {30, 120},
		"credits": {1400, 1422},
		"recap":   {0, 25},
	}
	stripDisabled(skips, map[string]bool{
		"intro":   false,
		"credits": true,
		"preview": true,
	})

	if _, ok := skips["intro"]; ok {
		t.Fatal("disabled intro category should be removed even when valid")
	}
	if _, ok := skips["credits"]; !ok {
		t.Fatal("enabled credits category should survive")
	}
	if _, ok := skips["recap"]; !ok {
		t.Fatal("unconfigured recap category should survive")
	}
}
