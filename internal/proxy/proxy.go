package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/streamgate-dev/streamgate/internal/transport"
)

// DefaultTTL is how long the listener survives without a proxied request
const DefaultTTL = 10 * time.Minute

const reapInterval = 30 * time.Second

// Manager is the short-lived local bypass proxy: a single loopback listener
// that fetches protected URLs through the bypass transport and streams them
// back verbatim, for players that cannot pass anti-bot challenges
// themselves. One listener serves all concurrent player sessions; it starts
// on first use, every use extends its life, and it shuts itself down once
// idle past the TTL.
type Manager struct {
	bypass transport.Strategy
	ttl    time.Duration

	mu      sync.Mutex
	srv     *http.Server
	addr    string
	lastUse time.Time
	stop    chan struct{}
}

// NewManager creates a proxy manager (DefaultTTL when ttl is zero)
func NewManager(bypass transport.Strategy, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		bypass: bypass,
		ttl:    ttl,
	}
}

// Rewrite returns a loopback URL that serves rawurl through the bypass
// transport, starting the listener if it is not running.
func (m *Manager) Rewrite(rawurl string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureStartedLocked(); err != nil {
		return "", err
	}
	m.lastUse = time.Now()

	return fmt.Sprintf("http://%s/proxy?url=%s", m.addr, url.QueryEscape(rawurl)), nil
}

// Addr returns the listener address, or "" when the proxy is not running
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Stop shuts the listener down if it is running
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) ensureStartedLocked() error {
	if m.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start bypass proxy listener: %w", err)
	}

	r := chi.NewRouter()
	r.Get("/proxy", m.handleProxy)

	srv := &http.Server{Handler: r}
	m.srv = srv
	m.addr = ln.Addr().String()
	m.lastUse = time.Now()
	m.stop = make(chan struct{})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Bypass proxy listener failed")
		}
	}()
	go m.reapLoop(m.stop)

	log.Info().Str("addr", m.addr).Dur("ttl", m.ttl).Msg("Started bypass proxy")
	return nil
}

func (m *Manager) stopLocked() {
	if m.srv == nil {
		return
	}

	close(m.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Bypass proxy shutdown failed")
	}

	log.Info().Str("addr", m.addr).Msg("Stopped bypass proxy")
	m.srv = nil
	m.addr = ""
	m.stop = nil
}

// reapLoop terminates the listener once it has been idle past the TTL, so
// a stopped player never leaves an orphaned listener behind.
func (m *Manager) reapLoop(stop chan struct{}) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			idle := time.Since(m.lastUse)
			if idle >= m.ttl {
				log.Debug().Dur("idle", idle).Msg("Bypass proxy idle past TTL")
				m.stopLocked()
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) handleProxy(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.lastUse = time.Now()
	m.mu.Unlock()

	rawurl := r.URL.Query().Get("url")
	target, err := url.Parse(rawurl)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := m.bypass.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", target.String()).Msg("Proxied fetch failed")
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug().Err(err).Msg("Proxied stream aborted")
	}
}
