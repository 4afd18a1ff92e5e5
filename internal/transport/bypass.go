package transport

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrChallenged is returned when the anti-bot layer answered with a
// challenge page instead of the origin response. Callers holding a direct
// fallback endpoint should try that next.
type ErrChallenged struct {
	URL    string
	Status int
	Header string // which header triggered detection
	Value  string
}

func (e *ErrChallenged) Error() string {
	return fmt.Sprintf("challenged on %s (status %d, header %s: %s)", e.URL, e.Status, e.Header, e.Value)
}

// challengeHeaders is the set of response headers that indicate the anti-bot
// proxy handled the request itself.
var challengeHeaders = []string{
	"CF-RAY",
	"CF-Mitigated",
	"CF-Chl-Bypass",
}

// Bypass is the request strategy for endpoints behind anti-bot protection.
// It presents a consistent browser identity, keeps the challenge cookies the
// protection layer hands out, and paces requests so the session does not
// trip rate heuristics.
type Bypass struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewBypass creates a bypass strategy with the given timeout
// (DefaultTimeout when zero)
func NewBypass(timeout time.Duration) *Bypass {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	jar, _ := cookiejar.New(nil)
	return &Bypass{
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		// 2 req/s sustained with small bursts is comfortably under the
		// protection layer's rate heuristics.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

// Do executes the request through the bypass identity. A challenge response
// is surfaced as ErrChallenged rather than handed to the decoder.
func (b *Bypass) Do(req *http.Request) (*http.Response, error) {
	if err := b.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	applyBrowserHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}

	if hdr, val, ok := detectChallenge(resp); ok {
		resp.Body.Close()
		return nil, &ErrChallenged{URL: req.URL.String(), Status: resp.StatusCode, Header: hdr, Value: val}
	}

	return resp, nil
}

// applyBrowserHeaders fills in the browser identity without clobbering
// headers the caller set explicitly.
func applyBrowserHeaders(req *http.Request) {
	set := func(key, value string) {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
	set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	set("Accept", "*/*")
	set("Accept-Language", "en-US,en;q=0.9")
	set("Sec-Fetch-Dest", "empty")
	set("Sec-Fetch-Mode", "cors")
	set("Sec-Fetch-Site", "same-origin")
}

// detectChallenge reports whether the response came from the anti-bot layer
// rather than the origin. Only challenge statuses are inspected; the
// protection proxy adds its headers to passed-through responses as well.
func detectChallenge(resp *http.Response) (string, string, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return "", "", false
	}
	for _, h := range challengeHeaders {
		if v := resp.Header.Get(h); v != "" {
			return h, v, true
		}
	}
	if server := strings.ToLower(resp.Header.Get("Server")); strings.Contains(server, "cloudflare") {
		return "Server", resp.Header.Get("Server"), true
	}
	return "", "", false
}
