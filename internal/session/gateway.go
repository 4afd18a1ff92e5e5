package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/transport"
)

// maxConsecutiveRefreshes caps how many preflight refreshes the gateway runs
// without a request succeeding in between. A working refresh path resets the
// counter; a broken one must not loop forever.
const maxConsecutiveRefreshes = 3

// RequestOptions are the per-request knobs of the gateway. All fields
// optional; a nil options pointer is a plain request.
type RequestOptions struct {
	Headers http.Header
	Params  url.Values

	// Body is sent verbatim with ContentType. JSON, when Body is nil, is
	// marshaled and sent as application/json.
	Body        io.Reader
	ContentType string
	JSON        any

	// bodyBytes holds the buffered Body so the 401 retry can resend the
	// identical payload; a streaming reader is exhausted after the first
	// attempt.
	bodyBytes []byte
}

// materializeBody buffers a streaming body up front. The retry path
// rebuilds the request, and must reproduce the exact payload the first
// attempt sent.
func materializeBody(opt *RequestOptions) (*RequestOptions, error) {
	if opt == nil || opt.Body == nil {
		return opt, nil
	}
	data, err := io.ReadAll(opt.Body)
	if err != nil {
		return nil, &api.NetworkError{Op: "read request body", Err: err}
	}
	clone := *opt
	clone.Body = nil
	clone.bodyBytes = data
	return &clone, nil
}

// Request performs an authenticated request over the direct transport.
// Credentials are refreshed preflight when within the validity buffer, the
// CMS signing parameters ride along as query parameters, and a 401 forces a
// refresh and exactly one retry.
func (s *Session) Request(ctx context.Context, method, rawurl string, opt *RequestOptions) ([]byte, error) {
	return s.roundTrip(ctx, s.direct, method, rawurl, opt, s.AgentClass(), true, false)
}

// RequestViaBypass is Request over the bypass transport, for endpoints
// behind anti-bot protection. agentClass overrides the session's persisted
// class; autoRefresh disables the preflight refresh for callers that manage
// token state themselves.
func (s *Session) RequestViaBypass(ctx context.Context, method, rawurl string, opt *RequestOptions, agentClass api.AgentClass, autoRefresh bool) ([]byte, error) {
	return s.roundTrip(ctx, s.bypass, method, rawurl, opt, agentClass, autoRefresh, false)
}

// RequestUnauthenticated performs a request carrying no credentials at all,
// for static endpoints like skip events.
func (s *Session) RequestUnauthenticated(ctx context.Context, method, rawurl string, opt *RequestOptions) ([]byte, error) {
	req, err := buildRequest(ctx, method, rawurl, opt)
	if err != nil {
		return nil, err
	}
	resp, err := s.direct.Do(req)
	if err != nil {
		return nil, err
	}
	return api.DecodeResponse(resp)
}

func (s *Session) roundTrip(ctx context.Context, strategy transport.Strategy, method, rawurl string, opt *RequestOptions, agentClass api.AgentClass, autoRefresh, retried bool) ([]byte, error) {
	opt, err := materializeBody(opt)
	if err != nil {
		return nil, err
	}

	if autoRefresh && s.Credentials() != nil && !s.TokenValid() {
		if err := s.refreshForRequest(ctx); err != nil {
			return nil, err
		}
	}

	req, err := buildRequest(ctx, method, rawurl, opt)
	if err != nil {
		return nil, err
	}
	s.applyAuth(req, agentClass)

	resp, err := strategy.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if retried {
			return nil, api.ErrAuthenticationFailedTwice
		}

		log.Warn().Str("method", method).Str("url", rawurl).Msg("Request rejected with 401, forcing token refresh")
		s.forceExpiry()
		return s.roundTrip(ctx, strategy, method, rawurl, opt, agentClass, true, true)
	}

	s.mu.Lock()
	s.refreshAttempts = 0
	s.mu.Unlock()

	return api.DecodeResponse(resp)
}

func (s *Session) refreshForRequest(ctx context.Context) error {
	s.mu.Lock()
	s.refreshAttempts++
	attempts := s.refreshAttempts
	s.mu.Unlock()

	if attempts > maxConsecutiveRefreshes {
		return &api.AuthError{Message: "refresh ceiling reached", Err: api.ErrTooManyRefreshAttempts}
	}
	return s.Refresh(ctx)
}

// forceExpiry marks the access token as expired so the next authenticated
// request refreshes preflight. The refresh token is untouched.
func (s *Session) forceExpiry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds != nil {
		s.creds.ExpiresAt = time.Unix(0, 0)
	}
}

// applyAuth attaches the bearer token, the CMS signing parameters and the
// class user-agent. No-op without credentials.
func (s *Session) applyAuth(req *http.Request, agentClass api.AgentClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return
	}

	if s.creds.CMSPolicy != "" {
		q := req.URL.Query()
		q.Set("Policy", s.creds.CMSPolicy)
		q.Set("Signature", s.creds.CMSSignature)
		q.Set("Key-Pair-Id", s.creds.CMSKeyPairID)
		req.URL.RawQuery = q.Encode()
	}

	req.Header.Set("Authorization", s.creds.TokenType+" "+s.creds.AccessToken)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", api.UserAgent(agentClass))
	}
}

func buildRequest(ctx context.Context, method, rawurl string, opt *RequestOptions) (*http.Request, error) {
	var body io.Reader
	contentType := ""

	if opt != nil {
		switch {
		case opt.bodyBytes != nil:
			body = bytes.NewReader(opt.bodyBytes)
			contentType = opt.ContentType
		case opt.Body != nil:
			body = opt.Body
			contentType = opt.ContentType
		case opt.JSON != nil:
			encoded, err := json.Marshal(opt.JSON)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, err
	}

	if opt != nil {
		for key, values := range opt.Headers {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
		if len(opt.Params) > 0 {
			q := req.URL.Query()
			for key, values := range opt.Params {
				for _, v := range values {
					q.Add(key, v)
				}
			}
			req.URL.RawQuery = q.Encode()
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}
