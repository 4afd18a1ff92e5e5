package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/transport"
)

const (
	defaultCodeLifetime = 5 * time.Minute
	defaultPollInterval = 5 * time.Second
	maxPollInterval     = 10 * time.Second
)

// PollStatus classifies one device-token poll attempt
type PollStatus string

const (
	// PollPending means the user has not entered the code yet; keep polling
	PollPending PollStatus = "pending"
	// PollSuccess means the poll returned a token
	PollSuccess PollStatus = "success"
	// PollExpired means the device code lapsed before activation
	PollExpired PollStatus = "expired"
	// PollError is any other outcome; the activation attempt is abandoned
	PollError PollStatus = "error"
)

// PollResult is the outcome of one device-token poll
type PollResult struct {
	Status  PollStatus
	Token   *api.TokenResponse
	Message string
}

// RequestDeviceCode obtains a fresh activation code pair, trying the
// bypass-protected endpoint first and the direct one on failure. The
// response must carry both user_code and device_code.
func (s *Session) RequestDeviceCode(ctx context.Context) (*api.DeviceCode, error) {
	attempts := []struct {
		strategy transport.Strategy
		endpoint string
	}{
		{s.bypass, s.eps.DeviceCodeBypass},
		{s.direct, s.eps.DeviceCodeDirect},
	}

	var lastErr error
	for _, a := range attempts {
		code, err := s.postDeviceCode(ctx, a.strategy, a.endpoint)
		if err == nil {
			return code, nil
		}
		log.Debug().Err(err).Str("endpoint", a.endpoint).Msg("Device code request failed")
		lastErr = err
	}
	return nil, lastErr
}

func (s *Session) postDeviceCode(ctx context.Context, strategy transport.Strategy, endpoint string) (*api.DeviceCode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", api.BasicAuthorization)
	req.Header.Set("User-Agent", api.UserAgent(api.AgentDevice))

	resp, err := strategy.Do(req)
	if err != nil {
		return nil, err
	}

	body, err := api.DecodeResponse(resp)
	if err != nil {
		return nil, err
	}

	var code api.DeviceCode
	if err := json.Unmarshal(body, &code); err != nil {
		return nil, &api.DecodeError{Endpoint: "device code", Field: "body"}
	}
	if code.UserCode == "" {
		return nil, &api.DecodeError{Endpoint: "device code", Field: "user_code"}
	}
	if code.DeviceCode == "" {
		return nil, &api.DecodeError{Endpoint: "device code", Field: "device_code"}
	}
	return &code, nil
}

// PollDeviceToken performs one poll of the token endpoint with the device
// grant and classifies the response. Only pending outcomes are retried by
// the activation loop; everything else ends it.
func (s *Session) PollDeviceToken(ctx context.Context, deviceCode string) PollResult {
	form := url.Values{
		"device_code": {deviceCode},
		"grant_type":  {"urn:crunchyroll:params:oauth:grant-type:device_code"},
	}

	resp, err := s.postPollForm(ctx, s.bypass, s.eps.TokenBypass, form)
	if err != nil {
		var challenged *transport.ErrChallenged
		if errors.As(err, &challenged) {
			resp, err = s.postPollForm(ctx, s.direct, s.eps.TokenDirect, form)
		}
	}
	if err != nil {
		return PollResult{Status: PollError, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PollResult{Status: PollError, Message: err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		return PollResult{Status: PollPending}

	case http.StatusOK:
		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
			return PollResult{Status: PollError, Message: "unexpected content type " + ct}
		}
		var tok api.TokenResponse
		if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
			return PollResult{Status: PollError, Message: "token response missing access_token"}
		}
		return PollResult{Status: PollSuccess, Token: &tok}

	case http.StatusBadRequest:
		var probe struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			return PollResult{Status: PollError, Message: string(body)}
		}
		switch probe.Error {
		case "authorization_pending":
			return PollResult{Status: PollPending}
		case "expired_token":
			return PollResult{Status: PollExpired}
		default:
			return PollResult{Status: PollError, Message: probe.Error}
		}

	default:
		return PollResult{Status: PollError, Message: http.StatusText(resp.StatusCode)}
	}
}

func (s *Session) postPollForm(ctx context.Context, strategy transport.Strategy, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", api.BasicAuthorization)
	req.Header.Set("User-Agent", api.UserAgent(api.AgentDevice))
	return strategy.Do(req)
}

// WaitForActivation blocks until the user enters the code, the code
// expires, the context is cancelled, or a poll fails terminally. Two
// workers run under one cancellation scope: a countdown ticker driving
// OnCountdown and a poll loop with doubling backoff. Both exit on cancel;
// the join happens here, never inside a worker.
func (s *Session) WaitForActivation(ctx context.Context, code *api.DeviceCode) (*api.TokenResponse, error) {
	lifetime := time.Duration(code.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultCodeLifetime
	}
	ctx, cancel := context.WithTimeout(ctx, lifetime)
	defer cancel()

	results := make(chan PollResult, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		deadline, _ := ctx.Deadline()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.OnCountdown != nil {
					s.OnCountdown(time.Until(deadline))
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := time.Duration(code.Interval) * time.Second
		if interval <= 0 {
			interval = defaultPollInterval
		}
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			res := s.PollDeviceToken(ctx, code.DeviceCode)
			if res.Status != PollPending {
				results <- res
				return
			}

			interval *= 2
			if interval > maxPollInterval {
				interval = maxPollInterval
			}
			timer.Reset(interval)
		}
	}()

	var res PollResult
	var done bool
	select {
	case res = <-results:
		done = true
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()

	if !done {
		// The poll worker may have delivered between the context firing and
		// the join completing.
		select {
		case res = <-results:
			done = true
		default:
		}
	}

	if !done {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &api.AuthError{Message: "device code expired before activation"}
		}
		return nil, ctx.Err()
	}

	switch res.Status {
	case PollSuccess:
		return res.Token, nil
	case PollExpired:
		return nil, &api.AuthError{Message: "device code expired before activation"}
	default:
		return nil, &api.AuthError{Message: "device activation failed: " + res.Message}
	}
}

// deviceActivation runs the full activation flow and finalizes the session
// with the device agent class.
func (s *Session) deviceActivation(ctx context.Context) error {
	code, err := s.RequestDeviceCode(ctx)
	if err != nil {
		return &api.AuthError{Message: "failed to obtain device code", Err: err}
	}

	if s.OnActivationPrompt != nil {
		s.OnActivationPrompt(code)
	}
	log.Info().Str("user_code", code.UserCode).Str("verification_uri", code.VerificationURI).Msg("Waiting for device activation")

	tok, err := s.WaitForActivation(ctx, code)
	if err != nil {
		return err
	}

	return s.finalizeSession(ctx, tok, actionDevice, "")
}
