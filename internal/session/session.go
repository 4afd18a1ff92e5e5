package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/database"
	"github.com/streamgate-dev/streamgate/internal/transport"
)

// tokenValidityBuffer absorbs clock skew and network latency: a token is
// treated as expired this long before its actual expiry.
const tokenValidityBuffer = 60 * time.Second

const defaultSubtitleFallback = "en-US"

// finalize actions; they decide which user-agent class the session keeps.
const (
	actionLogin          = "login"
	actionDevice         = "device"
	actionRefresh        = "refresh"
	actionRefreshProfile = "refresh_profile"
)

// Session owns the account credentials and drives their lifecycle:
// Unauthenticated -> Authenticating -> Authenticated -> (Refreshing) ->
// Authenticated | Unauthenticated. It is the only component that mutates
// the credential record.
type Session struct {
	db     *database.DB
	direct transport.Strategy
	bypass transport.Strategy
	eps    api.Endpoints

	// now is the clock; injectable for tests
	now func() time.Time

	mu              sync.Mutex
	creds           *database.AccountRecord
	profile         *database.ProfileRecord
	refreshAttempts int

	// Host UI contract for the activation flow. All optional; the session
	// never renders anything itself.
	OnActivationPrompt func(code *api.DeviceCode)
	OnCountdown        func(remaining time.Duration)
	OnNotice           func(message string)
}

// New creates a session backed by the given store and transports
func New(db *database.DB, direct, bypass transport.Strategy, eps api.Endpoints) *Session {
	return &Session{
		db:     db,
		direct: direct,
		bypass: bypass,
		eps:    eps,
		now:    time.Now,
	}
}

// Credentials returns the live credential record, or nil when
// unauthenticated. Callers must treat it as read-only.
func (s *Session) Credentials() *database.AccountRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// ActiveProfile returns the persisted profile selection, or nil
func (s *Session) ActiveProfile() *database.ProfileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// AgentClass returns the user-agent class of the current session
func (s *Session) AgentClass() api.AgentClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds != nil && s.creds.AgentClass != "" {
		return api.AgentClass(s.creds.AgentClass)
	}
	return api.AgentMobile
}

// TokenValid reports whether the access token is usable: present, carrying
// an expiry, and not within the validity buffer of expiring.
func (s *Session) TokenValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenValidLocked()
}

func (s *Session) tokenValidLocked() bool {
	if s.creds == nil || s.creds.AccessToken == "" || s.creds.ExpiresAt.IsZero() {
		return false
	}
	return s.now().Before(s.creds.ExpiresAt.Add(-tokenValidityBuffer))
}

// Start restores the persisted session. Valid credentials authenticate
// directly unless forceRestart is set; expired ones are refreshed; absent
// ones go through login.
func (s *Session) Start(ctx context.Context, forceRestart bool) error {
	rec, err := s.db.LoadAccount()
	if err != nil {
		return err
	}
	prof, err := s.db.LoadProfile()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.creds = rec
	s.profile = prof
	s.mu.Unlock()

	if rec != nil && !forceRestart {
		if s.TokenValid() {
			log.Debug().Str("account_id", rec.AccountID).Msg("Restored valid session")
			return nil
		}
		err := s.Refresh(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, api.ErrRefreshTokenExpired) {
			return err
		}
		s.notice("Session expired, this device needs to be activated again")
	}

	return s.Login(ctx)
}

// Login establishes an authenticated session: a still-valid token
// short-circuits, a refresh token is tried next, and device activation is
// the final path. Activation failure is terminal; there is no anonymous
// session to fall back to.
func (s *Session) Login(ctx context.Context) error {
	if s.TokenValid() {
		return nil
	}

	s.mu.Lock()
	hasRefresh := s.creds != nil && s.creds.RefreshToken != ""
	s.mu.Unlock()

	if hasRefresh {
		err := s.Refresh(ctx)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Msg("Refresh during login failed, falling back to device activation")
		// Refresh already cleared credentials on token expiry; clear for
		// any other failure so activation starts from a clean slate.
		if !errors.Is(err, api.ErrRefreshTokenExpired) {
			s.clearCredentials()
		}
	}

	return s.deviceActivation(ctx)
}

// Refresh exchanges the refresh token for a fresh access token, trying the
// bypass-protected endpoint first and the direct one second. A 400 from
// either means the refresh token itself is dead: credentials are deleted
// and ErrRefreshTokenExpired is returned.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.creds == nil || s.creds.RefreshToken == "" {
		s.mu.Unlock()
		return &api.AuthError{Message: "no refresh token available"}
	}
	form := url.Values{
		"refresh_token": {s.creds.RefreshToken},
		"grant_type":    {"refresh_token"},
		"scope":         {"offline_access"},
	}
	agent := api.AgentClass(s.creds.AgentClass)
	s.mu.Unlock()

	tok, err := s.exchangeToken(ctx, form, agent)
	if err != nil {
		if errors.Is(err, api.ErrRefreshTokenExpired) {
			log.Warn().Msg("Refresh token rejected, deleting credentials")
			s.clearCredentials()
		}
		return err
	}

	return s.finalizeSession(ctx, tok, actionRefresh, "")
}

// RefreshProfile switches the active profile using a profile-scoped grant.
// The account refresh token survives the switch.
func (s *Session) RefreshProfile(ctx context.Context, profileID string) error {
	s.mu.Lock()
	if s.creds == nil || s.creds.RefreshToken == "" {
		s.mu.Unlock()
		return &api.AuthError{Message: "no refresh token available"}
	}
	form := url.Values{
		"refresh_token": {s.creds.RefreshToken},
		"grant_type":    {"refresh_token_profile_id"},
		"profile_id":    {profileID},
		"scope":         {"offline_access"},
	}
	agent := api.AgentClass(s.creds.AgentClass)
	s.mu.Unlock()

	tok, err := s.exchangeToken(ctx, form, agent)
	if err != nil {
		return err
	}

	return s.finalizeSession(ctx, tok, actionRefreshProfile, profileID)
}

// Logout destroys the session and both persisted records
func (s *Session) Logout() error {
	s.mu.Lock()
	s.creds = nil
	s.profile = nil
	s.refreshAttempts = 0
	s.mu.Unlock()

	if err := s.db.DeleteAccount(); err != nil {
		return err
	}
	return s.db.DeleteProfile()
}

// exchangeToken runs the dual-endpoint token exchange: bypass endpoint
// first, direct endpoint second, first success wins. A 400 or an
// invalid_grant body from either endpoint is refresh-token invalidity.
func (s *Session) exchangeToken(ctx context.Context, form url.Values, agent api.AgentClass) (*api.TokenResponse, error) {
	attempts := []struct {
		strategy transport.Strategy
		endpoint string
	}{
		{s.bypass, s.eps.TokenBypass},
		{s.direct, s.eps.TokenDirect},
	}

	var lastErr error
	for _, a := range attempts {
		tok, err := s.postTokenForm(ctx, a.strategy, a.endpoint, form, agent)
		if err == nil {
			return tok, nil
		}

		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", api.ErrRefreshTokenExpired, err)
		}
		var authErr *api.AuthError
		if errors.As(err, &authErr) {
			return nil, fmt.Errorf("%w: %v", api.ErrRefreshTokenExpired, err)
		}

		log.Debug().Err(err).Str("endpoint", a.endpoint).Msg("Token exchange attempt failed")
		lastErr = err
	}

	return nil, lastErr
}

func (s *Session) postTokenForm(ctx context.Context, strategy transport.Strategy, endpoint string, form url.Values, agent api.AgentClass) (*api.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", api.BasicAuthorization)
	req.Header.Set("User-Agent", api.UserAgent(agent))

	resp, err := strategy.Do(req)
	if err != nil {
		return nil, err
	}

	body, err := api.DecodeResponse(resp)
	if err != nil {
		return nil, err
	}

	var tok api.TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &api.DecodeError{Endpoint: "token", Field: "body"}
	}
	return &tok, nil
}

// finalizeSession turns a token response into a full credential record:
// absolute expiry, user-agent class for the action, CMS signing parameters
// from the index endpoint and locale preferences from the profile endpoint,
// then persists everything.
func (s *Session) finalizeSession(ctx context.Context, tok *api.TokenResponse, action, profileID string) error {
	if err := tok.Validate(); err != nil {
		return &api.AuthError{Message: "invalid auth response", Err: err}
	}

	s.mu.Lock()
	prev := s.creds

	agent := api.AgentMobile
	switch action {
	case actionDevice:
		agent = api.AgentDevice
	case actionLogin:
		agent = api.AgentMobile
	default:
		// refresh keeps whatever class the session already had
		if prev != nil && prev.AgentClass != "" {
			agent = api.AgentClass(prev.AgentClass)
		}
	}

	rec := &database.AccountRecord{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		AccountID:    tok.AccountID,
		AgentClass:   string(agent),
	}
	if prev != nil {
		if rec.RefreshToken == "" {
			rec.RefreshToken = prev.RefreshToken
		}
		if rec.AccountID == "" {
			rec.AccountID = prev.AccountID
		}
		rec.AudioLocale = prev.AudioLocale
		rec.SubtitleLocale = prev.SubtitleLocale
		rec.SubtitleFallback = prev.SubtitleFallback
	}
	s.creds = rec
	s.mu.Unlock()

	// Enrich from the account index; without the CMS signing parameters no
	// content endpoint will authorize us.
	if err := s.fetchIndex(ctx); err != nil {
		return fmt.Errorf("failed to fetch account index: %w", err)
	}

	if err := s.fetchProfile(ctx, action, profileID); err != nil {
		// Locale preferences are a nicety; the session works without them.
		log.Warn().Err(err).Msg("Failed to fetch profile data")
	}

	s.mu.Lock()
	s.refreshAttempts = 0
	rec = s.creds
	s.mu.Unlock()

	if err := s.db.SaveAccount(rec); err != nil {
		return err
	}

	log.Info().Str("action", action).Str("agent_class", rec.AgentClass).Msg("Session established")
	return nil
}

func (s *Session) fetchIndex(ctx context.Context) error {
	body, err := s.Request(ctx, http.MethodGet, s.eps.Index, nil)
	if err != nil {
		return err
	}

	var index api.IndexResponse
	if err := json.Unmarshal(body, &index); err != nil {
		return &api.DecodeError{Endpoint: "index", Field: "body"}
	}
	if index.CMS.Policy == "" {
		return &api.DecodeError{Endpoint: "index", Field: "cms.policy"}
	}

	s.mu.Lock()
	if s.creds != nil {
		s.creds.CMSBucket = index.CMS.Bucket
		s.creds.CMSPolicy = index.CMS.Policy
		s.creds.CMSSignature = index.CMS.Signature
		s.creds.CMSKeyPairID = index.CMS.KeyPairID
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) fetchProfile(ctx context.Context, action, profileID string) error {
	body, err := s.Request(ctx, http.MethodGet, s.eps.Profile, nil)
	if err != nil {
		return err
	}

	var prof api.ProfileResponse
	if err := json.Unmarshal(body, &prof); err != nil {
		return &api.DecodeError{Endpoint: "profile", Field: "body"}
	}

	s.mu.Lock()
	if s.creds != nil {
		s.creds.AudioLocale = prof.AudioLanguage
		s.creds.SubtitleLocale = prof.SubtitleLanguage
		if s.creds.SubtitleFallback == "" && prof.SubtitleLanguage != defaultSubtitleFallback {
			s.creds.SubtitleFallback = defaultSubtitleFallback
		}
	}
	s.mu.Unlock()

	if action != actionRefreshProfile {
		return nil
	}

	// A profile switch merges the selected profile's fields and persists
	// them independently of the account record.
	record := &database.ProfileRecord{
		ProfileID:      profileID,
		Name:           prof.ProfileName,
		Avatar:         prof.Avatar,
		AudioLocale:    prof.AudioLanguage,
		SubtitleLocale: prof.SubtitleLanguage,
	}

	if listBody, err := s.Request(ctx, http.MethodGet, s.eps.Profiles, nil); err == nil {
		var multi api.MultiProfileResponse
		if err := json.Unmarshal(listBody, &multi); err == nil {
			for _, p := range multi.Profiles {
				if p.ProfileID == profileID {
					record.Name = p.ProfileName
					record.Avatar = p.Avatar
					if p.AudioLanguage != "" {
						record.AudioLocale = p.AudioLanguage
					}
					if p.SubtitleLanguage != "" {
						record.SubtitleLocale = p.SubtitleLanguage
					}
					break
				}
			}
		}
	}

	s.mu.Lock()
	s.profile = record
	s.mu.Unlock()

	return s.db.SaveProfile(record)
}

func (s *Session) clearCredentials() {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()

	if err := s.db.DeleteAccount(); err != nil {
		log.Error().Err(err).Msg("Failed to delete stored credentials")
	}
}

func (s *Session) notice(message string) {
	if s.OnNotice != nil {
		s.OnNotice(message)
	}
}
