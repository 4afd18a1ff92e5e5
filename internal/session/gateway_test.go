package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/database"
	"github.com/streamgate-dev/streamgate/internal/transport"
)

// gatewayFixture wires a session with valid credentials against a test
// server that also serves the refresh path.
func gatewayFixture(t *testing.T, data http.HandlerFunc) (*Session, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/data", data)
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenBody))
	})
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(indexBody))
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(profileBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := New(newTestDB(t), transport.NewDirect(0), transport.NewDirect(0), api.Endpoints{
		TokenBypass: srv.URL + "/token",
		TokenDirect: srv.URL + "/token",
		Index:       srv.URL + "/index",
		Profile:     srv.URL + "/profile",
	})
	s.creds = &database.AccountRecord{
		AccessToken:  "valid-token",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		AccountID:    "acct-1",
		CMSPolicy:    "pol",
		CMSSignature: "sig",
		CMSKeyPairID: "kp",
		AgentClass:   "mobile",
	}
	return s, srv
}

func TestRequest_InjectsAuthAndCMS(t *testing.T) {
	var gotAuth, gotPolicy, gotUA string
	s, srv := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPolicy = r.URL.Query().Get("Policy")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total": 0}`))
	})

	body, err := s.Request(context.Background(), http.MethodGet, srv.URL+"/data", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if string(body) != `{"total": 0}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if gotAuth != "Bearer valid-token" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
	if gotPolicy != "pol" {
		t.Fatalf("CMS policy not injected: %q", gotPolicy)
	}
	if gotUA != api.UserAgent(api.AgentMobile) {
		t.Fatalf("unexpected user agent: %q", gotUA)
	}
}

func TestRequest_RetriesOnceAfter401(t *testing.T) {
	var hits int
	s, srv := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total": 1}`))
	})

	body, err := s.Request(context.Background(), http.MethodGet, srv.URL+"/data", nil)
	if err != nil {
		t.Fatalf("request should succeed on retry: %v", err)
	}
	if string(body) != `{"total": 1}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if hits != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", hits)
	}

	// The forced refresh replaced the token
	if s.Credentials().AccessToken != "new-access" {
		t.Fatalf("expected refreshed token, got %q", s.Credentials().AccessToken)
	}
}

func TestRequest_RetryResendsIdenticalBody(t *testing.T) {
	var bodies []string
	s, srv := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	_, err := s.Request(context.Background(), http.MethodPost, srv.URL+"/data", &RequestOptions{
		Body:        strings.NewReader("payload-bytes"),
		ContentType: "application/octet-stream",
	})
	if err != nil {
		t.Fatalf("request should succeed on retry: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	if bodies[0] != "payload-bytes" {
		t.Fatalf("first attempt body = %q, want payload-bytes", bodies[0])
	}
	if bodies[1] != "payload-bytes" {
		t.Fatalf("retry body = %q, want the identical payload", bodies[1])
	}
}

func TestRequest_SecondConsecutive401Fails(t *testing.T) {
	var hits int
	s, srv := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := s.Request(context.Background(), http.MethodGet, srv.URL+"/data", nil)
	if !errors.Is(err, api.ErrAuthenticationFailedTwice) {
		t.Fatalf("expected ErrAuthenticationFailedTwice, got %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected exactly 2 attempts and no third, got %d", hits)
	}
}

func TestRequest_PreflightRefreshCeiling(t *testing.T) {
	s, srv := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	// Broken refresh path: exchanging always yields an expired-token 400
	// would delete creds, so break it with a 500 instead and keep the token
	// stale so every request wants a preflight refresh.
	brokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer brokenSrv.Close()
	s.eps.TokenBypass = brokenSrv.URL
	s.eps.TokenDirect = brokenSrv.URL
	s.creds.ExpiresAt = time.Unix(0, 0)

	for i := 0; i < maxConsecutiveRefreshes; i++ {
		_, err := s.Request(context.Background(), http.MethodGet, srv.URL+"/data", nil)
		if err == nil {
			t.Fatalf("attempt %d: expected refresh failure", i)
		}
		if errors.Is(err, api.ErrTooManyRefreshAttempts) {
			t.Fatalf("attempt %d: ceiling hit too early", i)
		}
	}

	_, err := s.Request(context.Background(), http.MethodGet, srv.URL+"/data", nil)
	if !errors.Is(err, api.ErrTooManyRefreshAttempts) {
		t.Fatalf("expected ErrTooManyRefreshAttempts after ceiling, got %v", err)
	}
}

func TestRequestViaBypass_OverridesAgentClass(t *testing.T) {
	var gotUA string
	s, srv := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	_, err := s.RequestViaBypass(context.Background(), http.MethodGet, srv.URL+"/data", nil, api.AgentDevice, false)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotUA != api.UserAgent(api.AgentDevice) {
		t.Fatalf("expected device user agent, got %q", gotUA)
	}
}

func TestRequestUnauthenticated_SendsNoCredentials(t *testing.T) {
	var gotAuth string
	s, srv := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	if _, err := s.RequestUnauthenticated(context.Background(), http.MethodGet, srv.URL+"/data", nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("unauthenticated request leaked credentials: %q", gotAuth)
	}
}
