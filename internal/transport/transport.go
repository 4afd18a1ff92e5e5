package transport

import (
	"net/http"
	"time"
)

// Strategy executes an HTTP request. Two implementations exist: Direct for
// well-behaved endpoints and Bypass for endpoints that reject plain clients.
type Strategy interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultTimeout is the request timeout both strategies use unless
// configured otherwise.
const DefaultTimeout = 30 * time.Second
