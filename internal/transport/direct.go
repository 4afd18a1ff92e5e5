package transport

import (
	"net/http"
	"time"

	"github.com/streamgate-dev/streamgate/internal/api"
)

// Direct is the plain request strategy for endpoints that accept
// ordinary client traffic.
type Direct struct {
	client *http.Client
}

// NewDirect creates a direct strategy with the given timeout
// (DefaultTimeout when zero)
func NewDirect(timeout time.Duration) *Direct {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Direct{
		client: &http.Client{Timeout: timeout},
	}
}

// Do executes the request, wrapping connection failures and timeouts as
// NetworkError so callers can tell them apart from API-level failures.
func (d *Direct) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &api.NetworkError{Op: req.Method + " " + req.URL.Host, Err: err}
	}
	return resp, nil
}
