package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxBodySize bounds how much of a response the gateway will buffer.
// Subtitle files are the largest normal payload and stay well under this.
const maxBodySize = 8 << 20

// DecodeResponse normalizes a remote API response into a JSON body, applying
// the platform's error conventions:
//
//   - empty bodies pass through as nil on success, or become an APIError
//   - text/plain bodies are wrapped into a single-field {"data": ...} payload
//   - an "error" field of "invalid_grant" is an authentication failure
//   - a "message"+"code" pair on a non-2xx status is an APIError carrying both
//   - any other non-2xx without a JSON body is an APIError with the raw text
func DecodeResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{Op: "read response", Err: err}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if len(body) == 0 {
		if ok {
			return nil, nil
		}
		return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	// The platform always serves UTF-8; subtitle fetches and a few static
	// endpoints answer text/plain.
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/plain") {
		wrapped, err := json.Marshal(TextPayload{Data: string(body)})
		if err != nil {
			return nil, err
		}
		return wrapped, nil
	}

	if body[0] != '{' {
		if !ok {
			return nil, &APIError{Status: resp.StatusCode, Message: string(body)}
		}
		return body, nil
	}

	var probe struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		if !ok {
			return nil, &APIError{Status: resp.StatusCode, Message: string(body)}
		}
		// Request is nil on responses that did not come from a client.
		endpoint := ""
		if resp.Request != nil && resp.Request.URL != nil {
			endpoint = resp.Request.URL.Path
		}
		return nil, &DecodeError{Endpoint: endpoint, Field: "body"}
	}

	if probe.Error == "invalid_grant" {
		return nil, &AuthError{Message: "invalid login credentials"}
	}
	if !ok {
		if probe.Message != "" && probe.Code != "" {
			return nil, &APIError{Status: resp.StatusCode, Code: probe.Code, Message: probe.Message}
		}
		return nil, &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	return body, nil
}
