package provider

import (
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// maxBodyBytes caps how much of a provider response we will read. Completion
// bodies are far below this; the limit guards against a misbehaving upstream.
const maxBodyBytes = 10 << 20

// Do executes req against a provider backend and returns the response body.
// Every failure comes back as *Error: transport problems are retryable
// unless the request's own context ended, HTTP statuses follow
// RetryableStatus, and failed-response bodies feed the error message.
func Do(client *http.Client, name string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{
			Provider:  name,
			Retryable: req.Context().Err() == nil,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Provider: name, Retryable: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Retryable:  RetryableStatus(resp.StatusCode),
			Message:    errorMessage(body),
		}
	}
	return body, nil
}

// errorMessage pulls a readable message out of whatever error body the
// provider sent. Shapes vary per vendor, so extraction is tolerant.
func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
