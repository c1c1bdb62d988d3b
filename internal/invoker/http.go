package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPInvoker calls an arbitrary HTTP endpoint, treating the rendered
// content as a JSON object of query parameters. Grounded on
// original_source/ai_state_machine/invoker/api.py's APIInvoker/RequestFactory,
// rebuilt on net/http since the original's requests.Session has no direct
// Go package in the example pack.
type HTTPInvoker struct {
	client   *http.Client
	method   string
	endpoint string
	headers  map[string]string
}

// NewHTTPInvoker builds an HTTPInvoker from meta.yaml's invoker config:
// method (default GET), endpoint (required), headers (optional map).
func NewHTTPInvoker(cfg Config) (Invoker, error) {
	endpoint := cfg.String("endpoint", "")
	if endpoint == "" {
		return nil, fmt.Errorf("http invoker requires an 'endpoint' config value")
	}
	headers := map[string]string{}
	if raw, ok := cfg["headers"]; ok {
		if m, ok := raw.(map[string]any); ok {
			for k, v := range m {
				headers[k] = fmt.Sprint(v)
			}
		}
	}
	return &HTTPInvoker{
		client:   &http.Client{Timeout: 30 * time.Second},
		method:   cfg.String("method", http.MethodGet),
		endpoint: endpoint,
		headers:  headers,
	}, nil
}

// Invoke implements Invoker. content is parsed as a JSON object and sent as
// query parameters (GET and DELETE) or as the JSON request body (any other
// method); the
// response body is returned re-marshaled as a JSON string, matching the
// original's `json.dumps(response.json())`.
func (h *HTTPInvoker) Invoke(ctx context.Context, content string) (string, error) {
	params := map[string]any{}
	if content != "" {
		if err := json.Unmarshal([]byte(content), &params); err != nil {
			return "", Err("http", fmt.Errorf("content is not a JSON object: %w", err))
		}
	}

	var req *http.Request
	var err error
	if h.method == http.MethodGet || h.method == http.MethodDelete {
		u, perr := url.Parse(h.endpoint)
		if perr != nil {
			return "", Err("http", perr)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, h.method, u.String(), nil)
	} else {
		body, merr := json.Marshal(params)
		if merr != nil {
			return "", Err("http", merr)
		}
		req, err = http.NewRequestWithContext(ctx, h.method, h.endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return "", Err("http", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", Err("http", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Err("http", err)
	}
	if resp.StatusCode >= 400 {
		return "", Err("http", fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(body)))
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Not JSON - return the raw body, same as a plain text response.
		return string(body), nil
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return "", Err("http", err)
	}
	return string(out), nil
}
