package kards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Requester performs HTTP calls against the Kards backend and classifies the
// responses. Every call carries the static Drift API key; authenticated
// calls additionally carry a jti bearer token taken from the bound session.
type Requester struct {
	client      *http.Client
	hostname    string
	baseURL     string
	driftAPIKey string

	// session supplies the jti for authenticated calls. Optional; requests
	// with authenticated=true fail with ErrNoSession when unset.
	session *Session
}

func NewRequester(hostname, driftAPIKey string) *Requester {
	if hostname == "" {
		hostname = DefaultHostname
	}
	return &Requester{
		client:      &http.Client{Timeout: 30 * time.Second},
		hostname:    hostname,
		baseURL:     "https://" + hostname,
		driftAPIKey: driftAPIKey,
	}
}

// BindSession attaches the session that authenticated calls draw their jti
// from.
func (r *Requester) BindSession(session *Session) {
	r.session = session
}

// Hostname returns the backend host this requester talks to.
func (r *Requester) Hostname() string {
	return r.hostname
}

// Path normalizes an absolute endpoint URL into a request path on the
// configured host.
func (r *Requester) Path(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, r.hostname)
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint
}

// Do performs a request with explicit headers and returns the raw response
// body. Bodies matching the known backend error shape come back as
// *ApiError instead.
func (r *Requester) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) ([]byte, error) {
	logrus.Debugf("kards request %s %s", method, path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s %s: %w", method, path, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Drift-Api-Key", r.driftAPIKey)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s %s: %w", method, path, err)
	}

	if apiErr, ok := parseApiError(data); ok {
		logrus.Debugf("kards api error on %s %s: %v", method, path, apiErr)
		return nil, apiErr
	}
	return data, nil
}

// Request performs a call, attaching the jti bearer header when
// authenticated is set.
func (r *Requester) Request(ctx context.Context, method, path string, authenticated bool, body []byte) ([]byte, error) {
	headers := map[string]string{}
	if authenticated {
		if r.session == nil {
			return nil, ErrNoSession
		}
		jti, err := r.session.GetJTI(ctx)
		if err != nil {
			return nil, err
		}
		headers["Authorization"] = "jti " + jti
	}
	return r.Do(ctx, method, path, headers, body)
}

// RequestJSON performs a call and decodes the JSON response into out.
func (r *Requester) RequestJSON(ctx context.Context, method, path string, authenticated bool, body []byte, out interface{}) error {
	data, err := r.Request(ctx, method, path, authenticated, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unexpected non-JSON response for %s %s: %w", method, path, err)
	}
	return nil
}

func (r *Requester) Get(ctx context.Context, path string, authenticated bool) ([]byte, error) {
	return r.Request(ctx, http.MethodGet, path, authenticated, nil)
}

func (r *Requester) Post(ctx context.Context, path string, authenticated bool, body []byte) ([]byte, error) {
	return r.Request(ctx, http.MethodPost, path, authenticated, body)
}

func (r *Requester) Put(ctx context.Context, path string, authenticated bool, body []byte) ([]byte, error) {
	return r.Request(ctx, http.MethodPut, path, authenticated, body)
}

func (r *Requester) Delete(ctx context.Context, path string, authenticated bool, body []byte) ([]byte, error) {
	return r.Request(ctx, http.MethodDelete, path, authenticated, body)
}
