package steam

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// FileStore persists opaque platform session blobs (sentry files) between
// process restarts. Satisfied by accounts.Connector.
type FileStore interface {
	SaveFile(ctx context.Context, name string, contents []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// BridgeTransport talks to a Steam bridge sidecar over HTTP. The sidecar
// owns the real Steam connection and the proprietary handshake; this
// transport only moves credentials, tickets and sentry blobs across.
type BridgeTransport struct {
	baseURL  string
	client   *http.Client
	files    FileStore
	username string
}

type BridgeConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewBridgeTransport(cfg BridgeConfig, files FileStore) *BridgeTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &BridgeTransport{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		files:   files,
	}
}

type bridgeError struct {
	Code        string `json:"error"`
	Description string `json:"description"`
}

type bridgeLogOnRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	LogonID  uint32 `json:"logon_id"`
	Sentry   string `json:"sentry,omitempty"`
}

type bridgeLogOnResponse struct {
	SteamID string `json:"steam_id"`
	Sentry  string `json:"sentry,omitempty"`
}

func sentryFileName(username string) string {
	return "sentry." + username
}

func (t *BridgeTransport) LogOn(ctx context.Context, creds Credentials) (*LogOnResult, error) {
	req := bridgeLogOnRequest{
		Username: creds.Username,
		Password: creds.Password,
		LogonID:  creds.LogonID,
	}

	// Replay the stored machine-auth blob so the bridge can skip the guard
	// prompt on machines Steam has already seen.
	if t.files != nil {
		sentry, err := t.files.ReadFile(ctx, sentryFileName(creds.Username))
		if err != nil {
			logrus.Warnf("failed to read sentry blob for %s: %v", creds.Username, err)
		} else if sentry != nil {
			req.Sentry = base64.StdEncoding.EncodeToString(sentry)
		}
	}

	var res bridgeLogOnResponse
	if err := t.post(ctx, "/logon", req, &res, creds.Username); err != nil {
		return nil, err
	}
	if res.SteamID == "" {
		return nil, fmt.Errorf("bridge logon response missing steam_id")
	}

	if t.files != nil && res.Sentry != "" {
		sentry, err := base64.StdEncoding.DecodeString(res.Sentry)
		if err != nil {
			logrus.Warnf("bridge returned invalid sentry blob for %s: %v", creds.Username, err)
		} else if err := t.files.SaveFile(ctx, sentryFileName(creds.Username), sentry); err != nil {
			logrus.Warnf("failed to save sentry blob for %s: %v", creds.Username, err)
		}
	}

	t.username = creds.Username
	return &LogOnResult{SteamID: res.SteamID}, nil
}

func (t *BridgeTransport) LogOff(ctx context.Context) error {
	err := t.post(ctx, "/logoff", struct{}{}, nil, t.username)
	t.username = ""
	return err
}

func (t *BridgeTransport) AppTicket(ctx context.Context, appID string) (string, error) {
	var res struct {
		Ticket string `json:"ticket"`
	}
	req := struct {
		AppID string `json:"app_id"`
	}{AppID: appID}
	if err := t.post(ctx, "/ticket", req, &res, t.username); err != nil {
		return "", err
	}
	if res.Ticket == "" {
		return "", fmt.Errorf("bridge ticket response missing ticket")
	}
	return res.Ticket, nil
}

func (t *BridgeTransport) post(ctx context.Context, path string, body, out interface{}, username string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read bridge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var bridgeErr bridgeError
		if err := json.Unmarshal(data, &bridgeErr); err == nil && bridgeErr.Code == "guard_challenge" {
			return &GuardChallengeError{Username: username}
		}
		return fmt.Errorf("bridge request %s returned status %d: %s", path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode bridge response for %s: %w", path, err)
		}
	}
	return nil
}
