package kards

import (
	"fmt"
	"time"
)

// SessionData is the authenticated session context returned by the session
// endpoint. The upstream payload carries far more fields; only the ones the
// tools rely on are declared, the rest is ignored on decode.
type SessionData struct {
	JTI          string `json:"jti"`
	JWT          string `json:"jwt"`
	PlayerID     int    `json:"player_id"`
	PlayerName   string `json:"player_name"`
	PlayerTag    int    `json:"player_tag"`
	UserID       int    `json:"user_id"`
	ClientID     int    `json:"client_id"`
	HeartbeatURL string `json:"heartbeat_url"`
	PlayerURL    string `json:"player_url"`
	ServerTime   string `json:"server_time"`

	// LastHeartbeat is kept as the raw backend timestamp and refreshed by
	// the heartbeat loop.
	LastHeartbeat string `json:"last_heartbeat"`
}

// Validate checks the fields a usable session cannot do without.
func (s *SessionData) Validate() error {
	if s.JTI == "" {
		return fmt.Errorf("session missing jti")
	}
	if s.JWT == "" {
		return fmt.Errorf("session missing jwt")
	}
	if s.PlayerID == 0 {
		return fmt.Errorf("session missing player_id")
	}
	return nil
}

// HeartbeatResponse is the body of a successful heartbeat PUT.
type HeartbeatResponse struct {
	LastHeartbeat string `json:"last_heartbeat"`
}

// Endpoints is the named endpoint map returned by the root document.
// Endpoint names prefixed my_ are only present on authenticated calls. The
// key set varies between backend deployments, so it stays an open map.
type Endpoints map[string]string

// BuildInfo identifies the backend build serving the root document.
type BuildInfo struct {
	BuildTimestamp string `json:"build_timestamp"`
	CommitHash     string `json:"commit_hash"`
	Version        string `json:"version"`
}

// HomeUser is the identity the backend sees on an authenticated root call.
type HomeUser struct {
	ClientID int    `json:"client_id"`
	PlayerID int    `json:"player_id"`
	UserID   int    `json:"user_id"`
	UserName string `json:"user_name"`
	JTI      string `json:"jti"`
}

// HomeDocument is the root discovery document.
type HomeDocument struct {
	BuildInfo   BuildInfo `json:"build_info"`
	CurrentUser *HomeUser `json:"current_user,omitempty"`
	Endpoints   Endpoints `json:"endpoints"`
	ServerTime  string    `json:"server_time"`
	ServiceName string    `json:"service_name"`
	TenantName  string    `json:"tenant_name"`
}

// FriendID is the response to a friend add.
type FriendID struct {
	FriendID int `json:"friend_id"`
}

// FriendListItem is one entry in a player's friend list.
type FriendListItem struct {
	FriendID   int    `json:"friend_id"`
	PlayerName string `json:"player_name"`
	PlayerTag  int    `json:"player_tag"`
	IsOnline   bool   `json:"is_online"`
}

// parseBackendTime parses the timestamp formats the Drift backend emits,
// with and without an explicit zone. Naive timestamps are UTC.
func parseBackendTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("unparseable backend timestamp %q: %w", value, lastErr)
}

// formatBackendTime renders a timestamp the way the backend does. Used by
// tests and by the heartbeat bookkeeping.
func formatBackendTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999Z07:00")
}
