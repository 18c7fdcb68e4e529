package kards

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestRequester(t *testing.T, handler http.HandlerFunc) (*Requester, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	requester := NewRequester(testHostname, "test-key")
	requester.baseURL = server.URL
	return requester, server
}

func TestRequester_Headers(t *testing.T) {
	var apiKey, contentType string
	requester, _ := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("Drift-Api-Key")
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	})

	if _, err := requester.Post(context.Background(), "/session", false, []byte(`{}`)); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if apiKey != "test-key" {
		t.Errorf("Drift-Api-Key = %q", apiKey)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
}

func TestRequester_ClassifiesApiErrors(t *testing.T) {
	requester, _ := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		writeApiError(w, 401, "Unauthorized", "user_error", "Invalid JTI")
	})

	_, err := requester.Get(context.Background(), "/", false)
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Get() error = %v, expected *ApiError", err)
	}
	if apiErr.StatusCode != 401 || apiErr.Description != "Invalid JTI" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestRequester_PassesRawBodyThrough(t *testing.T) {
	requester, _ := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"player_id": 7})
	})

	var out struct {
		PlayerID int `json:"player_id"`
	}
	if err := requester.RequestJSON(context.Background(), "GET", "/", false, nil, &out); err != nil {
		t.Fatalf("RequestJSON() error = %v", err)
	}
	if out.PlayerID != 7 {
		t.Errorf("PlayerID = %d", out.PlayerID)
	}
}

func TestRequester_AuthenticatedWithoutSession(t *testing.T) {
	requester, _ := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := requester.Get(context.Background(), "/", true)
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("Get() error = %v, expected ErrNoSession", err)
	}
}

func TestRequester_Path(t *testing.T) {
	requester := NewRequester(testHostname, "k")
	cases := []struct {
		in, want string
	}{
		{"https://" + testHostname + "/session", "/session"},
		{"/session", "/session"},
		{"session", "/session"},
		{"https://" + testHostname + "/players/1/heartbeat", "/players/1/heartbeat"},
	}
	for _, tc := range cases {
		if got := requester.Path(tc.in); got != tc.want {
			t.Errorf("Path(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
}
