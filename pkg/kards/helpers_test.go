package kards

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kards-Stats/kards-tools/pkg/accounts"
	"github.com/Kards-Stats/kards-tools/pkg/steam"
)

const testHostname = "kards.test"

// testBackend fakes the Drift backend over httptest and counts requests so
// tests can assert on exactly how much traffic an operation produced.
type testBackend struct {
	server *httptest.Server

	mu               sync.Mutex
	requests         int
	sessionPosts     int
	heartbeatPuts    int
	heartbeatDeletes int
	lastSessionBody  sessionLoginRequest
	lastHeartbeatJWT string
	lastAuthHeader   string

	// sessionResponses scripts the outcome of consecutive session POSTs.
	// Empty means always succeed.
	sessionResponses []func(w http.ResponseWriter)
	sessionDelay     time.Duration
	heartbeatStatus  int
}

func newTestBackend(t *testing.T) *testBackend {
	b := &testBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.server.Close)
	return b
}

func (b *testBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests++
	b.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		b.writeHome(w)
	case r.Method == http.MethodPost && r.URL.Path == "/session":
		b.handleSession(w, r)
	case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/heartbeat"):
		b.handleHeartbeatPut(w, r)
	case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/heartbeat"):
		b.mu.Lock()
		b.heartbeatDeletes++
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/players/1/friends":
		b.mu.Lock()
		b.lastAuthHeader = r.Header.Get("Authorization")
		b.mu.Unlock()
		if r.Method == http.MethodPost {
			var req struct {
				FriendID int `json:"friend_id"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(FriendID{FriendID: req.FriendID})
			return
		}
		json.NewEncoder(w).Encode([]FriendListItem{{FriendID: 2, PlayerName: "Ally", PlayerTag: 7}})
	case r.Method == http.MethodGet && r.URL.Path == "/players":
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"player_id": 42, "player_name": "Ally", "player_tag": 7},
			{"player_id": 43, "player_name": "Ally", "player_tag": 8},
		})
	default:
		writeApiError(w, 404, "Not Found", "not_found", "no such endpoint")
	}
}

func (b *testBackend) writeHome(w http.ResponseWriter) {
	doc := HomeDocument{
		Endpoints: Endpoints{
			"session":    "https://" + testHostname + "/session",
			"players":    "https://" + testHostname + "/players",
			"my_friends": "https://" + testHostname + "/players/1/friends",
		},
		ServiceName: "drift-base",
	}
	json.NewEncoder(w).Encode(doc)
}

func (b *testBackend) handleSession(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	json.NewDecoder(r.Body).Decode(&b.lastSessionBody)
	b.sessionPosts++
	var scripted func(w http.ResponseWriter)
	if len(b.sessionResponses) > 0 {
		scripted = b.sessionResponses[0]
		b.sessionResponses = b.sessionResponses[1:]
	}
	delay := b.sessionDelay
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if scripted != nil {
		scripted(w)
		return
	}
	writeSessionOK(w)
}

func (b *testBackend) handleHeartbeatPut(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.heartbeatPuts++
	b.lastHeartbeatJWT = r.Header.Get("Authorization")
	status := b.heartbeatStatus
	b.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		writeApiError(w, status, "Unauthorized", "user_error", "token expired")
		return
	}
	json.NewEncoder(w).Encode(HeartbeatResponse{LastHeartbeat: formatBackendTime(time.Now())})
}

func (b *testBackend) counts() (requests, sessionPosts, heartbeatPuts, heartbeatDeletes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests, b.sessionPosts, b.heartbeatPuts, b.heartbeatDeletes
}

func writeSessionOK(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(SessionData{
		JTI:           "jti-1",
		JWT:           "jwt-1",
		PlayerID:      1,
		PlayerName:    "Broker",
		LastHeartbeat: formatBackendTime(time.Now()),
	})
}

func writeApiError(w http.ResponseWriter, status int, message, code, description string) {
	w.WriteHeader(status)
	body := apiErrorJSON{StatusCode: status, Message: message}
	body.Error.Code = code
	body.Error.Description = description
	json.NewEncoder(w).Encode(body)
}

// fakeConnector is an in-memory accounts.Connector that records the calls the
// broker makes against it.
type fakeConnector struct {
	mu       sync.Mutex
	order    []string
	accounts map[string]*accounts.Account
	banCalls map[string]bool
	files    map[string][]byte

	kardsLogins []string
	steamLogins []string
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		accounts: make(map[string]*accounts.Account),
		banCalls: make(map[string]bool),
		files:    make(map[string][]byte),
	}
}

func (f *fakeConnector) add(account *accounts.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, account.Username)
	f.accounts[account.Username] = account
}

func (f *fakeConnector) AddAccount(ctx context.Context, username, password, poolType string) (*accounts.Account, error) {
	account := &accounts.Account{Username: username, Password: password, Type: poolType}
	f.add(account)
	return account, nil
}

func (f *fakeConnector) GetUser(ctx context.Context, username string) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[username]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (f *fakeConnector) GetOldest(ctx context.Context, poolType string) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *accounts.Account
	for _, username := range f.order {
		account := f.accounts[username]
		if account.Banned {
			continue
		}
		if poolType != accounts.AnyPool && account.Type != poolType {
			continue
		}
		if oldest == nil || account.LastSteamLogin.Before(oldest.LastSteamLogin) {
			oldest = account
		}
	}
	if oldest == nil {
		return nil, nil
	}
	copied := *oldest
	return &copied, nil
}

func (f *fakeConnector) GetUnbanned(ctx context.Context, poolType string) ([]*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*accounts.Account
	for _, username := range f.order {
		account := f.accounts[username]
		if account.Banned {
			continue
		}
		copied := *account
		result = append(result, &copied)
	}
	return result, nil
}

func (f *fakeConnector) AddSteamLogin(ctx context.Context, username, steamID, ticket string) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[username]
	if !ok {
		return nil, nil
	}
	account.SteamID = steamID
	account.Ticket = ticket
	account.LastSteamLogin = time.Now()
	f.steamLogins = append(f.steamLogins, username)
	copied := *account
	return &copied, nil
}

func (f *fakeConnector) AddKardsLogin(ctx context.Context, username string) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[username]
	if !ok {
		return nil, nil
	}
	account.LastKardsLogin = time.Now()
	f.kardsLogins = append(f.kardsLogins, username)
	copied := *account
	return &copied, nil
}

func (f *fakeConnector) SetBanned(ctx context.Context, username string, banned bool) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[username]
	if !ok {
		return nil, nil
	}
	account.Banned = banned
	account.SteamID = ""
	account.Ticket = ""
	f.banCalls[username] = banned
	copied := *account
	return &copied, nil
}

func (f *fakeConnector) SaveFile(ctx context.Context, name string, contents []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = contents
	return nil
}

func (f *fakeConnector) ReadFile(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[name], nil
}

// fakeAuth scripts the Steam side of the broker.
type fakeAuth struct {
	mu         sync.Mutex
	steamIDs   map[string]string
	ticket     string
	loginErr   error
	loginCalls int
	current    string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{steamIDs: make(map[string]string), ticket: "fresh-ticket"}
}

func (f *fakeAuth) Login(ctx context.Context, account *accounts.Account, forceRelogin bool) (*steam.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	steamID, ok := f.steamIDs[account.Username]
	if !ok {
		steamID = "sid-" + account.Username
	}
	f.current = account.Username
	return &steam.Identity{Username: account.Username, SteamID: steamID}, nil
}

func (f *fakeAuth) SessionTicket(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticket, nil
}

func (f *fakeAuth) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ""
	return nil
}

// newTestSession wires a broker against the fake backend with fast timers.
func newTestSession(t *testing.T, backend *testBackend, connector *fakeConnector, auth *fakeAuth) *Session {
	t.Helper()
	session, err := NewSession(accounts.AnyPool, connector, auth, SessionConfig{
		Hostname:    testHostname,
		DriftAPIKey: "test-key",
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	session.requester.baseURL = backend.server.URL
	session.waitInterval = 5 * time.Millisecond
	t.Cleanup(func() { session.StopSession(context.Background()) })
	return session
}

// readyAccount is an account with cached platform credentials, usable without
// a Steam refresh.
func readyAccount(username, steamID string) *accounts.Account {
	return &accounts.Account{
		Username:       username,
		Password:       "secret",
		Type:           "scraper",
		SteamID:        steamID,
		Ticket:         "ticket-" + username,
		LastSteamLogin: time.Now(),
	}
}

// coldAccount is an account that has never logged in to Steam.
func coldAccount(username string) *accounts.Account {
	return &accounts.Account{
		Username:       username,
		Password:       "secret",
		Type:           "scraper",
		LastSteamLogin: time.Unix(0, 0).UTC(),
	}
}
