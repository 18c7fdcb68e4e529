package kards

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Kards-Stats/kards-tools/pkg/steam"
)

func TestGetSession_FullLogin(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "76561198000000001"))
	session := newTestSession(t, backend, connector, newFakeAuth())

	data, err := session.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if data.JTI != "jti-1" || data.PlayerID != 1 {
		t.Errorf("unexpected session %+v", data)
	}

	body := backend.lastSessionBody
	if body.Provider != "steam" {
		t.Errorf("Provider = %q, expected steam", body.Provider)
	}
	if body.ProviderDetails.SteamID != "76561198000000001" {
		t.Errorf("SteamID = %q", body.ProviderDetails.SteamID)
	}
	if body.ProviderDetails.Ticket != "ticket-alice" {
		t.Errorf("Ticket = %q", body.ProviderDetails.Ticket)
	}
	if body.ProviderDetails.AppID != DefaultAppID {
		t.Errorf("AppID = %q, expected %q", body.ProviderDetails.AppID, DefaultAppID)
	}
	if body.Username != "steam:76561198000000001" || body.Password != body.Username {
		t.Errorf("Username/Password = %q/%q", body.Username, body.Password)
	}
	if !body.AutomaticAccountCreation {
		t.Error("AutomaticAccountCreation should be set")
	}

	if len(connector.kardsLogins) != 1 || connector.kardsLogins[0] != "alice" {
		t.Errorf("kardsLogins = %v, expected [alice]", connector.kardsLogins)
	}
}

func TestGetSession_FreshSessionMakesNoRequests(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "1"))
	session := newTestSession(t, backend, connector, newFakeAuth())
	ctx := context.Background()

	first, err := session.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	before, _, _, _ := backend.counts()

	second, err := session.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	after, _, _, _ := backend.counts()

	if after != before {
		t.Errorf("cached GetSession() made %d requests, expected 0", after-before)
	}
	if first != second {
		t.Error("cached GetSession() should return the same session")
	}
}

func TestGetSession_SingleLoginUnderConcurrency(t *testing.T) {
	backend := newTestBackend(t)
	backend.sessionDelay = 50 * time.Millisecond
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "1"))
	session := newTestSession(t, backend, connector, newFakeAuth())

	const callers = 4
	results := make([]*SessionData, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = session.GetSession(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i].JTI != results[0].JTI {
			t.Errorf("caller %d got jti %q, expected %q", i, results[i].JTI, results[0].JTI)
		}
	}

	_, sessionPosts, _, _ := backend.counts()
	if sessionPosts != 1 {
		t.Errorf("sessionPosts = %d, expected exactly 1 login", sessionPosts)
	}
}

func TestGetSession_BanRotatesToNextAccount(t *testing.T) {
	backend := newTestBackend(t)
	backend.sessionResponses = []func(http.ResponseWriter){
		func(w http.ResponseWriter) {
			writeApiError(w, 401, "Unauthorized", "user_error", "Client has been disabled")
		},
	}
	connector := newFakeConnector()
	alice := readyAccount("alice", "111")
	alice.LastSteamLogin = time.Now().Add(-time.Hour)
	connector.add(alice)
	connector.add(readyAccount("bob", "222"))
	session := newTestSession(t, backend, connector, newFakeAuth())

	data, err := session.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if data.JTI != "jti-1" {
		t.Errorf("JTI = %q", data.JTI)
	}

	if banned, ok := connector.banCalls["alice"]; !ok || !banned {
		t.Errorf("banCalls = %v, expected alice banned", connector.banCalls)
	}
	if backend.lastSessionBody.ProviderDetails.SteamID != "222" {
		t.Errorf("second login used steam id %q, expected bob's", backend.lastSessionBody.ProviderDetails.SteamID)
	}
}

func TestGetSession_ExpiredTicketRefreshesSteam(t *testing.T) {
	backend := newTestBackend(t)
	backend.sessionResponses = []func(http.ResponseWriter){
		func(w http.ResponseWriter) {
			writeApiError(w, 401, "Unauthorized", "user_error", "Invalid ticket")
		},
	}
	connector := newFakeConnector()
	alice := readyAccount("alice", "111")
	alice.LastSteamLogin = time.Unix(0, 0).UTC()
	connector.add(alice)
	auth := newFakeAuth()
	session := newTestSession(t, backend, connector, auth)

	data, err := session.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if data.JTI != "jti-1" {
		t.Errorf("JTI = %q", data.JTI)
	}

	// Not a ban, the account stays in the pool with cleared credentials.
	if banned, ok := connector.banCalls["alice"]; !ok || banned {
		t.Errorf("banCalls = %v, expected alice unbanned", connector.banCalls)
	}
	if auth.loginCalls != 1 {
		t.Errorf("loginCalls = %d, expected a Steam refresh for the retry", auth.loginCalls)
	}
	if backend.lastSessionBody.ProviderDetails.Ticket != "fresh-ticket" {
		t.Errorf("retry used ticket %q, expected the refreshed one", backend.lastSessionBody.ProviderDetails.Ticket)
	}
}

func TestGetSession_AllRejectedStopsAfterMaxTries(t *testing.T) {
	backend := newTestBackend(t)
	reject := func(w http.ResponseWriter) {
		writeApiError(w, 401, "Unauthorized", "user_error", "Client has been disabled")
	}
	backend.sessionResponses = []func(http.ResponseWriter){reject, reject, reject, reject, reject, reject}
	connector := newFakeConnector()
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		connector.add(readyAccount(name, "sid-"+name))
	}
	session := newTestSession(t, backend, connector, newFakeAuth())

	_, err := session.GetSession(context.Background())
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("GetSession() error = %v, expected ErrMaxRetries", err)
	}

	_, sessionPosts, _, _ := backend.counts()
	if sessionPosts > 4 {
		t.Errorf("sessionPosts = %d, rotation must stay bounded", sessionPosts)
	}
	if session.Authenticating() {
		t.Error("authenticating flag must clear after failure")
	}
}

func TestGetSession_ExhaustedPool(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	session := newTestSession(t, backend, connector, newFakeAuth())

	_, err := session.GetSession(context.Background())
	if !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("GetSession() error = %v, expected ErrNoAccounts", err)
	}
	if session.Authenticating() {
		t.Error("authenticating flag must clear after failure")
	}
}

func TestGetSession_GuardChallengePropagates(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(coldAccount("alice"))
	auth := newFakeAuth()
	auth.loginErr = &steam.GuardChallengeError{Username: "alice"}
	session := newTestSession(t, backend, connector, auth)

	_, err := session.GetSession(context.Background())
	if !steam.IsGuardChallenge(err) {
		t.Fatalf("GetSession() error = %v, expected guard challenge", err)
	}

	_, sessionPosts, _, _ := backend.counts()
	if sessionPosts != 0 {
		t.Errorf("sessionPosts = %d, guard challenge must fail before the backend login", sessionPosts)
	}
	if session.Authenticating() {
		t.Error("authenticating flag must clear after failure")
	}
}

func TestNeedsNewSession_FreshnessBoundary(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	session := newTestSession(t, backend, connector, newFakeAuth())

	if !session.NeedsNewSession() {
		t.Error("no session at all should need a new one")
	}

	session.session = &SessionData{
		JTI: "j", JWT: "w", PlayerID: 1,
		LastHeartbeat: formatBackendTime(time.Now().Add(-59 * time.Second)),
	}
	if session.NeedsNewSession() {
		t.Error("a 59s old heartbeat is still fresh")
	}

	session.session.LastHeartbeat = formatBackendTime(time.Now().Add(-61 * time.Second))
	if !session.NeedsNewSession() {
		t.Error("a 61s old heartbeat is stale")
	}

	session.session.LastHeartbeat = "not a timestamp"
	if !session.NeedsNewSession() {
		t.Error("an unparseable heartbeat is stale")
	}
}

func TestRefreshSteam_RateLimited(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "111"))
	auth := newFakeAuth()
	session := newTestSession(t, backend, connector, auth)

	identity, err := session.RefreshSteam(context.Background(), "alice", false, DefaultSteamLoginWait)
	if err != nil {
		t.Fatalf("RefreshSteam() error = %v", err)
	}
	if identity != nil {
		t.Errorf("RefreshSteam() = %+v, expected nil inside the rate-limit window", identity)
	}
	if auth.loginCalls != 0 {
		t.Errorf("loginCalls = %d, rate limit must suppress the login", auth.loginCalls)
	}
}

func TestRefreshSteam_MissingAccount(t *testing.T) {
	backend := newTestBackend(t)
	session := newTestSession(t, backend, newFakeConnector(), newFakeAuth())

	_, err := session.RefreshSteam(context.Background(), "nobody", false, 0)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("RefreshSteam() error = %v, expected ErrAccountNotFound", err)
	}
}

func TestRefreshSteam_PersistsTicket(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(coldAccount("alice"))
	auth := newFakeAuth()
	session := newTestSession(t, backend, connector, auth)

	identity, err := session.RefreshSteam(context.Background(), "alice", false, DefaultSteamLoginWait)
	if err != nil {
		t.Fatalf("RefreshSteam() error = %v", err)
	}
	if identity == nil || identity.Ticket != "fresh-ticket" {
		t.Fatalf("RefreshSteam() = %+v, expected a fresh identity", identity)
	}

	account, _ := connector.GetUser(context.Background(), "alice")
	if account.Ticket != "fresh-ticket" || account.SteamID != "sid-alice" {
		t.Errorf("credentials not persisted: %+v", account)
	}
	if len(connector.steamLogins) != 1 {
		t.Errorf("steamLogins = %v, expected one record", connector.steamLogins)
	}
}

func TestStopSession_NoSessionIsNoop(t *testing.T) {
	backend := newTestBackend(t)
	session := newTestSession(t, backend, newFakeConnector(), newFakeAuth())

	session.StopSession(context.Background())

	requests, _, _, _ := backend.counts()
	if requests != 0 {
		t.Errorf("requests = %d, expected none", requests)
	}
}

func TestStopSession_LiveSessionDeletesRemote(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "1"))
	session := newTestSession(t, backend, connector, newFakeAuth())
	ctx := context.Background()

	if _, err := session.GetSession(ctx); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	session.StopSession(ctx)

	_, _, _, heartbeatDeletes := backend.counts()
	if heartbeatDeletes != 1 {
		t.Errorf("heartbeatDeletes = %d, expected 1", heartbeatDeletes)
	}
	if session.Current() != nil {
		t.Error("session should be cleared")
	}
}

func TestStopSession_StaleSessionClearsLocally(t *testing.T) {
	backend := newTestBackend(t)
	session := newTestSession(t, backend, newFakeConnector(), newFakeAuth())

	session.session = &SessionData{
		JTI: "j", JWT: "w", PlayerID: 1,
		LastHeartbeat: formatBackendTime(time.Now().Add(-5 * time.Minute)),
	}
	session.StopSession(context.Background())

	requests, _, _, _ := backend.counts()
	if requests != 0 {
		t.Errorf("requests = %d, stale teardown must stay local", requests)
	}
	if session.Current() != nil {
		t.Error("session should be cleared")
	}
}

func TestHeartbeat_KeepsSessionAlive(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "1"))
	session := newTestSession(t, backend, connector, newFakeAuth())
	session.heartbeatInterval = 20 * time.Millisecond

	if _, err := session.GetSession(context.Background()); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, heartbeatPuts, _ := backend.counts()
		if heartbeatPuts >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("heartbeatPuts = %d, expected at least 2", heartbeatPuts)
		}
		time.Sleep(10 * time.Millisecond)
	}

	backend.mu.Lock()
	jwt := backend.lastHeartbeatJWT
	backend.mu.Unlock()
	if jwt != "JWT jwt-1" {
		t.Errorf("heartbeat Authorization = %q, expected JWT jwt-1", jwt)
	}
	if session.NeedsNewSession() {
		t.Error("heartbeats should keep the session fresh")
	}
}

func TestHeartbeat_UnauthorizedTearsDown(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "1"))
	session := newTestSession(t, backend, connector, newFakeAuth())
	session.heartbeatInterval = 20 * time.Millisecond

	if _, err := session.GetSession(context.Background()); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	backend.mu.Lock()
	backend.heartbeatStatus = http.StatusUnauthorized
	backend.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for session.Current() != nil {
		if time.Now().After(deadline) {
			t.Fatal("session should be torn down after an unauthorized heartbeat")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, _, heartbeatPuts, _ := backend.counts()
	if heartbeatPuts == 0 {
		t.Error("expected at least one heartbeat attempt")
	}
}

func TestGetJTIAndPlayerID(t *testing.T) {
	backend := newTestBackend(t)
	connector := newFakeConnector()
	connector.add(readyAccount("alice", "1"))
	session := newTestSession(t, backend, connector, newFakeAuth())
	ctx := context.Background()

	jti, err := session.GetJTI(ctx)
	if err != nil || jti != "jti-1" {
		t.Errorf("GetJTI() = %q, %v", jti, err)
	}
	playerID, err := session.GetPlayerID(ctx)
	if err != nil || playerID != 1 {
		t.Errorf("GetPlayerID() = %d, %v", playerID, err)
	}
}

func TestNewSession_RequiresAPIKey(t *testing.T) {
	_, err := NewSession("*", newFakeConnector(), newFakeAuth(), SessionConfig{Hostname: testHostname})
	if err == nil {
		t.Fatal("NewSession() without an api key should fail")
	}
}
