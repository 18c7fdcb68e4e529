package kards

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kards-Stats/kards-tools/pkg/accounts"
	"github.com/Kards-Stats/kards-tools/pkg/common"
	"github.com/Kards-Stats/kards-tools/pkg/metrics"
	"github.com/Kards-Stats/kards-tools/pkg/steam"
)

const (
	// OldestAccount selects the pool account with the least recent Steam
	// login instead of a specific username.
	OldestAccount = "oldest"

	// maxSessionTries bounds the rotation loop in getSession.
	maxSessionTries = 3

	// sessionFreshness is how recent the last heartbeat has to be for a
	// session to count as live.
	sessionFreshness = 60 * time.Second

	// DefaultHeartbeatInterval is the keep-alive period.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultSteamLoginWait is the minimum gap between Steam logins for one
	// account. Logging in more often trips the platform's limit bans.
	DefaultSteamLoginWait = 10 * time.Minute

	authWaitTries    = 30
	authWaitInterval = time.Second
)

// SteamAuthenticator is the platform side of the broker: it logs pool
// accounts in to Steam and hands out session tickets. Implemented by
// steam.Client.
type SteamAuthenticator interface {
	Login(ctx context.Context, account *accounts.Account, forceRelogin bool) (*steam.Identity, error)
	SessionTicket(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// SessionConfig carries the injectable parts of a Session.
type SessionConfig struct {
	Hostname          string
	DriftAPIKey       string
	AppID             string
	HeartbeatInterval time.Duration
	SteamLoginWait    time.Duration
}

// Session owns the single live Kards session for one account pool type. It
// selects an account, performs the Steam and Kards logins, keeps the session
// alive with heartbeats, and rotates to another account when credentials are
// rejected.
//
// Multiple goroutines may call GetSession concurrently; only one login
// handshake is ever in flight, guarded by the authenticating flag.
type Session struct {
	mu             sync.Mutex
	session        *SessionData
	authenticating bool
	steamUser      *steam.Identity
	heartbeatStop  chan struct{}

	poolType  string
	connector accounts.Connector
	auth      SteamAuthenticator
	requester *Requester
	home      *Home

	appID             string
	heartbeatInterval time.Duration
	steamLoginWait    time.Duration
	waitInterval      time.Duration
}

// NewSession creates a session broker for the given pool type. Accounts are
// always selected within that type, so brokers of different types never
// contend for the same credentials.
func NewSession(poolType string, connector accounts.Connector, auth SteamAuthenticator, cfg SessionConfig) (*Session, error) {
	logrus.Debugf("generating session for %s", poolType)

	if cfg.AppID == "" {
		cfg.AppID = DefaultAppID
	}
	if cfg.DriftAPIKey == "" {
		return nil, fmt.Errorf("invalid app id or drift api key")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.SteamLoginWait <= 0 {
		cfg.SteamLoginWait = DefaultSteamLoginWait
	}

	s := &Session{
		poolType:          poolType,
		connector:         connector,
		auth:              auth,
		requester:         NewRequester(cfg.Hostname, cfg.DriftAPIKey),
		appID:             cfg.AppID,
		heartbeatInterval: cfg.HeartbeatInterval,
		steamLoginWait:    cfg.SteamLoginWait,
		waitInterval:      authWaitInterval,
	}
	s.requester.BindSession(s)
	s.home = NewHome(s.requester)
	return s, nil
}

// Requester returns the HTTP requester bound to this session, for
// sub-clients that make their own backend calls.
func (s *Session) Requester() *Requester {
	return s.requester
}

// Home returns the endpoint discovery cache bound to this session.
func (s *Session) Home() *Home {
	return s.home
}

// Current returns the cached session without triggering a login, or nil.
func (s *Session) Current() *SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Authenticating reports whether a login handshake is in flight.
func (s *Session) Authenticating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticating
}

// GetSession returns the live session, performing the full account
// selection, Steam login and Kards login dance when none is cached. The
// fresh-session fast path makes no network calls.
func (s *Session) GetSession(ctx context.Context) (*SessionData, error) {
	return s.getSession(ctx, 0, OldestAccount, false)
}

func (s *Session) getSession(ctx context.Context, tryNum int, username string, skipAuthWait bool) (*SessionData, error) {
	logrus.Debugf("getSession(%d, %s)", tryNum, username)
	if tryNum > maxSessionTries {
		return nil, ErrMaxRetries
	}

	s.mu.Lock()
	if s.session != nil && !s.needsNewSessionLocked() {
		sess := s.session
		s.mu.Unlock()
		return sess, nil
	}
	if s.authenticating && !skipAuthWait {
		s.mu.Unlock()
		logrus.Debugf("already authenticating, waiting")
		s.waitForAuthentication(ctx, authWaitTries)
		return s.getSession(ctx, tryNum+1, username, false)
	}
	s.authenticating = true
	s.mu.Unlock()

	// The flag must clear on every exit path or every future caller blocks
	// on it forever.
	defer func() {
		s.mu.Lock()
		s.authenticating = false
		s.mu.Unlock()
	}()

	return s.authenticate(ctx, tryNum, username)
}

// authenticate runs one login attempt while the caller holds the
// authenticating claim.
func (s *Session) authenticate(ctx context.Context, tryNum int, username string) (*SessionData, error) {
	scope := common.NewScope(ctx, "kards.session.login")
	defer scope.Finish()
	ctx = scope.Ctx

	user, err := s.getInternalUser(ctx, username)
	if err != nil {
		scope.TraceError(err)
		return nil, err
	}
	scope.TraceEvent("using account " + user.Username)

	endpoint, err := s.home.SessionEndpoint(ctx)
	if err != nil {
		scope.TraceError(err)
		return nil, err
	}
	scope.Log.Debugf("session endpoint: %s", endpoint)

	payload, err := json.Marshal(sessionLoginRequest{
		Provider: providerSteam,
		ProviderDetails: sessionProviderDetails{
			SteamID: user.SteamID,
			Ticket:  user.Ticket,
			AppID:   s.appID,
		},
		ClientType:               clientType,
		Build:                    clientBuild,
		AppGUID:                  clientAppGUID,
		Version:                  clientVersion,
		AutomaticAccountCreation: true,
		Username:                 providerSteam + ":" + user.SteamID,
		Password:                 providerSteam + ":" + user.SteamID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session payload: %w", err)
	}

	data, err := s.requester.Post(ctx, s.requester.Path(endpoint), false, payload)
	if err != nil {
		if IsUnauthorized(err) {
			// Banned if the backend says so, otherwise likely an expired
			// Steam ticket. Either way this account is done for now.
			banned := IsBan(err)
			scope.TraceEvent("credentials rejected, rotating account")
			if _, storeErr := s.connector.SetBanned(ctx, user.Username, banned); storeErr != nil {
				logrus.Warnf("failed to update ban state for %s: %v", user.Username, storeErr)
			}
			if banned {
				logrus.Warnf("account %s is disabled, marked banned", user.Username)
				metrics.AccountBansTotal.Inc()
			}
			metrics.AccountRotationsTotal.Inc()

			s.mu.Lock()
			s.steamUser = nil
			s.mu.Unlock()

			// skipAuthWait: this call already holds the authenticating
			// claim and must not wait on itself.
			return s.getSession(ctx, tryNum+1, OldestAccount, true)
		}
		scope.TraceError(err)
		logrus.Debugf("kards session error: %v", err)
		metrics.SessionLoginsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if _, err := s.connector.AddKardsLogin(ctx, user.Username); err != nil {
		logrus.Warnf("failed to record kards login for %s: %v", user.Username, err)
	}

	var session SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		metrics.SessionLoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("unexpected session response: %w", err)
	}
	if err := session.Validate(); err != nil {
		metrics.SessionLoginsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if session.LastHeartbeat == "" {
		session.LastHeartbeat = formatBackendTime(time.Now())
	}

	s.mu.Lock()
	s.session = &session
	sess := s.session
	s.mu.Unlock()

	s.startHeartbeat(session.PlayerID)
	metrics.SessionLoginsTotal.WithLabelValues("ok").Inc()
	metrics.SessionActive.Set(1)
	scope.Log.Infof("started kards session for player %d (account %s)", session.PlayerID, user.Username)
	return sess, nil
}

// getInternalUser resolves the Steam identity used for the next Kards
// login, reusing the cached one when present. When a named account cannot
// produce an identity the pool's oldest account is tried once before the
// error propagates.
func (s *Session) getInternalUser(ctx context.Context, fallback string) (*steam.Identity, error) {
	s.mu.Lock()
	if s.steamUser != nil {
		user := *s.steamUser
		s.mu.Unlock()
		return &user, nil
	}
	s.mu.Unlock()

	account, err := s.GetUser(ctx, fallback)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNoAccounts
	}

	if account.SteamID != "" && account.Ticket != "" {
		identity := &steam.Identity{
			Username: account.Username,
			SteamID:  account.SteamID,
			Ticket:   account.Ticket,
		}
		s.mu.Lock()
		s.steamUser = identity
		s.mu.Unlock()
		user := *identity
		return &user, nil
	}

	logrus.Debugf("steam values empty for %s, refreshing", account.Username)
	identity, err := s.RefreshSteam(ctx, account.Username, false, s.steamLoginWait)
	if err != nil || identity == nil {
		if fallback != OldestAccount {
			// Bump the account's Steam login stamp so it rotates to the back
			// of the pool, then retry against the oldest.
			if _, storeErr := s.connector.AddSteamLogin(ctx, account.Username, account.SteamID, account.Ticket); storeErr != nil {
				logrus.Warnf("failed to rotate account %s: %v", account.Username, storeErr)
			}
			if err != nil {
				logrus.Warnf("steam refresh failed for %s: %v", account.Username, err)
			}
			return s.getInternalUser(ctx, OldestAccount)
		}
		if err == nil {
			err = ErrSteamRefreshUnavailable
		}
		return nil, err
	}
	return identity, nil
}

// GetUser selects an account from the pool. OldestAccount (or an empty
// username) picks the least recently Steam-logged-in unbanned account of
// this broker's pool type; anything else looks the username up directly.
func (s *Session) GetUser(ctx context.Context, username string) (*accounts.Account, error) {
	if username == "" || username == OldestAccount {
		return s.connector.GetOldest(ctx, s.poolType)
	}
	return s.connector.GetUser(ctx, username)
}

// RefreshSteam performs a fresh Steam login for the named account and
// persists the new ticket. Returns (nil, nil) without logging in when the
// account's last Steam login is newer than wait: logging in faster than
// that gets accounts limit-banned by the platform.
func (s *Session) RefreshSteam(ctx context.Context, username string, force bool, wait time.Duration) (*steam.Identity, error) {
	logrus.Debugf("refreshSteam(%s, %v, %v)", username, force, wait)

	account, err := s.connector.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	if time.Since(account.LastSteamLogin) <= wait {
		return nil, nil
	}

	identity, err := s.auth.Login(ctx, account, force)
	if err != nil {
		return nil, err
	}
	ticket, err := s.auth.SessionTicket(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.connector.AddSteamLogin(ctx, identity.Username, identity.SteamID, ticket); err != nil {
		return nil, err
	}

	cached := &steam.Identity{
		Username: identity.Username,
		SteamID:  identity.SteamID,
		Ticket:   ticket,
	}
	s.mu.Lock()
	s.steamUser = cached
	s.mu.Unlock()

	user := *cached
	return &user, nil
}

// waitForAuthentication polls until the in-flight login finishes or the
// bounded number of ticks elapses. Timing out is silent: the caller
// re-checks state itself, keeping the retry loop the single source of truth
// for failures.
func (s *Session) waitForAuthentication(ctx context.Context, tries int) {
	for i := 0; i < tries; i++ {
		s.mu.Lock()
		authenticating := s.authenticating
		s.mu.Unlock()
		if !authenticating {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.waitInterval):
		}
	}
}

// NeedsNewSession reports whether the cached session is missing or its last
// heartbeat is older than the freshness window.
func (s *Session) NeedsNewSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsNewSessionLocked()
}

func (s *Session) needsNewSessionLocked() bool {
	if s.session == nil {
		return true
	}
	if s.session.LastHeartbeat == "" {
		return true
	}
	heartbeat, err := parseBackendTime(s.session.LastHeartbeat)
	if err != nil {
		return true
	}
	return time.Since(heartbeat) >= sessionFreshness
}

// GetJTI returns the live session's jti, logging in first when needed.
func (s *Session) GetJTI(ctx context.Context) (string, error) {
	session, err := s.GetSession(ctx)
	if err != nil {
		return "", err
	}
	return session.JTI, nil
}

// GetPlayerID returns the live session's player id, logging in first when
// needed.
func (s *Session) GetPlayerID(ctx context.Context) (int, error) {
	session, err := s.GetSession(ctx)
	if err != nil {
		return 0, err
	}
	return session.PlayerID, nil
}

// StopSession ends the current session. Idempotent: a missing session is a
// no-op, a stale one is cleared locally without a remote call, and remote
// teardown failures are logged rather than raised. The heartbeat task stops
// first in all cases.
func (s *Session) StopSession(ctx context.Context) {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	if s.session == nil {
		s.mu.Unlock()
		return
	}
	if s.needsNewSessionLocked() {
		s.session = nil
		s.mu.Unlock()
		metrics.SessionActive.Set(0)
		return
	}
	session := *s.session
	s.session = nil
	s.mu.Unlock()
	metrics.SessionActive.Set(0)

	if _, err := s.requester.Do(ctx, "DELETE", fmt.Sprintf("/players/%d/heartbeat", session.PlayerID), map[string]string{
		"Authorization": "JWT " + session.JWT,
	}, nil); err != nil {
		logrus.Infof("failed to delete remote session for player %d: %v", session.PlayerID, err)
	}
}

func (s *Session) startHeartbeat(playerID int) {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()
	go s.heartbeatLoop(playerID, stop)
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

func (s *Session) heartbeatLoop(playerID int, stop chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.heartbeatOnce(playerID) {
				return
			}
		}
	}
}

// heartbeatOnce performs one keep-alive PUT and reports whether the loop
// should exit. Any failure tears the session down; failures are logged,
// never propagated, so the heartbeat can never take the process with it.
func (s *Session) heartbeatOnce(playerID int) bool {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		// Raced with a stop or rotation; treat as stopped.
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.heartbeatInterval)
	defer cancel()

	data, err := s.requester.Do(ctx, "PUT", fmt.Sprintf("/players/%d/heartbeat", playerID), map[string]string{
		"Authorization": "JWT " + session.JWT,
	}, nil)
	if err == nil {
		var heartbeat HeartbeatResponse
		if jsonErr := json.Unmarshal(data, &heartbeat); jsonErr != nil || heartbeat.LastHeartbeat == "" {
			err = fmt.Errorf("no heartbeat result")
		} else {
			s.mu.Lock()
			if s.session != nil {
				s.session.LastHeartbeat = heartbeat.LastHeartbeat
			}
			s.mu.Unlock()
			metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
			return false
		}
	}

	metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
	logrus.Warnf("heartbeat for player %d failed: %v", playerID, err)
	if IsUnauthorized(err) {
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
		metrics.SessionActive.Set(0)
	}
	s.StopSession(ctx)
	return true
}

type sessionProviderDetails struct {
	SteamID string `json:"steam_id"`
	Ticket  string `json:"ticket"`
	AppID   string `json:"appid"`
}

type sessionLoginRequest struct {
	Provider                 string                 `json:"provider"`
	ProviderDetails          sessionProviderDetails `json:"provider_details"`
	ClientType               string                 `json:"client_type"`
	Build                    string                 `json:"build"`
	PlatformType             string                 `json:"platform_type"`
	AppGUID                  string                 `json:"app_guid"`
	Version                  string                 `json:"version"`
	PlatformInfo             string                 `json:"platform_info"`
	PlatformVersion          string                 `json:"platform_version"`
	AutomaticAccountCreation bool                   `json:"automatic_account_creation"`
	Username                 string                 `json:"username"`
	Password                 string                 `json:"password"`
}
