package steam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/Kards-Stats/kards-tools/pkg/accounts"
	"github.com/Kards-Stats/kards-tools/pkg/common"
	"github.com/Kards-Stats/kards-tools/pkg/metrics"
)

const (
	// loginAttempts bounds internal retries on transient platform errors.
	loginAttempts = 3

	// DefaultLoginTimeout bounds one whole login handshake, including
	// retries. The broker has no way to interrupt an in-flight handshake,
	// so the bound has to live here.
	DefaultLoginTimeout = 60 * time.Second
)

// Identity is the authenticated platform identity held for the duration of a
// login and the session built on top of it. In-memory only.
type Identity struct {
	Username string
	SteamID  string
	Ticket   string
}

// Client authenticates pool accounts against Steam and hands out session
// tickets. It wraps a single Transport and therefore holds at most one
// live identity; switching accounts logs the previous one out first.
type Client struct {
	mu           sync.Mutex
	transport    Transport
	identity     *Identity
	appID        string
	loginTimeout time.Duration
}

type ClientConfig struct {
	AppID        string
	LoginTimeout time.Duration
}

func NewClient(transport Transport, cfg ClientConfig) (*Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("steam client needs an app id")
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	return &Client{
		transport:    transport,
		appID:        cfg.AppID,
		loginTimeout: cfg.LoginTimeout,
	}, nil
}

// Identity returns a copy of the current identity, or nil when logged out.
func (c *Client) Identity() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil
	}
	id := *c.identity
	return &id
}

// IsLoggedIn reports whether a platform identity is currently held.
func (c *Client) IsLoggedIn() bool {
	return c.Identity() != nil
}

// Login authenticates the given account. If another account is logged in it
// is logged out first; if the same account is logged in the cached identity
// is returned unless forceRelogin is set. Transient platform errors are
// retried up to three times with exponential backoff; guard challenges fail
// immediately.
func (c *Client) Login(ctx context.Context, account *accounts.Account, forceRelogin bool) (*Identity, error) {
	logrus.Debugf("steam login(%s, force=%v)", account.Username, forceRelogin)

	if current := c.Identity(); current != nil {
		if current.Username == account.Username && !forceRelogin {
			return current, nil
		}
		if err := c.Logout(ctx); err != nil {
			return nil, fmt.Errorf("failed to log out %s before login: %w", current.Username, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	var result *LogOnResult
	operation := func() error {
		res, err := c.transport.LogOn(ctx, Credentials{
			Username: account.Username,
			Password: account.Password,
			LogonID:  common.RandomLogonID(),
		})
		if err != nil {
			if IsGuardChallenge(err) {
				logrus.Warnf("steam guard left on for user %s", account.Username)
				metrics.SteamLoginsTotal.WithLabelValues("guard").Inc()
				return backoff.Permanent(err)
			}
			logrus.Debugf("steam login error for %s: %v", account.Username, err)
			metrics.SteamLoginsTotal.WithLabelValues("retry").Inc()
			return err
		}
		result = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, loginAttempts), ctx)); err != nil {
		if IsGuardChallenge(err) {
			return nil, err
		}
		metrics.SteamLoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w for %s: %v", ErrMaxRetriesExceeded, account.Username, err)
	}

	identity := &Identity{
		Username: account.Username,
		SteamID:  result.SteamID,
	}
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()

	metrics.SteamLoginsTotal.WithLabelValues("ok").Inc()
	logrus.Infof("steam login succeeded for %s (steam id %s)", identity.Username, identity.SteamID)
	id := *identity
	return &id, nil
}

// SessionTicket fetches a fresh auth session ticket for the configured app
// id. Requires a prior successful Login.
func (c *Client) SessionTicket(ctx context.Context) (string, error) {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()
	if identity == nil {
		return "", ErrNotLoggedIn
	}

	ticket, err := c.transport.AppTicket(ctx, c.appID)
	if err != nil {
		return "", fmt.Errorf("failed to get session ticket for %s: %w", identity.Username, err)
	}

	c.mu.Lock()
	if c.identity != nil {
		c.identity.Ticket = ticket
	}
	c.mu.Unlock()
	return ticket, nil
}

// Logout terminates the platform connection and clears the local identity.
// No-op when not logged in. Waits for the platform to confirm the disconnect.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	identity := c.identity
	c.identity = nil
	c.mu.Unlock()
	if identity == nil {
		return nil
	}

	logrus.Debugf("steam logout(%s)", identity.Username)
	if err := c.transport.LogOff(ctx); err != nil {
		return fmt.Errorf("failed to log off %s: %w", identity.Username, err)
	}
	return nil
}
