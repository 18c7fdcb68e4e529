package steam

import "context"

// Credentials are the raw account credentials handed to the transport for a
// single logon attempt.
type Credentials struct {
	Username string
	Password string
	LogonID  uint32
}

// LogOnResult is the identity the platform reports after a successful logon.
type LogOnResult struct {
	SteamID string
}

// Transport is one live connection to the Steam network. The wire protocol
// itself lives behind this interface; the production implementation proxies
// to a bridge sidecar, tests plug in fakes.
//
// A transport carries at most one logged-on identity at a time. LogOn on an
// already-connected transport is an error; callers log off first.
type Transport interface {
	// LogOn performs the platform login handshake. Guard challenges must be
	// surfaced as *GuardChallengeError.
	LogOn(ctx context.Context, creds Credentials) (*LogOnResult, error)

	// LogOff terminates the platform connection. It blocks until the
	// platform confirms the disconnect or ctx expires.
	LogOff(ctx context.Context) error

	// AppTicket returns a hex-encoded auth session ticket bound to the given
	// application id. Requires a prior successful LogOn.
	AppTicket(ctx context.Context, appID string) (string, error)
}
