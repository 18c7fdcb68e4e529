package kards

import "errors"

var (
	// ErrMaxRetries indicates a session could not be built within the
	// bounded number of rotation attempts.
	ErrMaxRetries = errors.New("max session retries exceeded")

	// ErrNoAccounts indicates the account pool is exhausted for this pool type.
	ErrNoAccounts = errors.New("no more steam accounts to use")

	// ErrAccountNotFound indicates a named account is missing from the store.
	ErrAccountNotFound = errors.New("no steam account found")

	// ErrNoSessionEndpoint indicates the root document carries no session endpoint.
	ErrNoSessionEndpoint = errors.New("cannot find session endpoint")

	// ErrSteamRefreshUnavailable indicates a Steam refresh produced no
	// identity, usually because the re-login rate limit suppressed it.
	ErrSteamRefreshUnavailable = errors.New("steam refresh returned no identity")

	// ErrNoSession indicates an authenticated call was made without a session.
	ErrNoSession = errors.New("needs a session before it can make authenticated requests")
)
