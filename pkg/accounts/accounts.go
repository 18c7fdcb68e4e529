package accounts

import (
	"context"
	"time"
)

// AnyPool matches accounts of every pool type in queries that take a type.
const AnyPool = "*"

// Account is one shared Steam credential record from the pool.
//
// SteamID and Ticket are only populated after a successful Steam login and
// are cleared again when the account is banned. LastSteamLogin drives both
// the oldest-first rotation order and the re-login rate limit.
type Account struct {
	Username       string    `json:"username"`
	Password       string    `json:"password"`
	Type           string    `json:"type"`
	SteamID        string    `json:"steam_id,omitempty"`
	Ticket         string    `json:"ticket,omitempty"`
	Banned         bool      `json:"banned"`
	LastSteamLogin time.Time `json:"last_steam_login"`
	LastKardsLogin time.Time `json:"last_kards_login"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Connector is the durable store of pooled Steam accounts.
//
// Lookups that miss return (nil, nil), never an error: callers branch on the
// nil record instead of unwrapping error values. Write operations are
// idempotent on repeated calls with the same arguments.
type Connector interface {
	// AddAccount creates the account if it does not exist yet. Existing
	// accounts keep their login state; only the password is refreshed.
	AddAccount(ctx context.Context, username, password, poolType string) (*Account, error)

	// GetUser returns the account with the given username.
	GetUser(ctx context.Context, username string) (*Account, error)

	// GetOldest returns the unbanned account of the given pool type with the
	// least recent Steam login. AnyPool matches every type.
	GetOldest(ctx context.Context, poolType string) (*Account, error)

	// GetUnbanned lists the unbanned accounts of the given pool type.
	GetUnbanned(ctx context.Context, poolType string) ([]*Account, error)

	// AddSteamLogin records a successful Steam login: steam id, fresh ticket
	// and the login timestamp.
	AddSteamLogin(ctx context.Context, username, steamID, ticket string) (*Account, error)

	// AddKardsLogin records a successful Kards session login.
	AddKardsLogin(ctx context.Context, username string) (*Account, error)

	// SetBanned flips the ban flag and clears the steam id and ticket.
	SetBanned(ctx context.Context, username string, banned bool) (*Account, error)

	// SaveFile and ReadFile back the platform client's opaque session blobs
	// (sentry files and the like) so logins survive process restarts.
	// ReadFile returns (nil, nil) when no blob with that name exists.
	SaveFile(ctx context.Context, name string, contents []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
}
