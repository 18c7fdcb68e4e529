package steam

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn indicates a session ticket was requested before a
	// successful login.
	ErrNotLoggedIn = errors.New("not logged in to steam")

	// ErrMaxRetriesExceeded indicates a login failed after all retry attempts.
	ErrMaxRetriesExceeded = errors.New("maximum steam login attempts exceeded")
)

// GuardChallengeError indicates Steam Guard is enabled on the account and the
// platform asked for an interactive confirmation. Unattended login can never
// answer it, so the error is terminal: the caller should rotate to another
// account instead of retrying.
type GuardChallengeError struct {
	Username string
}

func (e *GuardChallengeError) Error() string {
	return fmt.Sprintf("steam guard left on for user %s", e.Username)
}

// IsGuardChallenge reports whether err is (or wraps) a guard challenge.
func IsGuardChallenge(err error) bool {
	var guard *GuardChallengeError
	return errors.As(err, &guard)
}
