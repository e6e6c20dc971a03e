// ABOUTME: Error values returned by the bot lifecycle
// ABOUTME: Session and transport errors are re-exported from the packages that produce them

package bot

import (
	"errors"

	"github.com/2389/coven-bot/internal/matrix"
	"github.com/2389/coven-bot/internal/session"
)

var (
	// ErrConfig means the bot cannot start with the given configuration.
	ErrConfig = errors.New("invalid bot configuration")

	// ErrSessionCorrupt means the session file exists but cannot be used.
	ErrSessionCorrupt = session.ErrCorrupt

	// ErrTransportInit means stored credentials no longer produce a working client.
	ErrTransportInit = matrix.ErrTransportInit

	// ErrAuthFailed means the homeserver rejected the username or password.
	ErrAuthFailed = matrix.ErrAuthFailed

	// ErrNotLoggedIn is returned by operations that need Login first.
	ErrNotLoggedIn = errors.New("bot is not logged in")
)
