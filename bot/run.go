// ABOUTME: Sync driver and event routing for a logged-in bot
// ABOUTME: Retries sync forever, persists the cursor after each batch, and fans handlers out to goroutines

package bot

import (
	"context"
	"time"

	"github.com/2389/coven-bot/internal/autojoin"
	"github.com/2389/coven-bot/internal/dispatch"
)

// Sync catches up with the server without running message handlers, so
// the bot does not answer messages sent while it was offline. Invites seen
// while catching up are still accepted when JoinRooms is enabled.
func (b *Bot) Sync(ctx context.Context) error {
	t, err := b.transport()
	if err != nil {
		return err
	}

	b.catchingUp.Store(true)
	defer b.catchingUp.Store(false)

	return b.syncRetry(ctx, t, 0)
}

// Run syncs until ctx is cancelled or the bot is closed, routing messages
// to handlers as they arrive. The built-in help command is added on the
// first call unless a help command was registered already.
func (b *Bot) Run(ctx context.Context) error {
	t, err := b.transport()
	if err != nil {
		return err
	}

	b.helpOnce.Do(func() {
		if !b.dispatcher.HasCommand(dispatch.HelpCommand) {
			b.dispatcher.RegisterHelp()
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	b.logger.Info("bot running", "user_id", t.UserID(), "prefix", b.CommandPrefix())
	for {
		if err := b.syncRetry(ctx, t, syncTimeout); err != nil {
			b.logger.Info("bot stopped")
			return nil
		}
	}
}

// syncRetry performs one sync, retrying failures until one succeeds or ctx
// ends. A successful sync moves the cursor and persists it.
func (b *Bot) syncRetry(ctx context.Context, t transport, timeout time.Duration) error {
	for {
		next, err := t.Sync(ctx, b.Cursor(), timeout)
		if err == nil {
			b.advance(next)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.logger.Error("sync failed", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryPause):
		}
	}
}

func (b *Bot) advance(next string) {
	if next == "" {
		return
	}
	b.mu.Lock()
	b.cursor = next
	b.mu.Unlock()

	if err := b.sessions.PersistCursor(next); err != nil {
		b.logger.Error("failed to persist sync cursor", "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg dispatch.Message) {
	if b.catchingUp.Load() {
		return
	}

	b.mu.Lock()
	joiner, closed := b.joiner, b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	if joiner != nil && joiner.Blocked(msg.RoomID) {
		msg.Joined = false
	}

	outcome, calls := b.dispatcher.Route(msg)
	b.logger.Debug("message routed", "room", msg.RoomID, "sender", msg.Sender, "outcome", outcome.String())

	for _, call := range calls {
		if !b.spawn(func(ctx context.Context) { _ = b.dispatcher.Invoke(ctx, call) }) {
			return
		}
	}
}

func (b *Bot) handleInvite(ctx context.Context, inv autojoin.Invite) {
	b.mu.Lock()
	joiner, self, closed := b.joiner, b.self, b.closed
	b.mu.Unlock()

	if closed {
		return
	}
	if joiner == nil {
		b.logger.Debug("ignoring invite, autojoin disabled", "room", inv.RoomID, "sender", inv.Sender)
		return
	}
	joiner.HandleInvite(b.ctx, inv, self)
}
