// ABOUTME: Bot login: restores the saved session or performs a password login
// ABOUTME: A fresh login generates the local store location and passphrase before contacting the server

package bot

import (
	"context"
	"fmt"

	"github.com/2389/coven-bot/internal/matrix"
	"github.com/2389/coven-bot/internal/prompt"
	"github.com/2389/coven-bot/internal/session"
)

// Login connects the bot. If a session file exists it is restored and the
// bot resumes at the saved cursor; otherwise the bot logs in with its
// password and saves a new session.
func (b *Bot) Login(ctx context.Context) error {
	if _, err := b.transport(); err == nil {
		return nil
	}

	if b.sessions.Exists() {
		return b.restore(ctx)
	}
	return b.create(ctx)
}

func (b *Bot) matrixOptions() matrix.Options {
	return matrix.Options{Logger: b.logger, LogLevel: b.cfg.TransportLogLevel}
}

func (b *Bot) restore(ctx context.Context) error {
	rec, err := b.sessions.Load()
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	creds, err := matrix.ParseCredentials(rec.UserSession)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionCorrupt, err)
	}

	client, err := matrix.Restore(ctx, rec.ClientSession.Homeserver, creds, b.matrixOptions())
	if err != nil {
		return err
	}
	if err := b.enableCrypto(ctx, client, rec.ClientSession); err != nil {
		return err
	}

	b.attach(client, client.Raw(), rec.SyncToken)
	b.logger.Info("resumed session", "user_id", creds.UserID, "cursor", rec.SyncToken != "")
	return nil
}

func (b *Bot) create(ctx context.Context) error {
	if b.cfg.Homeserver == "" || b.cfg.Username == "" {
		return fmt.Errorf("%w: homeserver and username are required for a first login", ErrConfig)
	}

	cs, err := session.NewClientSession(b.stateDir, b.cfg.Homeserver)
	if err != nil {
		return err
	}

	password, err := b.password()
	if err != nil {
		return err
	}

	client, creds, err := matrix.Login(ctx, matrix.LoginRequest{
		Homeserver: b.cfg.Homeserver,
		Username:   b.cfg.Username,
		Password:   password,
		DeviceName: b.cfg.DeviceName,
	}, b.matrixOptions())
	if err != nil {
		return err
	}

	blob, err := creds.Marshal()
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := b.sessions.Save(&session.Record{ClientSession: cs, UserSession: blob}); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	b.logger.Info("saved new session", "path", b.sessions.Path())

	if err := b.enableCrypto(ctx, client, cs); err != nil {
		return err
	}

	b.attach(client, client.Raw(), "")
	return nil
}

func (b *Bot) password() (string, error) {
	if b.cfg.Password != "" {
		return b.cfg.Password, nil
	}
	ask := b.cfg.PasswordPrompt
	if ask == nil {
		ask = func() (string, error) {
			return prompt.Password(fmt.Sprintf("Password for %s: ", b.cfg.Username))
		}
	}
	pw, err := ask()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return pw, nil
}

func (b *Bot) enableCrypto(ctx context.Context, client *matrix.Client, cs session.ClientSession) error {
	if b.cfg.DisableEncryption {
		return nil
	}
	if err := client.EnableCrypto(ctx, cs.DBPath, cs.Passphrase); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportInit, err)
	}
	return nil
}
