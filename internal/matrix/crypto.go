// ABOUTME: End-to-end encryption setup for the bot's Matrix client
// ABOUTME: Opens the SQLite crypto store in the session's local store directory

package matrix

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/hkdf"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoDBName is the crypto store file inside the local store directory.
const cryptoDBName = "crypto.db"

// Crypto owns the client's encryption machinery.
type Crypto struct {
	helper *cryptohelper.CryptoHelper
}

// EnableCrypto sets up encryption for the client with its store under dir,
// encrypted with a key derived from passphrase.
func (c *Client) EnableCrypto(ctx context.Context, dir, passphrase string) error {
	if c.crypto != nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating crypto store directory: %w", err)
	}

	dbPath := filepath.Join(dir, cryptoDBName)
	c.logger.Info("setting up encryption", "db", dbPath)

	key, err := pickleKey(passphrase)
	if err != nil {
		return err
	}

	helper, err := cryptohelper.NewCryptoHelper(c.cli, key, dbPath)
	if err != nil {
		return fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return fmt.Errorf("initializing crypto helper: %w", err)
	}

	c.cli.Crypto = helper
	c.crypto = &Crypto{helper: helper}
	c.logger.Info("encryption initialized")
	return nil
}

// Close closes the crypto store.
func (cr *Crypto) Close() error {
	return cr.helper.Close()
}

// pickleKey derives the store encryption key from the session passphrase.
func pickleKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty store passphrase")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("coven-bot crypto store"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving store key: %w", err)
	}
	return key, nil
}
