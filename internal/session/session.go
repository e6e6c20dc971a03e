// ABOUTME: Durable session record for a bot: connection parameters, credentials, sync cursor
// ABOUTME: Persisted as one JSON file, written via temp file + rename

package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no session file exists yet
var ErrNotFound = errors.New("session not found")

// ErrCorrupt is returned when the session file exists but cannot be used
var ErrCorrupt = errors.New("session corrupt")

// passphraseLength is the number of alphanumeric characters in a store passphrase
const passphraseLength = 32

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ClientSession holds what is needed to rebuild a transport client.
type ClientSession struct {
	// Homeserver is the URL of the user's homeserver.
	Homeserver string `json:"homeserver"`

	// DBPath is the directory holding the encrypted local store.
	DBPath string `json:"db_path"`

	// Passphrase encrypts the local store.
	Passphrase string `json:"passphrase"`
}

// Record is the full session written to disk.
type Record struct {
	ClientSession ClientSession `json:"client_session"`

	// UserSession is the transport's credential blob. It is opaque to this package.
	UserSession json.RawMessage `json:"user_session"`

	// SyncToken is the last sync cursor; empty until the first successful sync.
	SyncToken string `json:"sync_token,omitempty"`
}

// NewClientSession generates connection parameters for a fresh login. The
// local store lives in a randomly named subdirectory of stateDir so several
// clients can share one state directory.
func NewClientSession(stateDir, homeserver string) (ClientSession, error) {
	passphrase, err := randomString(passphraseLength)
	if err != nil {
		return ClientSession{}, fmt.Errorf("generating store passphrase: %w", err)
	}
	return ClientSession{
		Homeserver: homeserver,
		DBPath:     filepath.Join(stateDir, uuid.NewString()),
		Passphrase: passphrase,
	}, nil
}

func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(alphanumeric)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}

// Store reads and writes the session record at a fixed path.
// Writers within one process are serialized.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store for the session file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a session file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the session record.
func (s *Store) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrCorrupt, s.path, err)
	}
	if len(rec.UserSession) == 0 || string(rec.UserSession) == "null" {
		return nil, fmt.Errorf("%w: %s has no user session", ErrCorrupt, s.path)
	}
	return &rec, nil
}

// Save replaces the session record on disk.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rec)
}

func (s *Store) saveLocked(rec *Record) error {
	if len(rec.UserSession) == 0 {
		return fmt.Errorf("refusing to save session without user session")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// PersistCursor replaces only the sync cursor of the stored record.
// A record must already exist.
func (s *Store) PersistCursor(cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked()
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: no session to update at %s", ErrCorrupt, s.path)
	}
	if err != nil {
		return err
	}
	rec.SyncToken = cursor
	return s.saveLocked(rec)
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		return fmt.Errorf("restricting temp session file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing session data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("flushing session data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp session file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming session file to %s: %w", path, err)
	}

	success = true
	return nil
}
