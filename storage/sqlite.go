package storage

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite"
)

// ErrKeyNotFound is returned when a key is not found in storage
var ErrKeyNotFound = errors.New("key not found")

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store is closed")

// SQLiteStorage is the encrypted key/value table behind Store.
// Every value is sealed with XChaCha20-Poly1305 under the scope key, and the
// ciphertext is bound to its scope and key so rows cannot be swapped.
type SQLiteStorage struct {
	db     *sql.DB
	key    []byte // 32-byte scope encryption key
	scope  string
	dbPath string
	closed bool

	mu sync.RWMutex
}

// NewSQLiteStorage opens (or creates) the database at dbPath and applies schema migrations.
// Use ":memory:" for a throwaway store.
func NewSQLiteStorage(dbPath, scope string, key []byte) (*SQLiteStorage, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("scope key must be %d bytes", chacha20poly1305.KeySize)
	}
	if scope == "" {
		return nil, fmt.Errorf("scope is required")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		key:    append([]byte(nil), key...),
		scope:  scope,
		dbPath: dbPath,
	}, nil
}

// Put stores or replaces the sealed value for key
func (s *SQLiteStorage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	sealed, err := s.encrypt(key, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt value: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO kv_entries (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.scope, key, sealed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// Get returns the plaintext for key, or ErrKeyNotFound
func (s *SQLiteStorage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var sealed []byte
	err := s.db.QueryRow(`
		SELECT value FROM kv_entries WHERE scope = ? AND key = ?
	`, s.scope, key).Scan(&sealed)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	plain, err := s.decrypt(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt entry: %w", err)
	}
	return plain, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *SQLiteStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(`DELETE FROM kv_entries WHERE scope = ? AND key = ?`, s.scope, key)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// All returns every decryptable entry in the scope.
// Entries that fail authentication are skipped and reported in skipped.
func (s *SQLiteStorage) All() (entries map[string][]byte, skipped []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT key, value FROM kv_entries WHERE scope = ?`, s.scope)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries = make(map[string][]byte)
	for rows.Next() {
		var key string
		var sealed []byte
		if err := rows.Scan(&key, &sealed); err != nil {
			return nil, nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		plain, err := s.decrypt(key, sealed)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		entries[key] = plain
	}
	return entries, skipped, rows.Err()
}

// DeleteAll removes every entry in the scope
func (s *SQLiteStorage) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.Exec(`DELETE FROM kv_entries WHERE scope = ?`, s.scope); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	return nil
}

// Path returns the database location
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	zeroBytes(s.key)
	return s.db.Close()
}

func (s *SQLiteStorage) aad(key string) []byte {
	return []byte(s.scope + "\x00" + key)
}

func (s *SQLiteStorage) encrypt(key string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, s.aad(key)), nil
}

func (s *SQLiteStorage) decrypt(key string, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:nonceSize]
	ciphertext = ciphertext[nonceSize:]

	return aead.Open(nil, nonce, ciphertext, s.aad(key))
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
