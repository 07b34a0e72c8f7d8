// Package storage is the SDK's encrypted, per-application key/value store.
//
// Values are typed on write (string, integer, JSON document, raw bytes),
// sealed with XChaCha20-Poly1305 and kept in SQLite. Opening a store runs the
// one-time legacy migration and the install-state check, which wipes the
// store after a fresh install or a reinstall.
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Persisted keys shared with the widget and with earlier SDK releases.
const (
	KeyProviderSession = "firebase:wepin"
	KeyConnectUser     = "wepin:connectUser"
	KeyUserID          = "user_id"
	KeyUserStatus      = "user_status"
	KeyUserInfo        = "user_info"
	KeyWalletID        = "wallet_id"
)

const (
	dbFileName     = "wepin.db"
	lockFileName   = ".lock"
	keyFileName    = "master.key"
	saltFileName   = "master.salt"
	defaultCacheSz = 128
)

// Options configures Open.
type Options struct {
	// Dir holds the database, key material and tracker flag.
	Dir string
	// InstallDir holds the install id; it should survive removal of Dir.
	InstallDir string

	AppID   string
	Domain  string
	SDKType string

	// Legacy is read once for migration. Nil skips legacy import.
	Legacy LegacyStore

	// Passphrase derives the master key with argon2id when set.
	Passphrase string
	// MasterKey overrides key file and passphrase handling.
	MasterKey []byte

	CacheSize int
}

// Scope names the partition of the database owned by one app and SDK variant.
func Scope(appID, sdkType string) string {
	if sdkType == "" {
		sdkType = "ios"
	}
	return appID + ":" + sdkType
}

// Store is the typed key/value API over SQLiteStorage.
type Store struct {
	kv    *SQLiteStorage
	cache *LRUCache
	scope string

	installState InstallState
	installID    string

	// mu serializes writers and wipes against cache-filling reads.
	mu sync.RWMutex
}

func newStore(kv *SQLiteStorage, cacheSize int) *Store {
	if cacheSize == 0 {
		cacheSize = defaultCacheSz
	}
	return &Store{
		kv:           kv,
		cache:        NewLRUCache(cacheSize),
		scope:        kv.scope,
		installState: NormalRun,
	}
}

// Open opens the store for opts.AppID, migrating legacy data and applying
// the install-state wipe before returning.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.AppID == "" {
		return nil, fmt.Errorf("app id is required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	lock, err := acquireFileLock(ctx, filepath.Join(opts.Dir, lockFileName))
	if err != nil {
		return nil, err
	}
	defer releaseFileLock(lock)

	master, err := masterKey(opts)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(master)

	scope := Scope(opts.AppID, opts.SDKType)
	scopeKey, err := DeriveScopeKey(master, scope)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(scopeKey)

	kv, err := NewSQLiteStorage(filepath.Join(opts.Dir, dbFileName), scope, scopeKey)
	if err != nil {
		return nil, err
	}

	s := newStore(kv, opts.CacheSize)
	if err := s.prepare(opts); err != nil {
		kv.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory returns a store backed by an in-memory database and a random key.
// Nothing survives Close; no migration or install tracking runs.
func OpenMemory(scope string) (*Store, error) {
	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	kv, err := NewSQLiteStorage(":memory:", scope, key)
	if err != nil {
		return nil, err
	}
	return newStore(kv, 0), nil
}

func masterKey(opts Options) ([]byte, error) {
	switch {
	case len(opts.MasterKey) > 0:
		return append([]byte(nil), opts.MasterKey...), nil
	case opts.Passphrase != "":
		return MasterKeyFromPassphrase(opts.Passphrase, filepath.Join(opts.Dir, saltFileName))
	default:
		return LoadOrCreateMasterKey(filepath.Join(opts.Dir, keyFileName))
	}
}

// prepare runs legacy migration, then install-state detection and the wipe it implies.
func (s *Store) prepare(opts Options) error {
	namespace := LegacyNamespace(opts.Domain, opts.AppID, opts.SDKType)
	if _, err := s.MigrateLegacy(opts.Legacy, namespace, LegacyKeyPrefix(opts.AppID)); err != nil {
		return fmt.Errorf("legacy migration: %w", err)
	}

	installDir := opts.InstallDir
	if installDir == "" {
		installDir = opts.Dir
	}
	tracker := NewInstallTracker(opts.Dir, installDir)

	state, err := tracker.Detect(s.Has(KeyConnectUser))
	if err != nil {
		return err
	}
	if state.Wipes() {
		if err := s.DeleteAll(); err != nil {
			return fmt.Errorf("install wipe: %w", err)
		}
	}

	id, err := tracker.EnsureInstallID()
	if err != nil {
		return err
	}

	s.installState = state
	s.installID = id

	log.Info().
		Str("scope", s.scope).
		Str("install_state", state.String()).
		Msg("Secure store ready")
	return nil
}

// Set stores value under key. Strings, integers and []byte keep their kind;
// other values are stored as JSON.
func (s *Store) Set(key string, value any) error {
	e, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return s.putEntry(key, e)
}

// SetAll stores every pair in values.
func (s *Store) SetAll(values map[string]any) error {
	var errs []error
	for k, v := range values {
		if err := s.Set(k, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) putEntry(key string, e entry) error {
	b, err := e.marshal()
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Put(key, b); err != nil {
		return err
	}
	s.cache.Put(key, e)
	return nil
}

// getEntry holds the read lock across the table read and the cache fill so
// a concurrent write or wipe cannot leave a stale cached entry.
func (s *Store) getEntry(key string) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.cache.Get(key); ok {
		return e, true
	}

	b, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.Debug().Err(err).Str("key", key).Msg("Store read failed, treating as absent")
		}
		return entry{}, false
	}
	e, err := unmarshalEntry(b)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Undecodable entry, treating as absent")
		return entry{}, false
	}
	s.cache.Put(key, e)
	return e, true
}

// Get returns the value for key as string, int64, []byte or a decoded JSON document.
// Missing and undecodable entries are both absent.
func (s *Store) Get(key string) (any, bool) {
	e, ok := s.getEntry(key)
	if !ok {
		return nil, false
	}
	return e.decode()
}

// Has reports whether key holds a decodable value.
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// GetAs decodes the value for key into T, returning false when absent or mismatched.
func GetAs[T any](s *Store, key string) (T, bool) {
	var out T
	e, ok := s.getEntry(key)
	if !ok {
		return out, false
	}
	if !e.decodeInto(&out) {
		var zero T
		return zero, false
	}
	return out, true
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(key)
	return s.kv.Delete(key)
}

// GetAll returns every decodable entry.
func (s *Store) GetAll() map[string]any {
	raw, skipped, err := s.kv.All()
	if err != nil {
		log.Warn().Err(err).Str("scope", s.scope).Msg("Failed to list store entries")
		return map[string]any{}
	}
	for _, key := range skipped {
		log.Debug().Str("key", key).Msg("Skipping entry that failed authentication")
	}

	out := make(map[string]any, len(raw))
	for key, b := range raw {
		e, err := unmarshalEntry(b)
		if err != nil {
			continue
		}
		if v, ok := e.decode(); ok {
			out[key] = v
		}
	}
	return out
}

// DeleteAll removes every entry, then re-writes the migration sentinel so a
// wiped store never re-imports legacy data.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Clear()
	if err := s.kv.DeleteAll(); err != nil {
		return err
	}
	e, _ := encodeValue("true")
	b, err := e.marshal()
	if err != nil {
		return err
	}
	if err := s.kv.Put(MigrationKey, b); err != nil {
		return fmt.Errorf("rewrite migration sentinel: %w", err)
	}
	s.cache.Put(MigrationKey, e)
	return nil
}

// Scope returns the partition name.
func (s *Store) Scope() string { return s.scope }

// InstallState returns the state detected when the store was opened.
func (s *Store) InstallState() InstallState { return s.installState }

// InstallID returns the durable install id, empty for memory stores.
func (s *Store) InstallID() string { return s.installID }

// Path returns the database location.
func (s *Store) Path() string { return s.kv.Path() }

// Close closes the underlying database.
func (s *Store) Close() error {
	s.cache.Clear()
	return s.kv.Close()
}
