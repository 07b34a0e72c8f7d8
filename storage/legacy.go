package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// MigrationKey is the sentinel entry marking legacy migration as done.
const MigrationKey = "migration"

const flutterNamespace = "flutter_secure_storage_service"

// LegacyStore is the storage written by earlier SDK releases.
type LegacyStore interface {
	// ReadAll returns every item under namespace. A missing namespace yields an empty map.
	ReadAll(namespace string) (map[string][]byte, error)
	// DeleteNamespace removes every item under namespace.
	DeleteNamespace(namespace string) error
}

// LegacyNamespace returns the namespace earlier releases used for appID.
func LegacyNamespace(domain, appID, sdkType string) string {
	if sdkType == "flutter" {
		return flutterNamespace
	}
	return "wepin" + domain + appID
}

// LegacyKeyPrefix is the prefix earlier releases put in front of every key.
func LegacyKeyPrefix(appID string) string {
	return "wepin_store_" + appID + "_"
}

// DirLegacyStore keeps one file per item under Root/<namespace>/.
// File names are path-escaped item keys.
type DirLegacyStore struct {
	Root string
}

// NewDirLegacyStore creates a legacy store rooted at root
func NewDirLegacyStore(root string) *DirLegacyStore {
	return &DirLegacyStore{Root: root}
}

func (d *DirLegacyStore) dir(namespace string) string {
	return filepath.Join(d.Root, url.PathEscape(namespace))
}

// ReadAll implements LegacyStore
func (d *DirLegacyStore) ReadAll(namespace string) (map[string][]byte, error) {
	items := make(map[string][]byte)
	if d.Root == "" {
		return items, nil
	}

	dirEntries, err := os.ReadDir(d.dir(namespace))
	if errors.Is(err, os.ErrNotExist) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy namespace: %w", err)
	}

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		key, err := url.PathUnescape(de.Name())
		if err != nil {
			log.Warn().Str("file", de.Name()).Msg("Skipping legacy item with undecodable name")
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.dir(namespace), de.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read legacy item %q: %w", key, err)
		}
		items[key] = data
	}
	return items, nil
}

// Write stores one legacy item. Used to stage data written by older releases.
func (d *DirLegacyStore) Write(namespace, key string, data []byte) error {
	return writeFileAtomic(filepath.Join(d.dir(namespace), url.PathEscape(key)), data, 0o600)
}

// DeleteNamespace implements LegacyStore
func (d *DirLegacyStore) DeleteNamespace(namespace string) error {
	if d.Root == "" {
		return nil
	}
	if err := os.RemoveAll(d.dir(namespace)); err != nil {
		return fmt.Errorf("failed to delete legacy namespace: %w", err)
	}
	return nil
}

// MigrationResult reports what a legacy migration did.
type MigrationResult struct {
	Skipped  bool
	Migrated int
}

// MigrateLegacy copies legacy items into the store once, guarded by the sentinel.
// Keys lose the legacy prefix; values are classified by their bytes.
func (s *Store) MigrateLegacy(legacy LegacyStore, namespace, prefix string) (MigrationResult, error) {
	if done, _ := GetAs[string](s, MigrationKey); done == "true" {
		return MigrationResult{Skipped: true}, nil
	}

	var res MigrationResult
	if legacy != nil {
		items, err := legacy.ReadAll(namespace)
		if err != nil {
			return res, fmt.Errorf("read legacy store: %w", err)
		}
		for key, data := range items {
			key = strings.TrimPrefix(key, prefix)
			if key == "" {
				continue
			}
			if err := s.putEntry(key, classifyLegacy(data)); err != nil {
				return res, fmt.Errorf("migrate %q: %w", key, err)
			}
			res.Migrated++
		}
	}

	if err := s.Set(MigrationKey, "true"); err != nil {
		return res, fmt.Errorf("mark migration complete: %w", err)
	}

	if legacy != nil {
		if err := legacy.DeleteNamespace(namespace); err != nil {
			// Items are already copied and the sentinel prevents a second pass.
			log.Warn().Err(err).Str("namespace", namespace).Msg("Failed to delete legacy namespace")
		}
	}

	log.Info().
		Str("scope", s.Scope()).
		Int("migrated", res.Migrated).
		Msg("Legacy storage migrated")
	return res, nil
}
