package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// InstallState explains why the SDK is starting in this process.
type InstallState int

const (
	FirstInstall InstallState = iota
	ReInstall
	Update
	NormalRun
)

func (s InstallState) String() string {
	switch s {
	case FirstInstall:
		return "first_install"
	case ReInstall:
		return "reinstall"
	case Update:
		return "update"
	case NormalRun:
		return "normal_run"
	}
	return "unknown"
}

// Wipes reports whether the store must be cleared before use.
func (s InstallState) Wipes() bool {
	return s == FirstInstall || s == ReInstall
}

const (
	trackerFileName   = "install_tracker"
	installIDFileName = "install_id"
)

// InstallTracker infers install history from two markers: a tracker flag
// stored with the app data (gone after uninstall) and an install id stored
// in a location that outlives the app.
type InstallTracker struct {
	trackerPath string
	installPath string
}

// NewInstallTracker creates a tracker with the flag under appDir and the id under durableDir.
func NewInstallTracker(appDir, durableDir string) *InstallTracker {
	return &InstallTracker{
		trackerPath: filepath.Join(appDir, trackerFileName),
		installPath: filepath.Join(durableDir, installIDFileName),
	}
}

// Detect classifies this start and sets the tracker flag. hasLoginInfo
// reports whether the store already holds backend credentials.
func (t *InstallTracker) Detect(hasLoginInfo bool) (InstallState, error) {
	if _, err := os.Stat(t.trackerPath); err == nil {
		return NormalRun, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return NormalRun, fmt.Errorf("failed to check install tracker: %w", err)
	}

	if err := writeFileAtomic(t.trackerPath, []byte("true"), 0o600); err != nil {
		return FirstInstall, fmt.Errorf("failed to write install tracker: %w", err)
	}

	if !hasLoginInfo {
		return FirstInstall, nil
	}
	if _, ok := t.InstallID(); ok {
		return ReInstall, nil
	}
	return Update, nil
}

// InstallID returns the durable install id, if one exists.
func (t *InstallTracker) InstallID() (string, bool) {
	data, err := os.ReadFile(t.installPath)
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(string(data))
	return id, id != ""
}

// EnsureInstallID creates the durable install id when absent and returns it.
func (t *InstallTracker) EnsureInstallID() (string, error) {
	if id, ok := t.InstallID(); ok {
		return id, nil
	}
	id := uuid.New().String()
	if err := writeFileAtomic(t.installPath, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("failed to write install id: %w", err)
	}
	return id, nil
}

// Reset removes both markers.
func (t *InstallTracker) Reset() error {
	err1 := os.Remove(t.trackerPath)
	if errors.Is(err1, os.ErrNotExist) {
		err1 = nil
	}
	err2 := os.Remove(t.installPath)
	if errors.Is(err2, os.ErrNotExist) {
		err2 = nil
	}
	return errors.Join(err1, err2)
}
