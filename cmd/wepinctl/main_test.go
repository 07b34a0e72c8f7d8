package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WepinWallet/wepin-widget-sdk-go/config"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wepin.yaml")
	assert.Equal(t, 2, runConfig([]string{"init"}))
	require.Equal(t, 0, runConfig([]string{"init", path}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wepin.widget", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 300, cfg.Widget.ReplyTimeoutSeconds)
}

func TestStoreWipeAndDump(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.App.AppID = "app"
	cfg.Storage.Dir = filepath.Join(dir, "store")
	cfg.Storage.InstallDir = filepath.Join(dir, "install")
	cfg.Storage.LegacyDir = ""
	cfg.Storage.Passphrase = "correct horse"

	ctx := context.Background()
	store, err := storage.Open(ctx, storeOptions(cfg))
	require.NoError(t, err)
	require.NoError(t, store.Set(storage.KeyUserID, "U1"))
	require.NoError(t, store.Close())

	assert.Equal(t, 0, runStore(ctx, cfg, []string{"dump"}))
	assert.Equal(t, 0, runStore(ctx, cfg, []string{"wipe"}))
	assert.Equal(t, 2, runStore(ctx, cfg, []string{"shred"}))

	store, err = storage.Open(ctx, storeOptions(cfg))
	require.NoError(t, err)
	defer store.Close()
	assert.False(t, store.Has(storage.KeyUserID))
}

func TestStoreWipeResetInstall(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.App.AppID = "app"
	cfg.Storage.Dir = filepath.Join(dir, "store")
	cfg.Storage.InstallDir = filepath.Join(dir, "install")
	cfg.Storage.LegacyDir = ""
	cfg.Storage.Passphrase = "correct horse"

	ctx := context.Background()
	store, err := storage.Open(ctx, storeOptions(cfg))
	require.NoError(t, err)
	require.Equal(t, storage.FirstInstall, store.InstallState())
	require.NoError(t, store.Close())

	assert.Equal(t, 0, runStore(ctx, cfg, []string{"wipe", "-reset-install"}))

	store, err = storage.Open(ctx, storeOptions(cfg))
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, storage.FirstInstall, store.InstallState())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "string", kindOf("x"))
	assert.Equal(t, "int", kindOf(int64(1)))
	assert.Equal(t, "json", kindOf(map[string]any{}))
}
