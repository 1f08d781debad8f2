// Package daemon resolves the daemon's on-disk layout: the data dir, the
// snapshot encryption secret and the store bundle built from both.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chainmail/go-backend/internal/securestore"
)

const fallbackDataDir = "chainmail-data"

// DefaultDataDir is ~/.chainmail, or a directory relative to the working
// directory when the home dir cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return fallbackDataDir
	}
	return filepath.Join(home, ".chainmail")
}

func ResolveStorage(dataDir string, cacheRetention time.Duration) (resolvedDir, secret string, bundle StorageBundle, err error) {
	resolvedDir = strings.TrimSpace(dataDir)
	if resolvedDir == "" {
		resolvedDir = DefaultDataDir()
	}

	secret, err = StoragePassphrase(resolvedDir)
	if err != nil {
		return "", "", StorageBundle{}, err
	}

	bundle, err = BuildStorageBundle(resolvedDir, secret, cacheRetention)
	if err == nil {
		return resolvedDir, secret, bundle, nil
	}
	if !errors.Is(err, securestore.ErrAuthFailed) {
		return "", "", StorageBundle{}, err
	}
	legacySecret := LegacyMigrationSecret()
	if legacySecret == "" || legacySecret == secret {
		return "", "", StorageBundle{}, fmt.Errorf(
			"storage authentication failed: set %s to the correct secret or %s for explicit migration: %w",
			storagePassphraseEnv,
			legacyMigrationSecretEnv,
			err,
		)
	}
	if werr := WriteStorageKey(resolvedDir, legacySecret); werr != nil {
		return "", "", StorageBundle{}, werr
	}
	bundle, err = BuildStorageBundle(resolvedDir, legacySecret, cacheRetention)
	if err != nil {
		return "", "", StorageBundle{}, err
	}
	return resolvedDir, legacySecret, bundle, nil
}
