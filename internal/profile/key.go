// Package profile derives the stable key that namespaces every
// coordination file for a (user-data-dir, profile-name) pair.
//
// All processes sharing one browser profile must agree on the key, so it is
// a digest of the canonical absolute user-data-dir path plus the profile
// name. Different profiles never collide; the same profile always maps to
// the same file set regardless of which process computes it.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrEmptyUserDataDir is returned when no user-data-dir is configured.
var ErrEmptyUserDataDir = errors.New("user_data_dir is required and cannot be empty")

// ErrMissingProfile is returned in strict mode when the directory does not exist.
var ErrMissingProfile = errors.New("user_data_dir does not exist")

// Key computes the profile key for a user-data-dir and profile name.
// profileName defaults to "Default" when empty. When strict is set the
// directory must already exist.
func Key(userDataDir, profileName string, strict bool) (string, error) {
	if userDataDir == "" {
		return "", ErrEmptyUserDataDir
	}
	if profileName == "" {
		profileName = "Default"
	}

	if strict {
		if _, err := os.Stat(userDataDir); err != nil {
			return "", fmt.Errorf("%w: %s", ErrMissingProfile, userDataDir)
		}
	}

	normalized := normalize(userDataDir)
	sum := sha256.Sum256([]byte(normalized + "|" + profileName))
	return hex.EncodeToString(sum[:]), nil
}

// normalize resolves the directory to a stable absolute form. Symlink
// resolution can fail for a directory the browser has not created yet; the
// absolute non-canonical path is the fallback.
func normalize(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		if abs, err := filepath.Abs(resolved); err == nil {
			return abs
		}
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// Paths locates every coordination file for one profile key inside the
// coordination directory.
type Paths struct {
	CoordDir string
	Key      string
}

// NewPaths creates Paths and ensures the coordination directory exists.
func NewPaths(coordDir, key string) (Paths, error) {
	if err := os.MkdirAll(coordDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create coordination dir: %w", err)
	}
	return Paths{CoordDir: coordDir, Key: key}, nil
}

func (p Paths) Softlock() string {
	return filepath.Join(p.CoordDir, p.Key+".softlock.json")
}

func (p Paths) SoftlockMutex() string {
	return filepath.Join(p.CoordDir, p.Key+".softlock.mutex")
}

func (p Paths) StartupMutex() string {
	return filepath.Join(p.CoordDir, p.Key+".startup.mutex")
}

func (p Paths) WindowRegistry() string {
	return filepath.Join(p.CoordDir, p.Key+".window_registry.json")
}

func (p Paths) WindowRegistryMutex() string {
	return filepath.Join(p.CoordDir, p.Key+".window_registry.mutex")
}

func (p Paths) Rendezvous() string {
	return filepath.Join(p.CoordDir, p.Key+".rendezvous.json")
}

// All returns every coordination file path for cleanup.
func (p Paths) All() []string {
	return []string{
		p.Softlock(),
		p.SoftlockMutex(),
		p.StartupMutex(),
		p.WindowRegistry(),
		p.WindowRegistryMutex(),
		p.Rendezvous(),
	}
}
