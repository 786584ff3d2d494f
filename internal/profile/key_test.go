package profile

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStable(t *testing.T) {
	dir := t.TempDir()

	k1, err := Key(dir, "Default", false)
	require.NoError(t, err)
	k2, err := Key(dir, "Default", false)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestKeyDistinguishesProfiles(t *testing.T) {
	dir := t.TempDir()

	k1, err := Key(dir, "Default", false)
	require.NoError(t, err)
	k2, err := Key(dir, "Profile 1", false)
	require.NoError(t, err)
	k3, err := Key(t.TempDir(), "Default", false)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestKeyDefaultsProfileName(t *testing.T) {
	dir := t.TempDir()

	named, err := Key(dir, "Default", false)
	require.NoError(t, err)
	unnamed, err := Key(dir, "", false)
	require.NoError(t, err)

	assert.Equal(t, named, unnamed)
}

func TestKeyEmptyDir(t *testing.T) {
	_, err := Key("", "Default", false)
	assert.ErrorIs(t, err, ErrEmptyUserDataDir)
}

func TestKeyStrictMissingDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := Key(missing, "Default", true)
	assert.ErrorIs(t, err, ErrMissingProfile)

	// Non-strict tolerates a directory the browser will create later.
	_, err = Key(missing, "Default", false)
	assert.NoError(t, err)
}

func TestKeyNonCanonicalPathsAgree(t *testing.T) {
	dir := t.TempDir()
	dotted := filepath.Join(dir, ".", ".")

	k1, err := Key(dir, "Default", false)
	require.NoError(t, err)
	k2, err := Key(dotted, "Default", false)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestPathsNamespacedByKey(t *testing.T) {
	coord := t.TempDir()

	a, err := NewPaths(coord, "aaaa")
	require.NoError(t, err)
	b, err := NewPaths(coord, "bbbb")
	require.NoError(t, err)

	for _, pa := range a.All() {
		assert.True(t, strings.Contains(pa, "aaaa"))
		for _, pb := range b.All() {
			assert.NotEqual(t, pa, pb)
		}
	}
}
