package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateDir(t *testing.T) {
	t.Run("environment override", func(t *testing.T) {
		t.Setenv(StateDirEnv, "/tmp/gk-state")
		dir, err := StateDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/gk-state", dir)
	})

	t.Run("home default", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(StateDirEnv, "")
		t.Setenv("HOME", home)
		dir, err := StateDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".gk"), dir)
	})
}

func TestProjectHash(t *testing.T) {
	dir := t.TempDir()

	h1, err := ProjectHash(dir)
	require.NoError(t, err)
	assert.Len(t, h1, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", h1)

	h2, err := ProjectHash(dir + "/./")
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "equivalent spellings hash identically")

	other, err := ProjectHash(filepath.Join(dir, "other"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestProjectHashFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Mkdir(real, 0o755))
	require.NoError(t, os.Symlink(real, link))

	h1, err := ProjectHash(real)
	require.NoError(t, err)
	h2, err := ProjectHash(link)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashStringKnownValue(t *testing.T) {
	// sha256("/") = 8a5edab282632443219e051e4ade2d1d5bbc671c781051bf1437897cbdfea0f1
	assert.Equal(t, "8a5edab282632443", HashString("/"))
}

func TestLayout(t *testing.T) {
	assert.Equal(t, "/s/projects/abc", ProjectDir("/s", "abc"))
	assert.Equal(t, "/s/projects/abc/sessions", SessionsDir("/s", "abc"))
	assert.Equal(t, "/s/projects/abc/session.env", HandoffFile("/s", "abc"))
	assert.Equal(t, "/s/logs/gk.log", LogFile("/s"))
	assert.Equal(t, "/repo/.gk", LocalDir("/repo"))
}

func TestFindProjectRoot(t *testing.T) {
	root, err := Canonical(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)

	t.Run("gk marker", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(root, "a", ".gk"), 0o755))
		found, err := FindProjectRoot(nested)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "a"), found)
	})
}

func TestFindProjectRootIgnoresStateDir(t *testing.T) {
	home, err := Canonical(t.TempDir())
	require.NoError(t, err)
	t.Setenv("HOME", home)
	t.Setenv(StateDirEnv, "")
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".gk", "projects"), 0o755))

	a := filepath.Join(home, "scratch", "a")
	b := filepath.Join(home, "scratch", "b")
	require.NoError(t, os.MkdirAll(a, 0o755))
	require.NoError(t, os.MkdirAll(b, 0o755))

	rootA, err := FindProjectRoot(a)
	require.NoError(t, err)
	rootB, err := FindProjectRoot(b)
	require.NoError(t, err)
	assert.Equal(t, a, rootA)
	assert.Equal(t, b, rootB)

	hashA, err := ProjectHash(rootA)
	require.NoError(t, err)
	hashB, err := ProjectHash(rootB)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)

	t.Run("custom state dir named .gk", func(t *testing.T) {
		work, err := Canonical(t.TempDir())
		require.NoError(t, err)
		t.Setenv(StateDirEnv, filepath.Join(work, ".gk"))
		require.NoError(t, os.Mkdir(filepath.Join(work, ".gk"), 0o755))
		nested := filepath.Join(work, "repo")
		require.NoError(t, os.Mkdir(nested, 0o755))

		found, err := FindProjectRoot(nested)
		require.NoError(t, err)
		assert.Equal(t, nested, found)
	})
}
