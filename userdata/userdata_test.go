package userdata

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func TestInitialize(t *testing.T) {
	fs := afero.NewMemMapFs()
	backend := filepath.Join("/", "app", "backend")
	ud := filepath.Join("/", "home", "u", "data")

	writeFile(t, fs, filepath.Join(backend, "wildcards", "animals.txt"), "cat\ndog\n")
	writeFile(t, fs, filepath.Join(backend, "wildcards", "nested", "colors.txt"), "red\n")
	writeFile(t, fs, filepath.Join(backend, "presets", "default.json"), "{}")
	writeFile(t, fs, filepath.Join(backend, "random_prompt", "userfiles", "x.csv"), "a,b")
	writeFile(t, fs, filepath.Join(backend, "settings", "styles.default"), "name,prompt")
	writeFile(t, fs, filepath.Join(backend, "settings", "powerup.default"), "{}")

	var progress []string
	err := Initialize(fs, backend, ud, func(m string) { progress = append(progress, m) })
	require.NoError(t, err)

	for _, dir := range BaseDirs {
		ok, err := afero.DirExists(fs, filepath.Join(ud, dir))
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}
	assert.Equal(t, "cat\ndog\n", readFile(t, fs, filepath.Join(ud, "wildcards", "animals.txt")))
	assert.Equal(t, "red\n", readFile(t, fs, filepath.Join(ud, "wildcards", "nested", "colors.txt")))
	assert.Equal(t, "a,b", readFile(t, fs, filepath.Join(ud, "random_prompt", "userfiles", "x.csv")))
	assert.Equal(t, "name,prompt", readFile(t, fs, filepath.Join(ud, "settings", "styles.csv")))
	assert.Equal(t, "name,prompt", readFile(t, fs, filepath.Join(ud, "settings", "styles.default")))

	// not bundled, so skipped
	ok, err := afero.Exists(fs, filepath.Join(ud, "chatbots"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = afero.Exists(fs, filepath.Join(ud, "settings", "resolutions.default"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{
		"Initializing user data...",
		"Copying wildcards...",
		"Copying presets...",
		"Copying random_prompt/userfiles...",
		"User data ready.",
	}, progress)
}

func TestInitializeKeepsUserEdits(t *testing.T) {
	fs := afero.NewMemMapFs()
	backend, ud := "/backend", "/data"
	writeFile(t, fs, filepath.Join(backend, "wildcards", "animals.txt"), "cat\n")
	writeFile(t, fs, filepath.Join(backend, "wildcards", "new.txt"), "new\n")
	writeFile(t, fs, filepath.Join(backend, "settings", "styles.default"), "bundled")

	writeFile(t, fs, filepath.Join(ud, "wildcards", "animals.txt"), "edited\n")
	writeFile(t, fs, filepath.Join(ud, "settings", "styles.csv"), "mine")

	require.NoError(t, Initialize(fs, backend, ud, nil))

	assert.Equal(t, "edited\n", readFile(t, fs, filepath.Join(ud, "wildcards", "animals.txt")))
	// an existing directory is left alone entirely
	ok, err := afero.Exists(fs, filepath.Join(ud, "wildcards", "new.txt"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "mine", readFile(t, fs, filepath.Join(ud, "settings", "styles.csv")))
	assert.Equal(t, "bundled", readFile(t, fs, filepath.Join(ud, "settings", "styles.default")))

	// running again changes nothing
	require.NoError(t, Initialize(fs, backend, ud, nil))
	assert.Equal(t, "mine", readFile(t, fs, filepath.Join(ud, "settings", "styles.csv")))
}

func TestInitializeReadOnly(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	err := Initialize(fs, "/backend", "/data", nil)
	assert.ErrorContains(t, err, "creating models directory")
}
