package pack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go-curseforge-resolver/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pack.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadManifest_ItemsKeepOrder(t *testing.T) {
	path := writeManifest(t, `
[[files]]
name = "Fancy Mod"
path = "mods/Fancy Mod.jar"
[files.curseforge]
file-id = 123
project-id = 456

[[files]]
name = "options"
path = "config/options.txt"

[[files]]
name = "Shiny Pack"
path = "resourcepacks/Shiny Pack.zip"
[files.curseforge]
file-id = 7
project-id = 8
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)

	items := m.Items()
	require.Len(t, items, 3)
	assert.Equal(t, models.RequestedItem{
		ID:      "Fancy Mod",
		Dest:    "mods/Fancy Mod.jar",
		Locator: &models.Locator{FileID: 123, ProjectID: 456},
	}, items[0])
	assert.Equal(t, "options", items[1].ID)
	assert.Nil(t, items[1].Locator)
	assert.Equal(t, 7, items[2].Locator.FileID)
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing path", "[[files]]\nname = \"a\"\n", "missing path"},
		{"missing name", "[[files]]\npath = \"mods/a.jar\"\n", "missing name"},
		{"duplicate", "[[files]]\nname = \"a\"\npath = \"x\"\n[[files]]\nname = \"a\"\npath = \"y\"\n", "duplicate name"},
		{"bad ids", "[[files]]\nname = \"a\"\npath = \"x\"\n[files.curseforge]\nfile-id = 0\nproject-id = 1\n", "must be positive"},
		{"unknown key", "[[files]]\nname = \"a\"\npath = \"x\"\nhash = \"abc\"\n", "unknown keys"},
		{"syntax", "[[files]\n", "error loading manifest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadManifest_MissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestRoot_Resolve(t *testing.T) {
	dir := t.TempDir()
	root, err := NewRoot(dir)
	require.NoError(t, err)

	tests := []struct {
		dest    string
		want    string
		wantErr bool
	}{
		{"mods/Fancy Mod.jar", filepath.Join(dir, "mods", "Fancy Mod.jar"), false},
		{"mods/../config/a.toml", filepath.Join(dir, "config", "a.toml"), false},
		{"../outside.jar", "", true},
		{"mods/../../outside.jar", "", true},
		{"/etc/passwd", "", true},
		{"", "", true},
		{".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			got, err := root.Resolve(tt.dest)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrOutsideRoot))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
