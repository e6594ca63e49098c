// Package pack reads the modpack manifest and maps its destinations onto
// the pack root.
package pack

import (
	"errors"
	"fmt"
	"strings"

	"go-curseforge-resolver/internal/models"

	"github.com/BurntSushi/toml"
)

// Manifest lists the files of a modpack.
type Manifest struct {
	Files []ManifestFile `toml:"files"`
}

// ManifestFile is one [[files]] entry.
type ManifestFile struct {
	Name       string        `toml:"name"`
	Path       string        `toml:"path"`
	CurseForge *CurseForgeID `toml:"curseforge"`
}

// CurseForgeID is the [files.curseforge] table.
type CurseForgeID struct {
	FileID    int `toml:"file-id"`
	ProjectID int `toml:"project-id"`
}

// LoadManifest decodes and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("error loading manifest %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("manifest %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	var errs []error
	seen := make(map[string]bool, len(m.Files))
	for i, f := range m.Files {
		switch {
		case f.Name == "":
			errs = append(errs, fmt.Errorf("files[%d]: missing name", i))
		case seen[f.Name]:
			errs = append(errs, fmt.Errorf("files[%d]: duplicate name %q", i, f.Name))
		}
		seen[f.Name] = true
		if f.Path == "" {
			errs = append(errs, fmt.Errorf("files[%d]: missing path", i))
		}
		if c := f.CurseForge; c != nil && (c.FileID <= 0 || c.ProjectID <= 0) {
			errs = append(errs, fmt.Errorf("files[%d]: curseforge ids must be positive", i))
		}
	}
	return errors.Join(errs...)
}

// Items converts the manifest into requested items, in manifest order.
func (m *Manifest) Items() []models.RequestedItem {
	items := make([]models.RequestedItem, 0, len(m.Files))
	for _, f := range m.Files {
		item := models.RequestedItem{ID: f.Name, Dest: f.Path}
		if f.CurseForge != nil {
			item.Locator = &models.Locator{FileID: f.CurseForge.FileID, ProjectID: f.CurseForge.ProjectID}
		}
		items = append(items, item)
	}
	return items
}
