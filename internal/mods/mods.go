// Package mods inspects the game server's mods directory.
package mods

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrInvalidPattern rejects plugin ids outside [A-Za-z0-9_-].
var ErrInvalidPattern = errors.New("invalid pattern")

var pluginID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	jarSuffix      = ".jar"
	disabledSuffix = ".disabled"
)

// manifestFiles are tried in order inside a mod directory.
var manifestFiles = []string{"manifest.json", "plugin.json", "mod.json"}

// Mod describes one entry of the mods directory.
type Mod struct {
	Name        string         `json:"name"`
	DirName     string         `json:"dir_name"`
	Enabled     bool           `json:"enabled"`
	IsJar       bool           `json:"is_jar"`
	HasManifest bool           `json:"has_manifest"`
	Manifest    map[string]any `json:"manifest"`
	Size        string         `json:"size"`
	SizeBytes   int64          `json:"size_bytes"`
	Version     string         `json:"version,omitempty"`
	Author      string         `json:"author,omitempty"`
	Description string         `json:"description,omitempty"`
}

// PluginStatus reports whether a plugin is present and enabled.
type PluginStatus struct {
	Installed   bool    `json:"installed"`
	Enabled     bool    `json:"enabled"`
	Path        *string `json:"path"`
	Filename    string  `json:"filename,omitempty"`
	IsDirectory bool    `json:"is_directory,omitempty"`
}

// List returns the mods in dir sorted by file name. A missing directory is an
// empty list.
func List(dir string) ([]Mod, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Mod{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mods dir: %w", err)
	}
	out := make([]Mod, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			out = append(out, dirMod(path, name))
		case e.Type().IsRegular() && strings.HasSuffix(name, jarSuffix+disabledSuffix):
			out = append(out, jarMod(e, strings.TrimSuffix(name, jarSuffix+disabledSuffix), false))
		case e.Type().IsRegular() && strings.HasSuffix(name, jarSuffix):
			out = append(out, jarMod(e, strings.TrimSuffix(name, jarSuffix), true))
		}
	}
	return out, nil
}

func jarMod(e fs.DirEntry, display string, enabled bool) Mod {
	var size int64
	if info, err := e.Info(); err == nil {
		size = info.Size()
	}
	return Mod{
		Name:      display,
		DirName:   e.Name(),
		Enabled:   enabled,
		IsJar:     true,
		Size:      humanize.IBytes(uint64(size)),
		SizeBytes: size,
	}
}

func dirMod(path, name string) Mod {
	size := dirSize(path)
	m := Mod{
		Name:      strings.TrimSuffix(name, disabledSuffix),
		DirName:   name,
		Enabled:   !strings.HasSuffix(name, disabledSuffix),
		Size:      humanize.IBytes(uint64(size)),
		SizeBytes: size,
	}
	manifest := readManifest(path)
	if manifest == nil {
		return m
	}
	m.HasManifest = true
	m.Manifest = manifest
	if n := stringField(manifest, "name"); n != "" {
		m.Name = n
	}
	m.Version = stringField(manifest, "version")
	m.Author = stringField(manifest, "author")
	if m.Author == "" {
		m.Author = stringField(manifest, "authors")
	}
	m.Description = stringField(manifest, "description")
	return m
}

func readManifest(dir string) map[string]any {
	for _, f := range manifestFiles {
		b, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			continue
		}
		var m map[string]any
		if json.Unmarshal(b, &m) == nil {
			return m
		}
	}
	return nil
}

// stringField renders scalar fields and lists of names as text.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			switch x := p.(type) {
			case string:
				parts = append(parts, x)
			case map[string]any:
				if n, ok := x["name"].(string); ok {
					parts = append(parts, n)
				}
			}
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// CheckPlugin looks for a jar whose base name starts with id, or a directory
// whose normalized name equals id.
func CheckPlugin(dir, id string) (PluginStatus, error) {
	if !pluginID.MatchString(id) {
		return PluginStatus{}, fmt.Errorf("%w: %q", ErrInvalidPattern, id)
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return PluginStatus{}, nil
	}
	if err != nil {
		return PluginStatus{}, fmt.Errorf("read mods dir: %w", err)
	}

	want := strings.ToLower(id)
	wantDir := strings.ReplaceAll(want, "_", "-")
	for _, e := range entries {
		lower := strings.ToLower(e.Name())
		enabled := !strings.HasSuffix(lower, disabledSuffix)
		path := filepath.Join(dir, e.Name())
		switch {
		case e.Type().IsRegular() && (strings.HasSuffix(lower, jarSuffix) || strings.HasSuffix(lower, jarSuffix+disabledSuffix)):
			base := strings.TrimSuffix(strings.TrimSuffix(lower, disabledSuffix), jarSuffix)
			if strings.HasPrefix(base, want) {
				return PluginStatus{Installed: true, Enabled: enabled, Path: &path, Filename: e.Name()}, nil
			}
		case e.IsDir():
			norm := strings.NewReplacer("_", "-", " ", "-").Replace(lower)
			if strings.TrimSuffix(norm, disabledSuffix) == wantDir {
				return PluginStatus{Installed: true, Enabled: enabled, Path: &path, IsDirectory: true}, nil
			}
		}
	}
	return PluginStatus{}, nil
}
