// Package fsstore reads scripts and image templates from the shared data
// directory: <scripts>/<name>.json step lists and
// <templates>/<script>/<file>.png reference images.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
	"github.com/mfdoom84/automatevnc/internal/domain/script"
	"github.com/mfdoom84/automatevnc/internal/ports"
	"github.com/mfdoom84/automatevnc/internal/vision"
)

// Store is a read-only view over the script and template directories.
type Store struct {
	scriptsDir   string
	templatesDir string
}

var (
	_ ports.ScriptStore   = (*Store)(nil)
	_ ports.TemplateStore = (*Store)(nil)
)

// New creates a store rooted at the given directories.
func New(scriptsDir, templatesDir string) *Store {
	return &Store{scriptsDir: scriptsDir, templatesDir: templatesDir}
}

func (s *Store) scriptPath(name string) string {
	return filepath.Join(s.scriptsDir, name+".json")
}

// Exists reports whether a script is stored.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	if _, err := os.Stat(s.scriptPath(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat script %q: %w", name, err)
	}
	return true, nil
}

// Load reads and decodes a script's step list.
func (s *Store) Load(_ context.Context, name string) (script.Script, error) {
	data, err := os.ReadFile(s.scriptPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return script.Script{}, fmt.Errorf("script %q: %w", name, run.ErrNotFound)
		}
		return script.Script{}, fmt.Errorf("read script %q: %w", name, err)
	}
	var sc script.Script
	if err := json.Unmarshal(data, &sc); err != nil {
		return script.Script{}, fmt.Errorf("decode script %q: %w", name, err)
	}
	if sc.Name == "" {
		sc.Name = name
	}
	return sc, nil
}

// List returns the names of all stored scripts.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.scriptsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return names, nil
}

// LoadTemplate reads a PNG template belonging to a script. A template with
// any transparency keeps its alpha channel as a match mask.
func (s *Store) LoadTemplate(_ context.Context, scriptName, templateName string) (vision.Template, error) {
	if filepath.Ext(templateName) == "" {
		templateName += ".png"
	}
	path := filepath.Join(s.templatesDir, scriptName, templateName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return vision.Template{}, fmt.Errorf("template %q for script %q: %w", templateName, scriptName, run.ErrNotFound)
		}
		return vision.Template{}, fmt.Errorf("read template %q: %w", templateName, err)
	}
	img, err := vision.DecodePNG(data)
	if err != nil {
		return vision.Template{}, fmt.Errorf("template %q: %w", templateName, err)
	}
	return vision.Template{Image: img, Mask: extractMask(img)}, nil
}

// extractMask returns the alpha channel when the image actually uses
// transparency; a fully opaque image has no mask.
func extractMask(img image.Image) *image.Alpha {
	b := img.Bounds()
	mask := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(mask, mask.Bounds(), img, b.Min, draw.Src)
	for _, a := range mask.Pix {
		if a != 0xff {
			return mask
		}
	}
	return nil
}
