package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"

	"github.com/l0p7/confctrl/internal/spec"
	"github.com/l0p7/confctrl/internal/templates"
)

// SkippedFile describes a specification file the loader intentionally
// ignored because it violated invariants (unparsable JSON, failed
// validation, duplicate identity). Surfaced in health checks so operators
// know which documents were quarantined.
type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// FileStore persists specifications as {appId}-{version}.json documents under
// a folder (or reads a single fixed file). YAML and TOML documents are
// accepted on load; saves always write canonical JSON. Files ending in .tmpl
// are rendered through the template renderer before parsing.
type FileStore struct {
	folder   string
	file     string
	renderer *templates.Renderer
	logger   *slog.Logger

	mu      sync.Mutex
	skipped []SkippedFile
}

// NewFileStore builds the persistence layer. Exactly one of folder or file
// should be set; a folder is created when absent so first-boot saves work.
func NewFileStore(folder, file string, renderer *templates.Renderer, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if folder == "" && file == "" {
		return nil, errors.New("store: file store requires a folder or file")
	}
	if folder != "" && file != "" {
		return nil, errors.New("store: folder and file are mutually exclusive")
	}
	if folder != "" {
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return nil, fmt.Errorf("store: create specs folder: %w", err)
		}
	}
	return &FileStore{
		folder:   folder,
		file:     file,
		renderer: renderer,
		logger:   logger.With(slog.String("agent", "spec_files")),
	}, nil
}

// LoadAll reads every specification document from the configured source.
// Invalid documents are skipped and recorded, never fatal: a single broken
// file must not take down the registry.
func (f *FileStore) LoadAll(ctx context.Context) ([]spec.Specification, error) {
	paths, err := f.listPaths()
	if err != nil {
		return nil, err
	}

	var specs []spec.Specification
	var skipped []SkippedFile
	seen := make(map[string]string, len(paths))

	for _, path := range paths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		sp, err := f.loadFile(path)
		if err != nil {
			skipped = append(skipped, SkippedFile{Name: filepath.Base(path), Reason: err.Error()})
			f.logger.Warn("specification file skipped",
				slog.String("file", filepath.Base(path)), slog.Any("error", err))
			continue
		}
		if prev, ok := seen[sp.Key()]; ok {
			skipped = append(skipped, SkippedFile{
				Name:   filepath.Base(path),
				Reason: fmt.Sprintf("duplicate of %s (first seen in %s)", sp.Key(), prev),
			})
			continue
		}
		seen[sp.Key()] = filepath.Base(path)
		specs = append(specs, sp)
	}

	f.mu.Lock()
	f.skipped = skipped
	f.mu.Unlock()
	return specs, nil
}

// Save writes the canonical {appId}-{version}.json document. Single-file
// sources are read-only by design.
func (f *FileStore) Save(_ context.Context, sp spec.Specification) error {
	if f.folder == "" {
		return errors.New("store: save requires a specs folder source")
	}
	payload, err := json.MarshalIndent(sp, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", sp.Key(), err)
	}
	path := filepath.Join(f.folder, specFileName(sp.AppID, sp.Version))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename %s: %w", path, err)
	}
	return nil
}

// Delete removes the persisted document; a missing file is not an error.
func (f *FileStore) Delete(_ context.Context, appID, version string) error {
	if f.folder == "" {
		return errors.New("store: delete requires a specs folder source")
	}
	path := filepath.Join(f.folder, specFileName(appID, version))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	return nil
}

// Skipped returns the quarantined files from the most recent LoadAll.
func (f *FileStore) Skipped() []SkippedFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SkippedFile(nil), f.skipped...)
}

// Source reports the watchable path for the fsnotify watcher.
func (f *FileStore) Source() (folder, file string) {
	return f.folder, f.file
}

func (f *FileStore) listPaths() ([]string, error) {
	if f.file != "" {
		return []string{f.file}, nil
	}
	entries, err := os.ReadDir(f.folder)
	if err != nil {
		return nil, fmt.Errorf("store: read specs folder: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if specFileExt(name) != "" {
			paths = append(paths, filepath.Join(f.folder, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *FileStore) loadFile(path string) (spec.Specification, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return spec.Specification{}, fmt.Errorf("read: %w", err)
	}
	if strings.HasSuffix(path, ".tmpl") {
		if f.renderer == nil {
			return spec.Specification{}, errors.New("templated specification without a renderer")
		}
		rendered, err := f.renderer.Render(filepath.Base(path), raw)
		if err != nil {
			return spec.Specification{}, err
		}
		raw = rendered
	}
	switch specFileExt(filepath.Base(path)) {
	case ".yaml", ".yml":
		doc, err := yaml.Parser().Unmarshal(raw)
		if err != nil {
			return spec.Specification{}, fmt.Errorf("parse: %w", err)
		}
		raw, err = json.Marshal(doc)
		if err != nil {
			return spec.Specification{}, fmt.Errorf("parse: %w", err)
		}
	case ".toml":
		doc, err := toml.Parser().Unmarshal(raw)
		if err != nil {
			return spec.Specification{}, fmt.Errorf("parse: %w", err)
		}
		raw, err = json.Marshal(doc)
		if err != nil {
			return spec.Specification{}, fmt.Errorf("parse: %w", err)
		}
	}
	var sp spec.Specification
	if err := json.Unmarshal(raw, &sp); err != nil {
		return spec.Specification{}, fmt.Errorf("parse: %w", err)
	}
	if err := sp.Validate(); err != nil {
		return spec.Specification{}, err
	}
	return sp, nil
}

// specFileExt reports the document extension for recognized specification
// files, looking through a trailing .tmpl. Empty means not a spec file.
func specFileExt(name string) string {
	name = strings.TrimSuffix(name, ".tmpl")
	switch ext := filepath.Ext(name); ext {
	case ".json", ".yaml", ".yml", ".toml":
		return ext
	default:
		return ""
	}
}

func specFileName(appID, version string) string {
	return appID + "-" + version + ".json"
}
