// Package profile supplies the persona the relay speaks with.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"companion/internal/domain"
)

// Default is the profile used when no file is configured or readable.
func Default() domain.Profile {
	return domain.Profile{
		DisplayName:    "Ami",
		Language:       "fr",
		Tone:           "chaleureux, clair, sans jargon",
		ShortSentences: true,
		Signature:      "— Bot 🤝",
		Preferences: domain.ProfilePreferences{
			ReplyMaxChars: 400,
			EmojiLevel:    "léger",
		},
	}
}

// DefaultFallback always returns Default.
type DefaultFallback struct{}

func (DefaultFallback) Current() domain.Profile { return Default() }

// FileBacked reads the profile file on every call so edits apply without a
// restart, or serves a cached copy while Watch runs. A broken file keeps the
// last profile that parsed.
type FileBacked struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	last     domain.Profile
	ok       bool
	watching bool
}

func NewFileBacked(path string, logger *slog.Logger) *FileBacked {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBacked{path: path, logger: logger}
}

func (f *FileBacked) Path() string { return f.path }

func (f *FileBacked) Current() domain.Profile {
	f.mu.Lock()
	if f.watching && f.ok {
		p := f.last
		f.mu.Unlock()
		return p
	}
	f.mu.Unlock()
	return f.reload()
}

// Watch caches the profile and reloads it when the file changes, until ctx
// is done. The parent directory is watched so editors that replace the file
// are followed.
func (f *FileBacked) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}

	f.reload()
	f.setWatching(true)
	defer f.setWatching(false)

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				p := f.reload()
				f.logger.Info("profile reloaded", "path", f.path, "display_name", p.DisplayName)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("profile watcher error", "path", f.path, "error", err)
		}
	}
}

func (f *FileBacked) setWatching(v bool) {
	f.mu.Lock()
	f.watching = v
	f.mu.Unlock()
}

func (f *FileBacked) reload() domain.Profile {
	p, err := Read(f.path)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		f.logger.Warn("profile unreadable, keeping previous", "path", f.path, "error", err)
		if f.ok {
			return f.last
		}
		return Default()
	}
	f.last, f.ok = p, true
	return p
}

// Read parses a profile file. YAML is a superset of JSON, so both formats
// load through the same decoder. Missing fields take the default values.
func Read(path string) (domain.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.DisplayName == "" {
		p.DisplayName = Default().DisplayName
	}
	return p, nil
}

// Select picks the provider for path: FileBacked when the file exists,
// DefaultFallback otherwise.
func Select(path string, logger *slog.Logger) domain.ProfileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		logger.Info("no profile path configured, using default profile")
		return DefaultFallback{}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("profile file not found, using default profile", "path", path)
		} else {
			logger.Warn("profile file not accessible, using default profile", "path", path, "error", err)
		}
		return DefaultFallback{}
	}
	logger.Info("profile loaded from file", "path", path)
	return NewFileBacked(path, logger)
}
