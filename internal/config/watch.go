package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// SettingsStore is the write side of the settings storage
type SettingsStore interface {
	SetSetting(key, value string) error
}

// Watcher hot-reloads a JSON overrides file into the settings store whenever
// it changes, so a running daemon picks up edits without a restart. The file
// is a flat object of setting key to string value.
type Watcher struct {
	store SettingsStore
	path  string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for the given overrides file
func NewWatcher(store SettingsStore, path string) *Watcher {
	return &Watcher{store: store, path: path}
}

// Start applies the overrides file once and begins watching it for changes.
// A missing file is not an error; it is applied when it appears.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	if err := w.apply(); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Failed to apply settings overrides")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode would go quiet.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.watcher = fw
	w.done = make(chan struct{})

	go w.loop(fw, w.done)

	log.Info().Str("path", w.path).Msg("Settings overrides watcher started")
	return nil
}

// Stop stops watching
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return
	}
	w.watcher.Close()
	<-w.done
	w.watcher = nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.apply(); err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("Failed to reload settings overrides")
			} else {
				log.Info().Str("path", w.path).Msg("Settings overrides reloaded")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Settings watcher error")
		}
	}
}

func (w *Watcher) apply() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read overrides: %w", err)
	}

	var overrides map[string]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse overrides: %w", err)
	}

	for key, value := range overrides {
		if err := w.store.SetSetting(key, value); err != nil {
			return err
		}
	}
	return nil
}
