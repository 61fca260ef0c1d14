// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/sekolahdesk/sekolahdesk/internal/events"
	"github.com/sekolahdesk/sekolahdesk/pkg/debounce"
)

// monitorQuietPeriod is how long the monitor waits after a filesystem
// event before checking whether the file is actually gone. Sync clients
// replace by rename, which arrives as a remove/rename burst followed by a
// create; only the state after the burst matters.
const monitorQuietPeriod = 500 * time.Millisecond

// FileMonitor watches the backing database file for external deletion,
// rename or replacement (cloud sync does all three). It only reports;
// the choice between reloading and terminating belongs to the embedding
// app, surfaced to the user, never auto-resolved here.
type FileMonitor struct {
	watcher  *fsnotify.Watcher
	bus      *events.Bus
	path     string
	debounce *debounce.Debouncer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewFileMonitor starts watching path's directory. Watching the directory
// rather than the file itself survives the replace-by-rename pattern that
// sync clients use.
func NewFileMonitor(path string, bus *events.Bus) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch database directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &FileMonitor{
		watcher:  watcher,
		bus:      bus,
		path:     path,
		debounce: debounce.New(monitorQuietPeriod),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.loop(ctx)
	return m, nil
}

func (m *FileMonitor) loop(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Name != m.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Create) {
				// Defer the verdict until the burst settles: a remove
				// followed by a create within the quiet period is a
				// replacement, not a loss.
				m.debounce.Do(m.check)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("file monitor error")
		case <-ctx.Done():
			return
		}
	}
}

// check runs after the quiet period and reports the file's actual state.
func (m *FileMonitor) check() {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		log.Warn().Str("path", m.path).Msg("database file removed or renamed externally")
		m.bus.Publish(events.Event{Kind: events.FileMissing})
		return
	}
	// The file came back (sync finished replacing it). The app decides
	// whether to Reload; all caches clear then.
	log.Info().Str("path", m.path).Msg("database file materialized")
}

// Close stops the monitor.
func (m *FileMonitor) Close() error {
	m.cancel()
	// Drop, don't flush: a pending check firing mid-shutdown would report
	// the file missing while we are the ones letting go of it.
	m.debounce.Cancel()
	m.debounce.Stop()
	err := m.watcher.Close()
	<-m.done
	return err
}

// WaitForFile polls until path exists or ctx is cancelled. Used when the
// backing file is a not-yet-downloaded cloud placeholder: the caller shows a
// blocking prompt and passes a context the user's cancel wires into, so the
// wait is always visible and never retried silently forever.
func WaitForFile(ctx context.Context, path string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		}
	}
}
