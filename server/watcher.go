/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package server

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"bungae.dev/bungae/internal/platform"
)

// FileEvent is a single debounced batch of filesystem changes, handed to
// the dev server so it can feed the Incremental Builder (C7).
type FileEvent struct {
	Paths     []string
	Timestamp time.Time
}

// Watcher wraps a platform.FileWatcher with debouncing and watchIgnore
// filtering, the way the teacher's file watcher drives manifest
// regeneration — here it drives incremental rebuilds instead. Going
// through platform.FileWatcher and platform.TimeProvider, rather than
// fsnotify and the time package directly, lets a test swap in
// platform.MockFileWatcher and a mock time provider to exercise the
// debounce logic without real filesystem events or real delays.
type Watcher struct {
	watcher        platform.FileWatcher
	clock          platform.TimeProvider
	events         chan FileEvent
	debounceWindow time.Duration
	ignore         *gitignore.GitIgnore

	mu             sync.Mutex
	debouncedFiles map[string]time.Time
	pending        uint64
	done           chan struct{}
	closeOnce      sync.Once
}

// NewWatcher builds a Watcher backed by a real fsnotify-based
// platform.FileWatcher and the real clock, rooted at no particular
// directory yet; call Watch to add roots. watchIgnorePatterns are
// gitignore-style globs (e.g. "dist/**", "*.stories.tsx") layered on top
// of the built-in node_modules/.git exclusion.
func NewWatcher(debounceWindow time.Duration, watchIgnorePatterns []string) (*Watcher, error) {
	fw, err := platform.NewFSNotifyFileWatcher()
	if err != nil {
		return nil, err
	}
	return newWatcher(fw, platform.NewRealTimeProvider(), debounceWindow, watchIgnorePatterns)
}

func newWatcher(fw platform.FileWatcher, clock platform.TimeProvider, debounceWindow time.Duration, watchIgnorePatterns []string) (*Watcher, error) {
	ignore := gitignore.CompileIgnoreLines(append([]string{
		".git/**", "node_modules/**", "dist/**", "build/**", ".cache/**",
	}, watchIgnorePatterns...)...)

	w := &Watcher{
		watcher:        fw,
		clock:          clock,
		events:         make(chan FileEvent, 100),
		debounceWindow: debounceWindow,
		ignore:         ignore,
		debouncedFiles: make(map[string]time.Time),
		done:           make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

// Watch recursively adds root and its subdirectories to the watch set,
// skipping ignored directories entirely so their contents are never
// registered with the underlying watcher in the first place.
func (w *Watcher) Watch(root string) error {
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr == nil && w.ignore.MatchesPath(rel) {
			return filepath.SkipDir
		}
		if p == root {
			return nil
		}
		return w.watcher.Add(p)
	})
}

// Events returns the channel of debounced change batches.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Close stops the watcher and its event-processing goroutine.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.clock.Sleep(10 * time.Millisecond)
		close(w.events)
	})
	return err
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events():
			if !ok {
				return
			}
			if w.ignore.MatchesPath(event.Name) {
				continue
			}
			w.mu.Lock()
			w.debouncedFiles[event.Name] = w.clock.Now()
			w.pending++
			seq := w.pending
			w.mu.Unlock()
			go w.scheduleFlush(seq)

		case _, ok := <-w.watcher.Errors():
			if !ok {
				return
			}

		case <-w.done:
			return
		}
	}
}

// scheduleFlush waits out the debounce window and flushes, unless a later
// event has since rescheduled the flush (seq is stale) or the watcher has
// closed. This gets the same last-write-wins debouncing as resetting a
// single timer, without needing a cancelable/resettable timer from the
// platform.TimeProvider interface.
func (w *Watcher) scheduleFlush(seq uint64) {
	select {
	case <-w.clock.After(w.debounceWindow):
	case <-w.done:
		return
	}

	w.mu.Lock()
	stale := w.pending != seq
	w.mu.Unlock()
	if stale {
		return
	}
	w.flush()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if len(w.debouncedFiles) == 0 {
		return
	}

	paths := make([]string, 0, len(w.debouncedFiles))
	for p := range w.debouncedFiles {
		paths = append(paths, p)
	}
	w.debouncedFiles = make(map[string]time.Time)

	event := FileEvent{Paths: paths, Timestamp: w.clock.Now()}
	select {
	case w.events <- event:
	case <-w.done:
	default:
	}
}
