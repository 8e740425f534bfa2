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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bungae.dev/bungae/internal/platform"
)

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "index.ts")
	require.NoError(t, os.WriteFile(file, []byte("export default 1;"), 0o644))

	w, err := NewWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(root))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte("export default 2;"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case event := <-w.Events():
		require.NotEmpty(t, event.Paths)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a debounced file event")
	}
}

func TestWatcherSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "index.js"), []byte("1"), 0o644))

	w, err := NewWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "index.js"), []byte("2"), 0o644))

	select {
	case <-w.Events():
		t.Fatal("expected no event for a change inside an ignored directory")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

// TestWatcherDebouncesAgainstMockClock exercises the debounce logic against
// platform.MockFileWatcher and platform.MockTimeProvider: no real fsnotify
// events and no real delay, so a flood of rapid writes collapses to one
// FileEvent deterministically instead of relying on wall-clock timing.
func TestWatcherDebouncesAgainstMockClock(t *testing.T) {
	fw := platform.NewMockFileWatcher()
	clock := platform.NewMockTimeProvider(time.Unix(0, 0))

	w, err := newWatcher(fw, clock, 30*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, fw.Add("/project"))

	fw.TriggerEvent("/project/a.js", platform.Write)
	fw.TriggerEvent("/project/b.js", platform.Write)
	fw.TriggerEvent("/project/a.js", platform.Write)

	var event FileEvent
	require.Eventually(t, func() bool {
		select {
		case event = <-w.Events():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.ElementsMatch(t, []string{"/project/a.js", "/project/b.js"}, event.Paths)
}

// TestWatcherSkipsIgnoredPathsAgainstMockWatcher confirms the gitignore
// filtering runs before an event ever reaches the debounce map, using the
// same mock watcher seam.
func TestWatcherSkipsIgnoredPathsAgainstMockWatcher(t *testing.T) {
	fw := platform.NewMockFileWatcher()
	clock := platform.NewMockTimeProvider(time.Unix(0, 0))

	w, err := newWatcher(fw, clock, 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, fw.Add("/"))

	fw.TriggerEvent("node_modules/dep/index.js", platform.Write)

	select {
	case <-w.Events():
		t.Fatal("expected no event for a change inside an ignored directory")
	case <-time.After(50 * time.Millisecond):
	}
}
