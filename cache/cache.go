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

// Package cache implements the Persistent Cache (C4): one JSON file per
// transform result, keyed by a fingerprint of the source content and the
// config that produced it, under a configurable directory (defaulting to
// the XDG cache home). Writes are write-temp-then-rename so a reader never
// observes a partially written entry; there is no cross-process locking,
// so concurrent writers racing on the same key simply leave the last
// rename as the winner (§4.4, §5).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"bungae.dev/bungae/internal/bungaeerr"
	"github.com/adrg/xdg"
)

// Entry is a single cached transform result (§3 CacheEntry).
type Entry struct {
	Code         string    `json:"code"`
	SourceMap    string    `json:"source_map,omitempty"`
	Dependencies []string  `json:"dependencies"`
	ContentHash  string    `json:"content_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats reports cumulative hit/miss counters since the Cache was created
// or last cleared.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache is a content-addressed, on-disk store of Entry values.
type Cache struct {
	dir    string
	hits   atomic.Int64
	misses atomic.Int64
}

// DefaultDir returns the bundler's cache directory under the user's XDG
// cache home, mirroring how the rest of the toolchain locates its own
// on-disk caches.
func DefaultDir() string {
	return filepath.Join(xdg.CacheHome, "bungae", "transform-cache")
}

// New opens (creating if necessary) a persistent cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &bungaeerr.CacheError{Op: "init", Path: dir, Err: err}
	}
	return &Cache{dir: dir}, nil
}

// Key computes the fingerprint H(fileContentHash || configFingerprint)
// that names a cache entry (§4.4). Callers supply the file's content hash
// (e.g. from Module.ContentHash) and a stable fingerprint of the resolver/
// transformer options that affected the result (platform, dev, target,
// extraVars...).
func Key(fileContentHash, configFingerprint string) string {
	sum := sha256.Sum256([]byte(fileContentHash + "|" + configFingerprint))
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes raw file bytes into the value stored as
// Entry.ContentHash and consumed by Key.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get reads the entry for key, if present. A missing or corrupt entry is
// reported as a cache miss, not a fatal error: a corrupt cache file never
// aborts a build, it is simply treated as absent (§7).
func (c *Cache) Get(key string) (*Entry, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &entry, true
}

// Set writes entry under key via write-temp-then-rename, so a concurrent
// Get never observes a half-written file.
func (c *Cache) Set(key string, entry *Entry) error {
	entry.CreatedAt = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return &bungaeerr.CacheError{Op: "set", Path: c.path(key), Err: err}
	}

	final := c.path(key)
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return &bungaeerr.CacheError{Op: "set", Path: final, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &bungaeerr.CacheError{Op: "set", Path: final, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &bungaeerr.CacheError{Op: "set", Path: final, Err: err}
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return &bungaeerr.CacheError{Op: "set", Path: final, Err: err}
	}
	return nil
}

// Clear removes every entry from the cache directory.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return &bungaeerr.CacheError{Op: "clear", Path: c.dir, Err: err}
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return &bungaeerr.CacheError{Op: "clear", Path: c.dir, Err: err}
		}
	}
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}

// Stats reports cumulative hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
