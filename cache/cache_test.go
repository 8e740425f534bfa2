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
package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenGet(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := Key(ContentHash([]byte("source")), "dev=true")
	entry := &Entry{Code: "__d(...)", Dependencies: []string{"./a"}, ContentHash: "abc"}
	require.NoError(t, c.Set(key, entry))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, entry.Code, got.Code)
	assert.Equal(t, entry.Dependencies, got.Dependencies)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetMissReportsStats(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok := c.Get("nonexistent")
	assert.False(t, ok)
	assert.Equal(t, Stats{Hits: 0, Misses: 1}, c.Stats())
}

func TestKeyIsStableAndSensitiveToInputs(t *testing.T) {
	a := Key("contenthash1", "dev=true")
	b := Key("contenthash1", "dev=true")
	c := Key("contenthash1", "dev=false")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestClearRemovesEntries(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := Key("x", "y")
	require.NoError(t, c.Set(key, &Entry{Code: "1"}))
	require.NoError(t, c.Clear())

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestConcurrentWritesLeaveAValidEntry(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := Key("racey", "cfg")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = c.Set(key, &Entry{Code: "variant"})
		}(i)
	}
	wg.Wait()

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "variant", got.Code)
}
