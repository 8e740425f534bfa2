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

package graph

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// BuildState is retained per-platform by the dev server between rebuilds.
// An incremental rebuild works on a Clone and returns it as the new
// BuildState; the BuildState itself dies on server shutdown.
type BuildState struct {
	Graph      *Graph
	IDFactory  *IDFactory
	RevisionID string
}

// NewBuildState constructs a fresh BuildState for an entry, with a new
// revision token.
func NewBuildState(entry string) *BuildState {
	return &BuildState{
		Graph:      NewGraph(entry),
		IDFactory:  NewIDFactory(),
		RevisionID: NewRevisionID(),
	}
}

// PathToID returns a snapshot of the current path->id mapping.
func (s *BuildState) PathToID() map[string]int {
	return s.IDFactory.PathToID()
}

// Clone deep-copies the BuildState, including its Graph and IDFactory, so
// the Incremental Builder can mutate a working copy and leave the
// original state untouched until the new build succeeds (§4.7: a failed
// incremental build must never corrupt old_state).
func (s *BuildState) Clone() *BuildState {
	return &BuildState{
		Graph:      s.Graph.Clone(),
		IDFactory:  s.IDFactory.Clone(),
		RevisionID: s.RevisionID,
	}
}

var revisionCounter atomic.Uint64

// NewRevisionID returns a fresh opaque token: a monotonic counter, a
// random component and a nanosecond timestamp, regenerated on every successful build or incremental
// rebuild. Clients echo it back; it carries no other meaning.
func NewRevisionID() string {
	n := revisionCounter.Add(1)
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%d-%s-%d", n, hex.EncodeToString(buf[:]), time.Now().UnixNano())
}

// Delta is the result of an incremental build: three disjoint sets of
// paths relative to the prior graph state.
type Delta struct {
	Added    map[string]*Module
	Modified map[string]*Module
	Deleted  []string
}

// NewDelta returns an empty Delta with initialized maps.
func NewDelta() *Delta {
	return &Delta{
		Added:    make(map[string]*Module),
		Modified: make(map[string]*Module),
	}
}

// IsEmpty reports whether all three sets are empty, the expected result of
// incrementalBuild(nil, ...) per P7.
func (d *Delta) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}
