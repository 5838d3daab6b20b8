// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import "sync"

// headerCache is the component 1 "header cache": a typed allocator for
// header records, grounded on the teacher's inode lifecycle (fs/fs.go's
// mintInode / unlockAndDecrementLookupCount and fs/inode/inode.go). Go has
// no slab allocator in the standard library and none appears anywhere in
// the retrieval pack, so sync.Pool is the idiomatic ecosystem answer: it
// gives us the same "avoid allocating under a held lock" property the
// original slab cache provides (see the prealloc slice Register and
// RegisterDir fill in tree.go), without hand-rolling a free list.
//
// A header only re-enters the pool through the epoch reclaimer below,
// never directly: reclaimer.drainLocked is the single caller of
// headerCache.put, and it
// only runs once a grace period has elapsed for every reader that might
// still be walking a list containing the header.
type headerCache struct {
	pool sync.Pool
}

func newHeaderCache() *headerCache {
	return &headerCache{
		pool: sync.Pool{
			New: func() any { return new(header) },
		},
	}
}

func (c *headerCache) get() *header {
	h := c.pool.Get().(*header)
	h.reset()
	return h
}

func (c *headerCache) put(h *header) {
	c.pool.Put(h)
}

// epoch identifies a generation of the reclaimer below. Headers retired
// during epoch E are only returned to the cache once every reader that
// entered during E or an earlier, still-unreclaimed epoch has exited.
type epoch uint64

// reclaimer implements the "grace-period-deferred reclamation" contract
// spec.md §9 asks for (an epoch scheme, hazard pointers, or an RCU-like
// primitive all satisfy the same contract: "readers see a consistent list
// snapshot; freed nodes are delayed past all concurrent readers"). This is
// a small two-generation epoch reclaimer: readers bracket a traversal with
// enter/exit, writers bracket a detach with retire, and retire always
// advances the epoch so that no reader starting after the detach can still
// be counted against the epoch being retired.
type reclaimer struct {
	mu      sync.Mutex
	current epoch
	active  map[epoch]int
	pending map[epoch][]*header
	cache   *headerCache
}

func newReclaimer(cache *headerCache) *reclaimer {
	return &reclaimer{
		active:  make(map[epoch]int),
		pending: make(map[epoch][]*header),
		cache:   cache,
	}
}

// enter marks the start of a protected traversal and returns the epoch to
// hand back to exit.
func (r *reclaimer) enter() epoch {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.current
	r.active[e]++
	return e
}

// exit marks the end of a protected traversal begun at e.
func (r *reclaimer) exit(e epoch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[e]--
	if r.active[e] <= 0 {
		delete(r.active, e)
		r.drainLocked()
	}
}

// retire schedules h for reclamation once all readers that could have
// observed it in a live list have departed.
func (r *reclaimer) retire(h *header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[r.current] = append(r.pending[r.current], h)
	r.current++
	r.drainLocked()
}

func (r *reclaimer) drainLocked() {
	for e, hs := range r.pending {
		if e >= r.current {
			continue
		}
		busy := false
		for ae, n := range r.active {
			if ae <= e && n > 0 {
				busy = true
				break
			}
		}
		if busy {
			continue
		}
		for _, h := range hs {
			r.cache.put(h)
		}
		delete(r.pending, e)
	}
}
