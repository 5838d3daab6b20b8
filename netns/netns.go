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

// Package netns is a minimal stand-in for the kernel's struct net: each
// namespace it manages owns a registry.Group with correspondents enabled,
// giving the namespace correspondent engine (registry's component 4)
// something real driving it. There is no actual Linux network namespace
// involved; "namespace" here means only "a distinct overlay identity in the
// registration tree", the same simplification the rest of this module makes
// for every kernel subsystem it simulates.
package netns

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"

	"github.com/opensysctl/sysctlfs/internal/metrics"
	"github.com/opensysctl/sysctlfs/registry"
)

// Namespace is one simulated network namespace: an identity, a creation
// timestamp, and the registry.Group its correspondents register against.
type Namespace struct {
	ID        string
	Name      string
	CreatedAt int64 // unix seconds, from Manager's injected clock

	group *registry.Group
}

// Group returns the registry.Group callers pass to Register/RegisterDir/
// ReadDir/Lookup to reach this namespace's view of the tree.
func (n *Namespace) Group() *registry.Group { return n.group }

// Manager owns the set of live namespaces, the same way the teacher's
// fileSystem owns its inode maps: a single mutex guarding a map, with
// every mutation going through one of Manager's methods.
//
// Grounded on fs/fs.go's ServerConfig.Clock threading (Manager takes the
// same injectable timeutil.Clock so tests can control CreatedAt) and on
// the teacher's own single-struct-owns-a-map-under-a-mutex shape for
// fs.inodes.
type Manager struct {
	tree  *registry.Tree
	clock timeutil.Clock

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// NewManager constructs a Manager whose namespaces register against tree.
func NewManager(tree *registry.Tree, clock timeutil.Clock) *Manager {
	return &Manager{
		tree:       tree,
		clock:      clock,
		namespaces: make(map[string]*Namespace),
	}
}

// Create mints a new namespace named name (informational only; namespaces
// are addressed by ID, the same way net_namespace instances are addressed
// by struct pointer rather than by name in the kernel). The returned
// Namespace's Group has HasCorrespondents set, so directories it registers
// into may splice a correspondent instead of colliding with the shared
// tree (spec.md §4.4).
func (m *Manager) Create(name string) *Namespace {
	ns := &Namespace{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: m.clock.Now().Unix(),
	}
	ns.group = m.tree.NewGroup(registry.GroupOptions{
		Name:              fmt.Sprintf("netns:%s", ns.ID),
		HasCorrespondents: true,
	})

	m.mu.Lock()
	m.namespaces[ns.ID] = ns
	m.mu.Unlock()

	metrics.OpsCount.WithLabelValues("netns_create").Inc()
	return ns
}

// Lookup returns the namespace with the given ID, or nil if none exists
// (or it has already been destroyed).
func (m *Manager) Lookup(id string) *Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namespaces[id]
}

// List returns every live namespace, in no particular order.
func (m *Manager) List() []*Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Namespace, 0, len(m.namespaces))
	for _, ns := range m.namespaces {
		out = append(out, ns)
	}
	return out
}

// Destroy removes id from the manager's bookkeeping. It does not itself
// unregister any tables the namespace's registrants placed into the tree;
// callers are expected to have already called registry.Unregister on every
// handle they registered against ns.Group() (the same ordering discipline
// spec.md §4.3 imposes on every other registrant: unregister before the
// owning context disappears). Destroy is a no-op if id is unknown.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	delete(m.namespaces, id)
	m.mu.Unlock()

	metrics.OpsCount.WithLabelValues("netns_destroy").Inc()
}
