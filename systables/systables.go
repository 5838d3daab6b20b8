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

// Package systables registers the small set of illustrative tunables
// spec.md places out of scope (kernel/*, vm/*, net/* concrete tables) so
// that a mounted sysctlfs tree has real content to browse end to end
// instead of being empty until some other registrant shows up. Seed values
// come from a declarative YAML file, the same shape gcsfuse's cfg package
// loads its own configuration from, via viper, rather than being wired as
// Go literals.
package systables

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/opensysctl/sysctlfs/registry"
	"github.com/opensysctl/sysctlfs/registry/codec"
)

//go:embed seed.yaml
var defaultSeedYAML []byte

// Seed is the set of default values the demo tunables start with, decoded
// from seed.yaml (or an operator-supplied override with the same shape).
type Seed struct {
	PidMaxDefault          int64    `yaml:"pidMaxDefault"`
	CorePatternDefault     string   `yaml:"corePatternDefault"`
	OvercommitRatioDefault int64    `yaml:"overcommitRatioDefault"`
	CPUMaskDefault         string   `yaml:"cpuMaskDefault"`
	Interfaces             []string `yaml:"interfaces"`
}

// Handles is every handle Register produced, returned so callers (notably
// tests, and a clean shutdown path) can Unregister them symmetrically.

// DefaultSeed decodes the seed embedded in this binary at build time.
func DefaultSeed() (Seed, error) {
	return LoadSeed(defaultSeedYAML)
}

// LoadSeed decodes raw as a Seed, for operators who want to override the
// embedded demo defaults (e.g. a larger interface list) without a rebuild.
func LoadSeed(raw []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Seed{}, fmt.Errorf("systables: decode seed: %w", err)
	}
	return s, nil
}

type Handles struct {
	Kernel        *registry.Handle
	VM            *registry.Handle
	NetInterfaces map[string]*registry.Handle
}

// Register attaches the demo tunables to tree under group (ordinarily
// tree.RootGroup()), seeded from s. It mirrors the shape of a real kernel
// subsystem's __init registration: one Table per directory, attached in one
// call each.
func Register(tree *registry.Tree, group *registry.Group, s Seed) (*Handles, error) {
	h := &Handles{NetInterfaces: make(map[string]*registry.Handle, len(s.Interfaces))}

	kernelTable := registry.Table{
		{
			Name:    "pid_max",
			Data:    codec.NewIntVec(s.PidMaxDefault),
			MaxLen:  64,
			Mode:    0o644,
			Handler: codec.IntVector,
			Min:     int64(1),
			Max:     int64(4 * 1024 * 1024),
		},
		{
			Name:    "core_pattern",
			Data:    codec.NewStringVar(s.CorePatternDefault),
			MaxLen:  128,
			Mode:    0o644,
			Handler: codec.String,
		},
		{
			Name:    "sched_cpu_mask",
			Data:    mustBitmap(s.CPUMaskDefault),
			MaxLen:  256,
			Mode:    0o644,
			Handler: codec.BitmapHandler,
		},
	}
	kh, err := tree.Register(group, []string{"kernel"}, kernelTable)
	if err != nil {
		return nil, fmt.Errorf("systables: register kernel table: %w", err)
	}
	h.Kernel = kh

	vmTable := registry.Table{
		{
			Name:    "overcommit_ratio",
			Data:    codec.NewIntVec(s.OvercommitRatioDefault),
			MaxLen:  16,
			Mode:    0o644,
			Handler: codec.IntVector,
			Min:     int64(0),
			Max:     int64(100),
		},
	}
	vh, err := tree.Register(group, []string{"vm"}, vmTable)
	if err != nil {
		tree.Unregister(h.Kernel)
		return nil, fmt.Errorf("systables: register vm table: %w", err)
	}
	h.VM = vh

	for _, iface := range s.Interfaces {
		forwardingTable := registry.Table{
			{
				Name:    "forwarding",
				Data:    codec.NewIntVec(0),
				MaxLen:  8,
				Mode:    0o644,
				Handler: codec.IntVector,
				Min:     int64(0),
				Max:     int64(1),
			},
		}
		ih, err := tree.Register(group, []string{"net", "ipv4", "conf", iface}, forwardingTable)
		if err != nil {
			unregisterAll(tree, h)
			return nil, fmt.Errorf("systables: register net.ipv4.conf.%s: %w", iface, err)
		}
		h.NetInterfaces[iface] = ih
	}

	return h, nil
}

// Unregister tears down every handle Register produced: the per-interface
// tables (in no particular order), then vm, then kernel.
func Unregister(tree *registry.Tree, h *Handles) {
	unregisterAll(tree, h)
}

func unregisterAll(tree *registry.Tree, h *Handles) {
	for _, ih := range h.NetInterfaces {
		tree.Unregister(ih)
	}
	if h.VM != nil {
		tree.Unregister(h.VM)
	}
	if h.Kernel != nil {
		tree.Unregister(h.Kernel)
	}
}

func mustBitmap(rangeList string) *codec.Bitmap {
	bits, err := codec.ParseRangeList(rangeList, 255)
	if err != nil {
		// seed.yaml is a build-time asset under this package's own control;
		// a malformed default is a programming error, not a runtime one.
		panic(fmt.Sprintf("systables: invalid embedded cpuMaskDefault %q: %v", rangeList, err))
	}
	return codec.NewBitmap(255, bits...)
}
