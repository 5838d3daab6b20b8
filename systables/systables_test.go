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

package systables

import (
	"context"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensysctl/sysctlfs/registry"
)

func TestDefaultSeedDecodes(t *testing.T) {
	s, err := DefaultSeed()
	require.NoError(t, err)
	assert.Equal(t, int64(32768), s.PidMaxDefault)
	assert.Contains(t, s.Interfaces, "lo")
}

func TestRegisterPopulatesTree(t *testing.T) {
	tree := registry.NewTree(timeutil.RealClock())
	seed, err := DefaultSeed()
	require.NoError(t, err)

	handles, err := Register(tree, tree.RootGroup(), seed)
	require.NoError(t, err)
	require.NotNil(t, handles)

	root := tree.RootHandle()
	kernel, _, _, err := tree.Lookup(root, tree.RootGroup(), "kernel")
	require.NoError(t, err)
	require.True(t, kernel.IsDir())

	_, entry, owner, err := tree.Lookup(kernel, tree.RootGroup(), "pid_max")
	require.NoError(t, err)
	require.NotNil(t, owner)

	buf := make([]byte, 64)
	lenp := len(buf)
	ppos := int64(0)
	n, err := tree.IO(context.Background(), owner, tree.RootGroup(), entry, false, buf, &lenp, &ppos)
	require.NoError(t, err)
	assert.Equal(t, "32768\n", string(buf[:n]))

	for _, iface := range seed.Interfaces {
		ifaceHandle, ok := handles.NetInterfaces[iface]
		assert.True(t, ok)
		assert.NotNil(t, ifaceHandle)
	}

	Unregister(tree, handles)

	_, _, _, err = tree.Lookup(tree.RootHandle(), tree.RootGroup(), "kernel")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}
