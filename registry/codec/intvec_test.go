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

package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensysctl/sysctlfs/registry"
)

// TestIntVectorWriteCapsAtMaxLenElements covers spec.md §6's "assign
// element-wise up to maxlen/sizeof(element)": fields past the vector's
// element capacity are discarded, not appended, and the vector's element
// count never grows beyond what MaxLen allows.
func TestIntVectorWriteCapsAtMaxLenElements(t *testing.T) {
	entry := &registry.Entry{
		Name:    "pid_max",
		Data:    NewIntVec(0, 0),
		MaxLen:  16, // two int64 elements
		Mode:    0o644,
		Handler: IntVector,
	}

	in := []byte("1 2 3 4 5")
	lenp := len(in)
	ppos := int64(0)
	n, err := entry.Handler.Handle(context.Background(), entry, nil, true, in, &lenp, &ppos)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)

	got := entry.Data.(*IntVec).Get()
	assert.Equal(t, []int64{1, 2}, got)
}

// TestIntVectorRoundTrip covers the spec.md §8 round-trip property for a
// vector sized exactly to its input.
func TestIntVectorRoundTrip(t *testing.T) {
	entry := &registry.Entry{
		Name:    "tcp_rmem",
		Data:    NewIntVec(0, 0, 0),
		MaxLen:  24, // three int64 elements
		Mode:    0o644,
		Handler: IntVector,
	}

	in := []byte("4096 87380 6291456\n")
	lenp := len(in)
	wpos := int64(0)
	_, err := entry.Handler.Handle(context.Background(), entry, nil, true, in, &lenp, &wpos)
	require.NoError(t, err)

	buf := make([]byte, 64)
	rlenp := len(buf)
	rpos := int64(0)
	n, err := entry.Handler.Handle(context.Background(), entry, nil, false, buf, &rlenp, &rpos)
	require.NoError(t, err)
	assert.Equal(t, "4096\t87380\t6291456\n", string(buf[:n]))
}

// TestIntVectorMinMaxRejectsOutOfRange covers the existing min/max bound
// behavior to guard against the new capping logic short-circuiting it.
func TestIntVectorMinMaxRejectsOutOfRange(t *testing.T) {
	entry := &registry.Entry{
		Name:    "pid_max",
		Data:    NewIntVec(300),
		MaxLen:  8,
		Mode:    0o644,
		Handler: IntVector,
		Min:     int64(300),
		Max:     int64(32768),
	}

	in := []byte("99999")
	lenp := len(in)
	ppos := int64(0)
	_, err := entry.Handler.Handle(context.Background(), entry, nil, true, in, &lenp, &ppos)
	assert.ErrorIs(t, err, registry.ErrInvalid)
	assert.Equal(t, []int64{300}, entry.Data.(*IntVec).Get())
}
