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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensysctl/sysctlfs/registry"
)

func corePatternEntry() *registry.Entry {
	return &registry.Entry{
		Name:    "core_pattern",
		Data:    NewStringVar(""),
		MaxLen:  128,
		Mode:    0o644,
		Handler: String,
	}
}

// TestStringWriteTruncatesRatherThanRejects covers the spec.md §8 scenario
// directly: a write longer than MaxLen is truncated and NUL-terminated, not
// rejected with EINVAL.
func TestStringWriteTruncatesRatherThanRejects(t *testing.T) {
	entry := corePatternEntry()
	payload := strings.Repeat("a", 200)
	lenp := len(payload)
	ppos := int64(0)

	n, err := entry.Handler.Handle(context.Background(), entry, nil, true, []byte(payload), &lenp, &ppos)
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	stored := entry.Data.(*StringVar).Get()
	assert.Equal(t, 127, len(stored))
	assert.Equal(t, strings.Repeat("a", 127), stored)
}

// TestStringWriteTruncatesAtNulOrNewline covers the first-NUL-or-newline
// truncation rule independent of MaxLen.
func TestStringWriteTruncatesAtNulOrNewline(t *testing.T) {
	entry := corePatternEntry()
	in := []byte("core.%p.%e\nsome trailing garbage")
	lenp := len(in)
	ppos := int64(0)

	_, err := entry.Handler.Handle(context.Background(), entry, nil, true, in, &lenp, &ppos)
	require.NoError(t, err)
	assert.Equal(t, "core.%p.%e", entry.Data.(*StringVar).Get())
}

// TestStringReadAfterWrite covers the ordinary round trip: write, then read
// back the stored value followed by a newline.
func TestStringReadAfterWrite(t *testing.T) {
	entry := corePatternEntry()
	in := []byte("core.%p\n")
	lenp := len(in)
	wpos := int64(0)
	_, err := entry.Handler.Handle(context.Background(), entry, nil, true, in, &lenp, &wpos)
	require.NoError(t, err)

	buf := make([]byte, 64)
	rlenp := len(buf)
	rpos := int64(0)
	n, err := entry.Handler.Handle(context.Background(), entry, nil, false, buf, &rlenp, &rpos)
	require.NoError(t, err)
	assert.Equal(t, "core.%p\n", string(buf[:n]))
}
