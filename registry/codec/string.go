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
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/opensysctl/sysctlfs/registry"
)

// StringVar is the datum behind a String entry: a single mutable string
// guarded by its own mutex, since the reference engine's use-ref only
// protects the header's lifetime, not the datum it points at (the same
// division of labor as the kernel's sysctl core, which leaves locking of the
// backing variable to the registrant).
type StringVar struct {
	mu    sync.Mutex
	value string
}

func NewStringVar(initial string) *StringVar {
	return &StringVar{value: initial}
}

func (s *StringVar) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *StringVar) set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

// stringHandler formats and parses a StringVar entry, equivalent to the
// kernel's proc_dostring: on read it emits the current value followed by a
// newline; on write it replaces the value with the input, truncated at the
// first NUL or newline and at entry.MaxLen-1 bytes, never rejected for
// length.
type stringHandler struct{}

// String is the Handler for plain string entries.
var String registry.Handler = stringHandler{}

func datum(entry *registry.Entry, group *registry.Group) (*StringVar, error) {
	v, _ := registry.Datum(entry, group).(*StringVar)
	if v == nil {
		return nil, fmt.Errorf("%w: entry %q has no *StringVar datum", registry.ErrInvalid, entry.Name)
	}
	return v, nil
}

func (stringHandler) Handle(ctx context.Context, entry *registry.Entry, group *registry.Group, write bool, buf []byte, lenp *int, ppos *int64) (int, error) {
	v, err := datum(entry, group)
	if err != nil {
		return 0, err
	}

	if write {
		// proc_dostring never rejects a write for length: the user buffer is
		// copied up to maxlen-1, truncated at the first NUL or newline, and
		// NUL-terminated (spec.md §6). The full input length is still the
		// reported consumed count, even though only the truncated prefix is
		// stored (spec.md §8: a 200-byte payload stores 127 bytes but
		// returns 200).
		consumed := *lenp
		in := buf[:consumed]
		if i := bytes.IndexAny(in, "\x00\n"); i >= 0 {
			in = in[:i]
		}
		if entry.MaxLen > 1 && len(in) > entry.MaxLen-1 {
			in = in[:entry.MaxLen-1]
		}
		v.set(string(in))
		return consumed, nil
	}

	if *ppos != 0 {
		return 0, nil
	}
	out := v.Get() + "\n"
	if entry.MaxLen > 0 && len(out) > entry.MaxLen {
		out = out[:entry.MaxLen]
	}
	n := copy(buf[:min(len(buf), *lenp)], out)
	*ppos += int64(n)
	return n, nil
}
