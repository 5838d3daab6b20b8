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
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/opensysctl/sysctlfs/registry"
)

// IntVec is the datum behind an IntVector entry: a vector of signed 64-bit
// integers that each write replaces with the values written (capped at
// MaxLen/8 elements), the Go analogue of the kernel's "array of int"
// sysctl tables (e.g. net.ipv4.tcp_rmem's three-element min/default/max
// vector).
type IntVec struct {
	mu     sync.Mutex
	values []int64
}

func NewIntVec(initial ...int64) *IntVec {
	v := make([]int64, len(initial))
	copy(v, initial)
	return &IntVec{values: v}
}

func (v *IntVec) Get() []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]int64, len(v.values))
	copy(out, v.values)
	return out
}

func (v *IntVec) set(values []int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values = values
}

type intVecHandler struct{}

// IntVector is the Handler for a whitespace-separated vector of integers.
// When entry.Min/entry.Max are set (each an int64, applied uniformly to
// every element) a write out of range is rejected with ErrInvalid, the
// analogue of proc_dointvec_minmax.
var IntVector registry.Handler = intVecHandler{}

func intVecDatum(entry *registry.Entry, group *registry.Group) (*IntVec, error) {
	v, _ := registry.Datum(entry, group).(*IntVec)
	if v == nil {
		return nil, fmt.Errorf("%w: entry %q has no *IntVec datum", registry.ErrInvalid, entry.Name)
	}
	return v, nil
}

func (intVecHandler) Handle(ctx context.Context, entry *registry.Entry, group *registry.Group, write bool, buf []byte, lenp *int, ppos *int64) (int, error) {
	v, err := intVecDatum(entry, group)
	if err != nil {
		return 0, err
	}

	if write {
		fields := strings.Fields(string(buf[:*lenp]))
		// spec.md §6: "assign element-wise up to maxlen/sizeof(element)" —
		// this is a fixed-capacity vector, not a growable one; fields past
		// the element capacity are discarded rather than appended.
		if entry.MaxLen > 0 {
			if max := entry.MaxLen / 8; len(fields) > max {
				fields = fields[:max]
			}
		}
		parsed := make([]int64, 0, len(fields))
		for _, f := range fields {
			n, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %q is not an integer", registry.ErrInvalid, f)
			}
			if lo, ok := entry.Min.(int64); ok && n < lo {
				return 0, fmt.Errorf("%w: %d below minimum %d", registry.ErrInvalid, n, lo)
			}
			if hi, ok := entry.Max.(int64); ok && n > hi {
				return 0, fmt.Errorf("%w: %d above maximum %d", registry.ErrInvalid, n, hi)
			}
			parsed = append(parsed, n)
		}
		v.set(parsed)
		return *lenp, nil
	}

	if *ppos != 0 {
		return 0, nil
	}
	values := v.Get()
	strs := make([]string, len(values))
	for i, n := range values {
		strs[i] = strconv.FormatInt(n, 10)
	}
	out := strings.Join(strs, "\t") + "\n"
	n := copy(buf[:min(len(buf), *lenp)], out)
	*ppos += int64(n)
	return n, nil
}
