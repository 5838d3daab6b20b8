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
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/opensysctl/sysctlfs/registry"
)

// Bitmap is the datum behind a Bitmap entry: a set of bit positions
// presented in the kernel's cpulist range-list syntax ("0-3,7,9-11"), the
// format /sys/devices/system/cpu/.../cpumap and similar entries use.
type Bitmap struct {
	mu   sync.Mutex
	bits map[int]struct{}
	max  int // inclusive upper bound on valid bit positions
}

func NewBitmap(max int, initial ...int) *Bitmap {
	b := &Bitmap{bits: make(map[int]struct{}), max: max}
	for _, i := range initial {
		b.bits[i] = struct{}{}
	}
	return b
}

func (b *Bitmap) Get() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, 0, len(b.bits))
	for i := range b.bits {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (b *Bitmap) set(bits []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bits = make(map[int]struct{}, len(bits))
	for _, i := range bits {
		b.bits[i] = struct{}{}
	}
}

// Format renders bit positions in range-list syntax.
func Format(bits []int) string {
	if len(bits) == 0 {
		return ""
	}
	sorted := append([]int(nil), bits...)
	sort.Ints(sorted)

	var parts []string
	start := sorted[0]
	prev := sorted[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, n := range sorted[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush(prev)
		start, prev = n, n
	}
	flush(prev)
	return strings.Join(parts, ",")
}

// ParseRangeList parses the kernel's cpulist range-list syntax into a sorted
// slice of bit positions, rejecting anything above max.
func ParseRangeList(text string, max int) ([]int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var out []int
	for _, field := range strings.Split(text, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		lo, hi, found := strings.Cut(field, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a range-list", registry.ErrInvalid, text)
		}
		end := start
		if found {
			end, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a range-list", registry.ErrInvalid, text)
			}
		}
		if start > end || end > max || start < 0 {
			return nil, fmt.Errorf("%w: range %q out of bounds [0,%d]", registry.ErrInvalid, field, max)
		}
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

type bitmapHandler struct{}

// BitmapHandler is the Handler for range-list-formatted bitmaps.
var BitmapHandler registry.Handler = bitmapHandler{}

func bitmapDatum(entry *registry.Entry, group *registry.Group) (*Bitmap, error) {
	v, _ := registry.Datum(entry, group).(*Bitmap)
	if v == nil {
		return nil, fmt.Errorf("%w: entry %q has no *Bitmap datum", registry.ErrInvalid, entry.Name)
	}
	return v, nil
}

func (bitmapHandler) Handle(ctx context.Context, entry *registry.Entry, group *registry.Group, write bool, buf []byte, lenp *int, ppos *int64) (int, error) {
	v, err := bitmapDatum(entry, group)
	if err != nil {
		return 0, err
	}

	if write {
		bits, err := ParseRangeList(string(buf[:*lenp]), v.max)
		if err != nil {
			return 0, err
		}
		if *ppos != 0 {
			merged := map[int]struct{}{}
			for _, b := range v.Get() {
				merged[b] = struct{}{}
			}
			for _, b := range bits {
				merged[b] = struct{}{}
			}
			bits = bits[:0]
			for b := range merged {
				bits = append(bits, b)
			}
		}
		v.set(bits)
		return *lenp, nil
	}

	if *ppos != 0 {
		return 0, nil
	}
	out := Format(v.Get()) + "\n"
	n := copy(buf[:min(len(buf), *lenp)], out)
	*ppos += int64(n)
	return n, nil
}
