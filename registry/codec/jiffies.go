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
	"time"

	"github.com/opensysctl/sysctlfs/registry"
)

// userTicksPerSecond is how many internal ticks make up one second, the Go analogue
// of the kernel's HZ. JiffiesVar stores its value in ticks; callers read and
// write seconds scaled by userTicksPerSecond, the same split the kernel
// keeps between HZ (kernel-internal) and USER_HZ (what /proc exposes).
const userTicksPerSecond = 100

// JiffiesVar is the datum behind a Jiffies entry: a duration stored
// internally as a tick count and presented to readers/writers in
// USER_HZ-scaled units, mirroring proc_dointvec_jiffies.
type JiffiesVar struct {
	vec *IntVec
}

func NewJiffiesVar(initial time.Duration) *JiffiesVar {
	return &JiffiesVar{vec: NewIntVec(ticksFromDuration(initial))}
}

func (j *JiffiesVar) Get() time.Duration {
	values := j.vec.Get()
	if len(values) == 0 {
		return 0
	}
	return durationFromTicks(values[0])
}

func ticksFromDuration(d time.Duration) int64 {
	return int64(d.Seconds() * userTicksPerSecond)
}

func durationFromTicks(ticks int64) time.Duration {
	return time.Duration(float64(ticks) / userTicksPerSecond * float64(time.Second))
}

type jiffiesHandler struct{}

// Jiffies is the Handler for a single duration expressed in USER_HZ ticks.
var Jiffies registry.Handler = jiffiesHandler{}

func jiffiesDatum(entry *registry.Entry, group *registry.Group) (*JiffiesVar, error) {
	v, _ := registry.Datum(entry, group).(*JiffiesVar)
	if v == nil {
		return nil, fmt.Errorf("%w: entry %q has no *JiffiesVar datum", registry.ErrInvalid, entry.Name)
	}
	return v, nil
}

func (jiffiesHandler) Handle(ctx context.Context, entry *registry.Entry, group *registry.Group, write bool, buf []byte, lenp *int, ppos *int64) (int, error) {
	v, err := jiffiesDatum(entry, group)
	if err != nil {
		return 0, err
	}

	if write {
		text := strings.TrimSpace(string(buf[:*lenp]))
		ticks, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a tick count", registry.ErrInvalid, text)
		}
		if ticks < 0 {
			return 0, fmt.Errorf("%w: negative tick count", registry.ErrInvalid)
		}
		v.vec.set([]int64{ticks})
		return *lenp, nil
	}

	if *ppos != 0 {
		return 0, nil
	}
	out := strconv.FormatInt(ticksFromDuration(v.Get()), 10) + "\n"
	n := copy(buf[:min(len(buf), *lenp)], out)
	*ppos += int64(n)
	return n, nil
}
