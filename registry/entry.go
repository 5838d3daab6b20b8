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

import (
	"fmt"
	"os"
	"strings"
)

// Entry is a single leaf binding a path component to an in-memory datum and
// the handler that knows how to translate bytes on the wire into mutations
// of that datum. Entries are immutable after registration; the table array
// that holds them is never copied, only referenced (see Table).
type Entry struct {
	// Name is the procname: a non-empty ASCII token containing no '/'.
	Name string

	// Data is the registrant's in-memory datum. Its concrete type is
	// whatever the paired Handler expects (e.g. *codec.IntVec,
	// *codec.StringVar); registry never dereferences it itself.
	Data any

	// MaxLen bounds how many bytes of Data the handler may touch.
	MaxLen int

	// Mode holds permission bits; must be <= 0o777 and must not grant
	// write access to "other" on a directory (directories aren't
	// represented by Entry at all, only by directory headers).
	Mode os.FileMode

	// Handler performs the actual formatted read/write.
	Handler Handler

	// Min and Max are optional, handler-specific bound parameters (e.g.
	// range limits for an integer vector). Left nil when unused.
	Min, Max any

	// GroupOverride, if set, is consulted instead of Data when the entry
	// is reached through a specific group (namespace); this lets one
	// registration's Entry slice be reused while each correspondent's
	// datum is distinct per namespace, the same way the kernel's
	// net_namespace tables index their data by the caller's struct net.
	GroupOverride func(g *Group) any
}

// datumFor resolves the effective datum pointer for this entry as seen
// through the given group.
func (e *Entry) datumFor(g *Group) any {
	if e.GroupOverride != nil {
		return e.GroupOverride(g)
	}
	return e.Data
}

// Datum exposes datumFor to package registry/codec's Handler
// implementations, which live outside this package but need the same
// group-aware datum resolution Handle callers get.
func Datum(e *Entry, g *Group) any { return e.datumFor(g) }

// Table is a registrant-supplied, ordered sequence of entries sharing a
// directory. Unlike the C original there is no explicit terminating
// sentinel: len(Table) plays that role. validate is still defensive about
// zero-value entries accidentally left in a hand-built slice, mirroring the
// C source's insistence that a stray empty-procname entry never gets
// registered.
type Table []Entry

func (t Table) validate() error {
	seen := make(map[string]struct{}, len(t))
	for i := range t {
		e := &t[i]
		if e.Name == "" {
			return fmt.Errorf("%w: table entry %d has empty procname", ErrInvalid, i)
		}
		if strings.ContainsRune(e.Name, '/') {
			return fmt.Errorf("%w: procname %q contains '/'", ErrInvalid, e.Name)
		}
		if e.Mode&^os.ModePerm != 0 || e.Mode > 0o777 {
			return fmt.Errorf("%w: procname %q has illegal mode %v", ErrInvalid, e.Name, e.Mode)
		}
		if e.Handler == nil {
			return fmt.Errorf("%w: procname %q has no handler", ErrInvalid, e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("%w: duplicate procname %q within one table", ErrInvalid, e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}
