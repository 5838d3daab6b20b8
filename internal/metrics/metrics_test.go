// Copyright 2024 Google LLC
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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/opensysctl/sysctlfs/registry"
)

func TestErrorClass(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{registry.ErrEntryGone, "entry_gone"},
		{registry.ErrNotFound, "not_found"},
		{registry.ErrPermission, "permission"},
		{registry.ErrReadOnly, "read_only"},
		{registry.ErrInvalid, "invalid"},
		{registry.ErrNoMemory, "no_memory"},
		{registry.ErrFault, "fault"},
		{registry.ErrNameCollision, "name_collision"},
		{registry.ErrCorrespondentCollision, "correspondent_collision"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ErrorClass(c.err))
	}
}

func TestOpsCountIncrements(t *testing.T) {
	before := testutil.ToFloat64(OpsCount.WithLabelValues(OpLookup))
	OpsCount.WithLabelValues(OpLookup).Inc()
	after := testutil.ToFloat64(OpsCount.WithLabelValues(OpLookup))
	assert.Equal(t, before+1, after)
}
