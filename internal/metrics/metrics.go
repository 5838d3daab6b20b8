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

// Package metrics exposes the counters and gauges that let an operator see
// registration churn and reference-engine pressure from the outside,
// generalizing gcsfuse's common.MetricHandle (OpsCount/OpsLatency/
// OpsErrorCount) from per-GCS-op accounting to per-registry-operation
// accounting. Unlike the teacher this module wires prometheus/client_golang
// directly rather than through an OpenCensus/OpenTelemetry exporter layer,
// since nothing here ships to a cloud monitoring backend (see DESIGN.md).
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensysctl/sysctlfs/registry"
)

// Op names used as the "op" label value across the counters below.
const (
	OpRegister    = "register"
	OpUnregister  = "unregister"
	OpRegisterDir = "register_dir"
	OpLookup      = "lookup"
	OpReadDir     = "readdir"
	OpRead        = "read"
	OpWrite       = "write"
)

var (
	// OpsCount mirrors gcsfuse's common.MetricHandle.OpsCount: a
	// monotonic count of registry operations, labeled by op name.
	OpsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sysctlfs",
		Name:      "ops_total",
		Help:      "Count of registry operations by kind.",
	}, []string{"op"})

	// OpsErrorCount mirrors OpsErrorCount: failures within an op, labeled
	// additionally by the sentinel error returned (e.g. "entry_gone",
	// "permission", "not_found").
	OpsErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sysctlfs",
		Name:      "ops_errors_total",
		Help:      "Count of registry operation failures by kind and error class.",
	}, []string{"op", "error"})

	// OpsLatencySeconds mirrors OpsLatency.
	OpsLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sysctlfs",
		Name:      "ops_latency_seconds",
		Help:      "Latency of registry operations by kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// The five reference-engine metrics below (HeadersLive through
	// CorrespondentsLive) are registered and exported, but nothing in this
	// module sets or increments them, so they always read zero.

	// HeadersLive tracks the reference engine's live header population
	// (owner-refs > 0), the sysctlfs analogue of gcsfuse's open-inode
	// gauge.
	HeadersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sysctlfs",
		Name:      "headers_live",
		Help:      "Number of headers currently reachable from the tree (owner-refs > 0).",
	})

	// UseRefsOutstanding tracks the sum of every header's use-refs count,
	// a proxy for in-flight lookup/readdir/IO traffic.
	UseRefsOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sysctlfs",
		Name:      "use_refs_outstanding",
		Help:      "Sum of use-refs across all live headers.",
	})

	// FsRefsOutstanding tracks the sum of every header's fs-refs count,
	// a proxy for kernel-cached inodes still pinned by the filesystem
	// adapter.
	FsRefsOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sysctlfs",
		Name:      "fs_refs_outstanding",
		Help:      "Sum of fs-refs across all live headers.",
	})

	// UnregisterBarrierWaits counts how many Unregister calls had to block
	// on an outstanding use-ref (spec.md §9's unregistration barrier),
	// surfacing contention between teardown and in-flight readers.
	UnregisterBarrierWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sysctlfs",
		Name:      "unregister_barrier_waits_total",
		Help:      "Count of Unregister calls that blocked draining outstanding use-refs.",
	})

	// CorrespondentsLive tracks the number of live namespace correspondent
	// overlay directories across all groups.
	CorrespondentsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sysctlfs",
		Name:      "correspondents_live",
		Help:      "Number of live namespace correspondent directories.",
	})
)

// ErrorClass maps a registry sentinel error to the short label
// OpsErrorCount groups by. Callers pass the error returned by a registry
// call; unrecognized errors fall back to "other".
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registry.ErrEntryGone):
		return "entry_gone"
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	case errors.Is(err, registry.ErrPermission):
		return "permission"
	case errors.Is(err, registry.ErrReadOnly):
		return "read_only"
	case errors.Is(err, registry.ErrInvalid):
		return "invalid"
	case errors.Is(err, registry.ErrNoMemory):
		return "no_memory"
	case errors.Is(err, registry.ErrFault):
		return "fault"
	case errors.Is(err, registry.ErrNameCollision):
		return "name_collision"
	case errors.Is(err, registry.ErrCorrespondentCollision):
		return "correspondent_collision"
	default:
		return "other"
	}
}
