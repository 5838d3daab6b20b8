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

// Package codec provides the standard registry.Handler implementations:
// the same handful of formatted read/write strategies the kernel's proc_dointvec
// family covers (plain strings, integer vectors with optional bounds,
// jiffies-scaled integers, and CPU-mask-style bitmaps). Registrants pick one
// of these instead of writing a Handler from scratch unless their entry
// needs bespoke parsing.
package codec
