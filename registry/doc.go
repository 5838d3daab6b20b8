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

// Package registry implements the hierarchical, runtime-mutable registry of
// named control entries described by the project's sysctl core: a shared
// directory tree built by concatenating per-registration path fragments,
// per-namespace correspondent overlays, and the reference-counting
// discipline that lets registration, unregistration and lookup run
// concurrently without a reader ever observing a half-torn-down entry.
//
// The filesystem adapter in package fs is the only intended caller of the
// exported surface here; registry itself knows nothing about FUSE, inodes
// or dentries.
package registry
