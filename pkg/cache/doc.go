// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
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

// Package cache persists what cnsinit knows across boots: the selected
// datasource and its raw result, the current instance-id, per-stage
// completion markers, per-module run records and an audit history of
// previous instances.
//
// The record lives in a single JSON file. Every commit rewrites the file
// through a temporary file, fsync and rename, so a crash leaves either the
// previous or the new record on disk, never a mix. The record carries a
// BLAKE3 checksum; a record that fails verification is moved aside and the
// caller continues as if no prior state existed.
//
//	store := cache.NewStore("/var/lib/cnsinit")
//	rec, err := store.Commit(func(r *cache.Record) error {
//	    r.SwitchInstance(result.InstanceID, now, "local-init")
//	    return nil
//	})
package cache
