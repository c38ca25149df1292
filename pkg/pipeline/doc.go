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

// Package pipeline runs the boot stages.
//
// A boot event walks local-init, network-config, post-network-config and
// final in that order. Each stage resolves or reuses the datasource
// selection, merges instance configuration, orders the stage's modules by
// their Before/After constraints and invokes every module that is due
// according to its frequency:
//
//   - once: runs a single time; a failed run is recorded and not retried
//   - once-per-instance: runs again whenever the instance-id changes or the last run failed
//   - always: runs on every boot
//
// Module failures are isolated. They are recorded in the cache and the
// stage report and the remaining modules still run. Only resolution
// failure, an ordering cycle, a failed gate module in an earlier stage,
// a configuration error or cancellation stop a boot event.
//
// Every module outcome is committed to the cache before the next module
// starts and a stage is marked complete only after all of its modules ran,
// so an interrupted boot resumes at the first unfinished stage.
//
// Usage:
//
//	p, err := pipeline.New(bc, cache.NewStore(defaults.StateDir))
//	if err != nil {
//	    return err
//	}
//	rep, err := p.Run(ctx, module.StageFinal)
package pipeline
