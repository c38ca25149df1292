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

// Package resolver selects the datasource for the current boot.
//
// Candidates come from a datasource.Registry and are tried in registry
// order; the datasource named by a boot hint is moved to the front. Each
// candidate is probed under a timeout and the first one whose probe and
// fetch both succeed is adopted. Probes may run concurrently with
// WithParallelProbes, but a later candidate is never adopted while an
// earlier one can still succeed.
//
// When the cache holds a restorable selection and the boot fingerprint is
// unchanged, the cached datasource is fetched directly:
//
//	r := resolver.New(reg, store, resolver.WithKeepStages("local-init"))
//	res, err := r.Resolve(ctx, bc)
//	if cnserrors.IsCode(err, cnserrors.ErrCodeResolutionExhausted) {
//	    // nothing could be adopted; res.Attempts lists what was tried
//	}
//
// The selection is committed to the cache before Resolve returns.
package resolver
