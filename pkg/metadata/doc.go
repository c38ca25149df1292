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

// Package metadata provides the HTTP client datasources use to talk to
// instance metadata services.
//
// The client bypasses proxies, applies short connect and header timeouts,
// bounds response sizes and passes every request through a rate limiter.
// Failures are returned as structured errors: NOT_FOUND for a 404 so
// optional documents can be skipped, UNAVAILABLE for everything the caller
// may retry.
//
//	c := metadata.NewClient(metadata.WithRateLimit(5, 2))
//	body, err := c.Get(ctx, metadata.Join(base, "openstack", "latest", "meta_data.json"))
package metadata
