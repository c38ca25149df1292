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

package defaults

import "time"

// Datasource timeouts for platform detection and metadata retrieval.
const (
	// ProbeTimeout bounds a single datasource probe.
	// Probes answer "is this platform present" and must stay cheap.
	ProbeTimeout = 5 * time.Second

	// FetchMaxWait is the deadline for a datasource fetch including retries.
	FetchMaxWait = 30 * time.Second

	// FetchBackoffInitial is the first delay between fetch attempts.
	FetchBackoffInitial = 1 * time.Second

	// FetchBackoffFactor multiplies the delay after every failed attempt.
	FetchBackoffFactor = 2.0

	// FetchBackoffCap is the largest delay between fetch attempts.
	FetchBackoffCap = 10 * time.Second

	// FetchBackoffSteps is the maximum number of fetch attempts.
	FetchBackoffSteps = 6

	// ResolveTimeout bounds the whole resolution including all candidates.
	ResolveTimeout = 3 * time.Minute
)

// Pipeline timeouts for module execution.
const (
	// ModuleTimeout is the default upper bound for a single module apply.
	ModuleTimeout = 10 * time.Minute

	// CommandTimeout bounds a single external command run by a distro capability.
	CommandTimeout = 5 * time.Minute

	// SystemdTimeout bounds a single D-Bus call to systemd.
	SystemdTimeout = 30 * time.Second
)

// HTTP client timeouts for metadata service requests.
const (
	// HTTPClientTimeout is the default total timeout for HTTP requests.
	HTTPClientTimeout = 10 * time.Second

	// HTTPConnectTimeout is the timeout for establishing connections.
	HTTPConnectTimeout = 2 * time.Second

	// HTTPTLSHandshakeTimeout is the timeout for TLS handshake.
	HTTPTLSHandshakeTimeout = 5 * time.Second

	// HTTPResponseHeaderTimeout is the timeout for reading response headers.
	HTTPResponseHeaderTimeout = 5 * time.Second

	// HTTPIdleConnTimeout is the timeout for idle connections in the pool.
	HTTPIdleConnTimeout = 30 * time.Second

	// HTTPKeepAlive is the keep-alive duration for connections.
	HTTPKeepAlive = 30 * time.Second
)

// Metadata service request rate.
const (
	// MetadataRequestsPerSecond limits sustained requests against a metadata service.
	MetadataRequestsPerSecond = 10.0

	// MetadataBurst is the token bucket burst for metadata requests.
	MetadataBurst = 5
)
