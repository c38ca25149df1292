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

// Package merge builds the configuration tree modules consume.
//
// Layers are merged in precedence order (defaults, distro overrides,
// vendor-data, user-data, kernel command line). Scalars replace, mappings
// recurse and sequences replace unless their dotted key path is appendable.
// Appendable paths come from a versioned Table and from the reserved
// "appendable" key inside any fragment:
//
//	net:
//	  dns: [8.8.8.8]
//	appendable: [net.dns]
//
// Inputs are never modified and the merged tree is immutable, so merging
// identical inputs always yields an identical tree.
package merge
