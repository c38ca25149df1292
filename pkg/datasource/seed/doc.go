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

// Package seed reads datasource seeds: a directory or URL holding
// meta-data, user-data, vendor-data and network-config files.
//
// Local seeds are read through a billy.Filesystem so datasources can be
// tested against an in-memory tree. Block devices (config drives, cdroms)
// are mounted read-only for the duration of a callback through a Mounter.
package seed
