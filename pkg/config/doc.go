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

// Package config loads system configuration and assembles the merged
// configuration of an instance.
//
// Layers, lowest precedence first:
//
//	defaults            embedded defaults.yaml
//	system              /etc/cloud/cloud.cfg
//	system:<fragment>   /etc/cloud/cloud.cfg.d/*.{cfg,yaml,yml,json}, lexical order
//	datasource          configuration supplied by the datasource itself
//	vendor-data[n]      cloud-config parts of vendor-data
//	user-data[n]        cloud-config parts of user-data
//	scripts             decoded script parts (user_scripts, vendor_scripts, boothooks)
//	cmdline             YAML between "cc:" and "end_cc" on the kernel command line
//
// JSON documents may contain comments and trailing commas. Durations are
// written as strings ("5s", "10m").
//
// System exposes the settings the engine itself consumes (datasource list
// and settings, probe and fetch tuning, stage module lists, merge table).
package config
