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

// Package cli implements the cnsinit command-line interface.
//
// # Commands
//
// init - Run one boot stage:
//
//	cnsinit init --stage local-init
//
// Each stage is normally started by its own systemd unit. A stage that
// already completed during the current boot is skipped unless --force is
// given. Progress is reported to systemd with sd_notify when NOTIFY_SOCKET
// is set.
//
// boot - Run every stage in order in one process:
//
//	cnsinit boot --format json --output /run/cnsinit/report.json
//
// query - Print cached instance data:
//
//	cnsinit query metadata.local-hostname
//
// status - Show the selected datasource, completed stages and module runs:
//
//	cnsinit status --format table
//
// clean - Remove persisted state:
//
//	cnsinit clean --all
//
// # Global Flags
//
//	--log-level    Log level: debug, info, warn, error (env LOG_LEVEL)
//	--debug        Shorthand for --log-level=debug
//	--state-dir    Directory holding the instance cache (default /var/lib/cnsinit)
//	--config       System configuration file (default /etc/cloud/cloud.cfg)
//	--config-dir   Configuration fragments (default /etc/cloud/cloud.cfg.d)
//
// # Exit Codes
//
//	0  Success
//	1  General error
//	2  No datasource could be resolved
//	3  One or more modules failed, or a stage was blocked by a failed gate
//	4  Configuration error, including module ordering cycles
//
// Version information is embedded at build time using ldflags:
//
//	go build -ldflags="-X 'github.com/NVIDIA/cns-init/pkg/cli.version=1.0.0'"
package cli
