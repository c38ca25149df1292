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

// Package distro provides the operating system operations modules depend on.
//
// Modules never touch the system directly. They look up a capability by
// name and receive a MISSING_CAPABILITY error when the running distribution
// cannot provide it:
//
//	caps := distro.Detect(bc)
//	hs, err := caps.Hostname()
//	if err != nil {
//	    return err
//	}
//	changed, err := hs.SetHostname(ctx, "node-1")
//
// # Capabilities
//
//   - set-hostname: /etc/hostname plus the running kernel hostname
//   - install-packages: apt-get, dnf, zypper, pacman or apk by family
//   - render-network-config: netplan for version 2 on Debian family,
//     otherwise the raw configuration under /etc/cnsinit
//   - write-file: atomic replace or append, mode and owner
//   - run-command: host processes with a bounded runtime
//   - restart-service: systemd over D-Bus
//   - authorize-ssh-keys: ~/.ssh/authorized_keys of a local user
//
// WithFilesystem redirects file operations below an alternate root, which
// is how tests and image builders use the package. Fake records calls for
// module tests.
package distro
