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

// Filesystem locations used when no override is configured.
const (
	// StateDir holds the cache record and seeds.
	StateDir = "/var/lib/cnsinit"

	// CacheFileName is the name of the cache record inside StateDir.
	CacheFileName = "instance.json"

	// SeedDir is the default root of local datasource seeds.
	SeedDir = StateDir + "/seed"

	// SystemConfigFile is the main system configuration file.
	SystemConfigFile = "/etc/cloud/cloud.cfg"

	// SystemConfigDir holds drop-in configuration fragments.
	SystemConfigDir = "/etc/cloud/cloud.cfg.d"

	// KernelCmdlineFile is the kernel command line.
	KernelCmdlineFile = "/proc/cmdline"

	// DMIDir is the sysfs DMI identity directory.
	DMIDir = "/sys/class/dmi/id"

	// OSReleaseFile describes the running distribution.
	OSReleaseFile = "/etc/os-release"

	// MountsFile lists mounted filesystems.
	MountsFile = "/proc/mounts"

	// BootIDFile holds a random identifier regenerated by the kernel on every boot.
	BootIDFile = "/proc/sys/kernel/random/boot_id"
)
