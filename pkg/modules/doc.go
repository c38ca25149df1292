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

// Package modules holds the built-in configuration modules. Importing it
// registers them with the module registry.
//
//	local-init           network
//	network-config       write_files, bootcmd, hostname, sshkeys
//	post-network-config  packages
//	final                scripts_vendor, runcmd, scripts_user,
//	                     write_files_deferred, finalmessage
//
// Modules read the merged config and act only through distro capabilities.
package modules
