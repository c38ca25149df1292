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

// Package bootctx collects the boot context handed to datasource probes.
//
// The context is a read-only snapshot of what the early boot environment
// reveals about the platform: the kernel command line (including datasource
// hints such as "ds=nocloud;s=http://10.0.0.1/" and inline configuration
// between "cc:" and "end_cc"), the SMBIOS identity from /sys/class/dmi/id,
// os-release and the mount table.
//
// All paths can be re-rooted with WithRoot, which tests use to point the
// collector at a temporary directory tree.
//
//	bc, err := bootctx.Collect(ctx)
//	if bc.Hints.Requested("nocloud") {
//	    ...
//	}
package bootctx
