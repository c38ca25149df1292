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

// Package ovf implements the OVF and OVFNet datasources.
//
// The OVF environment (ovf-env.xml) is looked up in the seed directory, then
// through VMware guestinfo (vmware-rpctool) and finally on an iso9660 cdrom,
// mounting candidate devices read-only when none is mounted already. Cdrom
// device names are matched against seed.DefaultCdromPattern, overridable through
// CNSINIT_CDROM_DEV_REGEX.
//
// Recognised properties:
//
//	instance-id      instance identity, default "iid-dsovf"
//	local-hostname   also accepted as "hostname"
//	public-keys      SSH keys
//	seedfrom         NoCloud style seed ("/" or file:// for OVF, http(s) for OVFNet)
//	password         passed through as datasource config
//	user-data        base64 encoded, or raw when not valid base64
//	network-config   base64 YAML with a top-level "network" key (transports only)
//
// Both datasources are restorable: the instance-id travels with a cloned
// image, so a cached selection is reused without probing.
package ovf
