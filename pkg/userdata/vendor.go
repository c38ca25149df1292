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

package userdata

import (
	"github.com/NVIDIA/cns-init/pkg/merge"
)

// VendorDataEnabledKey turns vendor-data processing off when false in
// system or user configuration.
const VendorDataEnabledKey = "vendor_data.enabled"

// VendorEnabled reports whether vendor-data should be consumed given the
// configuration merged so far. Defaults to true.
func VendorEnabled(cfg *merge.Config) bool {
	if cfg == nil {
		return true
	}
	return cfg.Bool(VendorDataEnabledKey, true)
}
