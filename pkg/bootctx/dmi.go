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

package bootctx

import (
	"os"
	"path/filepath"
	"strings"
)

// DMI holds the SMBIOS identity exposed by the kernel under /sys/class/dmi/id.
type DMI struct {
	SysVendor       string `json:"sysVendor,omitempty" yaml:"sysVendor,omitempty"`
	ProductName     string `json:"productName,omitempty" yaml:"productName,omitempty"`
	ProductUUID     string `json:"productUUID,omitempty" yaml:"productUUID,omitempty"`
	ProductSerial   string `json:"productSerial,omitempty" yaml:"productSerial,omitempty"`
	ChassisAssetTag string `json:"chassisAssetTag,omitempty" yaml:"chassisAssetTag,omitempty"`
	BIOSVendor      string `json:"biosVendor,omitempty" yaml:"biosVendor,omitempty"`
}

func readDMI(dir string) DMI {
	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
	return DMI{
		SysVendor:       read("sys_vendor"),
		ProductName:     read("product_name"),
		ProductUUID:     strings.ToLower(read("product_uuid")),
		ProductSerial:   read("product_serial"),
		ChassisAssetTag: read("chassis_asset_tag"),
		BIOSVendor:      read("bios_vendor"),
	}
}

// Platform values derived from DMI.
const (
	PlatformUnknown   = ""
	PlatformAWS       = "aws"
	PlatformOpenStack = "openstack"
	PlatformVMware    = "vmware"
)

func detectPlatform(d DMI) string {
	switch {
	case strings.HasPrefix(d.ProductUUID, "ec2"),
		strings.Contains(d.SysVendor, "Amazon"),
		strings.Contains(d.BIOSVendor, "Amazon"):
		return PlatformAWS
	case strings.HasPrefix(d.ProductName, "OpenStack"),
		d.ChassisAssetTag == "OpenStack Nova",
		d.ChassisAssetTag == "OpenTelekomCloud":
		return PlatformOpenStack
	case strings.Contains(d.ProductName, "VMware"),
		strings.Contains(d.SysVendor, "VMware"):
		return PlatformVMware
	default:
		return PlatformUnknown
	}
}
