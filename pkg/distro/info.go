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

package distro

import (
	"slices"
	"strings"
)

// Family groups distributions sharing a package manager and layout.
type Family string

const (
	FamilyDebian  Family = "debian"
	FamilyRHEL    Family = "rhel"
	FamilySUSE    Family = "suse"
	FamilyArch    Family = "arch"
	FamilyAlpine  Family = "alpine"
	FamilyUnknown Family = "unknown"
)

// Info identifies the running distribution.
type Info struct {
	ID        string   `json:"id" yaml:"id"`
	IDLike    []string `json:"idLike,omitempty" yaml:"idLike,omitempty"`
	VersionID string   `json:"versionID,omitempty" yaml:"versionID,omitempty"`
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
	Family    Family   `json:"family" yaml:"family"`
}

var familyMembers = map[Family][]string{
	FamilyDebian: {"debian", "ubuntu", "raspbian", "linuxmint"},
	FamilyRHEL:   {"rhel", "centos", "fedora", "rocky", "almalinux", "amzn", "ol", "azurelinux", "mariner"},
	FamilySUSE:   {"suse", "sles", "opensuse", "opensuse-leap", "opensuse-tumbleweed"},
	FamilyArch:   {"arch", "manjaro"},
	FamilyAlpine: {"alpine"},
}

// InfoFromOSRelease builds Info from parsed os-release keys.
func InfoFromOSRelease(release map[string]string) Info {
	info := Info{
		ID:        strings.ToLower(release["ID"]),
		IDLike:    strings.Fields(strings.ToLower(release["ID_LIKE"])),
		VersionID: release["VERSION_ID"],
		Name:      release["NAME"],
	}
	info.Family = familyOf(append([]string{info.ID}, info.IDLike...))
	return info
}

func familyOf(ids []string) Family {
	for _, id := range ids {
		for _, family := range []Family{FamilyDebian, FamilyRHEL, FamilySUSE, FamilyArch, FamilyAlpine} {
			if slices.Contains(familyMembers[family], id) {
				return family
			}
		}
	}
	return FamilyUnknown
}

// installCommand returns the non-interactive install invocation for packages.
func installCommand(f Family, packages []string) (Command, bool) {
	var cmd Command
	switch f {
	case FamilyDebian:
		cmd = Command{
			Name: "apt-get",
			Args: []string{"--option=Dpkg::Options::=--force-confold", "--assume-yes", "--quiet", "install"},
			Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
		}
	case FamilyRHEL:
		cmd = Command{Name: "dnf", Args: []string{"install", "--assumeyes", "--quiet"}}
	case FamilySUSE:
		cmd = Command{Name: "zypper", Args: []string{"--non-interactive", "install", "--auto-agree-with-licenses"}}
	case FamilyArch:
		cmd = Command{Name: "pacman", Args: []string{"-Sy", "--noconfirm", "--needed"}}
	case FamilyAlpine:
		cmd = Command{Name: "apk", Args: []string{"add", "--no-cache"}}
	default:
		return Command{}, false
	}
	cmd.Args = append(cmd.Args, packages...)
	return cmd, true
}
