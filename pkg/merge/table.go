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

package merge

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/cns-init/pkg/version"
)

// TableSchema is the appendable table schema this builder understands.
var TableSchema = version.New(1, 0)

// Table is a versioned list of dotted key paths whose sequences are
// appended rather than replaced when layers are merged.
type Table struct {
	Version string   `json:"version" yaml:"version"`
	Paths   []string `json:"paths" yaml:"paths"`
}

// DefaultTable lists the sequences that accumulate across layers out of the box.
// Everything not listed here is replaced by the later layer.
var DefaultTable = Table{
	Version: "1.0",
	Paths: []string{
		"bootcmd",
		"runcmd",
		"packages",
		"write_files",
		"ssh_authorized_keys",
		"users",
		"groups",
		"mounts",
		"ntp.servers",
		"ntp.pools",
		"resolv_conf.nameservers",
		"resolv_conf.searchdomains",
	},
}

// Validate checks the table schema version and path syntax.
func (t Table) Validate() error {
	if err := TableSchema.Check(t.Version); err != nil {
		return fmt.Errorf("appendable table: %w", err)
	}
	for _, p := range t.Paths {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("appendable table: %w", err)
		}
	}
	return nil
}

func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty key path")
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return fmt.Errorf("invalid key path %q", p)
		}
	}
	return nil
}
