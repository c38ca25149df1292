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

package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error types for schema version parsing failures.
var (
	ErrEmptyVersion      = errors.New("version string is empty")
	ErrTooManyComponents = errors.New("schema version has more than 2 components")
	ErrNonNumeric        = errors.New("version component is not numeric")
)

// Version is a schema version of a persisted or configured document,
// written as "MAJOR" or "MAJOR.MINOR" with an optional "v" prefix.
// Readers accept any document with the same major version; minor versions
// only add optional fields.
type Version struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
}

// New returns the version MAJOR.MINOR.
func New(major, minor int) Version {
	return Version{Major: major, Minor: minor}
}

// String returns "MAJOR.MINOR".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Parse parses "1", "v1", "1.2" or "v1.2".
func Parse(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return Version{}, ErrEmptyVersion
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Version{}, ErrTooManyComponents
	}

	var nums [2]int
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return Version{}, fmt.Errorf("%w: %q", ErrNonNumeric, part)
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrNonNumeric, part)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1]}, nil
}

// MustParse parses s and panics on error. Only use with literals.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("version.MustParse: %v", err))
	}
	return v
}

// Compare returns -1, 0 or 1 when v is older than, equal to or newer than other.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	default:
		return cmpInt(v.Minor, other.Minor)
	}
}

// CanRead reports whether a reader supporting v can read a document written as doc.
func (v Version) CanRead(doc Version) bool {
	return v.Major == doc.Major
}

// Check parses doc and verifies that a reader at v can read it.
func (v Version) Check(doc string) error {
	dv, err := Parse(doc)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", doc, err)
	}
	if !v.CanRead(dv) {
		return fmt.Errorf("unsupported schema version %s (supported %d.x)", dv, v.Major)
	}
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
