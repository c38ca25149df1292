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

package datasource

import (
	"context"
	"fmt"
	"slices"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// NameNone is the fallback datasource that provides an empty instance.
// It only takes part in resolution when listed explicitly.
const NameNone = "None"

// Dependency is an environment guarantee a datasource needs before it can probe.
type Dependency string

const (
	// DependsFilesystem requires local filesystems and block devices.
	DependsFilesystem Dependency = "filesystem"
	// DependsNetwork requires configured networking.
	DependsNetwork Dependency = "network"
)

// Capability names a datasource operation.
type Capability string

const (
	CapabilityProbe Capability = "probe"
	CapabilityFetch Capability = "fetch"
	CapabilityCrawl Capability = "crawl_metadata"
)

// Spec describes a datasource implementation.
type Spec struct {
	// Name identifies the datasource in configuration and in the cache.
	Name string

	// Priority orders datasources when no explicit list is configured.
	// Lower runs first.
	Priority int

	// Restorable datasources report an instance-id that stays stable for a
	// given machine identity, so a cached selection can be fetched again
	// without probing on later boots.
	Restorable bool

	// Requires lists the environment guarantees needed to probe.
	Requires []Dependency
}

// Needs reports whether the spec requires dep.
func (s Spec) Needs(dep Dependency) bool {
	return slices.Contains(s.Requires, dep)
}

// Datasource detects a platform and fetches its instance data.
// Probe must be free of side effects and safe to abandon through ctx.
type Datasource interface {
	Spec() Spec
	Probe(ctx context.Context, bc *bootctx.Context) (bool, error)
	Fetch(ctx context.Context, bc *bootctx.Context) (*Result, error)
}

// Crawler is implemented by datasources that can walk their complete
// metadata tree on demand.
type Crawler interface {
	Crawl(ctx context.Context, bc *bootctx.Context) (map[string]any, error)
}

// Capabilities lists the operations ds supports.
func Capabilities(ds Datasource) []Capability {
	caps := []Capability{CapabilityProbe, CapabilityFetch}
	if _, ok := ds.(Crawler); ok {
		caps = append(caps, CapabilityCrawl)
	}
	return caps
}

// Well-known metadata keys.
const (
	MetaInstanceID    = "instance-id"
	MetaLocalHostname = "local-hostname"
	MetaPublicKeys    = "public-keys"
)

// Result is what a datasource fetch produced.
type Result struct {
	Datasource    string         `json:"datasource" yaml:"datasource"`
	InstanceID    string         `json:"instanceID" yaml:"instanceID"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	UserData      []byte         `json:"userData,omitempty" yaml:"userData,omitempty"`
	VendorData    []byte         `json:"vendorData,omitempty" yaml:"vendorData,omitempty"`
	NetworkConfig map[string]any `json:"networkConfig,omitempty" yaml:"networkConfig,omitempty"`

	// Config is configuration the platform supplies outside user-data,
	// such as an OVF password property.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Seed records where the data came from (a directory, device or URL).
	Seed string `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Validate checks that the result identifies an instance.
func (r *Result) Validate() error {
	if r == nil {
		return cnserrors.New(cnserrors.ErrCodeFetchFailure, "datasource returned no result")
	}
	if r.InstanceID == "" {
		return cnserrors.NewWithContext(cnserrors.ErrCodeFetchFailure, "datasource returned no instance-id",
			map[string]any{"datasource": r.Datasource})
	}
	return nil
}

// LocalHostname returns the hostname the platform assigned, if any.
func (r *Result) LocalHostname() string {
	if v, ok := r.Metadata[MetaLocalHostname]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// PublicKeys returns the SSH public keys found in metadata. Accepts a single
// string (newline separated), a list or a map of name to key.
func (r *Result) PublicKeys() []string {
	return publicKeys(r.Metadata[MetaPublicKeys])
}

func publicKeys(v any) []string {
	var keys []string
	switch t := v.(type) {
	case string:
		keys = append(keys, splitLines(t)...)
	case []any:
		for _, item := range t {
			keys = append(keys, publicKeys(item)...)
		}
	case []string:
		for _, item := range t {
			keys = append(keys, publicKeys(item)...)
		}
	case map[string]any:
		names := make([]string, 0, len(t))
		for name := range t {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			keys = append(keys, publicKeys(t[name])...)
		}
	}
	return keys
}
