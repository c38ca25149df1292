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
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/NVIDIA/cns-init/pkg/datasource/seed"
	"github.com/NVIDIA/cns-init/pkg/metadata"
)

// Config is handed to every factory.
type Config struct {
	// Settings holds the "datasource.<Name>" section of system configuration,
	// keyed by normalized datasource name.
	Settings map[string]map[string]any

	// HTTP is the shared metadata service client.
	HTTP *metadata.Client

	// Backoff is the fetch retry schedule.
	Backoff Backoff

	// FS is the root filesystem seeds are read from. Nil means the host.
	FS billy.Filesystem

	// Mounter mounts seed devices. Nil means mount(2).
	Mounter seed.Mounter
}

// Filesystem returns FS or the host root filesystem.
func (c Config) Filesystem() billy.Filesystem {
	if c.FS != nil {
		return c.FS
	}
	return osfs.New("/")
}

// DeviceMounter returns Mounter or the system mounter.
func (c Config) DeviceMounter() seed.Mounter {
	if c.Mounter != nil {
		return c.Mounter
	}
	return seed.SystemMounter{}
}

// Client returns the shared metadata client, creating a default one when
// none was configured.
func (c Config) Client() *metadata.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return metadata.NewClient()
}

// SettingsFor returns the settings section for name, never nil.
func (c Config) SettingsFor(name string) map[string]any {
	if s, ok := c.Settings[NormalizeName(name)]; ok && s != nil {
		return s
	}
	return map[string]any{}
}

// Factory creates a datasource instance for a single resolution attempt.
type Factory func(cfg Config) Datasource

type registration struct {
	name    string
	factory Factory
}

// Global registry for datasource factories.
// Datasources register themselves via init() functions.
var (
	globalFactories = make(map[string]registration)
	globalMu        sync.RWMutex
)

// Register registers a datasource factory globally.
// Returns an error if a datasource with the same name is already registered.
func Register(name string, factory Factory) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	key := NormalizeName(name)
	if key == "" {
		return fmt.Errorf("datasource name cannot be empty")
	}
	if _, exists := globalFactories[key]; exists {
		return fmt.Errorf("datasource %s already registered", name)
	}

	globalFactories[key] = registration{name: name, factory: factory}
	return nil
}

// MustRegister is a convenience function that panics on registration error.
// Use this in init() functions where registration must succeed.
func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// GlobalNames returns all globally registered datasource names, sorted.
func GlobalNames() []string {
	globalMu.RLock()
	defer globalMu.RUnlock()

	names := make([]string, 0, len(globalFactories))
	for _, r := range globalFactories {
		names = append(names, r.name)
	}
	sort.Strings(names)
	return names
}

// NewFromGlobal instantiates the registered datasources in resolution order.
// A non-empty list selects and orders candidates explicitly; unknown names are
// skipped with a warning. An empty list uses every registered datasource
// except "None", ordered by priority and then name.
func NewFromGlobal(cfg Config, list []string) *Registry {
	globalMu.RLock()
	defer globalMu.RUnlock()

	reg := NewRegistry()
	if len(list) > 0 {
		for _, name := range list {
			r, ok := globalFactories[NormalizeName(name)]
			if !ok {
				slog.Warn("ignoring unknown datasource", "datasource", name)
				continue
			}
			reg.Add(r.factory(cfg))
		}
		return reg
	}

	all := make([]Datasource, 0, len(globalFactories))
	for key, r := range globalFactories {
		if key == NormalizeName(NameNone) {
			continue
		}
		all = append(all, r.factory(cfg))
	}
	slices.SortStableFunc(all, func(a, b Datasource) int {
		if a.Spec().Priority != b.Spec().Priority {
			return a.Spec().Priority - b.Spec().Priority
		}
		return strings.Compare(a.Spec().Name, b.Spec().Name)
	})
	for _, ds := range all {
		reg.Add(ds)
	}
	return reg
}

// Registry is an ordered set of candidate datasources. Order is the sole
// tie-break during resolution.
type Registry struct {
	items []Datasource
	mu    sync.RWMutex
}

// NewRegistry returns a registry holding ds in the given order.
func NewRegistry(ds ...Datasource) *Registry {
	r := &Registry{}
	for _, d := range ds {
		r.Add(d)
	}
	return r
}

// Add appends ds unless a datasource with the same name is already present.
func (r *Registry) Add(ds Datasource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeName(ds.Spec().Name)
	for _, existing := range r.items {
		if NormalizeName(existing.Spec().Name) == key {
			return
		}
	}
	r.items = append(r.items, ds)
}

// Get returns the datasource named name.
func (r *Registry) Get(name string) (Datasource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := NormalizeName(name)
	for _, ds := range r.items {
		if NormalizeName(ds.Spec().Name) == key {
			return ds, true
		}
	}
	return nil, false
}

// Candidates returns the datasources whose requirements are all satisfied
// by available, in registry order. No arguments returns every datasource.
func (r *Registry) Candidates(available ...Dependency) []Datasource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(available) == 0 {
		return slices.Clone(r.items)
	}
	out := make([]Datasource, 0, len(r.items))
	for _, ds := range r.items {
		ok := true
		for _, dep := range ds.Spec().Requires {
			if !slices.Contains(available, dep) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, ds)
		}
	}
	return out
}

// Names returns datasource names in registry order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for _, ds := range r.items {
		names = append(names, ds.Spec().Name)
	}
	return names
}

// Count returns the number of datasources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
