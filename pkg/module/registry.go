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

package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/NVIDIA/cns-init/pkg/datasource"
)

// Global registry for built-in modules.
// Modules register themselves via init() functions.
var (
	globalModules = make(map[string]Module)
	globalMu      sync.RWMutex
)

// Register registers m globally.
// Returns an error if a module with the same name is already registered or
// its spec is invalid.
func Register(m Module) error {
	spec := m.Spec()
	if err := validateSpec(spec); err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	key := datasource.NormalizeName(spec.Name)
	if _, exists := globalModules[key]; exists {
		return fmt.Errorf("module %s already registered", spec.Name)
	}
	globalModules[key] = m
	return nil
}

// MustRegister is a convenience function that panics on registration error.
// Use this in init() functions where registration must succeed.
func MustRegister(m Module) {
	if err := Register(m); err != nil {
		panic(err)
	}
}

// NewFromGlobal returns a registry holding every globally registered module.
func NewFromGlobal() *Registry {
	globalMu.RLock()
	defer globalMu.RUnlock()

	reg := NewRegistry()
	for _, m := range globalModules {
		reg.items[datasource.NormalizeName(m.Spec().Name)] = m
	}
	return reg
}

// Registry is a set of modules addressed by case-insensitive name.
type Registry struct {
	items map[string]Module
	mu    sync.RWMutex
}

// NewRegistry returns a registry holding ms. Invalid or duplicate modules
// are rejected.
func NewRegistry(ms ...Module) *Registry {
	r := &Registry{items: make(map[string]Module)}
	for _, m := range ms {
		if err := r.Add(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Add adds m to the registry.
func (r *Registry) Add(m Module) error {
	spec := m.Spec()
	if err := validateSpec(spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := datasource.NormalizeName(spec.Name)
	if _, exists := r.items[key]; exists {
		return fmt.Errorf("module %s already registered", spec.Name)
	}
	r.items[key] = m
	return nil
}

// Get returns the module named name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.items[datasource.NormalizeName(name)]
	return m, ok
}

// ForStage returns the modules whose stage affinity is stage, sorted by name.
func (r *Registry) ForStage(stage Stage) []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Module
	for _, m := range r.items {
		if m.Spec().Stage == stage {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Spec().Name < out[j].Spec().Name
	})
	return out
}

// Names returns all module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for _, m := range r.items {
		names = append(names, m.Spec().Name)
	}
	sort.Strings(names)
	return names
}

func validateSpec(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if spec.Stage.Index() < 0 {
		return fmt.Errorf("module %s has unknown stage %q", spec.Name, spec.Stage)
	}
	if _, err := ParseFrequency(string(spec.Frequency)); err != nil {
		return fmt.Errorf("module %s: %w", spec.Name, err)
	}
	return nil
}
