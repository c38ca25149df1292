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
	"context"
	"maps"
	"slices"
	"sync"
)

// Fake records every capability call. Errors set in Errs are returned by
// the matching capability.
type Fake struct {
	Errs   map[Capability]error
	Output Output

	mu        sync.Mutex
	hostnames []string
	packages  [][]string
	networks  []map[string]any
	files     []File
	commands  []Command
	restarts  []string
	keys      map[string][]string
}

// Capabilities returns a set providing names, or every capability when
// none are given.
func (f *Fake) Capabilities(names ...Capability) *Capabilities {
	if len(names) == 0 {
		names = []Capability{CapSetHostname, CapInstallPackages, CapRenderNetwork, CapWriteFile,
			CapRunCommand, CapRestartService, CapAuthorizeSSHKeys}
	}
	c := NewCapabilities(Info{ID: "fake", Family: FamilyUnknown})
	for _, name := range names {
		c.Provide(name, f)
	}
	return c
}

func (f *Fake) err(c Capability) error {
	return f.Errs[c]
}

func (f *Fake) SetHostname(_ context.Context, hostname string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(CapSetHostname); err != nil {
		return false, err
	}
	changed := len(f.hostnames) == 0 || f.hostnames[len(f.hostnames)-1] != hostname
	f.hostnames = append(f.hostnames, hostname)
	return changed, nil
}

func (f *Fake) InstallPackages(_ context.Context, packages []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(CapInstallPackages); err != nil {
		return err
	}
	f.packages = append(f.packages, slices.Clone(packages))
	return nil
}

func (f *Fake) RenderNetwork(_ context.Context, config map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(CapRenderNetwork); err != nil {
		return false, err
	}
	f.networks = append(f.networks, maps.Clone(config))
	return true, nil
}

func (f *Fake) WriteFile(_ context.Context, file File) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(CapWriteFile); err != nil {
		return false, err
	}
	f.files = append(f.files, file)
	return true, nil
}

func (f *Fake) Run(_ context.Context, cmd Command) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.Output, f.err(CapRunCommand)
}

func (f *Fake) RestartService(_ context.Context, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(CapRestartService); err != nil {
		return err
	}
	f.restarts = append(f.restarts, unit)
	return nil
}

func (f *Fake) AuthorizeKeys(_ context.Context, user string, keys []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(CapAuthorizeSSHKeys); err != nil {
		return false, err
	}
	if f.keys == nil {
		f.keys = map[string][]string{}
	}
	f.keys[user] = append(f.keys[user], keys...)
	return len(keys) > 0, nil
}

func (f *Fake) Hostnames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.hostnames)
}

func (f *Fake) Packages() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.packages)
}

func (f *Fake) Networks() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.networks)
}

func (f *Fake) Files() []File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.files)
}

func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

func (f *Fake) Restarts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.restarts)
}

func (f *Fake) Keys(user string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.keys[user])
}
