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
	"io/fs"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Capability names an operation a distribution can perform for modules.
type Capability string

const (
	CapSetHostname      Capability = "set-hostname"
	CapInstallPackages  Capability = "install-packages"
	CapRenderNetwork    Capability = "render-network-config"
	CapWriteFile        Capability = "write-file"
	CapRunCommand       Capability = "run-command"
	CapRestartService   Capability = "restart-service"
	CapAuthorizeSSHKeys Capability = "authorize-ssh-keys"
)

// HostnameSetter changes the system hostname.
type HostnameSetter interface {
	SetHostname(ctx context.Context, hostname string) (bool, error)
}

// PackageInstaller installs packages with the native package manager.
type PackageInstaller interface {
	InstallPackages(ctx context.Context, packages []string) error
}

// NetworkRenderer writes network configuration in the distribution's format.
type NetworkRenderer interface {
	RenderNetwork(ctx context.Context, config map[string]any) (bool, error)
}

// File describes a file to be written.
type File struct {
	Path    string
	Content []byte
	Perm    fs.FileMode
	// Owner is "user", "user:group" or numeric ids. Empty keeps the default.
	Owner  string
	Append bool
}

// FileWriter writes files on the target system.
type FileWriter interface {
	WriteFile(ctx context.Context, f File) (bool, error)
}

// Command is a single process invocation.
type Command struct {
	Name  string
	Args  []string
	Env   []string
	Stdin []byte
}

// Output is what a finished command produced.
type Output struct {
	Stdout   []byte `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr   []byte `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	ExitCode int    `json:"exitCode" yaml:"exitCode"`
}

// CommandRunner runs commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ServiceManager restarts system services.
type ServiceManager interface {
	RestartService(ctx context.Context, unit string) error
}

// KeyAuthorizer installs SSH public keys for a user.
type KeyAuthorizer interface {
	AuthorizeKeys(ctx context.Context, user string, keys []string) (bool, error)
}

// Capabilities is the set of operations available to modules, looked up by
// name.
type Capabilities struct {
	info  Info
	items map[Capability]any
}

// NewCapabilities returns an empty capability set for info.
func NewCapabilities(info Info) *Capabilities {
	return &Capabilities{
		info:  info,
		items: make(map[Capability]any),
	}
}

// Provide registers impl for name, replacing any previous provider.
func (c *Capabilities) Provide(name Capability, impl any) *Capabilities {
	c.items[name] = impl
	return c
}

// Info describes the distribution the capabilities act on.
func (c *Capabilities) Info() Info {
	if c == nil {
		return Info{}
	}
	return c.info
}

// Lookup returns the provider registered for name.
func (c *Capabilities) Lookup(name Capability) (any, bool) {
	if c == nil {
		return nil, false
	}
	impl, ok := c.items[name]
	return impl, ok
}

// Has reports whether name is provided.
func (c *Capabilities) Has(name Capability) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Names returns the provided capability names, sorted.
func (c *Capabilities) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.items))
	for name := range c.items {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Require returns MISSING_CAPABILITY naming every capability not provided.
func (c *Capabilities) Require(names ...Capability) error {
	have := sets.New[string](c.Names()...)
	var missing []string
	for _, name := range names {
		if !have.Has(string(name)) {
			missing = append(missing, string(name))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return cnserrors.NewWithContext(cnserrors.ErrCodeMissingCapability, "required distro capability not available",
		map[string]any{"missing": missing, "distro": c.Info().ID})
}

// Get returns the provider of name as T.
func Get[T any](c *Capabilities, name Capability) (T, error) {
	var zero T
	impl, ok := c.Lookup(name)
	if !ok {
		return zero, cnserrors.NewWithContext(cnserrors.ErrCodeMissingCapability, "distro capability not available",
			map[string]any{"capability": string(name), "distro": c.Info().ID})
	}
	typed, ok := impl.(T)
	if !ok {
		return zero, cnserrors.NewWithContext(cnserrors.ErrCodeMissingCapability, "distro capability has unexpected type",
			map[string]any{"capability": string(name)})
	}
	return typed, nil
}

func (c *Capabilities) Hostname() (HostnameSetter, error) {
	return Get[HostnameSetter](c, CapSetHostname)
}

func (c *Capabilities) Packages() (PackageInstaller, error) {
	return Get[PackageInstaller](c, CapInstallPackages)
}

func (c *Capabilities) Network() (NetworkRenderer, error) {
	return Get[NetworkRenderer](c, CapRenderNetwork)
}

func (c *Capabilities) Files() (FileWriter, error) {
	return Get[FileWriter](c, CapWriteFile)
}

func (c *Capabilities) Commands() (CommandRunner, error) {
	return Get[CommandRunner](c, CapRunCommand)
}

func (c *Capabilities) Services() (ServiceManager, error) {
	return Get[ServiceManager](c, CapRestartService)
}

func (c *Capabilities) SSHKeys() (KeyAuthorizer, error) {
	return Get[KeyAuthorizer](c, CapAuthorizeSSHKeys)
}
