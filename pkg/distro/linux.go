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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

const (
	hostnameFile   = "/etc/hostname"
	netplanFile    = "/etc/netplan/50-cnsinit.yaml"
	networkFile    = "/etc/cnsinit/network-config.yaml"
	authorizedKeys = "authorized_keys"
)

// Option configures a Linux distro.
type Option func(*Linux)

// WithFilesystem writes files below fs instead of the host root. Commands
// that change the running system are not executed unless WithLive is set.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(l *Linux) {
		l.fs = fs
		l.live = false
	}
}

// WithLive controls whether the running system is changed in addition to
// its configuration files.
func WithLive(live bool) Option {
	return func(l *Linux) {
		l.live = live
	}
}

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(l *Linux) {
		l.runner = r
	}
}

// WithServiceManager replaces the systemd service manager.
func WithServiceManager(m ServiceManager) Option {
	return func(l *Linux) {
		l.services = m
	}
}

// Linux implements the distro capabilities for systemd based distributions.
type Linux struct {
	info     Info
	fs       billy.Filesystem
	runner   CommandRunner
	services ServiceManager
	live     bool
}

// NewLinux returns a Linux distro for info acting on the host.
func NewLinux(info Info, opts ...Option) *Linux {
	l := &Linux{
		info:     info,
		fs:       osfs.New("/"),
		runner:   ExecRunner{},
		services: SystemdManager{},
		live:     true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Detect returns the capabilities of the distribution described by bc.
func Detect(bc *bootctx.Context, opts ...Option) *Capabilities {
	info := InfoFromOSRelease(bc.OSRelease)
	slog.Debug("detected distro", "id", info.ID, "family", info.Family, "version", info.VersionID)
	return NewLinux(info, opts...).Capabilities()
}

// Capabilities returns the operations this distro supports.
func (l *Linux) Capabilities() *Capabilities {
	c := NewCapabilities(l.info).
		Provide(CapSetHostname, l).
		Provide(CapRenderNetwork, l).
		Provide(CapWriteFile, l).
		Provide(CapRunCommand, l.runner).
		Provide(CapRestartService, l.services).
		Provide(CapAuthorizeSSHKeys, l)
	if _, ok := installCommand(l.info.Family, nil); ok {
		c.Provide(CapInstallPackages, l)
	}
	return c
}

// SetHostname writes /etc/hostname and, when live, applies the name to the
// running kernel.
func (l *Linux) SetHostname(ctx context.Context, hostname string) (bool, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return false, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "hostname cannot be empty")
	}
	changed, err := l.WriteFile(ctx, File{Path: hostnameFile, Content: []byte(hostname + "\n"), Perm: 0o644})
	if err != nil {
		return false, err
	}
	if !changed || !l.live {
		return changed, nil
	}
	if _, err := l.runner.Run(ctx, Command{Name: "hostname", Args: []string{hostname}}); err != nil {
		return true, cnserrors.Wrap(cnserrors.ErrCodeInternal, "failed to apply hostname", err)
	}
	return true, nil
}

// InstallPackages installs packages with the family's package manager.
func (l *Linux) InstallPackages(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	cmd, ok := installCommand(l.info.Family, packages)
	if !ok {
		return cnserrors.NewWithContext(cnserrors.ErrCodeMissingCapability, "no package manager for distro",
			map[string]any{"distro": l.info.ID})
	}
	out, err := l.runner.Run(ctx, cmd)
	if err != nil {
		return cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "package installation failed", err,
			map[string]any{"manager": cmd.Name, "stderr": tail(out.Stderr)})
	}
	return nil
}

// RenderNetwork writes version 2 configuration as netplan and anything else
// as-is for the network service to consume.
func (l *Linux) RenderNetwork(ctx context.Context, config map[string]any) (bool, error) {
	if len(config) == 0 {
		return false, nil
	}
	target := networkFile
	if fmt.Sprint(config["version"]) == "2" && l.info.Family == FamilyDebian {
		target = netplanFile
	}
	content, err := yaml.Marshal(map[string]any{"network": config})
	if err != nil {
		return false, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "network config cannot be encoded", err)
	}
	return l.WriteFile(ctx, File{Path: target, Content: content, Perm: 0o600})
}

// WriteFile writes f atomically, or appends to it, and applies mode and
// ownership. Unchanged content is not rewritten.
func (l *Linux) WriteFile(_ context.Context, f File) (bool, error) {
	if !path.IsAbs(f.Path) {
		return false, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "file path must be absolute",
			map[string]any{"path": f.Path})
	}
	perm := f.Perm
	if perm == 0 {
		perm = 0o644
	}

	if !f.Append {
		if existing, err := util.ReadFile(l.fs, f.Path); err == nil && bytes.Equal(existing, f.Content) {
			return false, l.applyOwnership(f.Path, perm, f.Owner)
		}
	}

	if err := l.fs.MkdirAll(path.Dir(f.Path), 0o755); err != nil {
		return false, cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to create directory", err,
			map[string]any{"path": f.Path})
	}

	var err error
	if f.Append {
		err = l.appendFile(f.Path, f.Content, perm)
	} else {
		err = l.replaceFile(f.Path, f.Content, perm)
	}
	if err != nil {
		return false, cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to write file", err,
			map[string]any{"path": f.Path})
	}
	return true, l.applyOwnership(f.Path, perm, f.Owner)
}

func (l *Linux) replaceFile(name string, content []byte, perm os.FileMode) error {
	tmp := name + ".cnsinit.tmp"
	if err := util.WriteFile(l.fs, tmp, content, perm); err != nil {
		_ = l.fs.Remove(tmp)
		return err
	}
	return l.fs.Rename(tmp, name)
}

func (l *Linux) appendFile(name string, content []byte, perm os.FileMode) error {
	f, err := l.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (l *Linux) applyOwnership(name string, perm os.FileMode, owner string) error {
	ch, ok := l.fs.(billy.Change)
	if !ok {
		return nil
	}
	if err := ch.Chmod(name, perm); err != nil {
		return cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to set file mode", err,
			map[string]any{"path": name})
	}
	if owner == "" {
		return nil
	}
	uid, gid, err := lookupOwner(l.fs, owner)
	if err != nil {
		return err
	}
	if err := ch.Lchown(name, uid, gid); err != nil {
		return cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to set file owner", err,
			map[string]any{"path": name, "owner": owner})
	}
	return nil
}

// AuthorizeKeys appends keys missing from the user's authorized_keys.
func (l *Linux) AuthorizeKeys(ctx context.Context, user string, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	entry, err := lookupUser(l.fs, user)
	if err != nil {
		return false, err
	}

	dir := path.Join(entry.Home, ".ssh")
	file := path.Join(dir, authorizedKeys)

	existing, err := util.ReadFile(l.fs, file)
	if err != nil && !os.IsNotExist(err) {
		return false, cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to read authorized keys", err,
			map[string]any{"path": file})
	}
	have := map[string]bool{}
	for _, line := range strings.Split(string(existing), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			have[line] = true
		}
	}

	var add strings.Builder
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		add.WriteString("\n")
	}
	added := 0
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || have[key] {
			continue
		}
		have[key] = true
		add.WriteString(key + "\n")
		added++
	}
	if added == 0 {
		return false, nil
	}

	if err := l.fs.MkdirAll(dir, 0o700); err != nil {
		return false, cnserrors.Wrap(cnserrors.ErrCodeInternal, "failed to create ssh directory", err)
	}
	owner := fmt.Sprintf("%d:%d", entry.UID, entry.GID)
	if err := l.applyOwnership(dir, 0o700, owner); err != nil {
		return false, err
	}
	if _, err := l.WriteFile(ctx, File{
		Path:    file,
		Content: append(existing, []byte(add.String())...),
		Perm:    0o600,
		Owner:   owner,
	}); err != nil {
		return false, err
	}
	slog.Debug("authorized ssh keys", "user", user, "added", added)
	return true, nil
}

func tail(b []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}
