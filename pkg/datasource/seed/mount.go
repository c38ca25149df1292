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

package seed

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Mounter mounts a block device read-only for the duration of a callback.
type Mounter interface {
	WithMount(ctx context.Context, device, fstype string, fn func(fsys billy.Filesystem) error) error
}

// SystemMounter mounts devices with mount(2) below a temporary directory.
type SystemMounter struct{}

// WithMount implements Mounter.
func (SystemMounter) WithMount(ctx context.Context, device, fstype string, fn func(fsys billy.Filesystem) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "cnsinit-mount-")
	if err != nil {
		return cnserrors.Wrap(cnserrors.ErrCodeInternal, "failed to create mount point", err)
	}
	defer os.Remove(dir)

	if err := mountReadOnly(device, dir, fstype); err != nil {
		return cnserrors.WrapWithContext(cnserrors.ErrCodeUnavailable, "mount failed", err,
			map[string]any{"device": device, "fstype": fstype})
	}
	defer func() {
		if err := unmount(dir); err != nil {
			slog.Warn("failed to unmount seed device", "device", device, "dir", dir, "error", err)
		}
	}()

	return fn(osfs.New(dir))
}

// DefaultCdromPattern matches device names that may hold an iso9660 filesystem.
const DefaultCdromPattern = `^(sr[0-9]+|hd[a-z]|xvd.*)`

// EnvCdromPattern overrides DefaultCdromPattern.
const EnvCdromPattern = "CNSINIT_CDROM_DEV_REGEX"

// IsCdromDevice reports whether name (a kernel name or a /dev path) may be a
// cdrom. Paths nested below /dev are rejected.
func IsCdromDevice(name string) bool {
	if name == "" {
		return false
	}
	name = filepath.Clean(name)
	switch {
	case len(name) > 5 && name[:5] == "/dev/":
		name = name[5:]
	case name[0] == '/':
		name = filepath.Base(name)
	}
	if name == "" || filepath.Base(name) != name {
		return false
	}

	pattern := DefaultCdromPattern
	if v := os.Getenv(EnvCdromPattern); v != "" {
		pattern = v
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("invalid cdrom device pattern, using default", "pattern", pattern, "error", err)
		re = regexp.MustCompile(DefaultCdromPattern)
	}
	return re.MatchString(name)
}

// MountedAt returns mounts of fstype (any type when empty) accepted by match.
func MountedAt(bc *bootctx.Context, fstype string, match func(device string) bool) []bootctx.Mount {
	var out []bootctx.Mount
	for _, m := range bc.Mounts {
		if fstype != "" && m.FSType != fstype {
			continue
		}
		if match != nil && !match(m.Device) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// BlockDevices lists /dev paths of block devices accepted by match.
func BlockDevices(fsys billy.Filesystem, bc *bootctx.Context, match func(device string) bool) []string {
	entries, err := fsys.ReadDir(bc.Path("/sys/class/block"))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if match != nil && !match(e.Name()) {
			continue
		}
		out = append(out, bc.Path("/dev/"+e.Name()))
	}
	return out
}

// DeviceByLabel returns the device path for a filesystem label, trying the
// label as given and upper-cased.
func DeviceByLabel(fsys billy.Filesystem, bc *bootctx.Context, labels ...string) (string, bool) {
	for _, label := range labels {
		p := bc.Path(filepath.Join("/dev/disk/by-label", label))
		if _, err := fsys.Lstat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
