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

package ovf

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/datasource/seed"
)

const (
	transportGuestInfo = "com.vmware.guestInfo"
	transportISO       = "iso"

	rpcTool = "vmware-rpctool"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner runs commands found on PATH. A missing binary returns
// exec.ErrNotFound.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, path, args...).Output()
}

// findEnvFile returns the first environment file present in dir.
func findEnvFile(fsys billy.Filesystem, dir string) (string, []byte, bool) {
	for _, name := range envFileNames {
		p := fsys.Join(dir, name)
		contents, err := util.ReadFile(fsys, p)
		if err == nil {
			return p, contents, true
		}
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed loading OVF environment file", "path", p, "error", err)
		}
	}
	return "", nil, false
}

// guestInfo reads the environment VMware tools publish as guestinfo.ovfEnv.
func guestInfo(ctx context.Context, run Runner) []byte {
	out, err := run(ctx, rpcTool, "info-get guestinfo.ovfEnv")
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(err, exec.ErrNotFound):
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		default:
			slog.Warn("vmware-rpctool failed", "error", err)
		}
		return nil
	}
	if strings.TrimSpace(string(out)) == "" {
		slog.Debug("vmware-rpctool returned empty output")
		return nil
	}
	return out
}

// mountedISO looks for an environment on cdroms that are already mounted.
func mountedISO(fsys billy.Filesystem, bc *bootctx.Context) []byte {
	for _, m := range seed.MountedAt(bc, "iso9660", seed.IsCdromDevice) {
		if _, contents, ok := findEnvFile(fsys, bc.Path(m.MountPoint)); ok {
			return contents
		}
	}
	return nil
}

// cdromDevices lists unmounted cdrom candidates.
func cdromDevices(fsys billy.Filesystem, bc *bootctx.Context) []string {
	mounted := map[string]bool{}
	for _, m := range bc.Mounts {
		mounted[m.Device] = true
	}
	var out []string
	for _, dev := range seed.BlockDevices(fsys, bc, seed.IsCdromDevice) {
		if !mounted[dev] {
			out = append(out, dev)
		}
	}
	return out
}

// mountISO mounts each cdrom candidate as iso9660 and reads its environment.
func mountISO(ctx context.Context, mounter seed.Mounter, devices []string) []byte {
	for _, dev := range devices {
		var contents []byte
		err := mounter.WithMount(ctx, dev, "iso9660", func(fsys billy.Filesystem) error {
			if _, c, ok := findEnvFile(fsys, ""); ok {
				contents = c
			}
			return nil
		})
		if err != nil {
			slog.Debug("device not mountable as iso9660", "device", dev, "error", err)
			continue
		}
		if contents != nil {
			return contents
		}
	}
	return nil
}

