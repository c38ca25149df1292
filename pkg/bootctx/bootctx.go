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

package bootctx

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/NVIDIA/cns-init/pkg/defaults"
)

// Context describes what the current boot looks like to datasources.
// It is collected once per boot event and never mutated afterwards.
type Context struct {
	// Root is the filesystem root all system paths were read from.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// SeedDir is the directory holding local datasource seeds.
	SeedDir string `json:"seedDir" yaml:"seedDir"`

	// BootID changes on every boot of the machine.
	BootID string `json:"bootID,omitempty" yaml:"bootID,omitempty"`

	// Cmdline is the raw kernel command line.
	Cmdline string `json:"cmdline" yaml:"cmdline"`

	// Args holds kernel command line parameters; flags without '=' map to "".
	Args map[string]string `json:"args,omitempty" yaml:"args,omitempty"`

	// CmdlineConfig is the YAML found between "cc:" and "end_cc" on the command line.
	CmdlineConfig map[string]any `json:"cmdlineConfig,omitempty" yaml:"cmdlineConfig,omitempty"`

	DMI       DMI               `json:"dmi" yaml:"dmi"`
	OSRelease map[string]string `json:"osRelease,omitempty" yaml:"osRelease,omitempty"`
	Mounts    []Mount           `json:"mounts,omitempty" yaml:"mounts,omitempty"`
	Hints     Hints             `json:"hints" yaml:"hints"`
}

// Mount is a single entry of the mount table.
type Mount struct {
	Device     string `json:"device" yaml:"device"`
	MountPoint string `json:"mountPoint" yaml:"mountPoint"`
	FSType     string `json:"fsType" yaml:"fsType"`
}

// Option configures Collect.
type Option func(*collector)

type collector struct {
	root    string
	seedDir string
}

// WithRoot reads all system files relative to root instead of "/".
func WithRoot(root string) Option {
	return func(c *collector) {
		c.root = root
	}
}

// WithSeedDir overrides the local seed directory.
func WithSeedDir(dir string) Option {
	return func(c *collector) {
		c.seedDir = dir
	}
}

func (c *collector) path(p string) string {
	if c.root == "" {
		return p
	}
	return filepath.Join(c.root, p)
}

// Collect gathers the boot context. Individual sources that cannot be read
// are logged and left empty: early boot environments routinely lack some of
// them. Only context cancellation is reported as an error.
func Collect(ctx context.Context, opts ...Option) (*Context, error) {
	c := &collector{seedDir: defaults.SeedDir}
	for _, opt := range opts {
		opt(c)
	}

	bc := &Context{
		Root:    c.root,
		SeedDir: c.path(c.seedDir),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if b, err := os.ReadFile(c.path(defaults.KernelCmdlineFile)); err != nil {
		slog.Debug("kernel command line unavailable", "error", err)
	} else {
		bc.Cmdline = strings.TrimSpace(string(b))
	}
	if b, err := os.ReadFile(c.path(defaults.BootIDFile)); err == nil {
		bc.BootID = strings.TrimSpace(string(b))
	}
	bc.Args = parseArgs(bc.Cmdline)
	bc.CmdlineConfig = parseCmdlineConfig(bc.Cmdline)

	bc.DMI = readDMI(c.path(defaults.DMIDir))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bc.OSRelease = readOSRelease(c.path(defaults.OSReleaseFile), c.path("/usr/lib/os-release"))
	bc.Mounts = readMounts(c.path(defaults.MountsFile))
	bc.Hints = parseHints(bc.Args, bc.DMI)

	slog.Debug("boot context collected",
		"datasource_hint", bc.Hints.Datasource,
		"platform", bc.Hints.Platform,
		"mounts", len(bc.Mounts),
	)

	return bc, nil
}

// Fingerprint identifies the boot environment. A changed fingerprint means
// the machine identity or the operator supplied datasource hint changed, so
// a cached datasource selection can no longer be trusted without probing.
func (c *Context) Fingerprint() string {
	h := blake3.New()
	for _, part := range []string{
		c.DMI.ProductUUID,
		c.DMI.ProductSerial,
		c.Hints.Datasource,
		c.Hints.Options[OptSeedFrom],
	} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Path resolves an absolute system path against the context root.
func (c *Context) Path(p string) string {
	if c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, p)
}

func readOSRelease(paths ...string) map[string]string {
	parser := NewParser(
		WithKVDelimiter("="),
		WithVTrimChars(`"'`),
		WithSkipEmptyValues(true),
	)
	for _, p := range paths {
		m, err := parser.ReadMap(p)
		if err == nil {
			return m
		}
		slog.Debug("os-release unavailable", "path", p, "error", err)
	}
	return map[string]string{}
}

func readMounts(path string) []Mount {
	lines, err := NewParser(WithSkipComments(false), WithMaxSize(1<<20)).ReadEntries(path)
	if err != nil {
		slog.Debug("mount table unavailable", "path", path, "error", err)
		return nil
	}

	mounts := make([]Mount, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, Mount{
			Device:     unescapeMount(fields[0]),
			MountPoint: unescapeMount(fields[1]),
			FSType:     fields[2],
		})
	}
	return mounts
}

// unescapeMount decodes the octal escapes used in /proc/mounts (\040 for space).
func unescapeMount(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
