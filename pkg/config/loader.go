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

package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/merge"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Layer names of system configuration.
const (
	LayerDefaults = "defaults"
	LayerSystem   = "system"
)

var fragmentExts = []string{".cfg", ".yaml", ".yml", ".json"}

// Option configures a Loader.
type Option func(*Loader)

// WithFilesystem reads configuration from fsys instead of the host.
func WithFilesystem(fsys billy.Filesystem) Option {
	return func(l *Loader) {
		l.fsys = fsys
	}
}

// WithFile overrides the main system configuration file.
func WithFile(file string) Option {
	return func(l *Loader) {
		l.file = file
	}
}

// WithDir overrides the drop-in fragment directory.
func WithDir(dir string) Option {
	return func(l *Loader) {
		l.dir = dir
	}
}

// Loader reads the system configuration layers.
type Loader struct {
	fsys billy.Filesystem
	file string
	dir  string
}

// NewLoader returns a Loader for the default locations.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		file: defaults.SystemConfigFile,
		dir:  defaults.SystemConfigDir,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fsys == nil {
		l.fsys = osfs.New("/")
	}
	return l
}

// Layers returns the embedded defaults, the system file and the drop-in
// fragments in lexical order. Missing files are skipped; unreadable or
// malformed ones are configuration errors.
func (l *Loader) Layers() ([]merge.Layer, error) {
	base, err := Decode("defaults.yaml", defaultsYAML)
	if err != nil {
		return nil, err
	}
	layers := []merge.Layer{{Name: LayerDefaults, Data: base}}

	data, ok, err := l.read(l.file)
	if err != nil {
		return nil, err
	}
	if ok {
		layers = append(layers, merge.Layer{Name: LayerSystem, Data: data})
	}

	fragments, err := l.fragments()
	if err != nil {
		return nil, err
	}
	for _, name := range fragments {
		data, ok, err := l.read(l.fsys.Join(l.dir, name))
		if err != nil {
			return nil, err
		}
		if ok {
			layers = append(layers, merge.Layer{Name: LayerSystem + ":" + name, Data: data})
		}
	}
	return layers, nil
}

// Load merges the system layers with b.
func (l *Loader) Load(b *merge.Builder) (*merge.Config, error) {
	layers, err := l.Layers()
	if err != nil {
		return nil, err
	}
	return b.Merge(layers...)
}

func (l *Loader) fragments() ([]string, error) {
	entries, err := l.fsys.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest, "failed to list configuration fragments", err,
			map[string]any{"dir": l.dir})
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !hasFragmentExt(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (l *Loader) read(file string) (map[string]any, bool, error) {
	raw, err := util.ReadFile(l.fsys, file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("configuration file not present", "path", file)
			return nil, false, nil
		}
		return nil, false, cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest, "failed to read configuration", err,
			map[string]any{"path": file})
	}
	data, err := Decode(file, raw)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Decode parses a configuration document. Files ending in .json and
// documents starting with '{' are JSON with comments allowed; everything
// else is YAML. An empty document yields an empty map.
func Decode(name string, raw []byte) (map[string]any, error) {
	out := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return out, nil
	}

	var err error
	if strings.HasSuffix(name, ".json") || trimmed[0] == '{' {
		err = json.Unmarshal(jsonc.ToJSON(trimmed), &out)
	} else {
		err = yaml.Unmarshal(trimmed, &out)
	}
	if err != nil {
		return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest, "invalid configuration document", err,
			map[string]any{"path": name})
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func hasFragmentExt(name string) bool {
	return slices.Contains(fragmentExts, path.Ext(name))
}
