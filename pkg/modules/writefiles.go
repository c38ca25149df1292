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

package modules

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/NVIDIA/cns-init/pkg/distro"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// fileEntry is one item of write_files.
type fileEntry struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Encoding    string `yaml:"encoding"`
	Owner       string `yaml:"owner"`
	Permissions any    `yaml:"permissions"`
	Append      bool   `yaml:"append"`
	Defer       bool   `yaml:"defer"`
}

// writeFiles writes write_files entries. Deferred entries are written by the
// final stage instance of the module.
type writeFiles struct {
	name     string
	stage    module.Stage
	deferred bool
}

func (w writeFiles) Spec() module.Spec {
	spec := module.Spec{
		Name:      w.name,
		Stage:     w.stage,
		Frequency: module.FrequencyPerInstance,
		Requires:  []distro.Capability{distro.CapWriteFile},
	}
	if !w.deferred {
		spec.Before = []string{"bootcmd"}
	}
	return spec
}

func (w writeFiles) Apply(ctx context.Context, env *module.Env) module.Result {
	var entries []fileEntry
	if err := env.Config.Decode("write_files", &entries); err != nil {
		return module.Result{Err: cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid write_files", err)}
	}

	writer, err := env.Distro.Files()
	if err != nil {
		return module.Result{Err: err}
	}

	var (
		changed bool
		errs    []error
	)
	for i, e := range entries {
		if e.Defer != w.deferred {
			continue
		}
		f, err := e.file()
		if err != nil {
			errs = append(errs, fmt.Errorf("write_files[%d]: %w", i, err))
			continue
		}
		c, err := writer.WriteFile(ctx, f)
		changed = changed || c
		if err != nil {
			errs = append(errs, fmt.Errorf("write_files[%d]: %w", i, err))
		}
	}
	return module.Result{Changed: changed, Err: errors.Join(errs...)}
}

func (e fileEntry) file() (distro.File, error) {
	if e.Path == "" {
		return distro.File{}, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "path is required")
	}
	content, err := decodeContent(e.Content, e.Encoding)
	if err != nil {
		return distro.File{}, err
	}
	perm, err := parsePermissions(e.Permissions)
	if err != nil {
		return distro.File{}, err
	}
	return distro.File{
		Path:    e.Path,
		Content: content,
		Perm:    perm,
		Owner:   e.Owner,
		Append:  e.Append,
	}, nil
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "text/plain":
		return []byte(content), nil
	case "b64", "base64":
		return base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	case "gz", "gzip":
		return gunzip([]byte(content))
	case "gz+b64", "gz+base64", "gzip+b64", "gzip+base64":
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
		if err != nil {
			return nil, err
		}
		return gunzip(raw)
	default:
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "unknown encoding",
			map[string]any{"encoding": encoding})
	}
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// parsePermissions accepts an octal string such as "0644" or an integer
// that YAML already decoded.
func parsePermissions(v any) (fs.FileMode, error) {
	switch t := v.(type) {
	case nil:
		return 0o644, nil
	case string:
		if t == "" {
			return 0o644, nil
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(t, "0o"), 8, 32)
		if err != nil {
			return 0, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, fmt.Sprintf("invalid permissions %q", t), err)
		}
		return fs.FileMode(n).Perm(), nil
	case int:
		return fs.FileMode(t).Perm(), nil
	default:
		return 0, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "invalid permissions",
			map[string]any{"type": fmt.Sprintf("%T", v)})
	}
}
