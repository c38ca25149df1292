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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/metadata"
)

// Seed file names.
const (
	FileMetadata      = "meta-data"
	FileUserData      = "user-data"
	FileVendorData    = "vendor-data"
	FileNetworkConfig = "network-config"
)

// Data is the content of a seed location.
type Data struct {
	Metadata      map[string]any
	UserData      []byte
	VendorData    []byte
	NetworkConfig map[string]any

	// Source is the directory or URL the seed was read from.
	Source string
}

// Read loads a seed from location, which is a local directory (absolute path
// or file:// URL) or an http(s) URL.
func Read(ctx context.Context, fsys billy.Filesystem, client *metadata.Client, location string) (*Data, error) {
	switch {
	case strings.HasPrefix(location, "file://"):
		return ReadDir(fsys, strings.TrimPrefix(location, "file://"))
	case strings.HasPrefix(location, "/"):
		return ReadDir(fsys, location)
	case IsRemote(location):
		if client == nil {
			return nil, cnserrors.New(cnserrors.ErrCodeMissingCapability, "no metadata client for remote seed")
		}
		return ReadURL(ctx, client, location)
	default:
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "unsupported seed location",
			map[string]any{"seed": location})
	}
}

// IsRemote reports whether location is fetched over the network.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// ReadDir loads a seed directory. meta-data is required, the other files
// are optional.
func ReadDir(fsys billy.Filesystem, dir string) (*Data, error) {
	raw, err := util.ReadFile(fsys, fsys.Join(dir, FileMetadata))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cnserrors.NewWithContext(cnserrors.ErrCodeNotFound, "seed has no meta-data",
				map[string]any{"seed": dir})
		}
		return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeUnavailable, "failed to read meta-data", err,
			map[string]any{"seed": dir})
	}

	d := &Data{Source: dir}
	if d.Metadata, err = ParseMetadata(raw); err != nil {
		return nil, err
	}

	optional := func(name string) ([]byte, error) {
		b, err := util.ReadFile(fsys, fsys.Join(dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeUnavailable, "failed to read seed file", err,
				map[string]any{"seed": dir, "file": name})
		}
		return b, nil
	}

	if d.UserData, err = optional(FileUserData); err != nil {
		return nil, err
	}
	if d.VendorData, err = optional(FileVendorData); err != nil {
		return nil, err
	}
	nc, err := optional(FileNetworkConfig)
	if err != nil {
		return nil, err
	}
	if d.NetworkConfig, err = ParseNetworkConfig(nc); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadURL loads a seed served over HTTP. The base is used as a prefix, so
// "http://host/seed/" and "http://host/seed" address the same files.
func ReadURL(ctx context.Context, client *metadata.Client, base string) (*Data, error) {
	raw, err := client.Get(ctx, metadata.Join(base, FileMetadata))
	if err != nil {
		return nil, err
	}

	d := &Data{Source: base}
	if d.Metadata, err = ParseMetadata(raw); err != nil {
		return nil, err
	}
	if d.UserData, err = client.GetOptional(ctx, metadata.Join(base, FileUserData)); err != nil {
		return nil, err
	}
	if d.VendorData, err = client.GetOptional(ctx, metadata.Join(base, FileVendorData)); err != nil {
		return nil, err
	}
	nc, err := client.GetOptional(ctx, metadata.Join(base, FileNetworkConfig))
	if err != nil {
		return nil, err
	}
	if d.NetworkConfig, err = ParseNetworkConfig(nc); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseMetadata decodes a meta-data document. JSON documents may carry
// comments and trailing commas; anything else is read as YAML.
func ParseMetadata(b []byte) (map[string]any, error) {
	out, err := decodeDocument(b)
	if err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid meta-data", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ParseNetworkConfig decodes a network configuration document. A top-level
// "network" key is unwrapped. Empty input yields nil.
func ParseNetworkConfig(b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	out, err := decodeDocument(b)
	if err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid network-config", err)
	}
	if inner, ok := out["network"].(map[string]any); ok {
		return inner, nil
	}
	return out, nil
}

func decodeDocument(b []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var out map[string]any
	if trimmed[0] == '{' {
		if err := json.Unmarshal(jsonc.ToJSON(trimmed), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := yaml.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}
