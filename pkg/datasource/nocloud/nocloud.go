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

package nocloud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/datasource/seed"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/metadata"
)

const (
	// Name is the local NoCloud datasource.
	Name = "NoCloud"
	// NameNet reads a NoCloud seed over HTTP once networking is up.
	NameNet = "NoCloudNet"

	defaultLabel = "cidata"
)

// Settings keys under datasource.NoCloud.
const (
	settingSeedFrom = "seedfrom"
	settingFSLabel  = "fs_label"
	settingMetadata = "meta-data"
	settingUserData = "user-data"
)

var seedDirs = []string{"nocloud", "nocloud-net"}

// location is one place a seed may live.
type location struct {
	path   string
	device bool
}

// Datasource reads instance data from a NoCloud seed.
type Datasource struct {
	spec     datasource.Spec
	network  bool
	fsys     billy.Filesystem
	mounter  seed.Mounter
	client   *metadata.Client
	backoff  datasource.Backoff
	settings map[string]any
}

// New returns the local NoCloud datasource.
func New(cfg datasource.Config) *Datasource {
	return &Datasource{
		spec: datasource.Spec{
			Name:       Name,
			Priority:   10,
			Restorable: true,
			Requires:   []datasource.Dependency{datasource.DependsFilesystem},
		},
		fsys:     cfg.Filesystem(),
		mounter:  cfg.DeviceMounter(),
		backoff:  cfg.Backoff,
		settings: cfg.SettingsFor(Name),
	}
}

// NewNet returns the network NoCloud datasource.
func NewNet(cfg datasource.Config) *Datasource {
	return &Datasource{
		spec: datasource.Spec{
			Name:       NameNet,
			Priority:   60,
			Restorable: true,
			Requires:   []datasource.Dependency{datasource.DependsFilesystem, datasource.DependsNetwork},
		},
		network:  true,
		fsys:     cfg.Filesystem(),
		mounter:  cfg.DeviceMounter(),
		client:   cfg.Client(),
		backoff:  cfg.Backoff,
		settings: cfg.SettingsFor(NameNet),
	}
}

// Spec implements datasource.Datasource.
func (d *Datasource) Spec() datasource.Spec { return d.spec }

// Probe reports whether a seed location exists. Devices are not mounted
// during the probe.
func (d *Datasource) Probe(ctx context.Context, bc *bootctx.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, loc := range d.locations(bc) {
		if loc.device || seed.IsRemote(loc.path) {
			return true, nil
		}
		if _, err := d.fsys.Stat(d.fsys.Join(loc.path, seed.FileMetadata)); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// Fetch reads the first usable seed location.
func (d *Datasource) Fetch(ctx context.Context, bc *bootctx.Context) (*datasource.Result, error) {
	var lastErr error
	for _, loc := range d.locations(bc) {
		data, err := d.read(ctx, loc)
		if err != nil {
			slog.Debug("nocloud seed unusable", "datasource", d.spec.Name, "seed", loc.path, "error", err)
			lastErr = err
			continue
		}
		return d.result(bc, data), nil
	}
	if lastErr == nil {
		lastErr = cnserrors.New(cnserrors.ErrCodeNotFound, "no nocloud seed found")
	}
	return nil, lastErr
}

func (d *Datasource) read(ctx context.Context, loc location) (*seed.Data, error) {
	switch {
	case loc.device:
		var data *seed.Data
		var lastErr error
		for _, fstype := range []string{"iso9660", "vfat"} {
			lastErr = d.mounter.WithMount(ctx, loc.path, fstype, func(fsys billy.Filesystem) error {
				var err error
				data, err = seed.ReadDir(fsys, "")
				return err
			})
			if lastErr == nil {
				data.Source = loc.path
				return data, nil
			}
		}
		return nil, lastErr
	case seed.IsRemote(loc.path):
		var data *seed.Data
		err := datasource.Retry(ctx, d.backoff, d.spec.Name, func(ctx context.Context) error {
			var err error
			data, err = seed.ReadURL(ctx, d.client, loc.path)
			return err
		})
		return data, err
	default:
		return seed.Read(ctx, d.fsys, d.client, loc.path)
	}
}

// locations lists candidate seeds in lookup order: the seedfrom hint, the
// seedfrom setting, local seed directories and finally a labelled volume.
func (d *Datasource) locations(bc *bootctx.Context) []location {
	var out []location
	for _, from := range []string{d.hintOption(bc, bootctx.OptSeedFrom), settingString(d.settings, settingSeedFrom)} {
		if from == "" || !d.accepts(from) {
			continue
		}
		if !seed.IsRemote(from) {
			from = bc.Path(strings.TrimPrefix(from, "file://"))
		}
		out = append(out, location{path: from})
	}
	if d.network {
		return out
	}

	for _, dir := range seedDirs {
		out = append(out, location{path: d.fsys.Join(bc.SeedDir, dir)})
	}

	label := settingString(d.settings, settingFSLabel)
	if label == "" {
		label = defaultLabel
	}
	if dev, ok := seed.DeviceByLabel(d.fsys, bc, label, strings.ToUpper(label)); ok {
		out = append(out, location{path: dev, device: true})
	}
	return out
}

func (d *Datasource) accepts(from string) bool {
	if d.network {
		return seed.IsRemote(from)
	}
	return strings.HasPrefix(from, "/") || strings.HasPrefix(from, "file://")
}

// hintOption returns a ds= command line option addressed to this datasource.
func (d *Datasource) hintOption(bc *bootctx.Context, key string) string {
	if !bc.Hints.Requested(Name) && !bc.Hints.Requested(NameNet) && !bc.Hints.Requested("nocloud-net") {
		return ""
	}
	return bc.Hints.Options[key]
}

// result layers metadata: seed, then configured meta-data, then command
// line options.
func (d *Datasource) result(bc *bootctx.Context, data *seed.Data) *datasource.Result {
	md := make(map[string]any, len(data.Metadata))
	for k, v := range data.Metadata {
		md[k] = v
	}
	if extra, ok := d.settings[settingMetadata].(map[string]any); ok {
		for k, v := range extra {
			md[k] = v
		}
	}
	for _, key := range []string{bootctx.OptInstanceID, bootctx.OptLocalHostname} {
		if v := d.hintOption(bc, key); v != "" {
			md[key] = v
		}
	}

	userData := data.UserData
	if len(userData) == 0 {
		if ud := settingString(d.settings, settingUserData); ud != "" {
			userData = []byte(ud)
		}
	}

	res := &datasource.Result{
		Datasource:    d.spec.Name,
		Metadata:      md,
		UserData:      userData,
		VendorData:    data.VendorData,
		NetworkConfig: data.NetworkConfig,
		Seed:          data.Source,
	}
	if id, ok := md[datasource.MetaInstanceID]; ok && id != nil {
		res.InstanceID = fmt.Sprint(id)
	}
	return res
}

func settingString(settings map[string]any, key string) string {
	if v, ok := settings[key]; ok && v != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}
