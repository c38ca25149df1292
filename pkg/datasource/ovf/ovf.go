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
	// Name reads the OVF environment from a seed directory, a cdrom or
	// VMware guestinfo.
	Name = "OVF"
	// NameNet additionally follows an http(s) seedfrom property.
	NameNet = "OVFNet"

	// DefaultInstanceID is used when the environment carries none.
	DefaultInstanceID = "iid-dsovf"
)

// Option configures a Datasource.
type Option func(*Datasource)

// WithRunner replaces the command runner used for the guestinfo transport.
func WithRunner(run Runner) Option {
	return func(d *Datasource) {
		d.run = run
	}
}

// Datasource implements the OVF datasources.
type Datasource struct {
	spec       datasource.Spec
	seedSubdir string
	seedStarts []string
	fsys       billy.Filesystem
	mounter    seed.Mounter
	client     *metadata.Client
	backoff    datasource.Backoff
	run        Runner
}

// New returns the OVF datasource.
func New(cfg datasource.Config, opts ...Option) *Datasource {
	d := &Datasource{
		spec: datasource.Spec{
			Name:       Name,
			Priority:   20,
			Restorable: true,
			Requires:   []datasource.Dependency{datasource.DependsFilesystem},
		},
		seedSubdir: "ovf",
		seedStarts: []string{"/", "file://"},
		fsys:       cfg.Filesystem(),
		mounter:    cfg.DeviceMounter(),
		backoff:    cfg.Backoff,
		run:        execRunner,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewNet returns the OVFNet datasource.
func NewNet(cfg datasource.Config, opts ...Option) *Datasource {
	d := New(cfg, opts...)
	d.spec = datasource.Spec{
		Name:       NameNet,
		Priority:   70,
		Restorable: true,
		Requires:   []datasource.Dependency{datasource.DependsFilesystem, datasource.DependsNetwork},
	}
	d.seedSubdir = "ovf-net"
	d.seedStarts = []string{"http://", "https://"}
	d.client = cfg.Client()
	return d
}

// Spec implements datasource.Datasource.
func (d *Datasource) Spec() datasource.Spec { return d.spec }

// Probe reports whether an OVF environment is reachable. Cdrom devices are
// detected but not mounted.
func (d *Datasource) Probe(ctx context.Context, bc *bootctx.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, _, ok := findEnvFile(d.fsys, d.seedDir(bc)); ok {
		return true, nil
	}
	if mountedISO(d.fsys, bc) != nil {
		return true, nil
	}
	if guestInfo(ctx, d.run) != nil {
		return true, nil
	}
	return len(cdromDevices(d.fsys, bc)) > 0, nil
}

// Fetch locates the environment, follows its seedfrom property and applies
// defaults.
func (d *Datasource) Fetch(ctx context.Context, bc *bootctx.Context) (*datasource.Result, error) {
	env, found, err := d.environment(ctx, bc)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, cnserrors.New(cnserrors.ErrCodeNotFound, "no OVF environment found")
	}

	md := env.Metadata
	userData := env.UserData
	var vendorData []byte

	if from, ok := md[propSeedFrom].(string); ok && from != "" {
		if !d.supportsSeed(from) {
			return nil, cnserrors.NewWithContext(cnserrors.ErrCodeNotFound, "seedfrom not supported",
				map[string]any{"datasource": d.spec.Name, "seedfrom": from})
		}
		data, err := d.readSeed(ctx, bc, from)
		if err != nil {
			return nil, err
		}
		slog.Debug("using seeded data", "datasource", d.spec.Name, "seedfrom", from)
		for k, v := range data.Metadata {
			if _, exists := md[k]; !exists {
				md[k] = v
			}
		}
		userData = data.UserData
		vendorData = data.VendorData
		found = append(found, from)
	}

	if _, ok := md[propInstanceID]; !ok {
		md[propInstanceID] = DefaultInstanceID
	}

	return &datasource.Result{
		Datasource:    d.spec.Name,
		InstanceID:    fmt.Sprint(md[propInstanceID]),
		Metadata:      md,
		UserData:      userData,
		VendorData:    vendorData,
		NetworkConfig: env.NetworkConfig,
		Config:        env.Config,
		Seed:          strings.Join(found, ","),
	}, nil
}

// environment tries the seed directory first, then the hypervisor
// transports in order.
func (d *Datasource) environment(ctx context.Context, bc *bootctx.Context) (*Environment, []string, error) {
	if path, contents, ok := findEnvFile(d.fsys, d.seedDir(bc)); ok {
		env, err := ParseEnvironment(contents, false)
		if err != nil {
			return nil, nil, err
		}
		return env, []string{path}, nil
	}

	transports := []struct {
		name string
		read func() []byte
	}{
		{transportGuestInfo, func() []byte { return guestInfo(ctx, d.run) }},
		{transportISO, func() []byte {
			if c := mountedISO(d.fsys, bc); c != nil {
				return c
			}
			return mountISO(ctx, d.mounter, cdromDevices(d.fsys, bc))
		}},
	}
	for _, t := range transports {
		contents := t.read()
		if contents == nil {
			continue
		}
		env, err := ParseEnvironment(contents, true)
		if err != nil {
			return nil, nil, err
		}
		return env, []string{t.name}, nil
	}
	return &Environment{Metadata: map[string]any{}}, nil, nil
}

func (d *Datasource) seedDir(bc *bootctx.Context) string {
	return d.fsys.Join(bc.SeedDir, d.seedSubdir)
}

func (d *Datasource) supportsSeed(from string) bool {
	for _, prefix := range d.seedStarts {
		if strings.HasPrefix(from, prefix) {
			return true
		}
	}
	return false
}

func (d *Datasource) readSeed(ctx context.Context, bc *bootctx.Context, from string) (*seed.Data, error) {
	if !seed.IsRemote(from) {
		return seed.ReadDir(d.fsys, bc.Path(strings.TrimPrefix(from, "file://")))
	}
	var data *seed.Data
	err := datasource.Retry(ctx, d.backoff, d.spec.Name, func(ctx context.Context) error {
		var err error
		data, err = seed.ReadURL(ctx, d.client, from)
		return err
	})
	return data, err
}
