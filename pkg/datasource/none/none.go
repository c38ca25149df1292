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

package none

import (
	"context"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/datasource"
)

// InstanceID is reported by the fallback datasource.
const InstanceID = "iid-datasource-none"

// Datasource is always present and provides an empty instance, so local
// configuration still applies when no platform answers. It only takes part
// in resolution when listed explicitly, and only once networking is up so
// every listed platform had its chance. A selection of None is never
// restored on a later boot.
type Datasource struct {
	settings map[string]any
}

// New returns the fallback datasource. Its settings may carry "userdata_raw"
// and a "metadata" map.
func New(cfg datasource.Config) *Datasource {
	return &Datasource{settings: cfg.SettingsFor(datasource.NameNone)}
}

// Spec implements datasource.Datasource.
func (d *Datasource) Spec() datasource.Spec {
	return datasource.Spec{
		Name:     datasource.NameNone,
		Priority: 1000,
		Requires: []datasource.Dependency{datasource.DependsFilesystem, datasource.DependsNetwork},
	}
}

// Probe implements datasource.Datasource.
func (d *Datasource) Probe(ctx context.Context, _ *bootctx.Context) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// Fetch implements datasource.Datasource.
func (d *Datasource) Fetch(ctx context.Context, _ *bootctx.Context) (*datasource.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	md := map[string]any{datasource.MetaInstanceID: InstanceID}
	if extra, ok := d.settings["metadata"].(map[string]any); ok {
		for k, v := range extra {
			md[k] = v
		}
	}
	res := &datasource.Result{
		Datasource: datasource.NameNone,
		InstanceID: InstanceID,
		Metadata:   md,
	}
	if ud, ok := d.settings["userdata_raw"].(string); ok {
		res.UserData = []byte(ud)
	}
	return res, nil
}
