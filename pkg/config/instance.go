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
	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/merge"
	"github.com/NVIDIA/cns-init/pkg/userdata"
)

// Instance layer names.
const (
	LayerDatasource = "datasource"
	LayerScripts    = "scripts"
	LayerCmdline    = "cmdline"
)

// Reserved keys through which decoded scripts reach modules.
const (
	KeyUserScripts   = "user_scripts"
	KeyVendorScripts = "vendor_scripts"
	KeyBoothooks     = "boothooks"
)

// Instance is the configuration of the resolved instance.
type Instance struct {
	Config     *merge.Config
	UserData   *userdata.Data
	VendorData *userdata.Data
}

// BuildInstance layers instance data on top of the merged system
// configuration, lowest first: datasource config, vendor-data, user-data,
// decoded scripts and the kernel command line. Vendor-data is dropped when
// vendor_data.enabled is false in system or user configuration.
func BuildInstance(b *merge.Builder, system *merge.Config, res *datasource.Result, cmdline map[string]any) (*Instance, error) {
	if system == nil {
		system = merge.Empty()
	}
	inst := &Instance{UserData: &userdata.Data{}, VendorData: &userdata.Data{}}

	var dsLayer []merge.Layer
	if res != nil {
		var err error
		if inst.UserData, err = userdata.Parse("user-data", res.UserData); err != nil {
			return nil, err
		}
		if inst.VendorData, err = userdata.Parse("vendor-data", res.VendorData); err != nil {
			return nil, err
		}
		if len(res.Config) > 0 {
			dsLayer = append(dsLayer, merge.Layer{Name: LayerDatasource, Data: res.Config})
		}
	}

	var cmdLayer []merge.Layer
	if len(cmdline) > 0 {
		cmdLayer = append(cmdLayer, merge.Layer{Name: LayerCmdline, Data: cmdline})
	}

	// Decide on vendor-data with everything except vendor-data merged.
	probe, err := b.MergeInto(system, concat(dsLayer, inst.UserData.Configs, cmdLayer)...)
	if err != nil {
		return nil, err
	}
	vendor := inst.VendorData
	if !userdata.VendorEnabled(probe) {
		vendor = &userdata.Data{}
	}

	scripts := map[string]any{
		KeyUserScripts:   partsToTree(inst.UserData.Scripts),
		KeyVendorScripts: partsToTree(vendor.Scripts),
		KeyBoothooks:     partsToTree(append(append([]userdata.Part{}, vendor.Boothooks...), inst.UserData.Boothooks...)),
	}

	inst.Config, err = b.MergeInto(system, concat(
		dsLayer,
		vendor.Configs,
		inst.UserData.Configs,
		[]merge.Layer{{Name: LayerScripts, Data: scripts}},
		cmdLayer,
	)...)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func partsToTree(parts []userdata.Part) []any {
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, map[string]any{
			"name":    p.Name,
			"content": string(p.Content),
		})
	}
	return out
}

func concat(groups ...[]merge.Layer) []merge.Layer {
	var out []merge.Layer
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
