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
	"context"

	"github.com/NVIDIA/cns-init/pkg/config"
	"github.com/NVIDIA/cns-init/pkg/distro"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// bootcmd runs boothooks and bootcmd entries on every boot.
type bootcmd struct{}

func (bootcmd) Spec() module.Spec {
	return module.Spec{
		Name:      "bootcmd",
		Stage:     module.StageNetworkConfig,
		Frequency: module.FrequencyAlways,
		Before:    []string{"hostname"},
		Requires:  []distro.Capability{distro.CapRunCommand, distro.CapWriteFile},
	}
}

func (bootcmd) Apply(ctx context.Context, env *module.Env) module.Result {
	hooks, err := scriptsAt(env, config.KeyBoothooks)
	if err != nil {
		return module.Result{Err: err}
	}
	changed, err := runScripts(ctx, env, "boothooks", hooks)
	if err != nil {
		return module.Result{Changed: changed, Err: err}
	}

	entries := env.Config.Slice("bootcmd")
	if len(entries) == 0 {
		return module.Result{Changed: changed}
	}
	return module.Result{Changed: true, Err: runEntries(ctx, env, "bootcmd", entries)}
}
