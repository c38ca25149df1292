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

// scripts executes shell scripts found in user-data or vendor-data.
type scripts struct {
	name   string
	key    string
	kind   string
	after  []string
	before []string
}

var (
	vendorScripts = scripts{
		name:   "scripts_vendor",
		key:    config.KeyVendorScripts,
		kind:   "vendor-scripts",
		before: []string{"scripts_user"},
	}
	userScripts = scripts{
		name: "scripts_user",
		key:  config.KeyUserScripts,
		kind: "user-scripts",
	}
)

func (s scripts) Spec() module.Spec {
	return module.Spec{
		Name:      s.name,
		Stage:     module.StageFinal,
		Frequency: module.FrequencyPerInstance,
		After:     s.after,
		Before:    s.before,
		Requires:  []distro.Capability{distro.CapWriteFile, distro.CapRunCommand},
	}
}

func (s scripts) Apply(ctx context.Context, env *module.Env) module.Result {
	parts, err := scriptsAt(env, s.key)
	if err != nil {
		return module.Result{Err: err}
	}
	changed, err := runScripts(ctx, env, s.kind, parts)
	return module.Result{Changed: changed, Err: err}
}
