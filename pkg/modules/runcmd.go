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

	"github.com/NVIDIA/cns-init/pkg/distro"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// runcmd runs the "runcmd" entries once per instance.
type runcmd struct{}

func (runcmd) Spec() module.Spec {
	return module.Spec{
		Name:      "runcmd",
		Stage:     module.StageFinal,
		Frequency: module.FrequencyPerInstance,
		After:     []string{"scripts_vendor"},
		Before:    []string{"scripts_user"},
		Requires:  []distro.Capability{distro.CapRunCommand},
	}
}

func (runcmd) Apply(ctx context.Context, env *module.Env) module.Result {
	entries := env.Config.Slice("runcmd")
	if len(entries) == 0 {
		return module.Result{}
	}
	return module.Result{Changed: true, Err: runEntries(ctx, env, "runcmd", entries)}
}
