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
	"strings"

	"github.com/NVIDIA/cns-init/pkg/distro"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// hostname sets the system hostname from config or instance metadata.
type hostname struct{}

func (hostname) Spec() module.Spec {
	return module.Spec{
		Name:      "hostname",
		Stage:     module.StageNetworkConfig,
		Frequency: module.FrequencyAlways,
		Before:    []string{"sshkeys"},
		Requires:  []distro.Capability{distro.CapSetHostname},
	}
}

func (hostname) Apply(ctx context.Context, env *module.Env) module.Result {
	if env.Config.Bool("preserve_hostname", false) {
		return module.Result{}
	}
	name := desiredHostname(env)
	if name == "" {
		return module.Result{}
	}
	setter, err := env.Distro.Hostname()
	if err != nil {
		return module.Result{Err: err}
	}
	changed, err := setter.SetHostname(ctx, name)
	return module.Result{Changed: changed, Err: err}
}

// desiredHostname prefers explicit config, then the fqdn when asked to,
// then instance metadata.
func desiredHostname(env *module.Env) string {
	fqdn := env.Config.String("fqdn")
	if fqdn != "" && env.Config.Bool("prefer_fqdn_over_hostname", false) {
		return fqdn
	}
	if h := env.Config.String("hostname"); h != "" {
		return h
	}
	if fqdn != "" {
		short, _, _ := strings.Cut(fqdn, ".")
		return short
	}
	if env.Instance != nil {
		return env.Instance.LocalHostname()
	}
	return ""
}
