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
	"log/slog"

	"github.com/NVIDIA/cns-init/pkg/distro"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// network renders network configuration before networking comes up.
// Configuration under the "network" key overrides what the datasource
// supplied; "network: {config: disabled}" turns rendering off.
type network struct{}

func (network) Spec() module.Spec {
	return module.Spec{
		Name:      "network",
		Stage:     module.StageLocalInit,
		Frequency: module.FrequencyAlways,
		Requires:  []distro.Capability{distro.CapRenderNetwork},
	}
}

func (network) Apply(ctx context.Context, env *module.Env) module.Result {
	if env.Config.String("network.config") == "disabled" {
		slog.Debug("network configuration disabled")
		return module.Result{}
	}

	cfg := env.Config.Map("network")
	if len(cfg) == 0 && env.Instance != nil {
		cfg = env.Instance.NetworkConfig
	}
	if len(cfg) == 0 {
		return module.Result{}
	}

	renderer, err := env.Distro.Network()
	if err != nil {
		return module.Result{Err: err}
	}
	changed, err := renderer.RenderNetwork(ctx, cfg)
	return module.Result{Changed: changed, Err: err}
}
