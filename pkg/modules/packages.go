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
	"fmt"

	"github.com/NVIDIA/cns-init/pkg/distro"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// packages installs the "packages" list. An entry is a package name or a
// [name, version] pair.
type packages struct{}

func (packages) Spec() module.Spec {
	return module.Spec{
		Name:      "packages",
		Stage:     module.StagePostNetworkConfig,
		Frequency: module.FrequencyPerInstance,
		Requires:  []distro.Capability{distro.CapInstallPackages},
	}
}

func (packages) Apply(ctx context.Context, env *module.Env) module.Result {
	entries := env.Config.Slice("packages")
	if len(entries) == 0 {
		return module.Result{}
	}

	installer, err := env.Distro.Packages()
	if err != nil {
		return module.Result{Err: err}
	}
	family := env.Distro.Info().Family

	names := make([]string, 0, len(entries))
	for i, e := range entries {
		name, err := packageSpec(family, e)
		if err != nil {
			return module.Result{Err: cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest,
				"invalid package entry", err, map[string]any{"index": i})}
		}
		names = append(names, name)
	}

	if err := installer.InstallPackages(ctx, names); err != nil {
		return module.Result{Err: err}
	}
	return module.Result{Changed: true}
}

// packageSpec renders name and optional version in the package manager's
// pinning syntax.
func packageSpec(family distro.Family, entry any) (string, error) {
	switch t := entry.(type) {
	case string:
		return t, nil
	case []any:
		if len(t) == 0 || len(t) > 2 {
			return "", fmt.Errorf("expected [name, version], got %d items", len(t))
		}
		name := fmt.Sprint(t[0])
		if len(t) == 1 {
			return name, nil
		}
		version := fmt.Sprint(t[1])
		switch family {
		case distro.FamilyDebian, distro.FamilyAlpine:
			return name + "=" + version, nil
		default:
			return name + "-" + version, nil
		}
	default:
		return "", fmt.Errorf("unsupported entry type %T", entry)
	}
}
