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
	"errors"

	"github.com/NVIDIA/cns-init/pkg/distro"
	"github.com/NVIDIA/cns-init/pkg/module"
)

const defaultSSHUser = "root"

// sshkeys authorizes instance public keys and configured keys for the
// default user, plus per-user keys from "users".
type sshkeys struct{}

func (sshkeys) Spec() module.Spec {
	return module.Spec{
		Name:      "sshkeys",
		Stage:     module.StageNetworkConfig,
		Frequency: module.FrequencyPerInstance,
		Requires:  []distro.Capability{distro.CapAuthorizeSSHKeys},
	}
}

type sshUser struct {
	Name              string   `yaml:"name"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
}

func (sshkeys) Apply(ctx context.Context, env *module.Env) module.Result {
	authorizer, err := env.Distro.SSHKeys()
	if err != nil {
		return module.Result{Err: err}
	}

	user := env.Config.String("ssh_user")
	if user == "" {
		user = defaultSSHUser
	}
	var keys []string
	if env.Instance != nil {
		keys = append(keys, env.Instance.PublicKeys()...)
	}
	keys = append(keys, env.Config.Strings("ssh_authorized_keys")...)

	var users []sshUser
	if err := env.Config.Decode("users", &users); err != nil {
		return module.Result{Err: err}
	}

	var (
		changed bool
		errs    []error
	)
	authorize := func(name string, keys []string) {
		if len(keys) == 0 {
			return
		}
		c, err := authorizer.AuthorizeKeys(ctx, name, keys)
		changed = changed || c
		errs = append(errs, err)
	}

	authorize(user, keys)
	for _, u := range users {
		if u.Name != "" {
			authorize(u.Name, u.SSHAuthorizedKeys)
		}
	}
	return module.Result{Changed: changed, Err: errors.Join(errs...)}
}
