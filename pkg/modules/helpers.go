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
	"path"
	"strings"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	"github.com/NVIDIA/cns-init/pkg/distro"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// script is a user-data or vendor-data part carried in the merged config.
type script struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

func scriptsAt(env *module.Env, key string) ([]script, error) {
	var out []script
	if err := env.Config.Decode(key, &out); err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, fmt.Sprintf("invalid %s", key), err)
	}
	return out, nil
}

// command converts a runcmd/bootcmd entry. A string runs through the shell,
// a list is executed as argv.
func command(entry any) (distro.Command, error) {
	switch t := entry.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return distro.Command{}, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "empty command")
		}
		return distro.Command{Name: "/bin/sh", Args: []string{"-c", t}}, nil
	case []any:
		if len(t) == 0 {
			return distro.Command{}, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "empty command")
		}
		argv := make([]string, 0, len(t))
		for _, a := range t {
			argv = append(argv, fmt.Sprint(a))
		}
		return distro.Command{Name: argv[0], Args: argv[1:]}, nil
	default:
		return distro.Command{}, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "unsupported command entry",
			map[string]any{"type": fmt.Sprintf("%T", entry)})
	}
}

// instanceEnv is the environment every command and script receives.
func instanceEnv(env *module.Env) []string {
	return []string{
		"INSTANCE_ID=" + env.InstanceID(),
		"CNSINIT_STAGE=" + string(env.Stage),
	}
}

// runEntries runs every entry in order and stops at the first failure.
func runEntries(ctx context.Context, env *module.Env, key string, entries []any) error {
	runner, err := env.Distro.Commands()
	if err != nil {
		return err
	}
	for i, entry := range entries {
		cmd, err := command(entry)
		if err != nil {
			return cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest, "invalid command", err,
				map[string]any{"key": key, "index": i})
		}
		cmd.Env = append(cmd.Env, instanceEnv(env)...)
		if _, err := runner.Run(ctx, cmd); err != nil {
			return cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "command failed", err,
				map[string]any{"key": key, "index": i})
		}
	}
	return nil
}

// runScripts writes each script below the instance directory and executes it.
func runScripts(ctx context.Context, env *module.Env, kind string, scripts []script) (bool, error) {
	if len(scripts) == 0 {
		return false, nil
	}
	files, err := env.Distro.Files()
	if err != nil {
		return false, err
	}
	runner, err := env.Distro.Commands()
	if err != nil {
		return false, err
	}

	dir := path.Join(defaults.StateDir, "instances", safeName(env.InstanceID()), kind)
	var failed []string
	for i, s := range scripts {
		name := safeName(s.Name)
		if name == "" {
			name = fmt.Sprintf("part-%03d", i+1)
		}
		p := path.Join(dir, name)
		if _, err := files.WriteFile(ctx, distro.File{Path: p, Content: []byte(s.Content), Perm: 0o700}); err != nil {
			return true, err
		}
		if _, err := runner.Run(ctx, distro.Command{Name: p, Env: instanceEnv(env)}); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return true, cnserrors.NewWithContext(cnserrors.ErrCodeInternal, fmt.Sprintf("%d %s failed", len(failed), kind),
			map[string]any{"scripts": failed})
	}
	return true, nil
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	return strings.Trim(s, ".")
}
