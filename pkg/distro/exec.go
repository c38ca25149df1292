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

package distro

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// ExecRunner runs commands on the host.
type ExecRunner struct{}

// Run executes cmd, bounded by the command timeout. A non-zero exit status
// is returned as an error alongside the captured output.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.CommandTimeout)
	defer cancel()

	bin, err := exec.LookPath(cmd.Name)
	if err != nil {
		return Output{ExitCode: -1}, cnserrors.WrapWithContext(cnserrors.ErrCodeNotFound, "command not found", err,
			map[string]any{"command": cmd.Name})
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, bin, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	err = c.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		out.ExitCode = -1
	}
	if ctx.Err() != nil {
		return out, cnserrors.WrapWithContext(cnserrors.ErrCodeTimeout, "command timed out", err,
			map[string]any{"command": cmd.Name})
	}
	return out, cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "command failed", err,
		map[string]any{"command": cmd.Name, "exitCode": out.ExitCode})
}
