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

package module

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Invoke runs m under timeout with capability checks and panic recovery.
// Every failure is returned as a MODULE_FAILURE wrapping the cause; Invoke
// never panics.
//
// A module that ignores cancellation is abandoned when the timeout expires:
// Invoke returns a TIMEOUT failure while the module goroutine keeps running
// and may still change the system after the caller recorded the failure.
// Both the abandonment and the late return are logged at warn level.
func Invoke(ctx context.Context, m Module, env *Env, timeout time.Duration) Result {
	spec := m.Spec()
	if env == nil {
		env = &Env{}
	}
	if timeout <= 0 {
		timeout = defaults.ModuleTimeout
	}
	start := time.Now()

	res := invoke(ctx, m, spec, env, timeout)

	elapsed := time.Since(start)
	moduleDuration.WithLabelValues(spec.Name).Observe(elapsed.Seconds())
	status := "ok"
	if res.Err != nil {
		status = "failed"
		res.Err = cnserrors.WrapWithContext(cnserrors.ErrCodeModuleFailure, "module failed", res.Err,
			map[string]any{"module": spec.Name, "stage": string(env.Stage)})
	}
	moduleRunsTotal.WithLabelValues(spec.Name, status).Inc()
	slog.Debug("module finished",
		"stage", env.Stage,
		"module", spec.Name,
		"changed", res.Changed,
		"duration", elapsed,
		"error", res.Err)
	return res
}

func invoke(ctx context.Context, m Module, spec Spec, env *Env, timeout time.Duration) Result {
	if err := env.Distro.Require(spec.Requires...); err != nil {
		return Result{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var abandoned atomic.Bool
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("module panicked", "module", spec.Name, "panic", r, "stack", string(debug.Stack()))
				done <- Result{Err: cnserrors.New(cnserrors.ErrCodeInternal, fmt.Sprintf("panic: %v", r))}
			}
		}()
		res := m.Apply(ctx, env)
		if abandoned.Load() {
			slog.Warn("abandoned module returned after its timeout",
				"stage", env.Stage,
				"module", spec.Name,
				"elapsed", time.Since(start),
				"changed", res.Changed,
				"error", res.Err)
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		abandoned.Store(true)
		slog.Warn("module abandoned after timeout, it may still be changing the system",
			"stage", env.Stage,
			"module", spec.Name,
			"timeout", timeout)
		return Result{Err: cnserrors.WrapWithContext(cnserrors.ErrCodeTimeout, "module did not finish in time", ctx.Err(),
			map[string]any{"timeout": timeout.String()})}
	}
}
