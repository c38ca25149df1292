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

package datasource

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Backoff is an exponential retry schedule bounded by MaxWait.
type Backoff struct {
	Initial time.Duration `json:"initial" yaml:"initial"`
	Factor  float64       `json:"factor" yaml:"factor"`
	Cap     time.Duration `json:"cap" yaml:"cap"`
	Steps   int           `json:"steps" yaml:"steps"`
	MaxWait time.Duration `json:"maxWait" yaml:"maxWait"`
}

// DefaultBackoff returns the default fetch retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: defaults.FetchBackoffInitial,
		Factor:  defaults.FetchBackoffFactor,
		Cap:     defaults.FetchBackoffCap,
		Steps:   defaults.FetchBackoffSteps,
		MaxWait: defaults.FetchMaxWait,
	}
}

// Retry calls fn until it succeeds, the schedule is exhausted or MaxWait
// elapses. Errors coded NOT_FOUND or INVALID_REQUEST are permanent and stop
// retrying immediately. Exhaustion returns FETCH_FAILURE wrapping the last
// error.
func Retry(ctx context.Context, b Backoff, name string, fn func(ctx context.Context) error) error {
	if b.Steps <= 0 {
		b.Steps = 1
	}
	if b.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.MaxWait)
		defer cancel()
	}

	var (
		lastErr  error
		attempts int
	)
	err := wait.ExponentialBackoffWithContext(ctx, wait.Backoff{
		Duration: b.Initial,
		Factor:   b.Factor,
		Jitter:   0.1,
		Steps:    b.Steps,
		Cap:      b.Cap,
	}, func(ctx context.Context) (bool, error) {
		attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			return true, nil
		}
		if permanent(lastErr) {
			return false, lastErr
		}
		slog.Debug("fetch attempt failed", "datasource", name, "attempt", attempts, "error", lastErr)
		return false, nil
	})
	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return cnserrors.WrapWithContext(cnserrors.ErrCodeFetchFailure, "fetch failed", lastErr,
		map[string]any{"datasource": name, "attempts": attempts})
}

func permanent(err error) bool {
	return cnserrors.IsCode(err, cnserrors.ErrCodeNotFound) ||
		cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest)
}
