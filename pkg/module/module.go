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
	"slices"
	"strings"

	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/distro"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/merge"
)

// Stage is one of the fixed boot execution windows.
type Stage string

const (
	StageLocalInit         Stage = "local-init"
	StageNetworkConfig     Stage = "network-config"
	StagePostNetworkConfig Stage = "post-network-config"
	StageFinal             Stage = "final"
)

var stageOrder = []Stage{StageLocalInit, StageNetworkConfig, StagePostNetworkConfig, StageFinal}

// Stages returns every stage in execution order.
func Stages() []Stage {
	return slices.Clone(stageOrder)
}

// Index returns the position of s in execution order, or -1.
func (s Stage) Index() int {
	return slices.Index(stageOrder, s)
}

// Next returns the stage after s, or "" for the last one.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i+1 >= len(stageOrder) {
		return ""
	}
	return stageOrder[i+1]
}

// ParseStage returns the stage named s.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if st.Index() < 0 {
		return "", cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, fmt.Sprintf("unknown stage %q", s),
			map[string]any{"valid": stageOrder})
	}
	return st, nil
}

// Frequency controls how often a module re-runs.
type Frequency string

const (
	// FrequencyOnce runs a module at most once for the lifetime of the cache.
	FrequencyOnce Frequency = "once"
	// FrequencyPerInstance runs a module once for every new instance-id.
	FrequencyPerInstance Frequency = "once-per-instance"
	// FrequencyAlways runs a module on every boot.
	FrequencyAlways Frequency = "always"
)

var frequencyAliases = map[string]Frequency{
	"once":              FrequencyOnce,
	"per-once":          FrequencyOnce,
	"once-per-instance": FrequencyPerInstance,
	"per-instance":      FrequencyPerInstance,
	"instance":          FrequencyPerInstance,
	"always":            FrequencyAlways,
	"per-always":        FrequencyAlways,
}

// ParseFrequency returns the frequency named s.
func ParseFrequency(s string) (Frequency, error) {
	f, ok := frequencyAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, fmt.Sprintf("unknown frequency %q", s),
			map[string]any{"valid": []Frequency{FrequencyOnce, FrequencyPerInstance, FrequencyAlways}})
	}
	return f, nil
}

// Spec describes a module to the pipeline.
type Spec struct {
	Name      string
	Stage     Stage
	Frequency Frequency

	// Before and After name modules of the same stage this one must run
	// before or after. Names of modules not selected for the stage are
	// ignored.
	Before []string
	After  []string

	// Requires lists the distro capabilities the module needs.
	Requires []distro.Capability

	// Gate marks a module whose failure stops later stages.
	Gate bool
}

// Env is everything a module may act on.
type Env struct {
	Stage  Stage
	Config *merge.Config
	Distro *distro.Capabilities

	// Instance is the selected datasource result. It is nil in local-init
	// when no local datasource was found.
	Instance *datasource.Result
}

// InstanceID returns the current instance-id or "".
func (e *Env) InstanceID() string {
	if e == nil || e.Instance == nil {
		return ""
	}
	return e.Instance.InstanceID
}

// Result is what a module reports. Changed is informational.
type Result struct {
	Changed bool
	Err     error
}

// Module applies one aspect of instance configuration.
type Module interface {
	Spec() Spec
	Apply(ctx context.Context, env *Env) Result
}

// Func adapts a function to Module.
type Func struct {
	S  Spec
	Fn func(ctx context.Context, env *Env) Result
}

func (f Func) Spec() Spec { return f.S }

func (f Func) Apply(ctx context.Context, env *Env) Result {
	return f.Fn(ctx, env)
}
