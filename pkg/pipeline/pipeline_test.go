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

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/cache"
	"github.com/NVIDIA/cns-init/pkg/config"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/datasource/none"
	"github.com/NVIDIA/cns-init/pkg/defaults"
	"github.com/NVIDIA/cns-init/pkg/distro"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/module"
	"github.com/NVIDIA/cns-init/pkg/report"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// journal records module runs in order.
type journal struct {
	mu   sync.Mutex
	runs []string
}

func (j *journal) add(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, name)
}

func (j *journal) take() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.runs
	j.runs = nil
	return out
}

type fixture struct {
	t       *testing.T
	store   *cache.Store
	journal *journal
	modules []module.Module
	sources []datasource.Datasource
	system  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		t:       t,
		store:   cache.NewStore(t.TempDir(), cache.WithClock(clocktesting.NewFakePassiveClock(epoch))),
		journal: &journal{},
	}
}

func (f *fixture) module(name string, stage module.Stage, freq module.Frequency, err error) module.Func {
	m := module.Func{
		S: module.Spec{Name: name, Stage: stage, Frequency: freq},
		Fn: func(_ context.Context, _ *module.Env) module.Result {
			f.journal.add(name)
			return module.Result{Changed: true, Err: err}
		},
	}
	f.modules = append(f.modules, m)
	return m
}

func (f *fixture) add(ms ...module.Module) {
	f.modules = append(f.modules, ms...)
}

func (f *fixture) source(name, instanceID string, found bool, requires ...datasource.Dependency) *datasource.Fake {
	ds := &datasource.Fake{
		FakeSpec: datasource.Spec{Name: name, Requires: requires},
		Found:    found,
		Result:   &datasource.Result{InstanceID: instanceID},
	}
	f.sources = append(f.sources, ds)
	return ds
}

func (f *fixture) pipeline(bootID string, opts ...Option) *Pipeline {
	f.t.Helper()
	fs := memfs.New()
	if f.system != "" {
		require.NoError(f.t, util.WriteFile(fs, defaults.SystemConfigFile, []byte(f.system), 0o644))
	}
	bc := &bootctx.Context{BootID: bootID, DMI: bootctx.DMI{ProductUUID: "0b3f0c1e"}}
	base := []Option{
		WithLoader(config.NewLoader(config.WithFilesystem(fs))),
		WithModules(module.NewRegistry(f.modules...)),
		WithDatasources(datasource.NewRegistry(f.sources...)),
		WithDistro((&distro.Fake{}).Capabilities()),
	}
	p, err := New(bc, f.store, append(base, opts...)...)
	require.NoError(f.t, err)
	return p
}

func statuses(rep *report.Stage) map[string]report.Status {
	out := make(map[string]report.Status, len(rep.Modules))
	for _, m := range rep.Modules {
		out[m.Name] = m.Status
	}
	return out
}

func TestRunFrequencies(t *testing.T) {
	f := newFixture(t)
	ds := f.source("NoCloud", "i-1", true)
	f.module("once", module.StageFinal, module.FrequencyOnce, nil)
	f.module("instance", module.StageFinal, module.FrequencyPerInstance, nil)
	f.module("always", module.StageFinal, module.FrequencyAlways, nil)
	ctx := context.Background()

	rep, err := f.pipeline("boot-1").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, "i-1", rep.InstanceID)
	assert.ElementsMatch(t, []string{"once", "instance", "always"}, f.journal.take())

	// Same instance on the next boot.
	rep, err = f.pipeline("boot-2").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"always"}, f.journal.take())
	assert.Equal(t, report.StatusSkipped, statuses(rep)["once"])
	assert.Equal(t, report.StatusSkipped, statuses(rep)["instance"])
	assert.Equal(t, 2, rep.Skipped())

	// A new instance re-runs per-instance modules only.
	ds.Result = &datasource.Result{InstanceID: "i-2"}
	rep, err = f.pipeline("boot-3").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, "i-2", rep.InstanceID)
	assert.ElementsMatch(t, []string{"instance", "always"}, f.journal.take())

	rec, err := f.store.Load()
	require.NoError(t, err)
	m, ok := rec.Module("instance")
	require.True(t, ok)
	assert.Equal(t, "i-2", m.LastInstanceID)
	assert.Equal(t, 2, m.Runs)
	assert.True(t, m.LastSuccess.Equal(epoch))
	require.Len(t, rec.History, 1)
	assert.Equal(t, "i-1", rec.History[0].InstanceID)
}

func TestModuleFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "i-1", true)
	f.module("broken", module.StageFinal, module.FrequencyPerInstance, errors.New("boom"))
	f.module("healthy", module.StageFinal, module.FrequencyPerInstance, nil)
	f.module("after", module.StageFinal, module.FrequencyAlways, nil)
	ctx := context.Background()

	rep, err := f.pipeline("boot-1").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"after", "broken", "healthy"}, f.journal.take())
	assert.Equal(t, []string{"broken"}, rep.Failed())
	assert.True(t, rep.HasFailures())

	rec, err := f.store.Load()
	require.NoError(t, err)
	broken, ok := rec.Module("broken")
	require.True(t, ok)
	assert.False(t, broken.Succeeded())
	assert.Contains(t, broken.LastError, "boom")
	assert.Equal(t, []string{"broken"}, rec.Stages[string(module.StageFinal)].Failed)

	// The failed module is retried on the next boot, the healthy one is not.
	_, err = f.pipeline("boot-2").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"after", "broken"}, f.journal.take())
}

func TestFailedOnceModuleNotRetried(t *testing.T) {
	f := newFixture(t)
	ds := f.source("NoCloud", "i-1", true)
	f.module("setup", module.StageFinal, module.FrequencyOnce, errors.New("boom"))
	ctx := context.Background()

	rep, err := f.pipeline("boot-1").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"setup"}, rep.Failed())
	assert.Equal(t, []string{"setup"}, f.journal.take())

	for i, bootID := range []string{"boot-2", "boot-3"} {
		if i == 1 {
			ds.Result = &datasource.Result{InstanceID: "i-2"}
		}
		rep, err = f.pipeline(bootID).Run(ctx, module.StageFinal)
		require.NoError(t, err)
		assert.Empty(t, f.journal.take(), bootID)
		assert.Equal(t, report.StatusSkipped, statuses(rep)["setup"], bootID)
	}

	rec, err := f.store.Load()
	require.NoError(t, err)
	m, ok := rec.Module("setup")
	require.True(t, ok)
	assert.Equal(t, 1, m.Runs)
	assert.Contains(t, m.LastError, "boom")
}

func TestFailureDoesNotStopNextStage(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "i-1", true)
	f.module("broken", module.StageNetworkConfig, module.FrequencyAlways, errors.New("boom"))
	f.module("next", module.StagePostNetworkConfig, module.FrequencyAlways, nil)
	ctx := context.Background()
	p := f.pipeline("boot-1")

	_, err := p.Run(ctx, module.StageNetworkConfig)
	require.NoError(t, err)
	rep, err := p.Run(ctx, module.StagePostNetworkConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "next"}, f.journal.take())
	assert.True(t, rep.Restored, "network-config selection is reused")
}

func TestGateStopsLaterStages(t *testing.T) {
	f := newFixture(t)
	f.system = "gate_modules: [critical]\n"
	f.source("NoCloud", "i-1", true)
	failing := true
	f.add(module.Func{
		S: module.Spec{Name: "critical", Stage: module.StageNetworkConfig, Frequency: module.FrequencyAlways},
		Fn: func(context.Context, *module.Env) module.Result {
			f.journal.add("critical")
			if failing {
				return module.Result{Err: errors.New("no network")}
			}
			return module.Result{}
		},
	})
	f.module("later", module.StagePostNetworkConfig, module.FrequencyAlways, nil)
	ctx := context.Background()
	p := f.pipeline("boot-1")

	rep, err := p.Run(ctx, module.StageNetworkConfig)
	require.NoError(t, err)
	assert.True(t, rep.GateFailed)

	rep, err = p.Run(ctx, module.StagePostNetworkConfig)
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeStageGated))
	assert.NotEmpty(t, rep.Error)
	assert.Equal(t, []string{"critical"}, f.journal.take())

	// A new boot is not gated by the previous one.
	failing = false
	p = f.pipeline("boot-2")
	_, err = p.Run(ctx, module.StageNetworkConfig)
	require.NoError(t, err)
	_, err = p.Run(ctx, module.StagePostNetworkConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"critical", "later"}, f.journal.take())
}

func TestOrderingCycleIsFatal(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "i-1", true)
	f.add(
		module.Func{
			S:  module.Spec{Name: "a", Stage: module.StageFinal, Frequency: module.FrequencyAlways, Before: []string{"b"}},
			Fn: func(context.Context, *module.Env) module.Result { f.journal.add("a"); return module.Result{} },
		},
		module.Func{
			S:  module.Spec{Name: "b", Stage: module.StageFinal, Frequency: module.FrequencyAlways, Before: []string{"a"}},
			Fn: func(context.Context, *module.Env) module.Result { f.journal.add("b"); return module.Result{} },
		},
	)

	_, err := f.pipeline("boot-1").Run(context.Background(), module.StageFinal)
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeOrderingCycle))
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Empty(t, f.journal.take())

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.False(t, rec.StageDone(string(module.StageFinal)))
}

func TestOrderingConstraints(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "i-1", true)
	spec := func(name string, before, after []string) module.Func {
		return module.Func{
			S: module.Spec{Name: name, Stage: module.StageFinal, Frequency: module.FrequencyAlways, Before: before, After: after},
			Fn: func(context.Context, *module.Env) module.Result {
				f.journal.add(name)
				return module.Result{}
			},
		}
	}
	f.add(
		spec("alpha", nil, []string{"gamma"}),
		spec("beta", nil, nil),
		spec("gamma", []string{"beta"}, []string{"absent"}),
	)

	_, err := f.pipeline("boot-1").Run(context.Background(), module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, f.journal.take())
}

func TestStageAlreadyCompleted(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "i-1", true)
	f.module("always", module.StageFinal, module.FrequencyAlways, nil)
	ctx := context.Background()
	p := f.pipeline("boot-1")

	_, err := p.Run(ctx, module.StageFinal)
	require.NoError(t, err)
	rep, err := p.Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.True(t, rep.AlreadyCompleted)
	assert.Equal(t, []string{"always"}, f.journal.take())

	_, err = f.pipeline("boot-1", WithForce(true)).Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"always"}, f.journal.take())
}

func TestLocalInitWithoutLocalDatasource(t *testing.T) {
	f := newFixture(t)
	f.source("Ec2", "i-net", true, datasource.DependsNetwork)
	var seen []string
	f.add(module.Func{
		S: module.Spec{Name: "network", Stage: module.StageLocalInit, Frequency: module.FrequencyAlways},
		Fn: func(_ context.Context, env *module.Env) module.Result {
			seen = append(seen, env.InstanceID())
			return module.Result{}
		},
	})
	ctx := context.Background()
	p := f.pipeline("boot-1")

	rep, err := p.Run(ctx, module.StageLocalInit)
	require.NoError(t, err)
	assert.Empty(t, rep.InstanceID)
	assert.Equal(t, []string{""}, seen)

	rep, err = p.Run(ctx, module.StageNetworkConfig)
	require.NoError(t, err)
	assert.Equal(t, "i-net", rep.InstanceID)
	assert.Equal(t, "Ec2", rep.Datasource)

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, rec.StageDone(string(module.StageLocalInit)))
	assert.True(t, rec.StageDone(string(module.StageNetworkConfig)))
}

func TestResolutionExhaustedIsFatal(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "", false)
	f.module("hostname", module.StageNetworkConfig, module.FrequencyAlways, nil)

	rep, err := f.pipeline("boot-1").Run(context.Background(), module.StageNetworkConfig)
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeResolutionExhausted))
	assert.NotEmpty(t, rep.Error)
	assert.Empty(t, f.journal.take())
}

func TestStagesFromConfiguration(t *testing.T) {
	f := newFixture(t)
	f.system = `
stages:
  final:
    - second
    - [first, always]
    - missing
    - second
`
	f.source("NoCloud", "i-1", true)
	f.module("first", module.StageFinal, module.FrequencyOnce, nil)
	f.module("second", module.StageFinal, module.FrequencyOnce, nil)
	f.module("unlisted", module.StageFinal, module.FrequencyAlways, nil)
	ctx := context.Background()

	rep, err := f.pipeline("boot-1").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, f.journal.take())
	assert.Equal(t, report.StatusSkipped, statuses(rep)["missing"])

	_, err = f.pipeline("boot-2").Run(ctx, module.StageFinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, f.journal.take(), "frequency override applies")
}

func TestInvalidStageEntry(t *testing.T) {
	f := newFixture(t)
	f.system = "stages:\n  final:\n    - [first, sometimes]\n"
	f.source("NoCloud", "i-1", true)
	f.module("first", module.StageFinal, module.FrequencyOnce, nil)

	_, err := f.pipeline("boot-1").Run(context.Background(), module.StageFinal)
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest))
}

func TestCancellationLetsModuleFinish(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "i-1", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.add(
		module.Func{
			S: module.Spec{Name: "first", Stage: module.StageFinal, Frequency: module.FrequencyAlways},
			Fn: func(mctx context.Context, _ *module.Env) module.Result {
				cancel()
				f.journal.add("first")
				return module.Result{Err: mctx.Err()}
			},
		},
		module.Func{
			S: module.Spec{Name: "second", Stage: module.StageFinal, Frequency: module.FrequencyAlways},
			Fn: func(context.Context, *module.Env) module.Result {
				f.journal.add("second")
				return module.Result{}
			},
		},
	)

	_, err := f.pipeline("boot-1").Run(ctx, module.StageFinal)
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeTimeout))
	assert.Equal(t, []string{"first"}, f.journal.take())

	rec, err := f.store.Load()
	require.NoError(t, err)
	first, ok := rec.Module("first")
	require.True(t, ok)
	assert.True(t, first.Succeeded(), "in-flight module was not cancelled")
	assert.False(t, rec.StageDone(string(module.StageFinal)))
}

func TestFallbackDatasourceWaitsForNetwork(t *testing.T) {
	f := newFixture(t)
	ec2 := f.source("Ec2", "i-ec2", true, datasource.DependsFilesystem, datasource.DependsNetwork)
	f.sources = append(f.sources, none.New(datasource.Config{}))
	for _, st := range module.Stages() {
		f.module("mod-"+string(st), st, module.FrequencyAlways, nil)
	}
	ctx := context.Background()

	out, err := f.pipeline("boot-1").Boot(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, out.Stages, 4)
	assert.Empty(t, out.Stages[0].InstanceID, "no local datasource in local-init")
	for _, st := range out.Stages[1:] {
		assert.Equal(t, "Ec2", st.Datasource, st.Stage)
		assert.Equal(t, "i-ec2", st.InstanceID, st.Stage)
	}
	assert.Equal(t, 1, ec2.Probes())

	// Without the platform the fallback is adopted once networking is up.
	ec2.Found = false
	out, err = f.pipeline("boot-2").Boot(ctx, "evt-2")
	require.NoError(t, err)
	assert.Equal(t, none.InstanceID, out.Stages[1].InstanceID)
	assert.Equal(t, 2, ec2.Probes())

	// The fallback is never restored, so the platform is probed again.
	ec2.Found = true
	out, err = f.pipeline("boot-3").Boot(ctx, "evt-3")
	require.NoError(t, err)
	assert.Equal(t, "i-ec2", out.Stages[1].InstanceID)
	assert.Equal(t, 3, ec2.Probes())

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "Ec2", rec.Datasource.Name)
}

func TestCrawlFromConfiguration(t *testing.T) {
	f := newFixture(t)
	f.system = "datasource:\n  Ec2:\n    crawl: true\n"
	ds := &datasource.CrawlingFake{
		Fake: &datasource.Fake{
			FakeSpec: datasource.Spec{Name: "Ec2"},
			Found:    true,
			Result:   &datasource.Result{InstanceID: "i-1"},
		},
		Tree: map[string]any{"hostname": "ip-10-0-0-1"},
	}
	f.sources = append(f.sources, ds)
	f.module("hostname", module.StageNetworkConfig, module.FrequencyAlways, nil)

	_, err := f.pipeline("boot-1").Run(context.Background(), module.StageNetworkConfig)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Crawls())

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "ip-10-0-0-1", rec.Result.Metadata["hostname"])
}

func TestBoot(t *testing.T) {
	f := newFixture(t)
	f.source("NoCloud", "i-1", true)
	f.module("network", module.StageLocalInit, module.FrequencyAlways, nil)
	f.module("hostname", module.StageNetworkConfig, module.FrequencyAlways, nil)
	f.module("packages", module.StagePostNetworkConfig, module.FrequencyPerInstance, errors.New("mirror down"))
	f.module("finalmessage", module.StageFinal, module.FrequencyAlways, nil)

	var notes []string
	p := f.pipeline("boot-1", WithNotify(func(s string) { notes = append(notes, s) }))
	out, err := p.Boot(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, out.Stages, 4)
	assert.Equal(t, []string{"network", "hostname", "packages", "finalmessage"}, f.journal.take())
	assert.Equal(t, []string{"post-network-config/packages"}, out.Failed())
	assert.Equal(t, "evt-1", out.EventID)
	assert.Len(t, notes, 8)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	f := newFixture(t)
	f.system = "probe: [not, a, map]\n"
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, defaults.SystemConfigFile, []byte(f.system), 0o644))

	_, err := New(&bootctx.Context{}, f.store,
		WithLoader(config.NewLoader(config.WithFilesystem(fs))),
		WithModules(module.NewRegistry()),
		WithDatasources(datasource.NewRegistry()),
		WithDistro((&distro.Fake{}).Capabilities()),
	)
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest))
}
