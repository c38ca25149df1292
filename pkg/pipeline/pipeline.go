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
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/cache"
	"github.com/NVIDIA/cns-init/pkg/config"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/distro"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/merge"
	"github.com/NVIDIA/cns-init/pkg/module"
	"github.com/NVIDIA/cns-init/pkg/report"
	"github.com/NVIDIA/cns-init/pkg/resolver"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModules replaces the globally registered modules.
func WithModules(r *module.Registry) Option {
	return func(p *Pipeline) {
		p.modules = r
	}
}

// WithDatasources replaces the datasources built from the global registry
// and datasource_list.
func WithDatasources(r *datasource.Registry) Option {
	return func(p *Pipeline) {
		p.datasources = r
	}
}

// WithDatasourceConfig supplies the filesystem, mounter and HTTP client
// handed to datasource factories. Settings and Backoff are taken from
// system configuration when unset.
func WithDatasourceConfig(cfg datasource.Config) Option {
	return func(p *Pipeline) {
		p.dsConfig = cfg
	}
}

// WithDistro replaces the detected distro capabilities.
func WithDistro(c *distro.Capabilities) Option {
	return func(p *Pipeline) {
		p.distro = c
	}
}

// WithLoader replaces the system configuration loader.
func WithLoader(l *config.Loader) Option {
	return func(p *Pipeline) {
		p.loader = l
	}
}

// WithForce re-runs stages that already completed during this boot.
func WithForce(force bool) Option {
	return func(p *Pipeline) {
		p.force = force
	}
}

// WithClock overrides the clock used for persisted timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithNotify receives a short status line at the start and end of every
// stage.
func WithNotify(fn func(status string)) Option {
	return func(p *Pipeline) {
		p.notify = fn
	}
}

// Pipeline runs the boot stages for one boot event.
type Pipeline struct {
	bc          *bootctx.Context
	store       *cache.Store
	modules     *module.Registry
	datasources *datasource.Registry
	dsConfig    datasource.Config
	distro      *distro.Capabilities
	loader      *config.Loader
	force       bool
	clock       clock.PassiveClock
	notify      func(string)

	builder   *merge.Builder
	systemCfg *merge.Config
	system    *config.System
	gates     sets.Set[string]
}

// New loads system configuration and prepares a pipeline for the boot
// described by bc. Configuration errors are INVALID_REQUEST.
func New(bc *bootctx.Context, store *cache.Store, opts ...Option) (*Pipeline, error) {
	if bc == nil {
		return nil, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "boot context is required")
	}
	p := &Pipeline{
		bc:    bc,
		store: store,
		clock: store.Clock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.loader == nil {
		p.loader = config.NewLoader()
	}
	if p.notify == nil {
		p.notify = func(string) {}
	}

	if err := p.loadSystem(); err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid system configuration", err)
	}

	if p.modules == nil {
		p.modules = module.NewFromGlobal()
	}
	if p.datasources == nil {
		cfg := p.dsConfig
		if cfg.Settings == nil {
			cfg.Settings = p.system.DatasourceSettings()
		}
		if cfg.Backoff == (datasource.Backoff{}) {
			cfg.Backoff = p.system.Backoff()
		}
		p.datasources = datasource.NewFromGlobal(cfg, p.system.DatasourceList)
	}
	if p.distro == nil {
		p.distro = distro.Detect(bc)
	}

	p.gates = sets.New[string]()
	for _, name := range p.system.GateModules {
		p.gates.Insert(key(name))
	}
	return p, nil
}

func (p *Pipeline) loadSystem() error {
	b, err := merge.NewBuilder()
	if err != nil {
		return err
	}
	cfg, err := p.loader.Load(b)
	if err != nil {
		return err
	}
	system, err := config.SystemFrom(cfg)
	if err != nil {
		return err
	}

	// A replaced appendable table changes how the system layers merge.
	if system.MergeTable != nil {
		if b, err = merge.NewBuilder(merge.WithTable(system.Table())); err != nil {
			return err
		}
		if cfg, err = p.loader.Load(b); err != nil {
			return err
		}
		if system, err = config.SystemFrom(cfg); err != nil {
			return err
		}
	}

	p.builder = b
	p.systemCfg = cfg
	p.system = system
	return nil
}

// System returns the engine settings in effect.
func (p *Pipeline) System() *config.System {
	return p.system
}

// Boot runs every stage in order. It stops at the first stage that returns
// an error; module failures alone do not stop it.
func (p *Pipeline) Boot(ctx context.Context, eventID string) (*report.Boot, error) {
	start := time.Now()
	out := report.NewBoot(eventID)
	defer func() {
		out.Duration = time.Since(start)
	}()

	for _, stage := range module.Stages() {
		rep, err := p.Run(ctx, stage)
		out.Add(rep)
		if err != nil {
			out.Error = err.Error()
			return out, err
		}
	}
	return out, nil
}

// Run executes a single stage. The returned report is never nil. An error
// is returned only for conditions fatal to the boot event: resolution
// failure, ordering cycles, gated stages, configuration errors,
// cancellation and cache write failures. Module failures are recorded in
// the report and the cache.
func (p *Pipeline) Run(ctx context.Context, stage module.Stage) (*report.Stage, error) {
	start := time.Now()
	rep := report.NewStage(string(stage), p.clock.Now().UTC())

	err := p.run(ctx, stage, rep)

	rep.Duration = time.Since(start)
	stageDuration.WithLabelValues(string(stage)).Observe(rep.Duration.Seconds())
	status := "ok"
	switch {
	case err != nil:
		status = "failed"
		rep.Error = err.Error()
	case rep.AlreadyCompleted:
		status = "skipped"
	case rep.HasFailures():
		status = "partial"
	}
	stageRunsTotal.WithLabelValues(string(stage), status).Inc()

	if err != nil {
		slog.Error("stage failed", "stage", stage, "error", err)
		p.notify(fmt.Sprintf("%s: failed: %v", stage, err))
	} else {
		slog.Info("stage finished",
			"stage", stage,
			"instance_id", rep.InstanceID,
			"ran", rep.Ran(),
			"skipped", rep.Skipped(),
			"failed", len(rep.Failed()),
			"duration", rep.Duration)
		p.notify(rep.Summary())
	}
	return rep, err
}

func (p *Pipeline) run(ctx context.Context, stage module.Stage, rep *report.Stage) error {
	if stage.Index() < 0 {
		return cnserrors.New(cnserrors.ErrCodeInvalidRequest, fmt.Sprintf("unknown stage %q", stage))
	}

	rec, err := p.load()
	if err != nil {
		return err
	}
	if p.completedThisBoot(rec, stage) && !p.force {
		slog.Info("stage already completed this boot", "stage", stage, "boot_id", p.bc.BootID)
		rep.AlreadyCompleted = true
		return nil
	}
	if err := p.checkGate(rec, stage); err != nil {
		return err
	}

	p.notify(fmt.Sprintf("%s: running", stage))

	instance, err := p.instance(ctx, stage, rep)
	if err != nil {
		return err
	}

	var cmdline map[string]any
	if len(p.bc.CmdlineConfig) > 0 {
		cmdline = p.bc.CmdlineConfig
	}
	inst, err := config.BuildInstance(p.builder, p.systemCfg, instance, cmdline)
	if err != nil {
		return cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "failed to build instance configuration", err)
	}

	plan, err := p.plan(stage, rep)
	if err != nil {
		return err
	}
	plan, err = order(stage, plan)
	if err != nil {
		return err
	}

	// Resolution may have switched the instance; decide frequencies
	// against the record it committed.
	if rec, err = p.load(); err != nil {
		return err
	}

	env := &module.Env{
		Stage:    stage,
		Config:   inst.Config,
		Distro:   p.distro,
		Instance: instance,
	}
	instanceID := env.InstanceID()
	gateFailed := false

	for _, item := range plan {
		if err := ctx.Err(); err != nil {
			return cnserrors.WrapWithContext(cnserrors.ErrCodeTimeout, "boot event cancelled", err,
				map[string]any{"stage": string(stage), "next_module": item.spec.Name})
		}

		name := item.spec.Name
		if due, reason := due(rec, name, item.frequency, instanceID); !due {
			slog.Debug("module skipped", "stage", stage, "module", name, "reason", reason)
			rep.Add(report.Module{
				Name:      name,
				Frequency: string(item.frequency),
				Status:    report.StatusSkipped,
				Reason:    reason,
			})
			continue
		}

		started := time.Now()
		// A cancelled boot event lets the running module finish so the
		// cache never records half-applied state.
		res := module.Invoke(context.WithoutCancel(ctx), item.mod, env, p.system.ModuleTimeout)
		elapsed := time.Since(started)

		entry := report.Module{
			Name:      name,
			Frequency: string(item.frequency),
			Status:    report.StatusRan,
			Changed:   res.Changed,
			Duration:  elapsed,
		}
		if res.Err != nil {
			entry.Status = report.StatusFailed
			entry.Error = res.Err.Error()
			slog.Warn("module failed", "stage", stage, "module", name, "error", res.Err)
			if item.spec.Gate || p.gates.Has(key(name)) {
				gateFailed = true
			}
		}
		rep.Add(entry)

		if rec, err = p.commitModule(stage, item, instanceID, res); err != nil {
			return err
		}
	}

	rep.GateFailed = gateFailed
	return p.commitStage(stage, rep)
}

func (p *Pipeline) load() (*cache.Record, error) {
	rec, err := p.store.Load()
	if err != nil {
		if !cnserrors.IsCode(err, cnserrors.ErrCodeCacheCorruption) {
			return nil, err
		}
		slog.Warn("cache record discarded, continuing without prior state", "error", err)
	}
	return rec, nil
}

func (p *Pipeline) completedThisBoot(rec *cache.Record, stage module.Stage) bool {
	if p.bc.BootID == "" {
		return false
	}
	s, ok := rec.Stages[string(stage)]
	return ok && s.BootID == p.bc.BootID
}

// checkGate refuses to run stage when an earlier stage of this boot had a
// gating module fail.
func (p *Pipeline) checkGate(rec *cache.Record, stage module.Stage) error {
	for _, earlier := range module.Stages()[:stage.Index()] {
		s, ok := rec.Stages[string(earlier)]
		if !ok || !s.GateFailed || s.BootID != p.bc.BootID {
			continue
		}
		return cnserrors.NewWithContext(cnserrors.ErrCodeStageGated,
			fmt.Sprintf("stage %s blocked by failed gate in %s", stage, earlier),
			map[string]any{"stage": string(stage), "gate_stage": string(earlier), "failed": s.Failed})
	}
	return nil
}

// instance returns the datasource result the stage runs against. local-init
// only considers datasources that need no network and tolerates finding
// none; later stages reuse the selection made during this boot and resolve
// otherwise.
func (p *Pipeline) instance(ctx context.Context, stage module.Stage, rep *report.Stage) (*datasource.Result, error) {
	opts := []resolver.Option{
		resolver.WithProbeTimeout(p.system.Probe.Timeout),
		resolver.WithKeepStages(string(module.StageLocalInit)),
		resolver.WithCrawl(p.system.CrawlDatasources()...),
	}
	if p.system.Probe.Parallel {
		opts = append(opts, resolver.WithParallelProbes(p.system.Probe.MaxConcurrency))
	}
	if stage == module.StageLocalInit {
		opts = append(opts, resolver.WithAvailable(datasource.DependsFilesystem))
	}
	r := resolver.New(p.datasources, p.store, opts...)

	if stage != module.StageLocalInit {
		if res, ok := r.CachedForBoot(p.bc.BootID); ok {
			p.describe(rep, res, true)
			return res, nil
		}
		if p.bc.BootID == "" && stage != module.StageNetworkConfig {
			if res, err := r.Cached(); err == nil {
				p.describe(rep, res, true)
				return res, nil
			}
		}
	}

	resolution, err := r.Resolve(ctx, p.bc)
	if err != nil {
		if stage == module.StageLocalInit && cnserrors.IsCode(err, cnserrors.ErrCodeResolutionExhausted) {
			slog.Info("no local datasource found, deferring resolution to network-config")
			return nil, nil
		}
		return nil, err
	}
	p.describe(rep, resolution.Result, resolution.Restored)
	return resolution.Result, nil
}

func (p *Pipeline) describe(rep *report.Stage, res *datasource.Result, restored bool) {
	if res == nil {
		return
	}
	rep.Datasource = res.Datasource
	rep.InstanceID = res.InstanceID
	rep.Restored = restored
}

// plan selects the modules of stage. A stages.<stage> list in system
// configuration replaces the registry's stage affinity; its entries are a
// module name or a [name, frequency] pair. Unknown names are reported as
// skipped.
func (p *Pipeline) plan(stage module.Stage, rep *report.Stage) ([]planned, error) {
	entries, configured := p.system.Stages[string(stage)]
	if !configured {
		var out []planned
		for _, m := range p.modules.ForStage(stage) {
			spec := m.Spec()
			out = append(out, planned{mod: m, spec: spec, frequency: spec.Frequency})
		}
		return out, nil
	}

	seen := sets.New[string]()
	out := make([]planned, 0, len(entries))
	for i, entry := range entries {
		name, freq, err := parseEntry(entry)
		if err != nil {
			return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest,
				fmt.Sprintf("invalid module entry stages.%s[%d]", stage, i), err,
				map[string]any{"stage": string(stage)})
		}
		if seen.Has(key(name)) {
			continue
		}
		seen.Insert(key(name))

		m, ok := p.modules.Get(name)
		if !ok {
			slog.Warn("unknown module in stage configuration", "stage", stage, "module", name)
			rep.Add(report.Module{Name: name, Status: report.StatusSkipped, Reason: "not registered"})
			continue
		}
		spec := m.Spec()
		if freq == "" {
			freq = spec.Frequency
		}
		out = append(out, planned{mod: m, spec: spec, frequency: freq})
	}
	return out, nil
}

func parseEntry(entry any) (string, module.Frequency, error) {
	switch v := entry.(type) {
	case string:
		if v == "" {
			return "", "", fmt.Errorf("empty module name")
		}
		return v, "", nil
	case []any:
		if len(v) == 0 || len(v) > 2 {
			return "", "", fmt.Errorf("expected [name] or [name, frequency], got %d items", len(v))
		}
		name, ok := v[0].(string)
		if !ok || name == "" {
			return "", "", fmt.Errorf("module name must be a string")
		}
		if len(v) == 1 {
			return name, "", nil
		}
		freq, err := module.ParseFrequency(fmt.Sprint(v[1]))
		if err != nil {
			return "", "", err
		}
		return name, freq, nil
	default:
		return "", "", fmt.Errorf("unsupported entry type %T", entry)
	}
}

// due decides whether a module runs. once modules never re-run once any
// record of them exists, failed runs included; once-per-instance modules
// re-run when the instance changed or their last run failed; always modules
// always run.
func due(rec *cache.Record, name string, freq module.Frequency, instanceID string) (bool, string) {
	last, ok := rec.Module(name)
	switch freq {
	case module.FrequencyOnce:
		if ok {
			return false, "already ran once"
		}
	case module.FrequencyPerInstance:
		if ok && last.Succeeded() && last.LastInstanceID == instanceID {
			return false, "already ran for instance " + instanceID
		}
	}
	return true, ""
}

func (p *Pipeline) commitModule(stage module.Stage, item planned, instanceID string, res module.Result) (*cache.Record, error) {
	now := p.clock.Now().UTC()
	return p.store.Commit(func(r *cache.Record) error {
		if r.Modules == nil {
			r.Modules = map[string]cache.ModuleRecord{}
		}
		m := r.Modules[item.spec.Name]
		m.LastRun = now
		m.Stage = string(stage)
		m.Frequency = string(item.frequency)
		m.Changed = res.Changed
		m.Runs++
		if res.Err == nil {
			m.LastSuccess = now
			m.LastInstanceID = instanceID
			m.LastError = ""
		} else {
			m.LastError = res.Err.Error()
		}
		r.Modules[item.spec.Name] = m
		return nil
	})
}

func (p *Pipeline) commitStage(stage module.Stage, rep *report.Stage) error {
	now := p.clock.Now().UTC()
	_, err := p.store.Commit(func(r *cache.Record) error {
		if r.Stages == nil {
			r.Stages = map[string]cache.StageRecord{}
		}
		r.Stages[string(stage)] = cache.StageRecord{
			CompletedAt: now,
			BootID:      p.bc.BootID,
			Ran:         rep.Ran(),
			Skipped:     rep.Skipped(),
			Failed:      rep.Failed(),
			GateFailed:  rep.GateFailed,
		}
		return nil
	})
	return err
}
