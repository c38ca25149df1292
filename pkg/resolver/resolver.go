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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/cache"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Phase names the resolution step an Attempt describes.
type Phase string

const (
	PhaseRestore Phase = "restore"
	PhaseProbe   Phase = "probe"
	PhaseFetch   Phase = "fetch"
	PhaseCrawl   Phase = "crawl"
)

// Attempt records the outcome of one step against one candidate.
type Attempt struct {
	Datasource string        `json:"datasource" yaml:"datasource"`
	Phase      Phase         `json:"phase" yaml:"phase"`
	OK         bool          `json:"ok" yaml:"ok"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func (a Attempt) String() string {
	if a.OK {
		return fmt.Sprintf("%s: %s ok", a.Datasource, a.Phase)
	}
	if a.Error == "" {
		return fmt.Sprintf("%s: %s negative", a.Datasource, a.Phase)
	}
	return fmt.Sprintf("%s: %s: %s", a.Datasource, a.Phase, a.Error)
}

// Resolution is the outcome of a Resolve call. It is returned on failure too
// so callers can report what was tried.
type Resolution struct {
	Result       *datasource.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Restored     bool               `json:"restored" yaml:"restored"`
	CacheCorrupt bool               `json:"cacheCorrupt,omitempty" yaml:"cacheCorrupt,omitempty"`
	Attempts     []Attempt          `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Duration     time.Duration      `json:"duration" yaml:"duration"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProbeTimeout bounds every probe call.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithParallelProbes probes up to limit candidates concurrently. Selection
// still honours registry order.
func WithParallelProbes(limit int) Option {
	return func(r *Resolver) {
		r.parallel = limit
	}
}

// WithKeepStages names the stage markers that survive an instance change.
func WithKeepStages(stages ...string) Option {
	return func(r *Resolver) {
		r.keep = stages
	}
}

// WithAvailable restricts candidates to datasources whose requirements are
// satisfied by deps.
func WithAvailable(deps ...datasource.Dependency) Option {
	return func(r *Resolver) {
		r.available = deps
	}
}

// WithCrawl walks the complete metadata tree of the adopted datasource when
// it is one of names and advertises the crawl capability.
func WithCrawl(names ...string) Option {
	return func(r *Resolver) {
		for _, n := range names {
			r.crawl.Insert(datasource.NormalizeName(n))
		}
	}
}

// WithoutRestore forces probing even when the cached selection is restorable.
func WithoutRestore() Option {
	return func(r *Resolver) {
		r.noRestore = true
	}
}

// Resolver selects exactly one datasource for the current boot.
type Resolver struct {
	registry     *datasource.Registry
	store        *cache.Store
	probeTimeout time.Duration
	parallel     int
	keep         []string
	available    []datasource.Dependency
	noRestore    bool
	crawl        sets.Set[string]
}

// New returns a Resolver over registry that persists its selection to store.
func New(registry *datasource.Registry, store *cache.Store, opts ...Option) *Resolver {
	r := &Resolver{
		registry:     registry,
		store:        store,
		probeTimeout: defaults.ProbeTimeout,
		crawl:        sets.New[string](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve selects a datasource, fetches its data and commits the selection
// to the cache before returning. A restorable cached selection with an
// unchanged boot fingerprint is fetched directly without probing; if that
// fetch fails every candidate is probed.
func (r *Resolver) Resolve(ctx context.Context, bc *bootctx.Context) (*Resolution, error) {
	start := time.Now()
	res := &Resolution{}
	defer func() {
		res.Duration = time.Since(start)
		resolutionDuration.Observe(res.Duration.Seconds())
	}()

	rec, err := r.store.Load()
	if err != nil {
		if !cnserrors.IsCode(err, cnserrors.ErrCodeCacheCorruption) {
			return res, err
		}
		slog.Warn("ignoring corrupt cache, resolving from scratch", "error", err)
		res.CacheCorrupt = true
	}

	candidates := r.order(r.registry.Candidates(r.available...), bc)

	if ds := r.restorable(rec, bc, candidates); ds != nil {
		result, attempt := r.fetch(ctx, bc, ds, PhaseRestore)
		res.Attempts = append(res.Attempts, attempt)
		if result != nil {
			res.Result = result
			res.Restored = true
			res.Attempts = append(res.Attempts, r.crawlMetadata(ctx, bc, ds, result)...)
			slog.Info("restored cached datasource",
				"datasource", result.Datasource,
				"instance_id", result.InstanceID)
			return res, r.commit(bc, ds, result)
		}
		slog.Warn("cached datasource no longer fetchable, probing all candidates",
			"datasource", ds.Spec().Name, "error", attempt.Error)
	}

	var (
		ds       datasource.Datasource
		result   *datasource.Result
		attempts []Attempt
	)
	if r.parallel > 1 && len(candidates) > 1 {
		ds, result, attempts = r.resolveParallel(ctx, bc, candidates)
	} else {
		ds, result, attempts = r.resolveSequential(ctx, bc, candidates)
	}
	res.Attempts = append(res.Attempts, attempts...)

	if result == nil {
		resolutionTotal.WithLabelValues("exhausted").Inc()
		if err := ctx.Err(); err != nil {
			return res, cnserrors.Wrap(cnserrors.ErrCodeTimeout, "resolution cancelled", err)
		}
		return res, exhausted(candidates, res.Attempts)
	}

	resolutionTotal.WithLabelValues("resolved").Inc()
	res.Result = result
	res.Attempts = append(res.Attempts, r.crawlMetadata(ctx, bc, ds, result)...)
	slog.Info("datasource selected",
		"datasource", result.Datasource,
		"instance_id", result.InstanceID,
		"candidates", len(candidates))
	return res, r.commit(bc, ds, result)
}

// restorable returns the cached datasource when it may be fetched without
// probing.
func (r *Resolver) restorable(rec *cache.Record, bc *bootctx.Context, candidates []datasource.Datasource) datasource.Datasource {
	if r.noRestore || rec == nil || rec.Datasource == nil || !rec.Datasource.Restorable {
		return nil
	}
	if rec.Datasource.Fingerprint != bc.Fingerprint() {
		slog.Debug("boot fingerprint changed, not restoring", "datasource", rec.Datasource.Name)
		return nil
	}
	key := datasource.NormalizeName(rec.Datasource.Name)
	for _, ds := range candidates {
		if datasource.NormalizeName(ds.Spec().Name) == key {
			return ds
		}
	}
	return nil
}

func (r *Resolver) resolveSequential(ctx context.Context, bc *bootctx.Context,
	candidates []datasource.Datasource) (datasource.Datasource, *datasource.Result, []Attempt) {

	var attempts []Attempt
	for _, ds := range candidates {
		if ctx.Err() != nil {
			break
		}
		probe := r.probe(ctx, bc, ds)
		attempts = append(attempts, probe)
		if !probe.OK {
			continue
		}
		result, attempt := r.fetch(ctx, bc, ds, PhaseFetch)
		attempts = append(attempts, attempt)
		if result != nil {
			return ds, result, attempts
		}
	}
	return nil, nil, attempts
}

// resolveParallel probes candidates concurrently but decides in registry
// order: candidate i is only considered once every earlier candidate has
// been rejected. Outstanding probes are cancelled once a winner is adopted.
func (r *Resolver) resolveParallel(ctx context.Context, bc *bootctx.Context,
	candidates []datasource.Datasource) (datasource.Datasource, *datasource.Result, []Attempt) {

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]chan Attempt, len(candidates))
	for i := range outcomes {
		outcomes[i] = make(chan Attempt, 1)
	}

	g, gctx := errgroup.WithContext(pctx)
	g.SetLimit(r.parallel)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, ds := range candidates {
			g.Go(func() error {
				outcomes[i] <- r.probe(gctx, bc, ds)
				return nil
			})
		}
	}()
	defer func() {
		cancel()
		<-launched
		_ = g.Wait()
	}()

	var attempts []Attempt
	for i, ds := range candidates {
		var probe Attempt
		select {
		case probe = <-outcomes[i]:
		case <-ctx.Done():
			return nil, nil, attempts
		}
		attempts = append(attempts, probe)
		if !probe.OK {
			continue
		}
		result, attempt := r.fetch(ctx, bc, ds, PhaseFetch)
		attempts = append(attempts, attempt)
		if result != nil {
			return ds, result, attempts
		}
	}
	return nil, nil, attempts
}

func (r *Resolver) probe(ctx context.Context, bc *bootctx.Context, ds datasource.Datasource) Attempt {
	name := ds.Spec().Name
	attempt := Attempt{Datasource: name, Phase: PhaseProbe}
	if err := ctx.Err(); err != nil {
		attempt.Error = err.Error()
		return attempt
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	found, err := ds.Probe(pctx, bc)
	attempt.Duration = time.Since(start)

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		err = cnserrors.WrapWithContext(cnserrors.ErrCodeTimeout, "probe timed out", err,
			map[string]any{"datasource": name, "timeout": r.probeTimeout.String()})
		probeTotal.WithLabelValues(name, "timeout").Inc()
	case err != nil:
		err = cnserrors.WrapWithContext(cnserrors.ErrCodeProbeFailure, "probe failed", err,
			map[string]any{"datasource": name})
		probeTotal.WithLabelValues(name, "error").Inc()
	case found:
		probeTotal.WithLabelValues(name, "found").Inc()
	default:
		probeTotal.WithLabelValues(name, "absent").Inc()
	}

	if err != nil {
		attempt.Error = err.Error()
		slog.Debug("probe failed", "datasource", name, "error", err)
		return attempt
	}
	attempt.OK = found
	slog.Debug("probe finished", "datasource", name, "found", found, "duration", attempt.Duration)
	return attempt
}

func (r *Resolver) fetch(ctx context.Context, bc *bootctx.Context, ds datasource.Datasource, phase Phase) (*datasource.Result, Attempt) {
	name := ds.Spec().Name
	attempt := Attempt{Datasource: name, Phase: phase}

	start := time.Now()
	result, err := ds.Fetch(ctx, bc)
	attempt.Duration = time.Since(start)
	if err == nil {
		if result != nil && result.Datasource == "" {
			result.Datasource = name
		}
		err = result.Validate()
	}
	if err != nil {
		fetchTotal.WithLabelValues(name, "error").Inc()
		if !cnserrors.IsCode(err, cnserrors.ErrCodeFetchFailure) {
			err = cnserrors.WrapWithContext(cnserrors.ErrCodeFetchFailure, "fetch failed", err,
				map[string]any{"datasource": name})
		}
		attempt.Error = err.Error()
		slog.Warn("datasource fetch failed", "datasource", name, "phase", phase, "error", err)
		return nil, attempt
	}

	fetchTotal.WithLabelValues(name, "ok").Inc()
	attempt.OK = true
	return result, attempt
}

// crawlMetadata replaces the fetched metadata with the complete tree when
// crawling was requested for ds. Fetched keys win over crawled ones. A failed
// crawl keeps the fetched metadata.
func (r *Resolver) crawlMetadata(ctx context.Context, bc *bootctx.Context, ds datasource.Datasource, result *datasource.Result) []Attempt {
	name := ds.Spec().Name
	crawler, ok := ds.(datasource.Crawler)
	if !ok || !r.crawl.Has(datasource.NormalizeName(name)) {
		return nil
	}

	attempt := Attempt{Datasource: name, Phase: PhaseCrawl}
	start := time.Now()
	tree, err := crawler.Crawl(ctx, bc)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Error = err.Error()
		slog.Warn("metadata crawl failed, keeping fetched metadata", "datasource", name, "error", err)
		return []Attempt{attempt}
	}

	merged := make(map[string]any, len(tree)+len(result.Metadata))
	for k, v := range tree {
		merged[k] = v
	}
	for k, v := range result.Metadata {
		merged[k] = v
	}
	result.Metadata = merged
	attempt.OK = true
	slog.Debug("metadata crawled", "datasource", name, "keys", len(tree), "duration", attempt.Duration)
	return []Attempt{attempt}
}

// commit persists the selection. A changed instance-id archives the previous
// instance and clears its stage markers except the kept ones.
func (r *Resolver) commit(bc *bootctx.Context, ds datasource.Datasource, result *datasource.Result) error {
	spec := ds.Spec()
	_, err := r.store.Commit(func(rec *cache.Record) error {
		now := r.store.Clock().Now().UTC()
		if rec.InstanceID != "" && rec.InstanceChanged(result.InstanceID) {
			slog.Info("instance changed",
				"previous_instance_id", rec.InstanceID,
				"instance_id", result.InstanceID)
		}
		rec.SwitchInstance(result.InstanceID, now, r.keep...)
		rec.Datasource = &cache.DatasourceRecord{
			Name:        spec.Name,
			Restorable:  spec.Restorable,
			Fingerprint: bc.Fingerprint(),
			BootID:      bc.BootID,
			SelectedAt:  now,
		}
		rec.Result = ToRecord(result)
		return nil
	})
	if err != nil {
		return cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to persist datasource selection", err,
			map[string]any{"datasource": spec.Name})
	}
	return nil
}

// order moves the datasource named by the boot hint to the front and keeps
// the remaining candidates in registry order.
func (r *Resolver) order(candidates []datasource.Datasource, bc *bootctx.Context) []datasource.Datasource {
	if bc == nil || bc.Hints.Datasource == "" {
		return candidates
	}
	hint := compact(bc.Hints.Datasource)
	for i, ds := range candidates {
		if compact(ds.Spec().Name) != hint {
			continue
		}
		if i == 0 {
			return candidates
		}
		out := make([]datasource.Datasource, 0, len(candidates))
		out = append(out, ds)
		out = append(out, candidates[:i]...)
		return append(out, candidates[i+1:]...)
	}
	return candidates
}

func compact(name string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(datasource.NormalizeName(name))
}

func exhausted(candidates []datasource.Datasource, attempts []Attempt) error {
	names := make([]string, 0, len(candidates))
	for _, ds := range candidates {
		names = append(names, ds.Spec().Name)
	}
	tried := make([]string, 0, len(attempts))
	for _, a := range attempts {
		tried = append(tried, a.String())
	}
	msg := "no datasource could be adopted"
	if len(candidates) == 0 {
		msg = "no datasource candidates available"
	}
	return cnserrors.NewWithContext(cnserrors.ErrCodeResolutionExhausted, msg, map[string]any{
		"candidates": names,
		"attempts":   tried,
	})
}
