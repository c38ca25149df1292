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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/cache"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	return cache.NewStore(t.TempDir(), cache.WithClock(clocktesting.NewFakePassiveClock(epoch)))
}

func newBoot() *bootctx.Context {
	return &bootctx.Context{
		BootID: "boot-1",
		DMI:    bootctx.DMI{ProductUUID: "0b3f0c1e"},
	}
}

func fake(name string, found bool, instanceID string) *datasource.Fake {
	f := &datasource.Fake{
		FakeSpec: datasource.Spec{Name: name},
		Found:    found,
	}
	if instanceID != "" {
		f.Result = &datasource.Result{
			InstanceID: instanceID,
			Metadata:   map[string]any{datasource.MetaInstanceID: instanceID},
		}
	}
	return f
}

func TestResolveFirstSuccessfulCandidate(t *testing.T) {
	aws := fake("Ec2", false, "")
	openstack := fake("OpenStack", true, "i-1")
	store := newStore(t)

	res, err := New(datasource.NewRegistry(aws, openstack), store).Resolve(context.Background(), newBoot())
	require.NoError(t, err)
	require.NotNil(t, res.Result)
	assert.Equal(t, "OpenStack", res.Result.Datasource)
	assert.Equal(t, "i-1", res.Result.InstanceID)
	assert.False(t, res.Restored)
	assert.Equal(t, 0, aws.Fetches())

	rec, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec.Datasource)
	assert.Equal(t, "OpenStack", rec.Datasource.Name)
	assert.Equal(t, "i-1", rec.InstanceID)
	assert.Equal(t, "boot-1", rec.Datasource.BootID)
	assert.Equal(t, epoch, rec.Datasource.SelectedAt)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "i-1", rec.Result.Metadata[datasource.MetaInstanceID])
}

func TestResolveOrderDeterminism(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		build func() []datasource.Datasource
		want  string
	}{
		{
			name: "first candidate wins",
			build: func() []datasource.Datasource {
				return []datasource.Datasource{fake("A", true, "a"), fake("B", true, "b")}
			},
			want: "A",
		},
		{
			name: "probe error moves on",
			build: func() []datasource.Datasource {
				a := fake("A", true, "a")
				a.ProbeErr = boom
				return []datasource.Datasource{a, fake("B", true, "b")}
			},
			want: "B",
		},
		{
			name: "fetch failure moves on",
			build: func() []datasource.Datasource {
				a := fake("A", true, "a")
				a.FetchErrs = []error{boom}
				return []datasource.Datasource{a, fake("B", false, "b"), fake("C", true, "c")}
			},
			want: "C",
		},
		{
			name: "missing instance id is a fetch failure",
			build: func() []datasource.Datasource {
				return []datasource.Datasource{fake("A", true, ""), fake("B", true, "b")}
			},
			want: "B",
		},
		{
			name: "slow earlier candidate still wins",
			build: func() []datasource.Datasource {
				a := fake("A", true, "a")
				a.ProbeDelay = 50 * time.Millisecond
				return []datasource.Datasource{a, fake("B", true, "b")}
			},
			want: "A",
		},
	}

	for _, tt := range tests {
		for _, parallel := range []int{0, 4} {
			t.Run(tt.name, func(t *testing.T) {
				reg := datasource.NewRegistry(tt.build()...)
				r := New(reg, newStore(t), WithParallelProbes(parallel))
				res, err := r.Resolve(context.Background(), newBoot())
				require.NoError(t, err)
				assert.Equal(t, tt.want, res.Result.Datasource, "parallel=%d", parallel)
			})
		}
	}
}

func TestResolveAdoptsAtMostOneCandidate(t *testing.T) {
	a := fake("A", true, "a")
	b := fake("B", true, "b")

	_, err := New(datasource.NewRegistry(a, b), newStore(t)).Resolve(context.Background(), newBoot())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Fetches())
	assert.Equal(t, 0, b.Probes())
	assert.Equal(t, 0, b.Fetches())
}

func TestResolveExhausted(t *testing.T) {
	a := fake("A", false, "a")
	b := fake("B", true, "b")
	b.FetchErrs = []error{errors.New("unreachable")}

	res, err := New(datasource.NewRegistry(a, b), newStore(t)).Resolve(context.Background(), newBoot())
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeResolutionExhausted))
	assert.Nil(t, res.Result)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, PhaseProbe, res.Attempts[0].Phase)
	assert.False(t, res.Attempts[0].OK)
	assert.Equal(t, PhaseFetch, res.Attempts[2].Phase)
	assert.Contains(t, res.Attempts[2].Error, "unreachable")

	var se *cnserrors.StructuredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"A", "B"}, se.Context["candidates"])
}

func TestResolveNoCandidates(t *testing.T) {
	_, err := New(datasource.NewRegistry(), newStore(t)).Resolve(context.Background(), newBoot())
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeResolutionExhausted))
}

func TestResolveProbeTimeout(t *testing.T) {
	slow := fake("Slow", true, "s")
	slow.ProbeDelay = time.Second
	fast := fake("Fast", true, "f")

	r := New(datasource.NewRegistry(slow, fast), newStore(t), WithProbeTimeout(20*time.Millisecond))
	res, err := r.Resolve(context.Background(), newBoot())
	require.NoError(t, err)
	assert.Equal(t, "Fast", res.Result.Datasource)
	assert.Contains(t, res.Attempts[0].Error, "probe timed out")
}

func TestResolveRestoresCachedSelection(t *testing.T) {
	store := newStore(t)
	aws := fake("Ec2", false, "")
	ovf := fake("OVF", true, "i-1")
	ovf.FakeSpec.Restorable = true
	reg := datasource.NewRegistry(aws, ovf)

	_, err := New(reg, store).Resolve(context.Background(), newBoot())
	require.NoError(t, err)
	require.Equal(t, 1, aws.Probes())
	require.Equal(t, 1, ovf.Probes())

	res, err := New(reg, store).Resolve(context.Background(), newBoot())
	require.NoError(t, err)
	assert.True(t, res.Restored)
	assert.Equal(t, "i-1", res.Result.InstanceID)
	assert.Equal(t, 1, aws.Probes(), "restore must not probe")
	assert.Equal(t, 1, ovf.Probes(), "restore must not probe")
	assert.Equal(t, 2, ovf.Fetches())
}

func TestResolveRestoreFallsBackToProbing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*datasource.Fake, *bootctx.Context)
	}{
		{
			name: "fetch fails",
			mutate: func(f *datasource.Fake, _ *bootctx.Context) {
				f.FetchErrs = []error{nil, errors.New("gone")}
			},
		},
		{
			name: "fingerprint changed",
			mutate: func(_ *datasource.Fake, bc *bootctx.Context) {
				bc.DMI.ProductUUID = "cloned"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			ds := fake("NoCloud", true, "i-1")
			ds.FakeSpec.Restorable = true
			reg := datasource.NewRegistry(ds)

			_, err := New(reg, store).Resolve(context.Background(), newBoot())
			require.NoError(t, err)

			bc := newBoot()
			tt.mutate(ds, bc)
			res, err := New(reg, store).Resolve(context.Background(), bc)
			require.NoError(t, err)
			assert.False(t, res.Restored)
			assert.Equal(t, 2, ds.Probes())
		})
	}
}

func TestResolveNotRestorable(t *testing.T) {
	store := newStore(t)
	ds := fake("Ec2", true, "i-1")
	reg := datasource.NewRegistry(ds)

	for range 2 {
		res, err := New(reg, store).Resolve(context.Background(), newBoot())
		require.NoError(t, err)
		assert.False(t, res.Restored)
	}
	assert.Equal(t, 2, ds.Probes())
}

func TestResolveInstanceChangeClearsStages(t *testing.T) {
	store := newStore(t)
	_, err := store.Commit(func(rec *cache.Record) error {
		rec.InstanceID = "i-old"
		rec.Stages["local-init"] = cache.StageRecord{CompletedAt: epoch}
		rec.Stages["final"] = cache.StageRecord{CompletedAt: epoch}
		return nil
	})
	require.NoError(t, err)

	reg := datasource.NewRegistry(fake("NoCloud", true, "i-new"))
	_, err = New(reg, store, WithKeepStages("local-init")).Resolve(context.Background(), newBoot())
	require.NoError(t, err)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "i-new", rec.InstanceID)
	assert.True(t, rec.StageDone("local-init"))
	assert.False(t, rec.StageDone("final"))
	require.Len(t, rec.History, 1)
	assert.Equal(t, "i-old", rec.History[0].InstanceID)
}

func TestResolveCorruptCache(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	res, err := New(datasource.NewRegistry(fake("NoCloud", true, "i-1")), store).Resolve(context.Background(), newBoot())
	require.NoError(t, err)
	assert.True(t, res.CacheCorrupt)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "i-1", rec.InstanceID)
}

func TestResolveHintFirst(t *testing.T) {
	reg := datasource.NewRegistry(fake("NoCloud", true, "n"), fake("NoCloudNet", true, "nn"))
	bc := newBoot()
	bc.Hints.Datasource = "nocloud-net"

	res, err := New(reg, newStore(t)).Resolve(context.Background(), bc)
	require.NoError(t, err)
	assert.Equal(t, "NoCloudNet", res.Result.Datasource)
}

func TestResolveAvailableDependencies(t *testing.T) {
	net := fake("Ec2", true, "e")
	net.FakeSpec.Requires = []datasource.Dependency{datasource.DependsNetwork}
	local := fake("NoCloud", false, "")
	local.FakeSpec.Requires = []datasource.Dependency{datasource.DependsFilesystem}

	r := New(datasource.NewRegistry(net, local), newStore(t), WithAvailable(datasource.DependsFilesystem))
	_, err := r.Resolve(context.Background(), newBoot())
	require.Error(t, err)
	assert.Equal(t, 0, net.Probes())
	assert.Equal(t, 1, local.Probes())
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(datasource.NewRegistry(fake("A", true, "a")), newStore(t)).Resolve(ctx, newBoot())
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeTimeout))
}

func TestCachedForBoot(t *testing.T) {
	store := newStore(t)
	r := New(datasource.NewRegistry(fake("NoCloud", true, "i-1")), store)

	_, ok := r.CachedForBoot("boot-1")
	assert.False(t, ok)
	_, err := r.Cached()
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeNotFound))

	_, err = r.Resolve(context.Background(), newBoot())
	require.NoError(t, err)

	res, ok := r.CachedForBoot("boot-1")
	require.True(t, ok)
	assert.Equal(t, "NoCloud", res.Datasource)
	assert.Equal(t, "i-1", res.InstanceID)

	_, ok = r.CachedForBoot("boot-2")
	assert.False(t, ok)

	res, err = r.Cached()
	require.NoError(t, err)
	assert.Equal(t, "i-1", res.InstanceID)
}

func TestResolveCrawlsRequestedDatasource(t *testing.T) {
	tree := map[string]any{
		"instance-id": "crawled-id",
		"placement":   map[string]any{"availability-zone": "us-east-1a"},
		"ami-id":      "ami-123",
	}
	ds := &datasource.CrawlingFake{Fake: fake("Ec2", true, "i-1"), Tree: tree}
	store := newStore(t)

	res, err := New(datasource.NewRegistry(ds), store, WithCrawl("ec2")).Resolve(context.Background(), newBoot())
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Crawls())
	last := res.Attempts[len(res.Attempts)-1]
	assert.Equal(t, PhaseCrawl, last.Phase)
	assert.True(t, last.OK)

	rec, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec.Result)
	md := rec.Result.Metadata
	assert.Equal(t, "i-1", md[datasource.MetaInstanceID], "fetched keys win")
	assert.Equal(t, "ami-123", md["ami-id"])
	assert.Equal(t, map[string]any{"availability-zone": "us-east-1a"}, md["placement"])
}

func TestResolveCrawl(t *testing.T) {
	tests := []struct {
		name      string
		crawl     []string
		crawlErr  error
		wantCalls int
		wantAMI   bool
	}{
		{name: "not requested", wantCalls: 0},
		{name: "other datasource requested", crawl: []string{"OpenStack"}, wantCalls: 0},
		{name: "requested", crawl: []string{"EC2"}, wantCalls: 1, wantAMI: true},
		{name: "crawl failure keeps fetched metadata", crawl: []string{"Ec2"}, crawlErr: errors.New("imds gone"), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &datasource.CrawlingFake{
				Fake:     fake("Ec2", true, "i-1"),
				Tree:     map[string]any{"ami-id": "ami-123"},
				CrawlErr: tt.crawlErr,
			}
			res, err := New(datasource.NewRegistry(ds), newStore(t), WithCrawl(tt.crawl...)).
				Resolve(context.Background(), newBoot())
			require.NoError(t, err, "a crawl never fails resolution")
			assert.Equal(t, tt.wantCalls, ds.Crawls())
			_, hasAMI := res.Result.Metadata["ami-id"]
			assert.Equal(t, tt.wantAMI, hasAMI)
			assert.Equal(t, "i-1", res.Result.Metadata[datasource.MetaInstanceID])
		})
	}
}
