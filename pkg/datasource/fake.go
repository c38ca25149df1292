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
	"sync/atomic"
	"time"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Fake is a scriptable Datasource for tests of components that consume
// datasources.
type Fake struct {
	FakeSpec Spec

	// Found and ProbeErr script the probe outcome.
	Found    bool
	ProbeErr error

	// ProbeDelay blocks the probe until it elapses or ctx is done.
	ProbeDelay time.Duration

	// FetchErrs are returned by successive fetches before Result is.
	FetchErrs []error
	Result    *Result

	probes  atomic.Int32
	fetches atomic.Int32
}

// Spec implements Datasource.
func (f *Fake) Spec() Spec { return f.FakeSpec }

// Probe implements Datasource.
func (f *Fake) Probe(ctx context.Context, _ *bootctx.Context) (bool, error) {
	f.probes.Add(1)
	if f.ProbeDelay > 0 {
		select {
		case <-time.After(f.ProbeDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.Found, f.ProbeErr
}

// Fetch implements Datasource.
func (f *Fake) Fetch(ctx context.Context, _ *bootctx.Context) (*Result, error) {
	n := int(f.fetches.Add(1))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= len(f.FetchErrs) && f.FetchErrs[n-1] != nil {
		return nil, f.FetchErrs[n-1]
	}
	if f.Result == nil {
		return nil, cnserrors.New(cnserrors.ErrCodeNotFound, "fake has no result")
	}
	res := *f.Result
	res.Datasource = f.FakeSpec.Name
	return &res, nil
}

// Probes returns the number of probe calls.
func (f *Fake) Probes() int { return int(f.probes.Load()) }

// Fetches returns the number of fetch calls.
func (f *Fake) Fetches() int { return int(f.fetches.Load()) }

// CrawlingFake is a Fake that also walks a scripted metadata tree.
type CrawlingFake struct {
	*Fake

	Tree     map[string]any
	CrawlErr error

	crawls atomic.Int32
}

// Crawl implements Crawler.
func (f *CrawlingFake) Crawl(ctx context.Context, _ *bootctx.Context) (map[string]any, error) {
	f.crawls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.CrawlErr != nil {
		return nil, f.CrawlErr
	}
	return f.Tree, nil
}

// Crawls returns the number of crawl calls.
func (f *CrawlingFake) Crawls() int { return int(f.crawls.Load()) }
