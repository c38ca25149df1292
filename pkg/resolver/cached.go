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
	"github.com/NVIDIA/cns-init/pkg/cache"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// ToRecord converts a fetched result into its persisted form.
func ToRecord(r *datasource.Result) *cache.ResultRecord {
	if r == nil {
		return nil
	}
	return &cache.ResultRecord{
		Metadata:      r.Metadata,
		UserData:      r.UserData,
		VendorData:    r.VendorData,
		NetworkConfig: r.NetworkConfig,
		Config:        r.Config,
		Seed:          r.Seed,
	}
}

// FromRecord rebuilds the result persisted by an earlier resolution.
// It returns NOT_FOUND when the record holds no selection.
func FromRecord(rec *cache.Record) (*datasource.Result, error) {
	if rec == nil || rec.Datasource == nil || rec.Result == nil || rec.InstanceID == "" {
		return nil, cnserrors.New(cnserrors.ErrCodeNotFound, "no cached datasource selection")
	}
	return &datasource.Result{
		Datasource:    rec.Datasource.Name,
		InstanceID:    rec.InstanceID,
		Metadata:      rec.Result.Metadata,
		UserData:      rec.Result.UserData,
		VendorData:    rec.Result.VendorData,
		NetworkConfig: rec.Result.NetworkConfig,
		Config:        rec.Result.Config,
		Seed:          rec.Result.Seed,
	}, nil
}

// Cached loads the selection persisted by an earlier resolution.
func (r *Resolver) Cached() (*datasource.Result, error) {
	rec, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	return FromRecord(rec)
}

// CachedForBoot returns the persisted selection only when it was made during
// the boot identified by bootID.
func (r *Resolver) CachedForBoot(bootID string) (*datasource.Result, bool) {
	if bootID == "" {
		return nil, false
	}
	rec, err := r.store.Load()
	if err != nil || rec.Datasource == nil || rec.Datasource.BootID != bootID {
		return nil, false
	}
	res, err := FromRecord(rec)
	if err != nil {
		return nil, false
	}
	return res, true
}
