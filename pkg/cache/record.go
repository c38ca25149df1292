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

package cache

import (
	"maps"
	"time"

	"github.com/NVIDIA/cns-init/pkg/header"
	"github.com/NVIDIA/cns-init/pkg/version"
)

// Schema is the record schema written by this package. Records with a
// different major version are treated as corrupt.
var Schema = version.New(1, 0)

// Record is everything cnsinit remembers across boots.
type Record struct {
	header.Header `json:",inline" yaml:",inline"`

	Schema string `json:"schema" yaml:"schema"`

	// InstanceID is the instance identity the pipeline last ran for.
	InstanceID string `json:"instanceID,omitempty" yaml:"instanceID,omitempty"`

	Datasource *DatasourceRecord `json:"datasource,omitempty" yaml:"datasource,omitempty"`
	Result     *ResultRecord     `json:"result,omitempty" yaml:"result,omitempty"`

	// Stages maps stage name to its completion record for InstanceID.
	Stages map[string]StageRecord `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Modules maps module name to its last run.
	Modules map[string]ModuleRecord `json:"modules,omitempty" yaml:"modules,omitempty"`

	// History holds previous instances, oldest first.
	History []HistoryEntry `json:"history,omitempty" yaml:"history,omitempty"`

	UpdatedAt time.Time `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
}

// DatasourceRecord describes the selected datasource.
type DatasourceRecord struct {
	Name        string    `json:"name" yaml:"name"`
	Restorable  bool      `json:"restorable" yaml:"restorable"`
	Fingerprint string    `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	BootID      string    `json:"bootID,omitempty" yaml:"bootID,omitempty"`
	SelectedAt  time.Time `json:"selectedAt" yaml:"selectedAt"`
}

// ResultRecord is the raw payload returned by the selected datasource.
type ResultRecord struct {
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	UserData      []byte         `json:"userData,omitempty" yaml:"userData,omitempty"`
	VendorData    []byte         `json:"vendorData,omitempty" yaml:"vendorData,omitempty"`
	NetworkConfig map[string]any `json:"networkConfig,omitempty" yaml:"networkConfig,omitempty"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Seed          string         `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// StageRecord marks a completed stage.
type StageRecord struct {
	CompletedAt time.Time `json:"completedAt" yaml:"completedAt"`
	BootID      string    `json:"bootID,omitempty" yaml:"bootID,omitempty"`
	Ran         int       `json:"ran" yaml:"ran"`
	Skipped     int       `json:"skipped" yaml:"skipped"`
	Failed      []string  `json:"failed,omitempty" yaml:"failed,omitempty"`

	// GateFailed is set when a gating module of the stage failed.
	GateFailed bool `json:"gateFailed,omitempty" yaml:"gateFailed,omitempty"`
}

// ModuleRecord is the last run of a module.
type ModuleRecord struct {
	// LastInstanceID is the instance the module last succeeded for.
	LastInstanceID string `json:"lastInstanceID,omitempty" yaml:"lastInstanceID,omitempty"`

	// LastSuccess is when the module last succeeded. Zero when it never did.
	LastSuccess time.Time `json:"lastSuccess,omitzero" yaml:"lastSuccess,omitempty"`

	LastRun   time.Time `json:"lastRun" yaml:"lastRun"`
	Stage     string    `json:"stage" yaml:"stage"`
	Frequency string    `json:"frequency" yaml:"frequency"`
	Changed   bool      `json:"changed" yaml:"changed"`
	LastError string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	Runs      int       `json:"runs" yaml:"runs"`
}

// Succeeded reports whether the module has ever completed successfully.
func (m ModuleRecord) Succeeded() bool {
	return !m.LastSuccess.IsZero()
}

// HistoryEntry archives an instance the machine used to be.
type HistoryEntry struct {
	InstanceID string                 `json:"instanceID" yaml:"instanceID"`
	Datasource string                 `json:"datasource,omitempty" yaml:"datasource,omitempty"`
	ReplacedAt time.Time              `json:"replacedAt" yaml:"replacedAt"`
	Stages     map[string]StageRecord `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// MaxHistory bounds the number of archived instances.
const MaxHistory = 20

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{
		Header:  header.New(header.KindInstanceRecord),
		Schema:  Schema.String(),
		Stages:  map[string]StageRecord{},
		Modules: map[string]ModuleRecord{},
	}
}

// IsEmpty reports whether the record holds no prior state.
func (r *Record) IsEmpty() bool {
	return r.InstanceID == "" && r.Datasource == nil && len(r.Modules) == 0
}

// InstanceChanged reports whether id differs from the recorded instance.
// An empty record counts as changed: nothing has run for id yet.
func (r *Record) InstanceChanged(id string) bool {
	return r.InstanceID != id
}

// SwitchInstance makes id the current instance. When it replaces a previous
// instance, that instance is archived and every stage marker except the
// ones named in keep is cleared. Module records are kept: their
// LastInstanceID no longer matches, which makes per-instance modules due.
func (r *Record) SwitchInstance(id string, now time.Time, keep ...string) {
	if r.InstanceID == id {
		return
	}
	if r.InstanceID != "" {
		r.History = append(r.History, HistoryEntry{
			InstanceID: r.InstanceID,
			Datasource: datasourceName(r.Datasource),
			ReplacedAt: now,
			Stages:     maps.Clone(r.Stages),
		})
		if len(r.History) > MaxHistory {
			r.History = r.History[len(r.History)-MaxHistory:]
		}
	}

	kept := make(map[string]StageRecord, len(keep))
	for _, name := range keep {
		if s, ok := r.Stages[name]; ok {
			kept[name] = s
		}
	}
	r.Stages = kept
	r.InstanceID = id
}

// StageDone reports whether stage completed for the current instance.
func (r *Record) StageDone(stage string) bool {
	_, ok := r.Stages[stage]
	return ok
}

// Module returns the module record for name.
func (r *Record) Module(name string) (ModuleRecord, bool) {
	m, ok := r.Modules[name]
	return m, ok
}

func (r *Record) ensureMaps() {
	if r.Stages == nil {
		r.Stages = map[string]StageRecord{}
	}
	if r.Modules == nil {
		r.Modules = map[string]ModuleRecord{}
	}
}

func datasourceName(d *DatasourceRecord) string {
	if d == nil {
		return ""
	}
	return d.Name
}
