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

package config

import (
	"sort"
	"time"

	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/defaults"
	"github.com/NVIDIA/cns-init/pkg/merge"
)

// Probe controls datasource probing.
type Probe struct {
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	Parallel       bool          `json:"parallel" yaml:"parallel"`
	MaxConcurrency int           `json:"maxConcurrency" yaml:"max_concurrency"`
}

// Fetch controls the fetch retry schedule.
type Fetch struct {
	MaxWait time.Duration `json:"maxWait" yaml:"max_wait"`
	Initial time.Duration `json:"initial" yaml:"initial"`
	Factor  float64       `json:"factor" yaml:"factor"`
	Cap     time.Duration `json:"cap" yaml:"cap"`
	Steps   int           `json:"steps" yaml:"steps"`
}

// System is the typed view of system configuration the engine itself
// consumes. Everything else in the tree is for modules.
type System struct {
	DatasourceList []string                  `json:"datasourceList" yaml:"datasource_list"`
	Datasource     map[string]map[string]any `json:"datasource" yaml:"datasource"`
	Probe          Probe                     `json:"probe" yaml:"probe"`
	Fetch          Fetch                     `json:"fetch" yaml:"fetch"`
	ModuleTimeout  time.Duration             `json:"moduleTimeout" yaml:"module_timeout"`

	// Stages optionally lists the modules of each stage in run order.
	// Entries are a module name or a [name, frequency] pair.
	Stages map[string][]any `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GateModules names modules whose failure stops later stages.
	GateModules []string `json:"gateModules,omitempty" yaml:"gate_modules,omitempty"`

	// MergeTable replaces the default appendable table.
	MergeTable *merge.Table `json:"mergeTable,omitempty" yaml:"merge_table,omitempty"`
}

// SystemFrom decodes the engine settings from merged configuration and
// fills unset values with defaults.
func SystemFrom(cfg *merge.Config) (*System, error) {
	s := &System{}
	if err := cfg.Decode("datasource_list", &s.DatasourceList); err != nil {
		return nil, err
	}
	if err := cfg.Decode("datasource", &s.Datasource); err != nil {
		return nil, err
	}
	if err := cfg.Decode("probe", &s.Probe); err != nil {
		return nil, err
	}
	if err := cfg.Decode("fetch", &s.Fetch); err != nil {
		return nil, err
	}
	if err := cfg.Decode("module_timeout", &s.ModuleTimeout); err != nil {
		return nil, err
	}
	if err := cfg.Decode("stages", &s.Stages); err != nil {
		return nil, err
	}
	if err := cfg.Decode("gate_modules", &s.GateModules); err != nil {
		return nil, err
	}
	if cfg.Has("merge_table") {
		s.MergeTable = &merge.Table{}
		if err := cfg.Decode("merge_table", s.MergeTable); err != nil {
			return nil, err
		}
	}
	s.applyDefaults()
	return s, nil
}

func (s *System) applyDefaults() {
	if s.Probe.Timeout <= 0 {
		s.Probe.Timeout = defaults.ProbeTimeout
	}
	if s.Probe.MaxConcurrency <= 0 {
		s.Probe.MaxConcurrency = 4
	}
	b := datasource.DefaultBackoff()
	if s.Fetch.MaxWait <= 0 {
		s.Fetch.MaxWait = b.MaxWait
	}
	if s.Fetch.Initial <= 0 {
		s.Fetch.Initial = b.Initial
	}
	if s.Fetch.Factor < 1 {
		s.Fetch.Factor = b.Factor
	}
	if s.Fetch.Cap <= 0 {
		s.Fetch.Cap = b.Cap
	}
	if s.Fetch.Steps <= 0 {
		s.Fetch.Steps = b.Steps
	}
	if s.ModuleTimeout <= 0 {
		s.ModuleTimeout = defaults.ModuleTimeout
	}
}

// Backoff returns the fetch retry schedule.
func (s *System) Backoff() datasource.Backoff {
	return datasource.Backoff{
		Initial: s.Fetch.Initial,
		Factor:  s.Fetch.Factor,
		Cap:     s.Fetch.Cap,
		Steps:   s.Fetch.Steps,
		MaxWait: s.Fetch.MaxWait,
	}
}

// DatasourceSettings returns the per-datasource sections keyed by
// normalized name.
func (s *System) DatasourceSettings() map[string]map[string]any {
	out := make(map[string]map[string]any, len(s.Datasource))
	for name, settings := range s.Datasource {
		out[datasource.NormalizeName(name)] = settings
	}
	return out
}

// Table returns the appendable table in effect.
func (s *System) Table() merge.Table {
	if s.MergeTable != nil {
		return *s.MergeTable
	}
	return merge.DefaultTable
}

// CrawlDatasources names the datasources whose section sets "crawl: true",
// sorted.
func (s *System) CrawlDatasources() []string {
	var out []string
	for name, settings := range s.Datasource {
		if on, ok := settings["crawl"].(bool); ok && on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
