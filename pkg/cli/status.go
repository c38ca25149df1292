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

package cli

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/cns-init/pkg/cache"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/header"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// Status summarizes the cache for the status command.
type Status struct {
	header.Header `json:",inline" yaml:",inline"`

	Path       string    `json:"path" yaml:"path"`
	InstanceID string    `json:"instanceID,omitempty" yaml:"instanceID,omitempty"`
	Datasource string    `json:"datasource,omitempty" yaml:"datasource,omitempty"`
	Restorable bool      `json:"restorable" yaml:"restorable"`
	SelectedAt time.Time `json:"selectedAt,omitzero" yaml:"selectedAt,omitempty"`

	// Corrupt is set when the cache could not be trusted and was moved aside.
	Corrupt bool `json:"corrupt,omitempty" yaml:"corrupt,omitempty"`

	Stages    []StageStatus  `json:"stages" yaml:"stages"`
	Modules   []ModuleStatus `json:"modules" yaml:"modules"`
	Instances int            `json:"previousInstances" yaml:"previousInstances"`
}

// StageStatus is a stage completion marker.
type StageStatus struct {
	Stage             string `json:"stage" yaml:"stage"`
	cache.StageRecord `json:",inline" yaml:",inline"`
}

// ModuleStatus is the last run of a module.
type ModuleStatus struct {
	Name               string `json:"name" yaml:"name"`
	cache.ModuleRecord `json:",inline" yaml:",inline"`
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the selected datasource, completed stages and module runs",
		Flags: []cli.Flag{
			outputFlag,
			formatFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store := cache.NewStore(cmd.String("state-dir"))
			rec, err := store.Load()
			corrupt := false
			if err != nil {
				if !cnserrors.IsCode(err, cnserrors.ErrCodeCacheCorruption) {
					return err
				}
				slog.Warn("cache record is corrupt", "error", err)
				corrupt = true
			}
			return write(ctx, cmd, buildStatus(store.Path(), rec, corrupt))
		},
	}
}

func buildStatus(path string, rec *cache.Record, corrupt bool) *Status {
	s := &Status{
		Header:     header.New(header.KindStatus),
		Path:       path,
		InstanceID: rec.InstanceID,
		Corrupt:    corrupt,
		Stages:     []StageStatus{},
		Modules:    []ModuleStatus{},
		Instances:  len(rec.History),
	}
	if rec.Datasource != nil {
		s.Datasource = rec.Datasource.Name
		s.Restorable = rec.Datasource.Restorable
		s.SelectedAt = rec.Datasource.SelectedAt
	}
	for _, stage := range module.Stages() {
		if sr, ok := rec.Stages[string(stage)]; ok {
			s.Stages = append(s.Stages, StageStatus{Stage: string(stage), StageRecord: sr})
		}
	}
	for name, mr := range rec.Modules {
		s.Modules = append(s.Modules, ModuleStatus{Name: name, ModuleRecord: mr})
	}
	sort.Slice(s.Modules, func(i, j int) bool {
		return s.Modules[i].Name < s.Modules[j].Name
	})
	return s
}
