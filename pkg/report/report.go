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

package report

import (
	"fmt"
	"time"

	"github.com/NVIDIA/cns-init/pkg/header"
)

// Status is the outcome of a single module in a stage.
type Status string

const (
	StatusRan     Status = "ran"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Module describes what happened to one module.
type Module struct {
	Name      string        `json:"name" yaml:"name"`
	Frequency string        `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Status    Status        `json:"status" yaml:"status"`
	Changed   bool          `json:"changed,omitempty" yaml:"changed,omitempty"`
	Reason    string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Stage aggregates the module outcomes of one stage run.
type Stage struct {
	Stage      string    `json:"stage" yaml:"stage"`
	InstanceID string    `json:"instanceID,omitempty" yaml:"instanceID,omitempty"`
	Datasource string    `json:"datasource,omitempty" yaml:"datasource,omitempty"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`

	// Restored is set when the datasource was re-fetched without probing.
	Restored bool `json:"restored,omitempty" yaml:"restored,omitempty"`

	// AlreadyCompleted is set when the stage had completed earlier in the
	// same boot and nothing ran.
	AlreadyCompleted bool `json:"alreadyCompleted,omitempty" yaml:"alreadyCompleted,omitempty"`

	// GateFailed is set when a gating module failed.
	GateFailed bool `json:"gateFailed,omitempty" yaml:"gateFailed,omitempty"`

	Modules  []Module      `json:"modules" yaml:"modules"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Error is the fatal error that aborted the stage, if any.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewStage returns an empty report for stage.
func NewStage(stage string, started time.Time) *Stage {
	return &Stage{
		Stage:     stage,
		StartedAt: started,
		Modules:   []Module{},
	}
}

// Add appends a module outcome.
func (s *Stage) Add(m Module) {
	s.Modules = append(s.Modules, m)
}

func (s *Stage) count(status Status) int {
	n := 0
	for _, m := range s.Modules {
		if m.Status == status {
			n++
		}
	}
	return n
}

// Ran returns the number of modules that ran successfully.
func (s *Stage) Ran() int {
	return s.count(StatusRan)
}

// Skipped returns the number of modules skipped by frequency.
func (s *Stage) Skipped() int {
	return s.count(StatusSkipped)
}

// Failed returns the names of failed modules in run order.
func (s *Stage) Failed() []string {
	failed := make([]string, 0)
	for _, m := range s.Modules {
		if m.Status == StatusFailed {
			failed = append(failed, m.Name)
		}
	}
	return failed
}

// HasFailures reports whether any module failed.
func (s *Stage) HasFailures() bool {
	return s.count(StatusFailed) > 0
}

// Summary returns a one line description of the stage run.
func (s *Stage) Summary() string {
	if s.AlreadyCompleted {
		return fmt.Sprintf("Stage %s already completed this boot.", s.Stage)
	}
	return fmt.Sprintf(
		"Stage %s finished in %v. Ran: %d, skipped: %d, failed: %d.",
		s.Stage,
		s.Duration.Round(time.Millisecond),
		s.Ran(),
		s.Skipped(),
		len(s.Failed()),
	)
}

// Boot aggregates the stages run by one boot event.
type Boot struct {
	header.Header `json:",inline" yaml:",inline"`

	EventID  string        `json:"eventID" yaml:"eventID"`
	Stages   []*Stage      `json:"stages" yaml:"stages"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewBoot returns an empty boot report.
func NewBoot(eventID string) *Boot {
	return &Boot{
		Header:  header.New(header.KindBootReport),
		EventID: eventID,
		Stages:  []*Stage{},
	}
}

// Add appends a stage report.
func (b *Boot) Add(s *Stage) {
	if s != nil {
		b.Stages = append(b.Stages, s)
	}
}

// HasFailures reports whether any module of any stage failed.
func (b *Boot) HasFailures() bool {
	for _, s := range b.Stages {
		if s.HasFailures() {
			return true
		}
	}
	return false
}

// Failed returns "stage/module" for every failed module.
func (b *Boot) Failed() []string {
	failed := make([]string, 0)
	for _, s := range b.Stages {
		for _, name := range s.Failed() {
			failed = append(failed, s.Stage+"/"+name)
		}
	}
	return failed
}

// Summary returns a one line description of the boot event.
func (b *Boot) Summary() string {
	ran, skipped := 0, 0
	for _, s := range b.Stages {
		ran += s.Ran()
		skipped += s.Skipped()
	}
	return fmt.Sprintf(
		"Boot %s ran %d stages in %v. Modules ran: %d, skipped: %d, failed: %d.",
		b.EventID,
		len(b.Stages),
		b.Duration.Round(time.Millisecond),
		ran,
		skipped,
		len(b.Failed()),
	)
}
