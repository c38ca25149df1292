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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/cns-init/pkg/cache"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: ExitSuccess},
		{name: "plain error", err: errors.New("boom"), want: ExitError},
		{name: "partial", err: partialFailure([]string{"final/runcmd"}), want: ExitPartialFailure},
		{name: "wrapped partial", err: fmt.Errorf("boot: %w", partialFailure(nil)), want: ExitPartialFailure},
		{name: "exhausted", err: cnserrors.New(cnserrors.ErrCodeResolutionExhausted, "none"), want: ExitResolutionFailure},
		{name: "cycle", err: cnserrors.New(cnserrors.ErrCodeOrderingCycle, "a -> b -> a"), want: ExitConfigError},
		{name: "config", err: cnserrors.New(cnserrors.ErrCodeInvalidRequest, "bad"), want: ExitConfigError},
		{name: "gated", err: cnserrors.New(cnserrors.ErrCodeStageGated, "gated"), want: ExitPartialFailure},
		{name: "timeout", err: cnserrors.New(cnserrors.ErrCodeTimeout, "cancelled"), want: ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.Writer = &out
	err := cmd.Run(context.Background(), append([]string{name, "--log-level", "error"}, args...))
	return out.String(), err
}

func seedStore(t *testing.T, dir string) {
	t.Helper()
	_, err := cache.NewStore(dir).Commit(func(r *cache.Record) error {
		r.SwitchInstance("iid-abc", time.Now())
		r.Datasource = &cache.DatasourceRecord{Name: "NoCloud", Restorable: true, SelectedAt: time.Now()}
		r.Result = &cache.ResultRecord{
			Metadata: map[string]any{"instance-id": "iid-abc", "local-hostname": "node1"},
			UserData: []byte("#cloud-config\n"),
		}
		r.Stages = map[string]cache.StageRecord{"final": {CompletedAt: time.Now(), Ran: 2, Failed: []string{"runcmd"}}}
		r.Modules = map[string]cache.ModuleRecord{"runcmd": {LastError: "exit status 1", Runs: 1}}
		return nil
	})
	require.NoError(t, err)
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestQuery(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)
	outFile := filepath.Join(t.TempDir(), "q.json")

	_, err := run(t, "--state-dir", dir, "query", "--format", "json", "--output", outFile, "metadata.local-hostname")
	require.NoError(t, err)
	got := readJSON(t, outFile)
	assert.Equal(t, "QueryResult", got["kind"])
	assert.Equal(t, "node1", got["value"])

	_, err = run(t, "--state-dir", dir, "query", "--format", "json", "--output", outFile, "user-data")
	require.NoError(t, err)
	assert.Equal(t, "#cloud-config\n", readJSON(t, outFile)["value"])

	_, err = run(t, "--state-dir", dir, "query", "--format", "json", "--output", outFile, "metadata.missing")
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeNotFound))
}

func TestQueryWithoutCache(t *testing.T) {
	_, err := run(t, "--state-dir", t.TempDir(), "query", "instance-id")
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeNotFound))
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)
	outFile := filepath.Join(t.TempDir(), "status.json")

	_, err := run(t, "--state-dir", dir, "status", "--format", "json", "--output", outFile)
	require.NoError(t, err)
	got := readJSON(t, outFile)
	assert.Equal(t, "Status", got["kind"])
	assert.Equal(t, "iid-abc", got["instanceID"])
	assert.Equal(t, "NoCloud", got["datasource"])

	stages, ok := got["stages"].([]any)
	require.True(t, ok)
	require.Len(t, stages, 1)
	assert.Equal(t, "final", stages[0].(map[string]any)["stage"])

	modules, ok := got["modules"].([]any)
	require.True(t, ok)
	require.Len(t, modules, 1)
	assert.Equal(t, "exit status 1", modules[0].(map[string]any)["lastError"])
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)
	scripts := filepath.Join(dir, "instances", "iid-abc", "user-scripts")
	require.NoError(t, os.MkdirAll(scripts, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot-finished"), []byte("x"), 0o644))

	_, err := run(t, "--state-dir", dir, "clean")
	require.NoError(t, err)
	_, err = os.Stat(cache.NewStore(dir).Path())
	assert.True(t, os.IsNotExist(err))
	assert.DirExists(t, scripts)

	_, err = run(t, "--state-dir", dir, "clean", "--all")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "instances"))
	assert.NoFileExists(t, filepath.Join(dir, "boot-finished"))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cnsinit dev")
}

func TestInitRejectsUnknownStage(t *testing.T) {
	_, err := run(t, "--state-dir", t.TempDir(), "init", "--stage", "late")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestInitLocalStage(t *testing.T) {
	root := t.TempDir()
	stateDir := t.TempDir()
	seed := filepath.Join(root, "var/lib/cnsinit/seed/nocloud")
	require.NoError(t, os.MkdirAll(seed, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "meta-data"), []byte("instance-id: iid-local\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "proc/sys/kernel/random"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "proc/sys/kernel/random/boot_id"), []byte("boot-test\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc/cloud"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/cloud/cloud.cfg"),
		[]byte("datasource_list: [NoCloud]\nnetwork:\n  config: disabled\n"), 0o644))

	reportFile := filepath.Join(t.TempDir(), "report.json")
	metricsFile := filepath.Join(t.TempDir(), "cnsinit.prom")
	_, err := run(t,
		"--state-dir", stateDir,
		"init", "--stage", "local-init",
		"--root", root,
		"--format", "json",
		"--output", reportFile,
		"--metrics-file", metricsFile,
	)
	require.NoError(t, err)

	rep := readJSON(t, reportFile)
	assert.Equal(t, "local-init", rep["stage"])
	assert.Equal(t, "iid-local", rep["instanceID"])
	assert.Equal(t, "NoCloud", rep["datasource"])

	rec, err := cache.NewStore(stateDir).Load()
	require.NoError(t, err)
	assert.Equal(t, "iid-local", rec.InstanceID)
	assert.True(t, rec.StageDone("local-init"))
	assert.FileExists(t, metricsFile)

	// Same boot: the stage is not repeated.
	_, err = run(t,
		"--state-dir", stateDir,
		"init", "--stage", "local-init",
		"--root", root,
		"--format", "json",
		"--output", reportFile,
	)
	require.NoError(t, err)
	assert.Equal(t, true, readJSON(t, reportFile)["alreadyCompleted"])
}
