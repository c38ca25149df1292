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
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/merge"
)

func write(t *testing.T, fsys billy.Filesystem, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, path, []byte(content), 0o644))
}

func builder(t *testing.T) *merge.Builder {
	t.Helper()
	b, err := merge.NewBuilder()
	require.NoError(t, err)
	return b
}

func TestLayersOrder(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/etc/cloud/cloud.cfg", "datasource_list: [NoCloud, None]\nruncmd: [a]\n")
	write(t, fsys, "/etc/cloud/cloud.cfg.d/90-late.cfg", "runcmd: [c]\n")
	write(t, fsys, "/etc/cloud/cloud.cfg.d/10-early.json", `{"runcmd": ["b"], // early
	}`)
	write(t, fsys, "/etc/cloud/cloud.cfg.d/README", "not a fragment")

	l := NewLoader(WithFilesystem(fsys))
	layers, err := l.Layers()
	require.NoError(t, err)

	names := make([]string, 0, len(layers))
	for _, layer := range layers {
		names = append(names, layer.Name)
	}
	assert.Equal(t, []string{"defaults", "system", "system:10-early.json", "system:90-late.cfg"}, names)

	cfg, err := l.Load(builder(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Strings("runcmd"))
	assert.Equal(t, []string{"NoCloud", "None"}, cfg.Strings("datasource_list"))
}

func TestLayersMissingFiles(t *testing.T) {
	layers, err := NewLoader(WithFilesystem(memfs.New())).Layers()
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, LayerDefaults, layers[0].Name)
}

func TestLayersMalformed(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/etc/cloud/cloud.cfg.d/50-bad.yaml", "a: [unclosed\n")

	_, err := NewLoader(WithFilesystem(fsys)).Layers()
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest))
}

func TestSystemFromDefaults(t *testing.T) {
	cfg, err := NewLoader(WithFilesystem(memfs.New())).Load(builder(t))
	require.NoError(t, err)

	sys, err := SystemFrom(cfg)
	require.NoError(t, err)
	assert.Empty(t, sys.DatasourceList)
	assert.Equal(t, 5*time.Second, sys.Probe.Timeout)
	assert.False(t, sys.Probe.Parallel)
	assert.Equal(t, 4, sys.Probe.MaxConcurrency)
	assert.Equal(t, datasource.DefaultBackoff(), sys.Backoff())
	assert.Equal(t, 10*time.Minute, sys.ModuleTimeout)
	assert.Equal(t, merge.DefaultTable, sys.Table())
}

func TestSystemFromOverrides(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/etc/cloud/cloud.cfg", `
datasource_list: [Ec2]
datasource:
  Ec2:
    metadata_urls: ["http://10.0.0.1"]
    crawl: true
  OpenStack:
    crawl: false
probe:
  timeout: 2s
  parallel: true
fetch:
  max_wait: 5s
stages:
  final: [finalmessage, [runcmd, always]]
merge_table:
  version: "1.1"
  paths: [runcmd]
`)
	cfg, err := NewLoader(WithFilesystem(fsys)).Load(builder(t))
	require.NoError(t, err)

	sys, err := SystemFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ec2"}, sys.DatasourceList)
	assert.Equal(t, 2*time.Second, sys.Probe.Timeout)
	assert.True(t, sys.Probe.Parallel)
	assert.Equal(t, 5*time.Second, sys.Backoff().MaxWait)
	assert.Equal(t, []any{"http://10.0.0.1"}, sys.DatasourceSettings()["ec2"]["metadata_urls"])
	assert.Len(t, sys.Stages["final"], 2)
	assert.Equal(t, []string{"runcmd"}, sys.Table().Paths)
	assert.Equal(t, []string{"Ec2"}, sys.CrawlDatasources())
}

func TestDecode(t *testing.T) {
	out, err := Decode("x.cfg", []byte("   "))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = Decode("x.cfg", []byte(`{"a": 1,}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["a"])

	_, err = Decode("x.json", []byte("a: b"))
	require.Error(t, err)
}

func TestBuildInstance(t *testing.T) {
	b := builder(t)
	system, err := b.Merge(merge.Layer{Name: "system", Data: map[string]any{
		"hostname": "from-system",
		"runcmd":   []any{"sys"},
	}})
	require.NoError(t, err)

	res := &datasource.Result{
		Datasource: "NoCloud",
		InstanceID: "i-1",
		Config:     map[string]any{"password": "pw"},
		VendorData: []byte("#cloud-config\nhostname: from-vendor\nruncmd: [vendor]\n"),
		UserData: []byte("Content-Type: multipart/mixed; boundary=b\n\n" +
			"--b\nContent-Type: text/cloud-config\n\nhostname: from-user\nruncmd: [user]\n" +
			"--b\nContent-Type: text/x-shellscript\n\n#!/bin/sh\necho hi\n" +
			"--b--\n"),
	}

	inst, err := BuildInstance(b, system, res, map[string]any{"hostname": "from-cmdline"})
	require.NoError(t, err)

	cfg := inst.Config
	assert.Equal(t, "from-cmdline", cfg.String("hostname"))
	assert.Equal(t, []string{"sys", "vendor", "user"}, cfg.Strings("runcmd"))
	assert.Equal(t, "pw", cfg.String("password"))
	require.Len(t, cfg.Slice(KeyUserScripts), 1)
	assert.Empty(t, cfg.Slice(KeyVendorScripts))
	assert.Equal(t, []string{"system", "datasource", "vendor-data[0]", "user-data[0]", "scripts", "cmdline"}, cfg.Sources())
}

func TestBuildInstanceVendorDisabled(t *testing.T) {
	b := builder(t)
	res := &datasource.Result{
		InstanceID: "i-1",
		VendorData: []byte("#cloud-config\npackages: [vendor-pkg]\n"),
		UserData:   []byte("#cloud-config\nvendor_data: {enabled: false}\n"),
	}

	inst, err := BuildInstance(b, nil, res, nil)
	require.NoError(t, err)
	assert.False(t, inst.Config.Has("packages"))
	assert.Len(t, inst.VendorData.Configs, 1, "vendor-data is still decoded for reporting")
}

func TestBuildInstanceNoResult(t *testing.T) {
	inst, err := BuildInstance(builder(t), nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, inst.UserData.Empty())
	assert.Equal(t, []string{"scripts"}, inst.Config.Sources())
}
