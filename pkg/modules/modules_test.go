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

package modules

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"path"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/cns-init/pkg/config"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	"github.com/NVIDIA/cns-init/pkg/defaults"
	"github.com/NVIDIA/cns-init/pkg/distro"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/merge"
	"github.com/NVIDIA/cns-init/pkg/module"
)

func newEnv(t *testing.T, stage module.Stage, tree map[string]any, fake *distro.Fake) *module.Env {
	t.Helper()
	b, err := merge.NewBuilder()
	require.NoError(t, err)
	cfg, err := b.Merge(merge.Layer{Name: "test", Data: tree})
	require.NoError(t, err)
	return &module.Env{
		Stage:  stage,
		Config: cfg,
		Distro: fake.Capabilities(),
		Instance: &datasource.Result{
			Datasource: "NoCloud",
			InstanceID: "i-1",
			Metadata: map[string]any{
				datasource.MetaLocalHostname: "meta-host",
				datasource.MetaPublicKeys:    []any{"ssh-ed25519 AAAA meta"},
			},
		},
	}
}

func TestRegisteredModules(t *testing.T) {
	reg := module.NewFromGlobal()
	for _, name := range []string{"network", "write_files", "bootcmd", "hostname", "sshkeys", "packages",
		"scripts_vendor", "runcmd", "scripts_user", "write_files_deferred", "finalmessage"} {
		_, ok := reg.Get(name)
		assert.True(t, ok, name)
	}
	assert.Len(t, reg.ForStage(module.StageLocalInit), 1)
	assert.Len(t, reg.ForStage(module.StageFinal), 5)
}

func TestHostname(t *testing.T) {
	tests := []struct {
		name string
		tree map[string]any
		want []string
	}{
		{"metadata fallback", map[string]any{}, []string{"meta-host"}},
		{"config hostname", map[string]any{"hostname": "cfg-host"}, []string{"cfg-host"}},
		{"short fqdn", map[string]any{"fqdn": "node.example.com"}, []string{"node"}},
		{"prefer fqdn", map[string]any{"fqdn": "node.example.com", "hostname": "x", "prefer_fqdn_over_hostname": true}, []string{"node.example.com"}},
		{"preserved", map[string]any{"preserve_hostname": true, "hostname": "cfg-host"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &distro.Fake{}
			res := hostname{}.Apply(context.Background(), newEnv(t, module.StageNetworkConfig, tt.tree, fake))
			require.NoError(t, res.Err)
			assert.Equal(t, tt.want, fake.Hostnames())
			assert.Equal(t, len(tt.want) > 0, res.Changed)
		})
	}
}

func TestNetwork(t *testing.T) {
	dsNet := map[string]any{"version": 2, "ethernets": map[string]any{"eth0": map[string]any{"dhcp4": true}}}

	t.Run("datasource config", func(t *testing.T) {
		fake := &distro.Fake{}
		env := newEnv(t, module.StageLocalInit, map[string]any{}, fake)
		env.Instance.NetworkConfig = dsNet
		res := network{}.Apply(context.Background(), env)
		require.NoError(t, res.Err)
		assert.True(t, res.Changed)
		require.Len(t, fake.Networks(), 1)
		assert.Equal(t, dsNet, fake.Networks()[0])
	})

	t.Run("config overrides datasource", func(t *testing.T) {
		fake := &distro.Fake{}
		env := newEnv(t, module.StageLocalInit, map[string]any{"network": map[string]any{"version": 1}}, fake)
		env.Instance.NetworkConfig = dsNet
		require.NoError(t, network{}.Apply(context.Background(), env).Err)
		require.Len(t, fake.Networks(), 1)
		assert.Equal(t, 1, fake.Networks()[0]["version"])
	})

	t.Run("disabled", func(t *testing.T) {
		fake := &distro.Fake{}
		env := newEnv(t, module.StageLocalInit, map[string]any{"network": map[string]any{"config": "disabled"}}, fake)
		env.Instance.NetworkConfig = dsNet
		res := network{}.Apply(context.Background(), env)
		require.NoError(t, res.Err)
		assert.Empty(t, fake.Networks())
	})

	t.Run("no instance", func(t *testing.T) {
		fake := &distro.Fake{}
		env := newEnv(t, module.StageLocalInit, map[string]any{}, fake)
		env.Instance = nil
		res := network{}.Apply(context.Background(), env)
		require.NoError(t, res.Err)
		assert.False(t, res.Changed)
	})
}

func TestBootcmd(t *testing.T) {
	fake := &distro.Fake{}
	env := newEnv(t, module.StageNetworkConfig, map[string]any{
		"bootcmd": []any{"echo hello", []any{"touch", "/run/flag"}},
		config.KeyBoothooks: []any{
			map[string]any{"name": "hook.sh", "content": "#cloud-boothook\necho hook"},
		},
	}, fake)

	res := bootcmd{}.Apply(context.Background(), env)
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)

	hookPath := path.Join(defaults.StateDir, "instances", "i-1", "boothooks", "hook.sh")
	files := fake.Files()
	require.Len(t, files, 1)
	assert.Equal(t, hookPath, files[0].Path)
	assert.Equal(t, fs.FileMode(0o700), files[0].Perm)

	cmds := fake.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, hookPath, cmds[0].Name)
	assert.Equal(t, "/bin/sh", cmds[1].Name)
	assert.Equal(t, []string{"-c", "echo hello"}, cmds[1].Args)
	assert.Contains(t, cmds[1].Env, "INSTANCE_ID=i-1")
	assert.Equal(t, "touch", cmds[2].Name)
	assert.Equal(t, []string{"/run/flag"}, cmds[2].Args)
}

func TestRuncmd(t *testing.T) {
	t.Run("runs entries", func(t *testing.T) {
		fake := &distro.Fake{}
		env := newEnv(t, module.StageFinal, map[string]any{"runcmd": []any{"a", "b"}}, fake)
		res := runcmd{}.Apply(context.Background(), env)
		require.NoError(t, res.Err)
		assert.Len(t, fake.Commands(), 2)
	})

	t.Run("nothing to do", func(t *testing.T) {
		fake := &distro.Fake{}
		res := runcmd{}.Apply(context.Background(), newEnv(t, module.StageFinal, map[string]any{}, fake))
		require.NoError(t, res.Err)
		assert.False(t, res.Changed)
	})

	t.Run("invalid entry", func(t *testing.T) {
		fake := &distro.Fake{}
		env := newEnv(t, module.StageFinal, map[string]any{"runcmd": []any{map[string]any{"x": 1}}}, fake)
		res := runcmd{}.Apply(context.Background(), env)
		assert.True(t, cnserrors.IsCode(res.Err, cnserrors.ErrCodeInvalidRequest))
		assert.Empty(t, fake.Commands())
	})

	t.Run("command failure stops", func(t *testing.T) {
		fake := &distro.Fake{Errs: map[distro.Capability]error{distro.CapRunCommand: errors.New("exit 1")}}
		env := newEnv(t, module.StageFinal, map[string]any{"runcmd": []any{"false", "true"}}, fake)
		res := runcmd{}.Apply(context.Background(), env)
		require.Error(t, res.Err)
		assert.Len(t, fake.Commands(), 1)
	})
}

func TestScripts(t *testing.T) {
	fake := &distro.Fake{Errs: map[distro.Capability]error{distro.CapRunCommand: errors.New("exit 2")}}
	env := newEnv(t, module.StageFinal, map[string]any{
		config.KeyUserScripts: []any{
			map[string]any{"name": "../escape.sh", "content": "#!/bin/sh\nexit 2"},
			map[string]any{"name": "", "content": "#!/bin/sh\nexit 2"},
		},
	}, fake)

	res := userScripts.Apply(context.Background(), env)
	require.Error(t, res.Err)
	assert.True(t, res.Changed)

	files := fake.Files()
	require.Len(t, files, 2)
	dir := path.Join(defaults.StateDir, "instances", "i-1", "user-scripts")
	assert.Equal(t, path.Join(dir, "_escape.sh"), files[0].Path)
	assert.Equal(t, path.Join(dir, "part-002"), files[1].Path)

	res = vendorScripts.Apply(context.Background(), env)
	require.NoError(t, res.Err)
	assert.False(t, res.Changed)
}

func TestSSHKeys(t *testing.T) {
	fake := &distro.Fake{}
	env := newEnv(t, module.StageNetworkConfig, map[string]any{
		"ssh_authorized_keys": []any{"ssh-rsa BBBB cfg"},
		"users": []any{
			map[string]any{"name": "ops", "ssh_authorized_keys": []any{"ssh-rsa CCCC ops"}},
			map[string]any{"name": "nokeys"},
		},
	}, fake)

	res := sshkeys{}.Apply(context.Background(), env)
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"ssh-ed25519 AAAA meta", "ssh-rsa BBBB cfg"}, fake.Keys("root"))
	assert.Equal(t, []string{"ssh-rsa CCCC ops"}, fake.Keys("ops"))
	assert.Empty(t, fake.Keys("nokeys"))
}

func TestWriteFiles(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte("compressed"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tree := map[string]any{
		"write_files": []any{
			map[string]any{"path": "/etc/plain", "content": "plain", "permissions": "0600", "owner": "root:root"},
			map[string]any{"path": "/etc/b64", "content": base64.StdEncoding.EncodeToString([]byte("decoded")), "encoding": "b64"},
			map[string]any{"path": "/etc/gz", "content": base64.StdEncoding.EncodeToString(gz.Bytes()), "encoding": "gz+b64"},
			map[string]any{"path": "/etc/later", "content": "later", "defer": true},
			map[string]any{"content": "no path"},
			map[string]any{"path": "/etc/append", "content": "line\n", "append": true, "permissions": 0o640},
		},
	}

	fake := &distro.Fake{}
	early := writeFiles{name: "write_files", stage: module.StageNetworkConfig}
	res := early.Apply(context.Background(), newEnv(t, module.StageNetworkConfig, tree, fake))
	require.Error(t, res.Err, "entry without path is reported")
	assert.Contains(t, res.Err.Error(), "write_files[4]")
	assert.True(t, res.Changed)

	files := fake.Files()
	require.Len(t, files, 4)
	assert.Equal(t, distro.File{Path: "/etc/plain", Content: []byte("plain"), Perm: 0o600, Owner: "root:root"}, files[0])
	assert.Equal(t, "decoded", string(files[1].Content))
	assert.Equal(t, "compressed", string(files[2].Content))
	assert.Equal(t, fs.FileMode(0o644), files[2].Perm)
	assert.Equal(t, "/etc/append", files[3].Path)
	assert.True(t, files[3].Append)
	assert.Equal(t, fs.FileMode(0o640), files[3].Perm)

	deferredFake := &distro.Fake{}
	late := writeFiles{name: "write_files_deferred", stage: module.StageFinal, deferred: true}
	res = late.Apply(context.Background(), newEnv(t, module.StageFinal, tree, deferredFake))
	require.NoError(t, res.Err)
	require.Len(t, deferredFake.Files(), 1)
	assert.Equal(t, "/etc/later", deferredFake.Files()[0].Path)
}

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		in      any
		want    fs.FileMode
		wantErr bool
	}{
		{nil, 0o644, false},
		{"", 0o644, false},
		{"0755", 0o755, false},
		{"0o600", 0o600, false},
		{420, 0o644, false},
		{"rwx", 0, true},
		{1.5, 0, true},
	}
	for _, tt := range tests {
		got, err := parsePermissions(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestPackages(t *testing.T) {
	tree := map[string]any{"packages": []any{"curl", []any{"jq", "1.6"}}}

	fake := &distro.Fake{}
	env := newEnv(t, module.StagePostNetworkConfig, tree, fake)
	res := packages{}.Apply(context.Background(), env)
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)
	assert.Equal(t, [][]string{{"curl", "jq-1.6"}}, fake.Packages())

	name, err := packageSpec(distro.FamilyDebian, []any{"jq", "1.6"})
	require.NoError(t, err)
	assert.Equal(t, "jq=1.6", name)

	_, err = packageSpec(distro.FamilyDebian, []any{"a", "b", "c"})
	assert.Error(t, err)

	empty := &distro.Fake{}
	res = packages{}.Apply(context.Background(), newEnv(t, module.StagePostNetworkConfig, map[string]any{}, empty))
	require.NoError(t, res.Err)
	assert.False(t, res.Changed)
	assert.Empty(t, empty.Packages())
}

func TestFinalMessage(t *testing.T) {
	saved := now
	now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = saved })

	fake := &distro.Fake{}
	env := newEnv(t, module.StageFinal, map[string]any{"final_message": "done $INSTANCE_ID via $DATASOURCE"}, fake)
	res := finalMessage{}.Apply(context.Background(), env)
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)

	files := fake.Files()
	require.Len(t, files, 1)
	assert.Equal(t, BootFinishedFile, files[0].Path)
	assert.Equal(t, "2025-03-01T12:00:00Z i-1 NoCloud\n", string(files[0].Content))
}
