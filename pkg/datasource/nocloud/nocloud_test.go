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

package nocloud

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/metadata"
)

type fakeMounter struct {
	fsys    billy.Filesystem
	mounted []string
}

func (m *fakeMounter) WithMount(_ context.Context, device, fstype string, fn func(fsys billy.Filesystem) error) error {
	m.mounted = append(m.mounted, device+":"+fstype)
	if fstype != "iso9660" {
		return cnserrors.New(cnserrors.ErrCodeUnavailable, "wrong fstype")
	}
	return fn(m.fsys)
}

func write(t *testing.T, fsys billy.Filesystem, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, path, []byte(content), 0o644))
}

func testContext() *bootctx.Context {
	return &bootctx.Context{SeedDir: "/seed", Hints: bootctx.Hints{Options: map[string]string{}}}
}

func TestProbeAndFetchSeedDir(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/seed/nocloud/meta-data", "instance-id: iid-abc\nlocal-hostname: node1\n")
	write(t, fsys, "/seed/nocloud/user-data", "#cloud-config\n{}\n")

	ds := New(datasource.Config{FS: fsys})
	bc := testContext()

	found, err := ds.Probe(context.Background(), bc)
	require.NoError(t, err)
	assert.True(t, found)

	res, err := ds.Fetch(context.Background(), bc)
	require.NoError(t, err)
	assert.Equal(t, "iid-abc", res.InstanceID)
	assert.Equal(t, "node1", res.LocalHostname())
	assert.Equal(t, Name, res.Datasource)
	assert.Equal(t, "/seed/nocloud", res.Seed)
	assert.True(t, ds.Spec().Restorable)
}

func TestProbeNoSeed(t *testing.T) {
	ds := New(datasource.Config{FS: memfs.New()})
	found, err := ds.Probe(context.Background(), testContext())
	require.NoError(t, err)
	assert.False(t, found)

	_, err = ds.Fetch(context.Background(), testContext())
	require.Error(t, err)
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeNotFound))
}

func TestHintOverridesMetadata(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/custom/meta-data", "instance-id: from-seed\nlocal-hostname: seedhost\n")

	bc := testContext()
	bc.Hints = bootctx.Hints{
		Datasource: "nocloud",
		Options: map[string]string{
			bootctx.OptSeedFrom:   "file:///custom",
			bootctx.OptInstanceID: "from-cmdline",
		},
	}

	ds := New(datasource.Config{FS: fsys})
	res, err := ds.Fetch(context.Background(), bc)
	require.NoError(t, err)
	assert.Equal(t, "from-cmdline", res.InstanceID)
	assert.Equal(t, "seedhost", res.LocalHostname())
	assert.Equal(t, "/custom", res.Seed)
}

func TestHintIgnoredForOtherDatasource(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/seed/nocloud/meta-data", "instance-id: iid-local\n")

	bc := testContext()
	bc.Hints = bootctx.Hints{Datasource: "ec2", Options: map[string]string{bootctx.OptInstanceID: "other"}}

	res, err := New(datasource.Config{FS: fsys}).Fetch(context.Background(), bc)
	require.NoError(t, err)
	assert.Equal(t, "iid-local", res.InstanceID)
}

func TestSettingsMetadataAndUserData(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/seed/nocloud-net/meta-data", "instance-id: iid-1\n")

	cfg := datasource.Config{
		FS: fsys,
		Settings: map[string]map[string]any{
			"nocloud": {
				"meta-data": map[string]any{"local-hostname": "configured"},
				"user-data": "#cloud-config\nruncmd: [true]\n",
			},
		},
	}
	res, err := New(cfg).Fetch(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "configured", res.LocalHostname())
	assert.Contains(t, string(res.UserData), "runcmd")
}

func TestLabelledVolume(t *testing.T) {
	fsys := memfs.New()
	write(t, fsys, "/dev/disk/by-label/CIDATA", "")

	volume := memfs.New()
	write(t, volume, "meta-data", "instance-id: iid-volume\n")
	mounter := &fakeMounter{fsys: volume}

	ds := New(datasource.Config{FS: fsys, Mounter: mounter})
	found, err := ds.Probe(context.Background(), testContext())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, mounter.mounted, "probe must not mount")

	res, err := ds.Fetch(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "iid-volume", res.InstanceID)
	assert.Equal(t, "/dev/disk/by-label/CIDATA", res.Seed)
	assert.Equal(t, []string{"/dev/disk/by-label/CIDATA:iso9660"}, mounter.mounted)
}

func TestNetSeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/meta-data" {
			_, _ = w.Write([]byte("instance-id: iid-net\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	bc := testContext()
	bc.Hints = bootctx.Hints{Datasource: "nocloud-net", Options: map[string]string{bootctx.OptSeedFrom: srv.URL + "/"}}

	ds := NewNet(datasource.Config{
		FS:      memfs.New(),
		HTTP:    metadata.NewClient(metadata.WithRateLimit(0, 0)),
		Backoff: datasource.Backoff{Steps: 1},
	})
	assert.True(t, ds.Spec().Needs(datasource.DependsNetwork))

	found, err := ds.Probe(context.Background(), bc)
	require.NoError(t, err)
	assert.True(t, found)

	res, err := ds.Fetch(context.Background(), bc)
	require.NoError(t, err)
	assert.Equal(t, "iid-net", res.InstanceID)
	assert.Equal(t, NameNet, res.Datasource)
}

func TestLocalRejectsRemoteSeedFrom(t *testing.T) {
	bc := testContext()
	bc.Hints = bootctx.Hints{Datasource: "nocloud", Options: map[string]string{bootctx.OptSeedFrom: "http://example.com/"}}

	found, err := New(datasource.Config{FS: memfs.New()}).Probe(context.Background(), bc)
	require.NoError(t, err)
	assert.False(t, found)
}
