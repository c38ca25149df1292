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

package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			http.Error(w, "bad agent", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/header", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Metadata-Flavor")))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	mux.HandleFunc("/fail", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientGet(t *testing.T) {
	srv := newServer(t)
	c := NewClient(WithRateLimit(0, 0))
	ctx := context.Background()

	body, err := c.Get(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = c.Get(ctx, srv.URL+"/missing")
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeNotFound))

	body, err = c.GetOptional(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	assert.Nil(t, body)

	_, err = c.Get(ctx, srv.URL+"/fail")
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeUnavailable))

	_, err = c.Get(ctx, "")
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest))
}

func TestClientHeadersAndLimits(t *testing.T) {
	srv := newServer(t)
	c := NewClient(WithHeader("Metadata-Flavor", "Google"), WithMaxBodySize(16))

	body, err := c.Get(context.Background(), srv.URL+"/header")
	require.NoError(t, err)
	assert.Equal(t, "Google", string(body))

	_, err = c.Get(context.Background(), srv.URL+"/big")
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest))
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	srv := newServer(t)
	c := NewClient(WithRateLimit(rate.Every(time.Hour), 1))

	_, err := c.Get(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, srv.URL+"/ok")
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeTimeout))
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient(WithRateLimit(0, 0), WithTotalTimeout(200*time.Millisecond), WithConnectTimeout(100*time.Millisecond))
	_, err := c.Get(context.Background(), "http://127.0.0.1:1/")
	assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeUnavailable))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "http://169.254.169.254/openstack/latest/meta_data.json",
		Join("http://169.254.169.254/", "/openstack/", "latest", "meta_data.json"))
}
