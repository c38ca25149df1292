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
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

const (
	// DefaultUserAgent identifies cnsinit to metadata services.
	DefaultUserAgent = "cnsinit/1.0"

	// DefaultMaxBodySize bounds a single metadata response.
	DefaultMaxBodySize = 16 << 20
)

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithTotalTimeout bounds every request end to end.
func WithTotalTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.totalTimeout = timeout
	}
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = timeout
	}
}

// WithRateLimit limits requests per second with the given burst.
// A zero limit disables rate limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithMaxBodySize bounds response bodies.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		c.maxBodySize = n
	}
}

// WithHTTPClient replaces the underlying client. Transport related options
// are ignored for custom clients.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// Client reads instance metadata over HTTP. Metadata services are link-local
// and often throttle aggressively, so requests pass through a token bucket.
type Client struct {
	userAgent      string
	totalTimeout   time.Duration
	connectTimeout time.Duration
	maxBodySize    int64
	headers        http.Header
	limiter        *rate.Limiter
	client         *http.Client
}

// NewClient returns a Client with tuned timeouts and the default rate limit.
func NewClient(opts ...Option) *Client {
	c := &Client{
		userAgent:      DefaultUserAgent,
		totalTimeout:   defaults.HTTPClientTimeout,
		connectTimeout: defaults.HTTPConnectTimeout,
		maxBodySize:    DefaultMaxBodySize,
		headers:        http.Header{},
		limiter:        rate.NewLimiter(rate.Limit(defaults.MetadataRequestsPerSecond), defaults.MetadataBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{
			Timeout:   c.totalTimeout,
			Transport: newTransport(c.connectTimeout),
		}
	}
	return c
}

func newTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		// Metadata services must be reached directly, never through a proxy.
		Proxy: nil,

		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,

		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: defaults.HTTPKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   defaults.HTTPTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaults.HTTPResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       defaults.HTTPIdleConnTimeout,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Get fetches url. A 404 returns a NOT_FOUND error so callers can treat
// optional documents as absent; other failures are UNAVAILABLE.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "url is empty")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, cnserrors.Wrap(cnserrors.ErrCodeTimeout, "rate limiter wait aborted", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, fmt.Sprintf("failed to create request for %s", url), err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeUnavailable, "metadata request failed", err,
			map[string]any{"url": url})
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeNotFound, "metadata document not found",
			map[string]any{"url": url})
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeUnavailable,
			fmt.Sprintf("metadata request returned %s", resp.Status), map[string]any{"url": url})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeUnavailable, "failed to read metadata response", err)
	}
	if int64(len(data)) > c.maxBodySize {
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "metadata response too large",
			map[string]any{"url": url, "limit": c.maxBodySize})
	}
	return data, nil
}

// GetOptional is Get that maps NOT_FOUND to (nil, nil).
func (c *Client) GetOptional(ctx context.Context, url string) ([]byte, error) {
	data, err := c.Get(ctx, url)
	if cnserrors.IsCode(err, cnserrors.ErrCodeNotFound) {
		return nil, nil
	}
	return data, err
}

// Join appends path elements to a base URL with single slashes.
func Join(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		out += "/" + strings.Trim(e, "/")
	}
	return out
}
