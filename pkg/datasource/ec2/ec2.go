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

package ec2

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Name is the EC2 datasource.
const Name = "Ec2"

const (
	settingMetadataURLs = "metadata_urls"
	settingStrict       = "strict_id"

	maxCrawlDepth = 8
)

// metadataKeys are copied into the result metadata when present.
var metadataKeys = map[string]string{
	"instance-id":                 datasource.MetaInstanceID,
	"local-hostname":              datasource.MetaLocalHostname,
	"hostname":                    "hostname",
	"instance-type":               "instance-type",
	"local-ipv4":                  "local-ipv4",
	"mac":                         "mac",
	"placement/availability-zone": "availability-zone",
	"placement/region":            "region",
	"ami-id":                      "ami-id",
}

// Datasource reads instance data from the EC2 instance metadata service
// using IMDSv2 session tokens.
type Datasource struct {
	spec    datasource.Spec
	client  *imds.Client
	backoff datasource.Backoff
	strict  bool
}

// New returns the EC2 datasource. The first entry of the metadata_urls
// setting overrides the default endpoint.
func New(cfg datasource.Config) *Datasource {
	settings := cfg.SettingsFor(Name)

	opts := imds.Options{Retryer: aws.NopRetryer{}}
	if urls, ok := settings[settingMetadataURLs].([]any); ok && len(urls) > 0 {
		if u, ok := urls[0].(string); ok {
			opts.Endpoint = u
		}
	}

	strict := false
	if v, ok := settings[settingStrict].(bool); ok {
		strict = v
	}

	return &Datasource{
		spec: datasource.Spec{
			Name:     Name,
			Priority: 40,
			Requires: []datasource.Dependency{datasource.DependsFilesystem, datasource.DependsNetwork},
		},
		client:  imds.New(opts),
		backoff: cfg.Backoff,
		strict:  strict,
	}
}

// Spec implements datasource.Datasource.
func (d *Datasource) Spec() datasource.Spec { return d.spec }

// Probe identifies EC2 from DMI or an explicit hint. Outside strict mode an
// unidentified platform is checked by asking the service for an instance-id.
func (d *Datasource) Probe(ctx context.Context, bc *bootctx.Context) (bool, error) {
	if bc.Hints.Platform == bootctx.PlatformAWS || bc.Hints.Requested(Name) {
		return true, nil
	}
	if d.strict || bc.Hints.Platform != bootctx.PlatformUnknown {
		return false, nil
	}
	id, err := d.get(ctx, "instance-id")
	if err != nil {
		return false, nil
	}
	return id != "", nil
}

// Fetch reads identity, hostname, keys and user-data, retrying transient
// failures.
func (d *Datasource) Fetch(ctx context.Context, _ *bootctx.Context) (*datasource.Result, error) {
	var res *datasource.Result
	err := datasource.Retry(ctx, d.backoff, d.spec.Name, func(ctx context.Context) error {
		var err error
		res, err = d.fetch(ctx)
		return err
	})
	return res, err
}

func (d *Datasource) fetch(ctx context.Context) (*datasource.Result, error) {
	md := map[string]any{}
	for src, dst := range metadataKeys {
		v, err := d.get(ctx, src)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		md[dst] = v
	}
	if _, ok := md[datasource.MetaInstanceID]; !ok {
		return nil, cnserrors.New(cnserrors.ErrCodeNotFound, "metadata service returned no instance-id")
	}

	keys, err := d.publicKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		md[datasource.MetaPublicKeys] = keys
	}

	userData, err := d.userData(ctx)
	if err != nil {
		return nil, err
	}

	return &datasource.Result{
		Datasource: d.spec.Name,
		InstanceID: md[datasource.MetaInstanceID].(string),
		Metadata:   md,
		UserData:   userData,
		Seed:       "imds",
	}, nil
}

// Crawl walks the complete meta-data tree.
func (d *Datasource) Crawl(ctx context.Context, _ *bootctx.Context) (map[string]any, error) {
	return d.crawl(ctx, "", 0)
}

func (d *Datasource) crawl(ctx context.Context, prefix string, depth int) (map[string]any, error) {
	listing, err := d.get(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	for _, entry := range strings.Split(listing, "\n") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasSuffix(entry, "/") {
			if depth >= maxCrawlDepth {
				continue
			}
			child, err := d.crawl(ctx, prefix+entry, depth+1)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, err
			}
			out[strings.TrimSuffix(entry, "/")] = child
			continue
		}
		v, err := d.get(ctx, prefix+entry)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out[entry] = v
	}
	return out, nil
}

// publicKeys resolves the "0=name" listing to OpenSSH keys.
func (d *Datasource) publicKeys(ctx context.Context) ([]any, error) {
	listing, err := d.get(ctx, "public-keys/")
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []any
	for _, line := range strings.Split(listing, "\n") {
		idx, _, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		key, err := d.get(ctx, path.Join("public-keys", idx, "openssh-key"))
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		keys = append(keys, strings.TrimSpace(key))
	}
	return keys, nil
}

func (d *Datasource) userData(ctx context.Context) ([]byte, error) {
	out, err := d.client.GetUserData(ctx, &imds.GetUserDataInput{})
	if err != nil {
		if isNotFound(err) {
			slog.Debug("instance has no user-data", "datasource", d.spec.Name)
			return nil, nil
		}
		return nil, cnserrors.Wrap(cnserrors.ErrCodeUnavailable, "failed to read user-data", err)
	}
	defer out.Content.Close()
	b, err := io.ReadAll(out.Content)
	if err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeUnavailable, "failed to read user-data", err)
	}
	return b, nil
}

func (d *Datasource) get(ctx context.Context, p string) (string, error) {
	out, err := d.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: p})
	if err != nil {
		if isNotFound(err) {
			return "", cnserrors.WrapWithContext(cnserrors.ErrCodeNotFound, "metadata path not found", err,
				map[string]any{"path": p})
		}
		return "", cnserrors.WrapWithContext(cnserrors.ErrCodeUnavailable, "metadata request failed", err,
			map[string]any{"path": p})
	}
	defer out.Content.Close()
	b, err := io.ReadAll(out.Content)
	if err != nil {
		return "", cnserrors.Wrap(cnserrors.ErrCodeUnavailable, "failed to read metadata", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// isNotFound reports whether err is an HTTP 404 from the service or an
// already classified NOT_FOUND error.
func isNotFound(err error) bool {
	if cnserrors.IsCode(err, cnserrors.ErrCodeNotFound) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
