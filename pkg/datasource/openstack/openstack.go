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

package openstack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/metadata"
)

// Name is the OpenStack datasource.
const Name = "OpenStack"

// DefaultMetadataURL is the link-local metadata service address.
const DefaultMetadataURL = "http://169.254.169.254"

const (
	settingMetadataURLs = "metadata_urls"

	docMetadata    = "meta_data.json"
	docUserData    = "user_data"
	docVendorData  = "vendor_data.json"
	docNetworkData = "network_data.json"
)

// Datasource reads the OpenStack metadata service.
type Datasource struct {
	spec    datasource.Spec
	client  *metadata.Client
	base    string
	backoff datasource.Backoff
}

// New returns the OpenStack datasource.
func New(cfg datasource.Config) *Datasource {
	base := DefaultMetadataURL
	if urls, ok := cfg.SettingsFor(Name)[settingMetadataURLs].([]any); ok && len(urls) > 0 {
		if u, ok := urls[0].(string); ok && u != "" {
			base = u
		}
	}
	return &Datasource{
		spec: datasource.Spec{
			Name:     Name,
			Priority: 50,
			Requires: []datasource.Dependency{datasource.DependsFilesystem, datasource.DependsNetwork},
		},
		client:  cfg.Client(),
		base:    base,
		backoff: cfg.Backoff,
	}
}

// Spec implements datasource.Datasource.
func (d *Datasource) Spec() datasource.Spec { return d.spec }

// Probe identifies OpenStack from DMI or an explicit hint.
func (d *Datasource) Probe(ctx context.Context, bc *bootctx.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return bc.Hints.Platform == bootctx.PlatformOpenStack || bc.Hints.Requested(Name), nil
}

// Fetch reads the latest metadata documents.
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
	raw, err := d.client.Get(ctx, d.url(docMetadata))
	if err != nil {
		return nil, err
	}
	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}

	md := map[string]any{"openstack": doc}
	if uuid, ok := doc["uuid"].(string); ok && uuid != "" {
		md[datasource.MetaInstanceID] = uuid
	}
	if host, ok := doc["hostname"].(string); ok && host != "" {
		md[datasource.MetaLocalHostname] = host
	}
	if keys, ok := doc["public_keys"]; ok {
		md[datasource.MetaPublicKeys] = keys
	}
	if az, ok := doc["availability_zone"]; ok {
		md["availability-zone"] = az
	}

	id, ok := md[datasource.MetaInstanceID].(string)
	if !ok {
		return nil, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "meta_data.json has no uuid")
	}

	userData, err := d.client.GetOptional(ctx, d.url(docUserData))
	if err != nil {
		return nil, err
	}

	vendorRaw, err := d.client.GetOptional(ctx, d.url(docVendorData))
	if err != nil {
		return nil, err
	}
	vendorData, err := vendorPayload(vendorRaw)
	if err != nil {
		return nil, err
	}

	networkRaw, err := d.client.GetOptional(ctx, d.url(docNetworkData))
	if err != nil {
		return nil, err
	}
	if len(networkRaw) > 0 {
		networkData, err := decodeJSON(networkRaw)
		if err != nil {
			return nil, err
		}
		md["network_data"] = networkData
	}

	return &datasource.Result{
		Datasource: d.spec.Name,
		InstanceID: id,
		Metadata:   md,
		UserData:   userData,
		VendorData: vendorData,
		Seed:       d.base,
	}, nil
}

// Crawl returns every latest document decoded.
func (d *Datasource) Crawl(ctx context.Context, _ *bootctx.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, name := range []string{docMetadata, docVendorData, docNetworkData} {
		raw, err := d.client.GetOptional(ctx, d.url(name))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		doc, err := decodeJSON(raw)
		if err != nil {
			return nil, err
		}
		out[name] = doc
	}
	return out, nil
}

func (d *Datasource) url(doc string) string {
	return metadata.Join(d.base, "openstack", "latest", doc)
}

// vendorPayload extracts vendor-data from vendor_data.json, which holds
// either a string or an object with a "cloud-init" entry.
func vendorPayload(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(jsonc.ToJSON(raw), &v); err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid vendor_data.json", err)
	}
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case map[string]any:
		switch ci := t["cloud-init"].(type) {
		case nil:
			return nil, nil
		case string:
			return []byte(ci), nil
		default:
			b, err := json.Marshal(ci)
			if err != nil {
				return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid vendor_data.json", err)
			}
			return b, nil
		}
	case nil:
		return nil, nil
	default:
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "unsupported vendor_data.json",
			map[string]any{"type": fmt.Sprintf("%T", v)})
	}
}

func decodeJSON(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(raw), &out); err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid metadata document", err)
	}
	return out, nil
}
