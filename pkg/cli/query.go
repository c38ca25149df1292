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
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/cns-init/pkg/cache"
	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/header"
	"github.com/NVIDIA/cns-init/pkg/merge"
	"github.com/NVIDIA/cns-init/pkg/resolver"
)

// QueryResult is the output of the query command.
type QueryResult struct {
	header.Header `json:",inline" yaml:",inline"`

	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

func queryCmd() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Print cached instance data",
		ArgsUsage: "[key]",
		Description: `Print data of the datasource selected during the last resolution. Without a
key the whole result is printed. Keys:

  datasource, instance-id, seed, user-data, vendor-data,
  metadata[.<name>], network-config[.<path>], config[.<path>]

Examples:

  cnsinit query instance-id
  cnsinit query metadata.local-hostname --format json`,
		Flags: []cli.Flag{
			outputFlag,
			formatFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store := cache.NewStore(cmd.String("state-dir"))
			rec, err := store.Load()
			if err != nil {
				return err
			}
			res, err := resolver.FromRecord(rec)
			if err != nil {
				return err
			}

			key := cmd.Args().First()
			value, err := lookup(res, key)
			if err != nil {
				return err
			}
			if key == "" {
				key = "all"
			}
			return write(ctx, cmd, &QueryResult{
				Header: header.New(header.KindQueryResult),
				Key:    key,
				Value:  value,
			})
		},
	}
}

func queryTree(res *datasource.Result) map[string]any {
	tree := map[string]any{
		"datasource":  res.Datasource,
		"instance-id": res.InstanceID,
		"seed":        res.Seed,
		"user-data":   string(res.UserData),
		"vendor-data": string(res.VendorData),
	}
	if len(res.Metadata) > 0 {
		tree["metadata"] = res.Metadata
	}
	if len(res.NetworkConfig) > 0 {
		tree["network-config"] = res.NetworkConfig
	}
	if len(res.Config) > 0 {
		tree["config"] = res.Config
	}
	return tree
}

// lookup resolves a dotted key against the cached result.
func lookup(res *datasource.Result, key string) (any, error) {
	tree := queryTree(res)
	if key == "" || key == "all" {
		return tree, nil
	}

	b, err := merge.NewBuilder()
	if err != nil {
		return nil, err
	}
	cfg, err := b.Merge(merge.Layer{Name: "query", Data: tree})
	if err != nil {
		return nil, err
	}
	v, ok := cfg.Get(key)
	if !ok {
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeNotFound,
			fmt.Sprintf("key %q not found in cached instance data", key),
			map[string]any{"instance_id": res.InstanceID})
	}
	return v, nil
}
