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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/serializer"
)

// runWithFlags runs action under a command carrying the output flags.
func runWithFlags(t *testing.T, format, output string, action cli.ActionFunc) {
	t.Helper()
	cmd := &cli.Command{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: format},
			&cli.StringFlag{Name: "output", Value: output},
		},
		Action: action,
	}
	require.NoError(t, cmd.Run(context.Background(), []string{"test"}))
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		name       string
		format     string
		wantFormat serializer.Format
		wantErr    bool
	}{
		{name: "yaml", format: "yaml", wantFormat: serializer.FormatYAML},
		{name: "json", format: "json", wantFormat: serializer.FormatJSON},
		{name: "table", format: "table", wantFormat: serializer.FormatTable},
		{name: "mixed case with spaces", format: " Json ", wantFormat: serializer.FormatJSON},
		{name: "xml rejected", format: "xml", wantErr: true},
		{name: "empty rejected", format: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runWithFlags(t, tt.format, "", func(_ context.Context, c *cli.Command) error {
				got, err := parseOutputFormat(c)
				if tt.wantErr {
					require.Error(t, err)
					assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest))
					return nil
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantFormat, got)
				return nil
			})
		})
	}
}

func TestWriteToOutputFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "result.json")
	value := QueryResult{Key: "instance-id", Value: "iid-test"}

	runWithFlags(t, "json", out, func(ctx context.Context, c *cli.Command) error {
		return write(ctx, c, value)
	})

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"iid-test"`)
	assert.Contains(t, string(b), `"instance-id"`)
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	runWithFlags(t, "xml", "", func(ctx context.Context, c *cli.Command) error {
		err := write(ctx, c, QueryResult{})
		assert.True(t, cnserrors.IsCode(err, cnserrors.ErrCodeInvalidRequest))
		return nil
	})
}
