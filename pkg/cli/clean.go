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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/cns-init/pkg/cache"
)

func cleanCmd() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Remove persisted state so the next boot starts from scratch",
		Description: `Remove the instance cache. The next boot probes for a datasource again and
runs every module as if on a new instance.

With --all the per-instance script directories and the boot-finished marker
are removed as well.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Also remove instance scripts and the boot-finished marker",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			dir := cmd.String("state-dir")
			if err := cache.NewStore(dir).Clean(); err != nil {
				return err
			}
			slog.Info("instance cache removed", "dir", dir)

			if !cmd.Bool("all") {
				return nil
			}
			if err := os.RemoveAll(filepath.Join(dir, "instances")); err != nil {
				return fmt.Errorf("failed to remove instance directories: %w", err)
			}
			if err := os.Remove(filepath.Join(dir, "boot-finished")); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove boot-finished marker: %w", err)
			}
			return nil
		},
	}
}
