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
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/cns-init/pkg/bootctx"
	"github.com/NVIDIA/cns-init/pkg/cache"
	"github.com/NVIDIA/cns-init/pkg/config"
	"github.com/NVIDIA/cns-init/pkg/distro"
	"github.com/NVIDIA/cns-init/pkg/module"
	"github.com/NVIDIA/cns-init/pkg/pipeline"

	// Register built-in datasources and modules.
	_ "github.com/NVIDIA/cns-init/pkg/datasource/all"
	_ "github.com/NVIDIA/cns-init/pkg/modules"
)

func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "root",
			Usage: "Read system files and apply changes relative to this directory instead of /",
		},
		&cli.StringFlag{
			Name:    "seed-dir",
			Usage:   "Directory holding local datasource seeds",
			Sources: cli.EnvVars("CNSINIT_SEED_DIR"),
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Run stages again even if they already completed during this boot",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write Prometheus metrics in textfile collector format to this path on exit",
		},
		outputFlag,
		formatFlag,
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Run a single boot stage",
		Description: `Run one stage of the boot pipeline. Each stage is normally started by its own
systemd unit:

  cnsinit init --stage local-init
  cnsinit init --stage network-config
  cnsinit init --stage post-network-config
  cnsinit init --stage final

A stage that already completed during the current boot is skipped unless
--force is given.`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "stage",
				Aliases:  []string{"s"},
				Required: true,
				Usage:    "Stage to run (local-init, network-config, post-network-config, final)",
			},
		}, pipelineFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			stage, err := module.ParseStage(cmd.String("stage"))
			if err != nil {
				return err
			}
			if _, err := parseOutputFormat(cmd); err != nil {
				return err
			}
			defer writeMetrics(cmd)

			p, err := newPipeline(ctx, cmd)
			if err != nil {
				return err
			}
			rep, runErr := p.Run(ctx, stage)
			if err := write(ctx, cmd, rep); err != nil {
				slog.Error("failed to write stage report", "error", err)
			}
			if runErr != nil {
				return runErr
			}
			notifyReady()
			if rep.HasFailures() {
				return partialFailure(rep.Failed())
			}
			return nil
		},
	}
}

func bootCmd() *cli.Command {
	return &cli.Command{
		Name:  "boot",
		Usage: "Run every boot stage in order",
		Description: `Run local-init, network-config, post-network-config and final in one process.
Stops at the first fatal error. Module failures are reported and the exit
code is 3.`,
		Flags: pipelineFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, err := parseOutputFormat(cmd); err != nil {
				return err
			}
			defer writeMetrics(cmd)

			p, err := newPipeline(ctx, cmd)
			if err != nil {
				return err
			}
			eventID := uuid.New().String()
			slog.Info("boot event started", "event_id", eventID)

			rep, runErr := p.Boot(ctx, eventID)
			if err := write(ctx, cmd, rep); err != nil {
				slog.Error("failed to write boot report", "error", err)
			}
			if runErr != nil {
				return runErr
			}
			slog.Info(rep.Summary(), "event_id", eventID)
			notifyReady()
			if rep.HasFailures() {
				return partialFailure(rep.Failed())
			}
			return nil
		},
	}
}

func newPipeline(ctx context.Context, cmd *cli.Command) (*pipeline.Pipeline, error) {
	var bcOpts []bootctx.Option
	loaderOpts := []config.Option{
		config.WithFile(cmd.String("config")),
		config.WithDir(cmd.String("config-dir")),
	}
	var distroOpts []distro.Option

	if root := cmd.String("root"); root != "" {
		fs := osfs.New(root)
		bcOpts = append(bcOpts, bootctx.WithRoot(root))
		loaderOpts = append(loaderOpts, config.WithFilesystem(fs))
		distroOpts = append(distroOpts, distro.WithFilesystem(fs))
	}
	if seed := cmd.String("seed-dir"); seed != "" {
		bcOpts = append(bcOpts, bootctx.WithSeedDir(seed))
	}

	bc, err := bootctx.Collect(ctx, bcOpts...)
	if err != nil {
		return nil, err
	}

	return pipeline.New(bc, cache.NewStore(cmd.String("state-dir")),
		pipeline.WithLoader(config.NewLoader(loaderOpts...)),
		pipeline.WithDistro(distro.Detect(bc, distroOpts...)),
		pipeline.WithForce(cmd.Bool("force")),
		pipeline.WithNotify(notifyStatus),
	)
}

// notifyStatus reports progress to systemd when running under a
// Type=notify unit. It is a no-op otherwise.
func notifyStatus(status string) {
	if _, err := daemon.SdNotify(false, "STATUS="+status); err != nil {
		slog.Debug("sd_notify failed", "error", err)
	}
}

func notifyReady() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Debug("sd_notify failed", "error", err)
	}
}

func writeMetrics(cmd *cli.Command) {
	path := cmd.String("metrics-file")
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		slog.Warn("failed to write metrics file", "path", path, "error", err)
	}
}
