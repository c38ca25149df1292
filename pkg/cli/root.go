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
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	"github.com/NVIDIA/cns-init/pkg/logging"
	"github.com/NVIDIA/cns-init/pkg/serializer"
)

const (
	name           = "cnsinit"
	versionDefault = "dev"
)

var (
	// overridden during build with ldflags
	version = versionDefault
	commit  = "unknown"
	date    = "unknown"
)

var (
	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output file path (default: stdout)",
	}

	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"t"},
		Value:   string(serializer.FormatYAML),
		Usage:   fmt.Sprintf("Output format (supported: %v)", serializer.SupportedFormats()),
	}
)

// Execute runs the CLI and exits with the code matching the outcome.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd().Run(ctx, os.Args)
	code := ExitCode(err)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cancel()
	os.Exit(code)
}

func newRootCmd() *cli.Command {
	return &cli.Command{
		Name:                  name,
		Version:               version,
		Usage:                 "Cloud instance initialization",
		EnableShellCompletion: true,
		Description: `cnsinit discovers the datasource of a freshly booted instance and applies its
configuration in four stages: local-init, network-config, post-network-config
and final. Progress is persisted so every stage resumes where the previous
boot left off.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Shorthand for --log-level=debug",
				Sources: cli.EnvVars("CNSINIT_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Value:   defaults.StateDir,
				Usage:   "Directory holding the instance cache",
				Sources: cli.EnvVars("CNSINIT_STATE_DIR"),
			},
			&cli.StringFlag{
				Name:    "config",
				Value:   defaults.SystemConfigFile,
				Usage:   "System configuration file",
				Sources: cli.EnvVars("CNSINIT_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Value:   defaults.SystemConfigDir,
				Usage:   "Directory of system configuration fragments",
				Sources: cli.EnvVars("CNSINIT_CONFIG_DIR"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := cmd.String("log-level")
			if cmd.Bool("debug") {
				level = "debug"
			}
			logging.SetDefaultStructuredLoggerWithLevel(name, version, level)
			slog.Debug("starting",
				"name", name,
				"version", version,
				"commit", commit,
				"date", date)
			return ctx, nil
		},
		Commands: []*cli.Command{
			initCmd(),
			bootCmd(),
			queryCmd(),
			statusCmd(),
			cleanCmd(),
			versionCmd(),
		},
	}
}

func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	return serializer.ParseFormat(cmd.String("format"))
}

// write serializes v to the --output destination.
func write(ctx context.Context, cmd *cli.Command, v any) error {
	format, err := parseOutputFormat(cmd)
	if err != nil {
		return err
	}
	w := serializer.NewFileWriterOrStdout(format, cmd.String("output"))
	defer func() {
		if cerr := w.Close(); cerr != nil {
			slog.Warn("failed to close output", "error", cerr)
		}
	}()
	return w.Serialize(ctx, v)
}
