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

package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	"github.com/NVIDIA/cns-init/pkg/distro"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// BootFinishedFile is written when the final stage reaches finalmessage.
var BootFinishedFile = path.Join(defaults.StateDir, "boot-finished")

// uptimeFile is read for $UPTIME.
var uptimeFile = "/proc/uptime"

// now is replaced in tests.
var now = time.Now

// finalMessage logs the configured completion message and marks the boot
// finished.
type finalMessage struct{}

func (finalMessage) Spec() module.Spec {
	return module.Spec{
		Name:      "finalmessage",
		Stage:     module.StageFinal,
		Frequency: module.FrequencyAlways,
		After:     []string{"runcmd", "scripts_user"},
		Requires:  []distro.Capability{distro.CapWriteFile},
	}
}

func (finalMessage) Apply(ctx context.Context, env *module.Env) module.Result {
	ts := now().UTC().Format(time.RFC3339)
	datasource := ""
	if env.Instance != nil {
		datasource = env.Instance.Datasource
	}
	vars := map[string]string{
		"TIMESTAMP":   ts,
		"DATASOURCE":  datasource,
		"INSTANCE_ID": env.InstanceID(),
		"UPTIME":      uptime(),
	}

	if msg := env.Config.String("final_message"); msg != "" {
		slog.Info(os.Expand(msg, func(k string) string { return vars[k] }),
			"stage", env.Stage,
			"instance_id", env.InstanceID())
	}

	files, err := env.Distro.Files()
	if err != nil {
		return module.Result{Err: err}
	}
	content := fmt.Sprintf("%s %s %s\n", ts, env.InstanceID(), datasource)
	changed, err := files.WriteFile(ctx, distro.File{Path: BootFinishedFile, Content: []byte(content), Perm: 0o644})
	return module.Result{Changed: changed, Err: err}
}

func uptime() string {
	b, err := os.ReadFile(uptimeFile)
	if err != nil {
		return "unknown"
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}
