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

package distro

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// SystemdManager restarts units through the systemd D-Bus API.
type SystemdManager struct{}

// RestartService restarts unit and waits for the job to finish. A unit
// without a suffix is treated as a service.
func (SystemdManager) RestartService(ctx context.Context, unit string) error {
	unit = UnitName(unit)
	ctx, cancel := context.WithTimeout(ctx, defaults.SystemdTimeout)
	defer cancel()

	conn, err := dbus.NewSystemdConnectionContext(ctx)
	if err != nil {
		return cnserrors.Wrap(cnserrors.ErrCodeUnavailable, "failed to connect to systemd", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to restart unit", err,
			map[string]any{"unit": unit})
	}

	select {
	case result := <-done:
		if result != "done" {
			return cnserrors.NewWithContext(cnserrors.ErrCodeInternal,
				fmt.Sprintf("restart job finished with %q", result), map[string]any{"unit": unit})
		}
		slog.Debug("restarted unit", "unit", unit)
		return nil
	case <-ctx.Done():
		return cnserrors.WrapWithContext(cnserrors.ErrCodeTimeout, "restart did not finish", ctx.Err(),
			map[string]any{"unit": unit})
	}
}

// UnitName appends ".service" to names without a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}
