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
	"errors"
	"fmt"
	"strings"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// Process exit codes.
const (
	ExitSuccess           = 0
	ExitError             = 1
	ExitResolutionFailure = 2
	ExitPartialFailure    = 3
	ExitConfigError       = 4
)

// ErrPartialFailure is returned when the pipeline completed but one or
// more modules failed.
var ErrPartialFailure = errors.New("one or more modules failed")

func partialFailure(failed []string) error {
	return fmt.Errorf("%w: %s", ErrPartialFailure, strings.Join(failed, ", "))
}

// ExitCode maps the outcome of a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, ErrPartialFailure) {
		return ExitPartialFailure
	}
	switch cnserrors.CodeOf(err) {
	case cnserrors.ErrCodeResolutionExhausted:
		return ExitResolutionFailure
	case cnserrors.ErrCodeStageGated:
		return ExitPartialFailure
	case cnserrors.ErrCodeOrderingCycle, cnserrors.ErrCodeInvalidRequest:
		return ExitConfigError
	default:
		return ExitError
	}
}
