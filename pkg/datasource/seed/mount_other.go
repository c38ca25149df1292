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

//go:build !linux

package seed

import (
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

func mountReadOnly(device, _, _ string) error {
	return cnserrors.NewWithContext(cnserrors.ErrCodeMissingCapability, "mounting is only supported on linux",
		map[string]any{"device": device})
}

func unmount(string) error {
	return nil
}
