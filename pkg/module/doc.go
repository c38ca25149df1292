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

// Package module defines the contract between the pipeline and the modules
// that configure an instance.
//
// A module declares a Spec (stage, frequency, ordering and required distro
// capabilities) and implements Apply. The pipeline only looks at the
// returned Result: whether the module failed and whether it claims to have
// changed something.
//
// Invoke is the single entry point the pipeline uses. It checks required
// capabilities, applies the module timeout and turns panics and errors into
// MODULE_FAILURE so one broken module cannot stop its siblings.
//
// Built-in modules register themselves from init():
//
//	func init() {
//	    module.MustRegister(&hostname{})
//	}
package module
