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

import "github.com/NVIDIA/cns-init/pkg/module"

func init() {
	module.MustRegister(network{})
	module.MustRegister(writeFiles{name: "write_files", stage: module.StageNetworkConfig})
	module.MustRegister(bootcmd{})
	module.MustRegister(hostname{})
	module.MustRegister(sshkeys{})
	module.MustRegister(packages{})
	module.MustRegister(vendorScripts)
	module.MustRegister(runcmd{})
	module.MustRegister(userScripts)
	module.MustRegister(writeFiles{name: "write_files_deferred", stage: module.StageFinal, deferred: true})
	module.MustRegister(finalMessage{})
}
