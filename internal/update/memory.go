// Copyright 2025 The Freifunk Pinneberg authors. All Rights Reserved.
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

package update

import (
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

const dropCachesPath = "/proc/sys/vm/drop_caches"

// FreeMemory releases as much memory as possible ahead of a large image
// download: flushes dirty pages, asks the kernel to drop reclaimable
// caches, and returns this process's own free heap to the OS. Every step is
// best-effort; failing to free memory is never an error.
func FreeMemory() {
	unix.Sync()
	if err := os.WriteFile(dropCachesPath, []byte("3\n"), 0o200); err != nil {
		klog.V(1).Infof("Could not drop caches: %v", err)
	}
	debug.FreeOSMemory()
}
