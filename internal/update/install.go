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
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// DefaultInstaller is the platform's atomic firmware installer. It flashes
// the image and reboots the device.
const DefaultInstaller = "/sbin/sysupgrade"

// Install replaces the current process with the platform installer, handing
// it the verified image at path. Standard input and standard error are
// redirected to the null device first: the installer inherits our file
// descriptors, must not read a terminal, and writes its own log.
//
// On success this call does not return and ownership of path passes to the
// installer. A returned error means the installer could not be started;
// note that standard error is already gone by then, so the caller must
// report on standard output.
func Install(installer, path string) error {
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", os.DevNull, err)
	}
	for _, fd := range []int{0, 2} {
		if err := unix.Dup2(int(devnull.Fd()), fd); err != nil {
			return fmt.Errorf("failed to redirect fd %d: %v", fd, err)
		}
	}

	klog.Infof("Executing %s %s", installer, path)
	err = unix.Exec(installer, []string{installer, path}, os.Environ())
	// Exec only ever returns on failure.
	return fmt.Errorf("exec %s: %v", installer, err)
}
