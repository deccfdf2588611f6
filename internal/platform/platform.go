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

// Package platform identifies the device this updater runs on.
package platform

import (
	"fmt"
	"os"
	"strings"
)

// DefaultModelPath is where the platform publishes the board name.
const DefaultModelPath = "/tmp/sysinfo/model"

// Model returns this device's model identifier as read from path. A device
// without a model identifier is unsupported hardware and cannot be matched
// against manifest image rows.
func Model(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unsupported hardware, no model identifier: %v", err)
	}
	model := strings.TrimSpace(string(raw))
	if model == "" {
		return "", fmt.Errorf("unsupported hardware, empty model identifier in %s", path)
	}
	return model, nil
}
