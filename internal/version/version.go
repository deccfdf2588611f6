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

// Package version orders firmware version identifiers.
package version

import (
	"strings"

	"github.com/coreos/go-semver/semver"
)

// Comparator decides whether a manifest's version supersedes the installed
// one.
type Comparator interface {
	Newer(remote, installed string) bool
}

// Semver compares versions as (leniently normalised) semantic versions. A
// missing minor or patch component is zero-filled and a leading "v" is
// stripped before comparison. When either side does not normalise to a
// semantic version the comparison degrades to plain inequality, so a signed
// manifest can still move a device off a version that predates the
// versioning scheme.
type Semver struct{}

// Newer reports whether remote supersedes installed. An empty installed
// version is older than anything; an empty remote is never an update.
func (Semver) Newer(remote, installed string) bool {
	if remote == "" {
		return false
	}
	if installed == "" {
		return true
	}
	rv, rerr := parse(remote)
	iv, ierr := parse(installed)
	if rerr != nil || ierr != nil {
		return remote != installed
	}
	return iv.LessThan(*rv)
}

func parse(s string) (*semver.Version, error) {
	s = strings.TrimPrefix(s, "v")
	core, rest, found := strings.Cut(s, "-")
	if dots := strings.Count(core, "."); dots < 2 {
		core += strings.Repeat(".0", 2-dots)
	}
	if found {
		core += "-" + rest
	}
	return semver.NewVersion(core)
}
