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

// The autoupdater keeps an unattended device's firmware current. Each run
// fetches the branch manifest from a randomly chosen mirror, checks its
// signatures against the branch's trusted keys, decides via the staged
// rollout policy whether this device's turn has come, and if so downloads,
// verifies and installs the new image. Installation replaces this process;
// every other outcome exits.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/freifunk-pinneberg/packages/internal/config"
	"github.com/freifunk-pinneberg/packages/internal/fetch"
	"github.com/freifunk-pinneberg/packages/internal/platform"
	"github.com/freifunk-pinneberg/packages/internal/update"
	"github.com/freifunk-pinneberg/packages/internal/verify"
	"github.com/freifunk-pinneberg/packages/internal/version"
)

const (
	defaultConfigPath = "/etc/autoupdater.yaml"

	// Manifests are tiny; images are not.
	manifestTimeout = 30 * time.Second
	firmwareTimeout = 5 * time.Minute
)

var (
	force      = flag.Bool("f", false, "apply the update regardless of enablement and rollout probability")
	fallback   = flag.Bool("fallback", false, "run in fallback mode, adopting only well-overdue updates")
	branchName = flag.String("b", "", "override the configured branch")
	configPath = flag.String("c", defaultConfigPath, "configuration file")
)

func main() {
	klog.InitFlags(nil)
	flag.Set("logtostderr", "true")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Configuration error: %v", err)
	}
	if !cfg.Settings.Enabled && !*force {
		fatalf("The autoupdater is disabled")
	}

	name := cfg.Settings.Branch
	if *branchName != "" {
		name = *branchName
	}
	branch, err := cfg.Branch(name)
	if err != nil {
		fatalf("Configuration error: %v", err)
	}

	model, err := platform.Model(platform.DefaultModelPath)
	if err != nil {
		fatalf("%v", err)
	}
	installed := config.ReadVersion(cfg.Settings.VersionFile)
	klog.Infof("Branch %q, model %q, installed version %q", name, model, installed)

	firmware := fetch.NewHTTP(firmwareTimeout)
	firmware.LogProgress = true

	u := &update.Updater{
		Branch:    *branch,
		Model:     model,
		Installed: installed,
		Force:     *force,
		Fallback:  *fallback,
		Manifests: fetch.NewHTTP(manifestTimeout),
		Firmware:  firmware,
		Verifier:  &verify.Utility{Command: cfg.Settings.VerifyCommand},
		Compare:   version.Semver{},
	}
	if cfg.Settings.Installer != "" {
		installer := cfg.Settings.Installer
		u.Install = func(path string) error {
			return update.Install(installer, path)
		}
	}

	outcome, err := u.Run(context.Background())
	if err != nil {
		// On a failed installer handoff stderr is already redirected
		// away and Run has reported on stdout; logging here is
		// best-effort either way.
		fatalf("%v", err)
	}
	klog.Infof("Nothing to do: %s", outcome)
}

func fatalf(format string, args ...any) {
	klog.Errorf(format, args...)
	klog.Flush()
	os.Exit(1)
}
