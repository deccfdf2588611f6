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

// Package config holds the autoupdater configuration: the global settings
// record and the per-branch tables naming mirrors, trusted keys and the
// signature threshold. The configuration is loaded once at startup and is
// immutable for the lifetime of the process.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// pubkeyShape is the expected form of a trusted key: the hex encoding of a
// 256-bit ECDSA public key.
var pubkeyShape = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Settings is the global part of the configuration.
type Settings struct {
	// Enabled gates unattended runs. A disabled updater only acts when
	// forced from the command line.
	Enabled bool `yaml:"enabled"`
	// VersionFile is the path of the file recording the currently
	// installed firmware version. It is read once at startup and never
	// written by the updater; the installer owns it.
	VersionFile string `yaml:"version_file"`
	// Branch selects the default update channel.
	Branch string `yaml:"branch"`
	// VerifyCommand optionally overrides the signature verification
	// utility invoked for manifest checks.
	VerifyCommand string `yaml:"verify_command,omitempty"`
	// Installer optionally overrides the platform installer invoked with
	// a verified image.
	Installer string `yaml:"installer,omitempty"`
}

// Branch describes one update channel.
type Branch struct {
	Name string `yaml:"name"`
	// Mirrors are the base URLs the manifest and firmware images are
	// fetched from. They are tried in random order, each at most once
	// per run.
	Mirrors []string `yaml:"mirrors"`
	// Pubkeys are the hex-encoded public keys trusted to sign this
	// branch's manifests.
	Pubkeys []string `yaml:"pubkeys"`
	// GoodSignatures is the minimum number of valid signatures a
	// manifest needs before any of its fields are trusted.
	GoodSignatures int `yaml:"good_signatures"`
}

// Config is the parsed configuration file.
type Config struct {
	Settings Settings `yaml:"settings"`
	Branches []Branch `yaml:"branches"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %v", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %v", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Settings.Branch == "" {
		return fmt.Errorf("no default branch selected")
	}
	if len(c.Branches) == 0 {
		return fmt.Errorf("no branches configured")
	}
	for _, b := range c.Branches {
		if b.Name == "" {
			return fmt.Errorf("branch with empty name")
		}
		if len(b.Mirrors) == 0 {
			return fmt.Errorf("branch %q: no mirrors configured", b.Name)
		}
		if len(b.Pubkeys) == 0 {
			return fmt.Errorf("branch %q: no public keys configured", b.Name)
		}
		for _, k := range b.Pubkeys {
			if !pubkeyShape.MatchString(k) {
				return fmt.Errorf("branch %q: malformed public key %q", b.Name, k)
			}
		}
		if b.GoodSignatures < 1 {
			return fmt.Errorf("branch %q: good_signatures must be at least 1", b.Name)
		}
	}
	return nil
}

// Branch returns the configuration for the named update channel. A missing
// branch is a configuration error, fatal to the run.
func (c *Config) Branch(name string) (*Branch, error) {
	for i := range c.Branches {
		if c.Branches[i].Name == name {
			return &c.Branches[i], nil
		}
	}
	return nil, fmt.Errorf("no configuration for branch %q", name)
}

// ReadVersion returns the previously installed version recorded at path, or
// the empty string when no version has been recorded. Any version compares
// as newer than an empty one.
func ReadVersion(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
