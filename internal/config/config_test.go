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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testKey = strings.Repeat("ab", 32)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoupdater.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func validYAML() string {
	return `settings:
  enabled: true
  version_file: /lib/autoupdater/version
  branch: stable
branches:
  - name: stable
    mirrors:
      - https://updates.example.org/stable
      - https://mirror2.example.org/stable
    pubkeys:
      - ` + testKey + `
    good_signatures: 1
  - name: experimental
    mirrors:
      - https://updates.example.org/experimental
    pubkeys:
      - ` + testKey + `
    good_signatures: 2
`
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wantSettings := Settings{
		Enabled:     true,
		VersionFile: "/lib/autoupdater/version",
		Branch:      "stable",
	}
	if diff := cmp.Diff(wantSettings, cfg.Settings); diff != "" {
		t.Errorf("Settings diff (-want +got):\n%s", diff)
	}

	b, err := cfg.Branch("experimental")
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if b.GoodSignatures != 2 || len(b.Mirrors) != 1 {
		t.Errorf("unexpected branch %+v", b)
	}

	if _, err := cfg.Branch("nightly"); err == nil {
		t.Error("Branch returned a configuration for an unknown branch")
	}
}

func TestLoadRejects(t *testing.T) {
	for _, test := range []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{
			name:    "no default branch",
			mangle:  func(s string) string { return strings.Replace(s, "branch: stable", "branch: \"\"", 1) },
			wantErr: "no default branch",
		}, {
			name:    "no mirrors",
			mangle:  func(s string) string { return strings.Replace(s, "      - https://updates.example.org/experimental\n", "", 1) },
			wantErr: "no mirrors",
		}, {
			name: "bad pubkey",
			mangle: func(s string) string {
				return strings.Replace(s, testKey, "not-a-key", 1)
			},
			wantErr: "malformed public key",
		}, {
			name: "zero threshold",
			mangle: func(s string) string {
				return strings.Replace(s, "good_signatures: 1", "good_signatures: 0", 1)
			},
			wantErr: "good_signatures",
		}, {
			name:    "missing threshold",
			mangle:  func(s string) string { return strings.Replace(s, "    good_signatures: 1\n", "", 1) },
			wantErr: "good_signatures",
		}, {
			name:    "not yaml",
			mangle:  func(string) string { return "{{{" },
			wantErr: "failed to parse",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.mangle(validYAML())))
			if err == nil {
				t.Fatalf("Load succeeded, want error containing %q", test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Load error %q, want it to contain %q", err, test.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}

func TestReadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version")
	if got := ReadVersion(path); got != "" {
		t.Errorf("ReadVersion on missing file = %q, want empty", got)
	}
	if err := os.WriteFile(path, []byte("1.2.3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if got := ReadVersion(path); got != "1.2.3" {
		t.Errorf("ReadVersion = %q, want %q", got, "1.2.3")
	}
}
