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

package manifest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const (
	testModel  = "vendor-device-v2"
	otherModel = "vendor-device-v1"
)

var (
	testChecksum  = strings.Repeat("ab", 64)
	otherChecksum = strings.Repeat("cd", 64)
	testSig       = strings.Repeat("12", 64)
	otherSig      = strings.Repeat("34", 64)
)

func validManifest() string {
	return strings.Join([]string{
		"BRANCH=stable",
		"DATE=2025-07-01 12:00:00",
		"PRIORITY=1.5",
		"a remark the parser does not recognise",
		otherModel + " 2.1 " + otherChecksum + " firmware-v1-2.1.bin",
		testModel + " 2.1 " + testChecksum + " firmware-v2-2.1.bin",
		"---",
		testSig,
		otherSig,
		"",
	}, "\n")
}

func TestParse(t *testing.T) {
	raw := validManifest()
	got, err := Parse([]byte(raw), "stable", testModel)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	header, _, _ := strings.Cut(raw, Separator+"\n")
	want := &Manifest{
		Branch:      "stable",
		Date:        time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		Priority:    1.5,
		Version:     "2.1",
		Checksum:    testChecksum,
		Filename:    "firmware-v2-2.1.bin",
		SignedBytes: []byte(header),
		Signatures:  []string{testSig, otherSig},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse diff (-want +got):\n%s", diff)
	}
}

func TestParseSignedBytesAreVerbatim(t *testing.T) {
	raw := validManifest()
	m, err := Parse([]byte(raw), "stable", testModel)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.HasPrefix(raw, string(m.SignedBytes)) {
		t.Errorf("SignedBytes is not a byte-exact prefix of the wire content:\n%q", m.SignedBytes)
	}
	if !strings.Contains(string(m.SignedBytes), "a remark the parser does not recognise\n") {
		t.Errorf("unrecognised header line missing from SignedBytes")
	}
	if strings.Contains(string(m.SignedBytes), testSig) {
		t.Errorf("signature content leaked into SignedBytes")
	}
}

func TestParseRejects(t *testing.T) {
	drop := func(prefix string) string {
		var lines []string
		for _, l := range strings.Split(validManifest(), "\n") {
			if !strings.HasPrefix(l, prefix) {
				lines = append(lines, l)
			}
		}
		return strings.Join(lines, "\n")
	}

	for _, test := range []struct {
		name    string
		raw     string
		branch  string
		model   string
		wantErr string
	}{
		{
			name:    "missing date",
			raw:     drop("DATE="),
			wantErr: "DATE or PRIORITY",
		}, {
			name:    "missing priority",
			raw:     drop("PRIORITY="),
			wantErr: "DATE or PRIORITY",
		}, {
			name:    "negative priority",
			raw:     strings.Replace(validManifest(), "PRIORITY=1.5", "PRIORITY=-1", 1),
			wantErr: "invalid priority",
		}, {
			name:    "malformed priority",
			raw:     strings.Replace(validManifest(), "PRIORITY=1.5", "PRIORITY=soon", 1),
			wantErr: "invalid priority",
		}, {
			name:    "malformed date",
			raw:     strings.Replace(validManifest(), "DATE=2025-07-01 12:00:00", "DATE=yesterday", 1),
			wantErr: "invalid date",
		}, {
			name:    "branch mismatch",
			raw:     validManifest(),
			branch:  "experimental",
			wantErr: "does not match",
		}, {
			name:    "no row for model",
			raw:     validManifest(),
			model:   "vendor-device-v9",
			wantErr: "no image for model",
		}, {
			name:    "no separator",
			raw:     strings.Replace(validManifest(), Separator+"\n", "", 1),
			wantErr: "no signature separator",
		}, {
			name:    "malformed checksum",
			raw:     strings.Replace(validManifest(), testChecksum, "deadbeef", 1),
			wantErr: "malformed checksum",
		}, {
			name:    "empty input",
			raw:     "",
			wantErr: "no signature separator",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			branch := test.branch
			if branch == "" {
				branch = "stable"
			}
			model := test.model
			if model == "" {
				model = testModel
			}
			_, err := Parse([]byte(test.raw), branch, model)
			if err == nil {
				t.Fatalf("Parse succeeded, want error containing %q", test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Parse error %q, want it to contain %q", err, test.wantErr)
			}
		})
	}
}

func TestParseDateFormats(t *testing.T) {
	for _, test := range []struct {
		raw  string
		want time.Time
	}{
		{"2025-07-01 12:00:00", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)},
		{"2025-07-01T12:00:00Z", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)},
		{"2025-07-01T12:00:00+02:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
	} {
		d, err := parseDate(test.raw)
		if err != nil {
			t.Errorf("parseDate(%q): %v", test.raw, err)
			continue
		}
		if !d.Equal(test.want) {
			t.Errorf("parseDate(%q) = %v, want %v", test.raw, d, test.want)
		}
	}
}

// Rows for other models are signed content but must not populate fields.
func TestParseIgnoresOtherModels(t *testing.T) {
	m, err := Parse([]byte(validManifest()), "stable", otherModel)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Filename != "firmware-v1-2.1.bin" || m.Checksum != otherChecksum {
		t.Errorf("got filename %q checksum %.8s, want the %s row", m.Filename, m.Checksum, otherModel)
	}
}
