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

// Package manifest parses the branch manifest served by update mirrors.
//
// The wire format is newline-delimited text. Lines up to a separator line
// form the signed header; lines after it are detached signature candidates:
//
//	BRANCH=<branch-name>
//	DATE=<date>
//	PRIORITY=<non-negative decimal>
//	<model> <version> <sha512-hex> <filename>
//	...
//	---
//	<signature-hex>
//	...
//
// Header lines are captured verbatim as the exact byte content the
// signatures attest to, so the parser never normalises or reorders them.
package manifest

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Separator switches the parser from header lines to signature lines.
const Separator = "---"

// checksumShape is the hex encoding of a SHA-512 digest.
var checksumShape = regexp.MustCompile(`^[0-9a-fA-F]{128}$`)

// dateFormats are the accepted DATE= value shapes. Values without a zone are
// taken as UTC.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Manifest is the parsed, structurally validated result of fetching one
// branch manifest. It lives for a single mirror attempt; none of its fields
// may be trusted before the signatures over SignedBytes have been checked.
type Manifest struct {
	Branch   string
	Date     time.Time
	Priority float64

	// Version, Checksum and Filename describe the image for this device's
	// model, taken from the single matching image row.
	Version  string
	Checksum string
	Filename string

	// SignedBytes is the exact newline-terminated header content the
	// signatures cover.
	SignedBytes []byte
	// Signatures are the candidate signature lines following the
	// separator, unfiltered.
	Signatures []string
}

// Parse scans raw manifest text for the given branch and device model.
// Unrecognised header lines are tolerated: they contribute to SignedBytes
// but no fields. Any structural failure aborts the current mirror attempt
// only, so all errors here are non-fatal to the run.
func Parse(raw []byte, branch, model string) (*Manifest, error) {
	m := &Manifest{}
	var signed bytes.Buffer
	var hasDate, hasPriority, inSignatures bool

	for _, line := range strings.Split(string(raw), "\n") {
		if inSignatures {
			if s := strings.TrimSpace(line); s != "" {
				m.Signatures = append(m.Signatures, s)
			}
			continue
		}
		if line == Separator {
			inSignatures = true
			continue
		}
		signed.WriteString(line)
		signed.WriteByte('\n')

		switch {
		case strings.HasPrefix(line, "BRANCH="):
			m.Branch = strings.TrimPrefix(line, "BRANCH=")
		case strings.HasPrefix(line, "DATE="):
			d, err := parseDate(strings.TrimPrefix(line, "DATE="))
			if err != nil {
				return nil, err
			}
			m.Date = d
			hasDate = true
		case strings.HasPrefix(line, "PRIORITY="):
			v := strings.TrimPrefix(line, "PRIORITY=")
			p, err := strconv.ParseFloat(v, 64)
			if err != nil || p < 0 {
				return nil, fmt.Errorf("invalid priority %q", v)
			}
			m.Priority = p
			hasPriority = true
		default:
			fields := strings.Fields(line)
			if len(fields) == 4 && fields[0] == model {
				if !checksumShape.MatchString(fields[2]) {
					return nil, fmt.Errorf("malformed checksum for model %q", model)
				}
				m.Version = fields[1]
				m.Checksum = fields[2]
				m.Filename = fields[3]
			}
		}
	}

	if !inSignatures {
		return nil, fmt.Errorf("truncated manifest, no signature separator")
	}
	if !hasDate || !hasPriority {
		return nil, fmt.Errorf("manifest is missing mandatory DATE or PRIORITY")
	}
	if m.Branch != branch {
		return nil, fmt.Errorf("manifest branch %q does not match configured branch %q", m.Branch, branch)
	}
	if m.Filename == "" {
		return nil, fmt.Errorf("manifest has no image for model %q", model)
	}

	m.SignedBytes = signed.Bytes()
	return m, nil
}

func parseDate(v string) (time.Time, error) {
	for _, f := range dateFormats {
		if d, err := time.ParseInLocation(f, v, time.UTC); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}
