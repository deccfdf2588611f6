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

// Package verify checks manifest signatures against a branch's trusted keys.
//
// The actual cryptography lives in an external platform utility; this
// package's job is to bound what reaches it. Candidate signatures and keys
// are shape-checked before the utility is invoked so that garbage input can
// neither inflate the work handed to it nor smuggle arguments into the
// invocation.
package verify

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"k8s.io/klog/v2"
)

// DefaultCommand is the platform's ECDSA threshold verification utility.
const DefaultCommand = "/usr/bin/ecdsaverify"

var (
	signatureShape = regexp.MustCompile(`^[0-9a-fA-F]{128}$`)
	keyShape       = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// Verifier reports whether at least threshold of the candidate signatures
// over payload are valid under the trusted pubkeys. Implementations must
// never report success on a partial or failed check.
type Verifier interface {
	Verify(payload []byte, signatures, pubkeys []string, threshold int) (bool, error)
}

// WellFormedSignature reports whether s has the shape of a hex-encoded
// 512-bit ECDSA signature.
func WellFormedSignature(s string) bool {
	return signatureShape.MatchString(s)
}

// WellFormedKey reports whether s has the shape of a hex-encoded 256-bit
// ECDSA public key.
func WellFormedKey(s string) bool {
	return keyShape.MatchString(s)
}

// Utility verifies signatures by invoking the external verification binary,
// one synchronous child process per manifest. Verification is expensive, so
// callers are expected to reject manifests on cheaper structural grounds
// first.
type Utility struct {
	// Command is the verification binary. Defaults to DefaultCommand.
	Command string
}

// Verify writes payload to a scratch file and invokes the utility with the
// well-formed candidates. Malformed signatures and keys are dropped
// silently; if fewer well-formed signatures than threshold remain, the
// utility is not invoked at all.
func (u *Utility) Verify(payload []byte, signatures, pubkeys []string, threshold int) (bool, error) {
	if threshold < 1 {
		return false, fmt.Errorf("signature threshold %d is not positive", threshold)
	}
	sigs := filter(signatures, signatureShape)
	keys := filter(pubkeys, keyShape)
	if len(sigs) < threshold || len(keys) == 0 {
		klog.V(1).Infof("Only %d well-formed signatures for threshold %d, skipping verification", len(sigs), threshold)
		return false, nil
	}

	f, err := os.CreateTemp("", "manifest-*.signed")
	if err != nil {
		return false, fmt.Errorf("failed to create payload file: %v", err)
	}
	defer func() {
		if err := os.Remove(f.Name()); err != nil {
			klog.Errorf("Failed to remove %q: %v", f.Name(), err)
		}
	}()
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to write payload file: %v", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to write payload file: %v", err)
	}

	command := u.Command
	if command == "" {
		command = DefaultCommand
	}
	args := []string{"-n", strconv.Itoa(threshold)}
	for _, k := range keys {
		args = append(args, "-p", k)
	}
	for _, s := range sigs {
		args = append(args, "-s", s)
	}
	args = append(args, f.Name())

	klog.V(1).Infof("Verifying %d signatures against %d keys (threshold %d)", len(sigs), len(keys), threshold)
	if err := exec.Command(command, args...).Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// The utility ran and did not find enough valid
			// signatures.
			return false, nil
		}
		return false, fmt.Errorf("failed to run %s: %v", command, err)
	}
	return true, nil
}

func filter(in []string, shape *regexp.Regexp) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if shape.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}
