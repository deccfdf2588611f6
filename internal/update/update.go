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

// Package update drives the end-to-end update decision for one run: mirror
// selection and failover, manifest validation and trust, the rollout
// decision, image download and integrity checking, and the handoff to the
// platform installer.
package update

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/freifunk-pinneberg/packages/internal/config"
	"github.com/freifunk-pinneberg/packages/internal/fetch"
	"github.com/freifunk-pinneberg/packages/internal/manifest"
	"github.com/freifunk-pinneberg/packages/internal/rollout"
	"github.com/freifunk-pinneberg/packages/internal/verify"
	"github.com/freifunk-pinneberg/packages/internal/version"
)

// Outcome is a terminal result of a run. A successful installer handoff has
// no Outcome value: the process image is replaced before Run can return.
type Outcome int

const (
	// OutcomeUpToDate means a trusted manifest offered nothing newer
	// than the installed version.
	OutcomeUpToDate Outcome = iota
	// OutcomeDeferred means an update exists but the rollout draw
	// rejected it for now. A later run will try again.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpToDate:
		return "up to date"
	case OutcomeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ErrInstall means a verified image was handed to the installer but the
// installer failed to start. Unlike every other failure this does not fall
// through to the next mirror: standard error has already been redirected
// and the run must end.
var ErrInstall = errors.New("installer failed to start")

// errMirror wraps a failure local to one mirror attempt.
type errMirror struct {
	mirror string
	err    error
}

func (e *errMirror) Error() string { return fmt.Sprintf("mirror %s: %v", e.mirror, e.err) }
func (e *errMirror) Unwrap() error { return e.err }

// Updater holds everything one run needs. The zero value of the function
// fields selects real clock, uptime, randomness, memory release and
// installer behaviour; tests replace them.
type Updater struct {
	Branch    config.Branch
	Model     string
	Installed string

	// Force accepts the update regardless of the rollout probability.
	Force bool
	// Fallback selects the strict backstop adoption schedule.
	Fallback bool

	Manifests fetch.Fetcher
	Firmware  fetch.FileFetcher
	Verifier  verify.Verifier
	Compare   version.Comparator

	// Install hands a verified image to the platform installer. It does
	// not return on success; see Install in this package.
	Install func(path string) error

	// TempDir is where the downloaded image is staged. Empty means the
	// system default.
	TempDir string

	Now        func() time.Time
	Uptime     func() time.Duration
	Draw       func() float64
	Shuffle    func(n int, swap func(i, j int))
	FreeMemory func()
}

// Run works through the branch's mirrors in random order, each at most
// once, until one of them produces a terminal outcome. Exhausting all
// mirrors is the run's overall failure.
func (u *Updater) Run(ctx context.Context) (Outcome, error) {
	mirrors := append([]string(nil), u.Branch.Mirrors...)
	u.shuffle(len(mirrors), func(i, j int) {
		mirrors[i], mirrors[j] = mirrors[j], mirrors[i]
	})

	for _, mirror := range mirrors {
		outcome, err := u.tryMirror(ctx, mirror)
		if err != nil {
			if errors.Is(err, ErrInstall) {
				return 0, err
			}
			klog.Warningf("%v", &errMirror{mirror: mirror, err: err})
			continue
		}
		return outcome, nil
	}
	return 0, fmt.Errorf("no usable mirror for branch %q (%d tried)", u.Branch.Name, len(mirrors))
}

// tryMirror runs the full pipeline against one mirror. Any returned error
// other than ErrInstall abandons this mirror only.
func (u *Updater) tryMirror(ctx context.Context, mirror string) (Outcome, error) {
	url := fetch.ManifestURL(mirror, u.Branch.Name)
	klog.V(1).Infof("Fetching manifest from %q", url)
	raw, err := u.Manifests.Fetch(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("manifest fetch failed: %v", err)
	}

	m, err := manifest.Parse(raw, u.Branch.Name, u.Model)
	if err != nil {
		return 0, err
	}

	// The expensive check runs last, once the manifest is known to be
	// structurally usable. Nothing in m may be acted on before it
	// passes.
	ok, err := u.Verifier.Verify(m.SignedBytes, m.Signatures, u.Branch.Pubkeys, u.Branch.GoodSignatures)
	if err != nil {
		return 0, fmt.Errorf("signature verification failed: %v", err)
	}
	if !ok {
		return 0, fmt.Errorf("manifest does not carry %d good signatures", u.Branch.GoodSignatures)
	}

	if !u.Compare.Newer(m.Version, u.Installed) {
		klog.Infof("No new firmware available (installed %q, offered %q)", u.Installed, m.Version)
		return OutcomeUpToDate, nil
	}

	if u.Force {
		klog.Infof("Forced update to %s", m.Version)
	} else {
		mode := rollout.ModeNormal
		if u.Fallback {
			mode = rollout.ModeFallback
		}
		p := rollout.Probability(m.Date, m.Priority, u.now(), mode, u.uptime())
		if draw := u.draw(); draw >= p {
			klog.Infof("Update to %s postponed (probability %.3f, drew %.3f)", m.Version, p, draw)
			return OutcomeDeferred, nil
		}
		klog.Infof("Updating to %s (probability %.3f)", m.Version, p)
	}

	// A firmware image is large relative to this class of device; give
	// the download as much headroom as we can.
	u.freeMemory()

	tmp, err := os.CreateTemp(u.TempDir, "firmware-*.img")
	if err != nil {
		return 0, fmt.Errorf("failed to create image file: %v", err)
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to create image file: %v", err)
	}

	if err := u.Firmware.FetchFile(ctx, fetch.FirmwareURL(mirror, m.Filename), path); err != nil {
		remove(path)
		return 0, fmt.Errorf("image download failed: %v", err)
	}

	sum, err := Checksum(path)
	if err != nil {
		remove(path)
		return 0, fmt.Errorf("failed to hash image: %v", err)
	}
	if !hexEqual(sum, m.Checksum) {
		remove(path)
		return 0, fmt.Errorf("image checksum mismatch (got %.16s..., manifest says %.16s...)", sum, m.Checksum)
	}

	klog.Infof("Handing %s over to the installer", path)
	err = u.install(path)
	// Reaching this point at all means the installer did not start.
	// Standard error is already gone, so report on stdout.
	fmt.Fprintf(os.Stdout, "autoupdater: %v: %v\n", ErrInstall, err)
	remove(path)
	return 0, fmt.Errorf("%w: %v", ErrInstall, err)
}

func remove(path string) {
	if err := os.Remove(path); err != nil {
		klog.Errorf("Failed to remove %q: %v", path, err)
	}
}

func (u *Updater) now() time.Time {
	if u.Now != nil {
		return u.Now()
	}
	return time.Now()
}

func (u *Updater) uptime() time.Duration {
	if u.Uptime != nil {
		return u.Uptime()
	}
	return rollout.Uptime()
}

func (u *Updater) draw() float64 {
	if u.Draw != nil {
		return u.Draw()
	}
	return rand.Float64()
}

func (u *Updater) shuffle(n int, swap func(i, j int)) {
	if u.Shuffle != nil {
		u.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}

func (u *Updater) freeMemory() {
	if u.FreeMemory != nil {
		u.FreeMemory()
		return
	}
	FreeMemory()
}

func (u *Updater) install(path string) error {
	if u.Install != nil {
		return u.Install(path)
	}
	return Install(DefaultInstaller, path)
}
