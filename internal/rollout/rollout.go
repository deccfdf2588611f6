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

// Package rollout computes the staged-rollout probability that decides when
// a device adopts a published update. Spreading adoption over a manifest
// controlled window keeps a whole mesh from upgrading, and possibly
// breaking, simultaneously.
package rollout

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects the adoption schedule.
type Mode int

const (
	// ModeNormal ramps adoption smoothly over the manifest's window.
	ModeNormal Mode = iota
	// ModeFallback acts as a strict backstop: it never adopts before a
	// full extra day past the normal window has elapsed, then always.
	ModeFallback
)

const (
	secondsPerDay = 86400
	// settleTime is how long after boot the local clock is assumed
	// unsynchronised. A manifest dated in the future within this period
	// is deferred rather than degraded.
	settleTime = 600 * time.Second
	// fallbackGrace is the extra delay fallback mode waits beyond the
	// normal rollout window.
	fallbackGrace = secondsPerDay
)

// procUptime is a var so tests can point it at fixtures.
var procUptime = "/proc/uptime"

// Probability returns the chance in [0,1] that this run adopts a manifest
// issued at date with the given priority. The rollout window spans
// priority days from the manifest date.
//
// A manifest dated in the future yields 0 while the clock may still be
// unsynchronised after boot, and a degraded 0.75^priority afterwards. The
// degraded value deliberately does not distinguish a skewed local clock
// from a replayed manifest; telling them apart would need a trusted time
// source this system does not have.
func Probability(date time.Time, priority float64, now time.Time, mode Mode, uptime time.Duration) float64 {
	diff := now.Sub(date).Seconds()
	window := priority * secondsPerDay

	if diff < 0 {
		if uptime < settleTime {
			return 0
		}
		return math.Pow(0.75, priority)
	}
	if mode == ModeFallback {
		if diff >= window+fallbackGrace {
			return 1
		}
		return 0
	}
	if diff >= window {
		return 1
	}
	// Smoothstep over the window: value 0 at its start, 1 at its end,
	// zero slope at both, so adoption never clusters at the edges.
	x := diff / window
	return -2*x*x*x + 3*x*x
}

// Uptime returns the time since boot, or 0 if it cannot be determined.
// Returning 0 on failure errs towards deferring future-dated manifests.
func Uptime() time.Duration {
	raw, err := os.ReadFile(procUptime)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
