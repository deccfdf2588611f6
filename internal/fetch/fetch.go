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

// Package fetch retrieves manifests and firmware images from update
// mirrors over HTTP(S). All retrieval is synchronous and bounded by a fixed
// timeout; a fetch that exceeds it is a fetch failure for that mirror.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/machinebox/progress"
	"k8s.io/klog/v2"
)

// Fetcher retrieves a small resource, such as a manifest, into memory.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FileFetcher streams a large resource, such as a firmware image, to a
// local file.
type FileFetcher interface {
	FetchFile(ctx context.Context, url, dest string) error
}

// ManifestURL returns the manifest location for a branch on a mirror.
func ManifestURL(mirror, branch string) string {
	return strings.TrimRight(mirror, "/") + "/" + branch + ".manifest"
}

// FirmwareURL returns the image location for a manifest filename on a
// mirror.
func FirmwareURL(mirror, filename string) string {
	return strings.TrimRight(mirror, "/") + "/" + filename
}

// HTTP fetches over HTTP(S) with a fixed per-request timeout.
type HTTP struct {
	Timeout time.Duration
	// LogProgress enables periodic download progress logging, useful for
	// large images on slow uplinks.
	LogProgress bool
}

// NewHTTP returns a fetcher with the given per-request timeout.
func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{Timeout: timeout}
}

// Fetch retrieves url into memory. A 404 is reported as os.ErrNotExist.
func (h *HTTP) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	resp, err := h.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	return io.ReadAll(resp.Body)
}

// FetchFile retrieves url to the file at dest, truncating anything already
// there. The caller owns dest on every return path.
func (h *HTTP) FetchFile(ctx context.Context, url, dest string) error {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	resp, err := h.get(ctx, url)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %q: %v", dest, err)
	}

	pr := progress.NewReader(resp.Body)
	if h.LogProgress && resp.ContentLength > 0 {
		go func() {
			progressChan := progress.NewTicker(ctx, pr, resp.ContentLength, 1*time.Second)
			for p := range progressChan {
				klog.Infof("Downloading %q: %d%%, %v remaining...", url, int(p.Percent()), p.Remaining().Round(time.Second))
			}
		}()
	}

	_, err = io.Copy(f, pr)
	if err != nil {
		f.Close()
		return fmt.Errorf("download of %q failed: %v", url, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %q: %v", dest, err)
	}
	if h.LogProgress {
		klog.Infof("Downloading %q: finished", url)
	}
	return nil
}

func (h *HTTP) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.Timeout)
}

// get issues the request. The caller supplies the deadline-bearing context
// and keeps it alive until the response body has been consumed.
func (h *HTTP) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// Clone DefaultClient and set a timeout.
	dc := *http.DefaultClient
	hc := &dc
	hc.Timeout = h.Timeout
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Client.Do(): %v", err)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		closeBody(resp)
		klog.Infof("Not found: %q", url)
		return nil, os.ErrNotExist
	case http.StatusOK:
		return resp, nil
	default:
		closeBody(resp)
		return nil, fmt.Errorf("unexpected http status %q", resp.Status)
	}
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		klog.Errorf("resp.Body.Close(): %v", err)
	}
}
