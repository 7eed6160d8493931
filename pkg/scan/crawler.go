// Copyright (c) 2022 Palantir Technologies. All rights reserved.
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

package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/ratelimit"

	"github.com/palantir/bytecode-sniffer/pkg/log"
)

// Crawler walks a directory tree, handing matching files to a visit
// function. Directories matching an ignore pattern are pruned whole, and
// file visits are paced through the limiter so a background scan does not
// monopolise the disk.
type Crawler struct {
	Limiter    ratelimit.Limiter
	Log        log.Logger
	IgnoreDirs []*regexp.Regexp
}

// CrawlStats counts what one crawl saw.
type CrawlStats struct {
	FilesVisited     uint64 `json:"filesVisited"`
	DirsPruned       uint64 `json:"dirsPruned"`
	PermissionDenied uint64 `json:"permissionDenied"`
	VisitErrors      uint64 `json:"visitErrors"`
}

// MatchFunc decides whether a file is worth visiting.
type MatchFunc func(path string, d fs.DirEntry) bool

// VisitFunc processes one matched file. A returned error is counted and
// logged; it does not stop the crawl.
type VisitFunc func(ctx context.Context, path string) error

// Crawl walks the tree under root. Paths denied by permissions are counted
// and skipped, and files that vanish mid-walk are skipped; any other walk
// error (a missing root among them) or a cancelled context aborts the crawl.
func (c Crawler) Crawl(ctx context.Context, root string, match MatchFunc, visit VisitFunc) (CrawlStats, error) {
	stats := CrawlStats{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return c.noteWalkError(&stats, root, path, walkErr)
		}
		if d.IsDir() {
			if c.prunes(path) {
				stats.DirsPruned++
				c.Log.Trace("pruning ignored directory %s", path)
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !match(path, d) {
			return nil
		}
		if c.Limiter != nil {
			c.Limiter.Take()
		}
		stats.FilesVisited++
		if err := visit(ctx, path); err != nil {
			stats.VisitErrors++
			c.Log.Error("failed to process %s: %v", path, err)
		}
		return nil
	})
	return stats, err
}

func (c Crawler) noteWalkError(stats *CrawlStats, root, path string, err error) error {
	switch {
	case os.IsPermission(err):
		stats.PermissionDenied++
		return nil
	case os.IsNotExist(err) && path != root:
		// a transient file vanished between the directory listing and the
		// visit
		return nil
	}
	return err
}

func (c Crawler) prunes(path string) bool {
	for _, pattern := range c.IgnoreDirs {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}
