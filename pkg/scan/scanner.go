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
	"archive/zip"
	"bytes"
	"context"
	"io"
	"io/fs"
	"strings"

	"github.com/pkg/errors"

	"github.com/palantir/bytecode-sniffer/pkg/detect"
	"github.com/palantir/bytecode-sniffer/pkg/java"
	"github.com/palantir/bytecode-sniffer/pkg/log"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

// Scanner analyzes class files and jars, reporting detector findings.
type Scanner struct {
	Logger          log.Logger
	AnalysisContext *opstack.AnalysisContext
	Detectors       []detect.Detector
	OpenMode        java.FileOpenMode
}

func (s Scanner) context() *opstack.AnalysisContext {
	if s.AnalysisContext != nil {
		return s.AnalysisContext
	}
	ctx := opstack.NewAnalysisContext()
	ctx.Log = s.Logger
	return ctx
}

func (s Scanner) detectors() []detect.Detector {
	if s.Detectors != nil {
		return s.Detectors
	}
	return detect.Standard()
}

// AnalyzeClassBytes analyzes a single parsed class.
func (s Scanner) AnalyzeClassBytes(classBytes []byte) ([]detect.Finding, error) {
	class, err := java.ParseClass(classBytes)
	if err != nil {
		return nil, err
	}
	return detect.RunClass(s.context(), class, s.detectors()), nil
}

// AnalyzeClassFile analyzes a .class file on disk.
func (s Scanner) AnalyzeClassFile(path string) ([]detect.Finding, error) {
	classBytes, err := java.ReadFile(path, s.OpenMode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return s.AnalyzeClassBytes(classBytes)
}

// AnalyzeJar analyzes every class inside a jar file.
func (s Scanner) AnalyzeJar(path string) ([]detect.Finding, error) {
	jarBytes, err := java.ReadFile(path, s.OpenMode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	r, err := zip.NewReader(bytes.NewReader(jarBytes), int64(len(jarBytes)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open jar %s", path)
	}
	var findings []detect.Finding
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".class") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			s.Logger.Error("failed to open %s inside %s: %v", f.Name, path, err)
			continue
		}
		classBytes, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			s.Logger.Error("failed to read %s inside %s: %v", f.Name, path, err)
			continue
		}
		classFindings, err := s.AnalyzeClassBytes(classBytes)
		if err != nil {
			s.Logger.Trace("skipping unparseable class %s inside %s: %v", f.Name, path, err)
			continue
		}
		findings = append(findings, classFindings...)
	}
	return findings, nil
}

// AnalyzePath analyzes a .class or .jar file depending on its extension.
func (s Scanner) AnalyzePath(path string) ([]detect.Finding, error) {
	if strings.HasSuffix(path, ".class") {
		return s.AnalyzeClassFile(path)
	}
	return s.AnalyzeJar(path)
}

// IsAnalyzable matches the file types the scanner understands.
func IsAnalyzable(path string, d fs.DirEntry) bool {
	return strings.HasSuffix(path, ".class") ||
		strings.HasSuffix(path, ".jar") ||
		strings.HasSuffix(path, ".war") ||
		strings.HasSuffix(path, ".ear")
}

// ScanRoot crawls a directory tree with the given crawler, analyzing every
// class and archive found, and invoking handle with each file's findings.
func (s Scanner) ScanRoot(ctx context.Context, crawler Crawler, root string, handle func(path string, findings []detect.Finding)) (CrawlStats, error) {
	return crawler.Crawl(ctx, root, IsAnalyzable, func(ctx context.Context, path string) error {
		findings, err := s.AnalyzePath(path)
		if err != nil {
			return err
		}
		handle(path, findings)
		return nil
	})
}
