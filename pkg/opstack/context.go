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

package opstack

import (
	"os"

	"github.com/palantir/bytecode-sniffer/pkg/log"
)

// FieldSummaries is the external oracle modelling field values. Get
// returns nil when no usable summary exists for the field (unknown field,
// public field, incomplete database).
type FieldSummaries interface {
	Complete() bool
	Get(field Member) *Item
}

// Hierarchy answers subtype queries over dotted class names.
type Hierarchy interface {
	IsSubtype(dottedClass, dottedSuper string) bool
}

// JumpInfoCache stores per-method jump snapshots between analyses. Both
// lookups may return nil.
type JumpInfoCache interface {
	JumpInfo(methodKey string) *JumpInfo
	JumpInfoFromStackMap(methodKey string) *JumpInfo
	Store(methodKey string, info *JumpInfo)
}

// AnalysisContext carries everything an analysis entry point needs: the
// logger, the external oracles and the feature flags. There is no
// process-global analysis state; callers share one context across methods
// of an analysis run.
type AnalysisContext struct {
	Log            log.Logger
	FieldSummaries FieldSummaries
	Hierarchy      Hierarchy
	JumpInfoCache  JumpInfoCache

	// IterativeAnalysis re-scans methods with back-edges until the jump
	// snapshots are stable; when false a single pass runs against
	// stack-map-derived snapshots from the cache.
	IterativeAnalysis bool
	// Debug enables per-opcode state tracing.
	Debug bool
}

// NewAnalysisContext builds a context that logs output and traces to stdout
// and errors to stderr, with default oracles. Debug tracing honours the OCSTACK_DEBUG environment variable.
func NewAnalysisContext() *AnalysisContext {
	debug := os.Getenv("OCSTACK_DEBUG") != ""
	return &AnalysisContext{
		Log: log.Logger{
			OutputWriter:       os.Stdout,
			ErrorWriter:        os.Stderr,
			EnableTraceLogging: debug,
		},
		Hierarchy:         StandardHierarchy(),
		IterativeAnalysis: true,
		Debug:             debug,
	}
}

func (ctx *AnalysisContext) logError(format string, args ...interface{}) {
	ctx.Log.Error(format, args...)
}

func (ctx *AnalysisContext) trace(format string, args ...interface{}) {
	if ctx.Debug {
		ctx.Log.Trace(format, args...)
	}
}

func (ctx *AnalysisContext) isCollectionSubtype(dottedClass string) bool {
	h := ctx.Hierarchy
	if h == nil {
		h = StandardHierarchy()
	}
	return h.IsSubtype(dottedClass, "java.util.Collection")
}

type standardHierarchy struct {
	collections map[string]bool
}

// StandardHierarchy is a table-backed Hierarchy covering the standard
// collection classes; a repository-backed implementation can replace it
// for whole-program analyses.
func StandardHierarchy() Hierarchy {
	collections := map[string]bool{
		"java.util.Collection": true,
		"java.util.List":       true,
		"java.util.Set":        true,
		"java.util.SortedSet":  true,
		"java.util.NavigableSet": true,
		"java.util.Queue":      true,
		"java.util.Deque":      true,
		"java.util.ArrayList":  true,
		"java.util.LinkedList": true,
		"java.util.Vector":     true,
		"java.util.Stack":      true,
		"java.util.HashSet":    true,
		"java.util.LinkedHashSet": true,
		"java.util.TreeSet":       true,
		"java.util.ArrayDeque":    true,
		"java.util.PriorityQueue": true,
		"java.util.AbstractCollection":          true,
		"java.util.AbstractList":                true,
		"java.util.AbstractSet":                 true,
		"java.util.Arrays$ArrayList":            true,
		"java.util.concurrent.ConcurrentLinkedQueue": true,
		"java.util.concurrent.CopyOnWriteArrayList":  true,
		"java.util.concurrent.LinkedBlockingQueue":   true,
	}
	return standardHierarchy{collections: collections}
}

func (h standardHierarchy) IsSubtype(dottedClass, dottedSuper string) bool {
	if dottedClass == dottedSuper {
		return true
	}
	if dottedSuper == "java.util.Collection" {
		return h.collections[dottedClass]
	}
	return false
}

// InMemoryJumpInfoCache is a JumpInfoCache backed by a plain map, suitable
// for single-process analyses.
type InMemoryJumpInfoCache struct {
	byMethod map[string]*JumpInfo
	fromMaps map[string]*JumpInfo
}

// NewInMemoryJumpInfoCache builds an empty cache.
func NewInMemoryJumpInfoCache() *InMemoryJumpInfoCache {
	return &InMemoryJumpInfoCache{
		byMethod: map[string]*JumpInfo{},
		fromMaps: map[string]*JumpInfo{},
	}
}

// JumpInfo returns the stored snapshot for the method, or nil.
func (c *InMemoryJumpInfoCache) JumpInfo(methodKey string) *JumpInfo {
	return c.byMethod[methodKey]
}

// JumpInfoFromStackMap returns the stack-map-derived snapshot, or nil.
func (c *InMemoryJumpInfoCache) JumpInfoFromStackMap(methodKey string) *JumpInfo {
	return c.fromMaps[methodKey]
}

// Store records the snapshot computed for the method.
func (c *InMemoryJumpInfoCache) Store(methodKey string, info *JumpInfo) {
	c.byMethod[methodKey] = info
}

// StoreFromStackMap records a snapshot derived from the class file's
// stack-map attribute.
func (c *InMemoryJumpInfoCache) StoreFromStackMap(methodKey string, info *JumpInfo) {
	c.fromMaps[methodKey] = info
}

// MapFieldSummaries is a FieldSummaries oracle over a precomputed map,
// keyed by field Member. The stored items must be cross-method snapshots,
// never live references into another method's state.
type MapFieldSummaries struct {
	complete  bool
	summaries map[Member]*Item
}

// NewMapFieldSummaries builds an oracle over the given summaries.
func NewMapFieldSummaries(complete bool, summaries map[Member]*Item) *MapFieldSummaries {
	return &MapFieldSummaries{complete: complete, summaries: summaries}
}

// Complete reports whether the summary database covers the whole analysis
// scope.
func (s *MapFieldSummaries) Complete() bool {
	return s.complete
}

// Get returns the summary item for the field, or nil.
func (s *MapFieldSummaries) Get(field Member) *Item {
	return s.summaries[field]
}
