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
	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
)

// maxIterations bounds the fixed-point iteration; methods that have not
// converged by then keep their last snapshots.
const maxIterations = 40

// initialize clears all per-method state including the jump tables. It
// runs once per method; re-scans within the fixed-point iteration keep the
// accumulated jump tables.
func (s *OpcodeStack) initialize() {
	s.setTop(false)
	s.jumpEntries = map[int][]*Item{}
	s.jumpStackEntries = map[int][]*Item{}
	s.jumpEntryLocations = map[int]bool{}
	s.encounteredTop = false
	s.backwardsBranch = false
	s.lastUpdate = s.lastUpdate[:0]
	s.convertJumpToOneZeroState = 0
	s.convertJumpToZeroOneState = 0
	s.zeroOneComing = -1
	s.registerTestedFoundToBeNonnegative = -1
	s.setReachOnlyByBranch(false)
	s.needToMerge = true
}

// resetForMethodEntry0 resets the scan state for one pass over the method:
// stack and locals cleared, locals reseeded with the receiver and
// parameters, exception handlers marked. Jump tables survive.
func (s *OpcodeStack) resetForMethodEntry0(dbc *dismantle.Method) int {
	s.methodName = dbc.MethodName()
	s.fullyQualifiedMethodName = dbc.FullyQualifiedMethodName()
	s.stack = s.stack[:0]
	s.lvValues = s.lvValues[:0]
	s.top = false
	s.encounteredTop = false
	s.backwardsBranch = false
	s.jumpInfoChangedByBackwardsBranch = false
	s.jumpInfoChangedByNewTarget = false
	s.setReachOnlyByBranch(false)
	s.seenTransferOfControl = false
	s.needToMerge = true
	s.exceptionHandlers = map[int]bool{}
	for _, h := range dbc.ExceptionHandlers() {
		s.exceptionHandlers[h.HandlerPC] = true
	}

	s.ctx.trace(" --- %s %s %s", dbc.ClassName(), dbc.MethodName(), dbc.Descriptor())

	register := 0
	if !dbc.IsStatic() {
		it := InitialArgument("L"+dbc.ClassName()+";", register)
		s.setLVValue(register, it)
		register += it.Size()
	}
	for _, argSignature := range argumentSignatures(dbc.Descriptor()) {
		it := InitialArgument(argSignature, register)
		s.setLVValue(register, it)
		register += it.Size()
	}
	return register
}

// ResetForMethodEntry prepares the stack for a fresh scan of the method,
// seeding the jump tables from the analysis cache according to the
// iterative-analysis flag. It returns the first register past the
// parameters.
func (s *OpcodeStack) ResetForMethodEntry(dbc *dismantle.Method) int {
	s.initialize()
	result := s.resetForMethodEntry0(dbc)

	var jump *JumpInfo
	if cache := s.ctx.JumpInfoCache; cache != nil {
		key := dbc.FullyQualifiedMethodName()
		if s.ctx.IterativeAnalysis {
			jump = cache.JumpInfo(key)
		} else {
			jump = cache.JumpInfoFromStackMap(key)
		}
	}
	s.LearnFrom(jump)
	return result
}

// ComputeJumpInfo scans the method to a fixed point, accumulating the
// branch-target snapshots. Methods without back-edges converge after a
// single pass; others re-run until no backwards branch changes an entry,
// up to maxIterations. Discovering a branch to a previously-unseen target
// restarts the iteration budget.
func ComputeJumpInfo(ctx *AnalysisContext, dbc *dismantle.Method) *JumpInfo {
	s := NewOpcodeStack(ctx)
	s.initialize()

	iteration := 1
	for {
		if iteration > 1 {
			ctx.trace("iterative jump info for %s, iteration %d", dbc.FullyQualifiedMethodName(), iteration)
		}
		s.resetForMethodEntry0(dbc)
		dbc.Reset()
		for dbc.Next() {
			s.SawOpcode(dbc, dbc.Opcode())
		}
		if s.jumpInfoChangedByNewTarget {
			iteration = 1
		}
		iteration++
		if iteration > maxIterations {
			ctx.logError("iterative jump info didn't converge after %d iterations in %s, size %d",
				iteration, dbc.FullyQualifiedMethodName(), dbc.MaxPC()+1)
			break
		}
		if !(s.jumpInfoChangedByBackwardsBranch && s.backwardsBranch) {
			break
		}
	}
	if iteration > 20 && iteration <= maxIterations {
		ctx.logError("iterative jump info converged after %d iterations in %s, size %d",
			iteration, dbc.FullyQualifiedMethodName(), dbc.MaxPC()+1)
	}
	return s.JumpInfoSnapshot()
}

// VisitFunc observes the abstract state after each instruction of the
// final scan. The state is shared and must not be retained or mutated.
type VisitFunc func(*OpcodeStack, *dismantle.Method)

// Analyze runs the interpreter over the method and invokes visit after
// each opcode of the final scan. In iterative mode the jump snapshots are
// brought to a fixed point first (reusing the context's cache when one is
// configured); otherwise a single pass runs against stack-map-derived
// snapshots from the cache. The snapshot of the final scan is returned for
// persisting.
func Analyze(ctx *AnalysisContext, dbc *dismantle.Method, visit VisitFunc) *JumpInfo {
	if ctx == nil {
		ctx = NewAnalysisContext()
	}
	key := dbc.FullyQualifiedMethodName()

	var jump *JumpInfo
	if ctx.IterativeAnalysis {
		if cache := ctx.JumpInfoCache; cache != nil {
			jump = cache.JumpInfo(key)
		}
		if jump == nil {
			jump = ComputeJumpInfo(ctx, dbc)
			if cache := ctx.JumpInfoCache; cache != nil {
				cache.Store(key, jump)
			}
		}
	} else if cache := ctx.JumpInfoCache; cache != nil {
		jump = cache.JumpInfoFromStackMap(key)
	}

	s := NewOpcodeStack(ctx)
	s.initialize()
	s.resetForMethodEntry0(dbc)
	s.LearnFrom(jump)

	dbc.Reset()
	for dbc.Next() {
		s.SawOpcode(dbc, dbc.Opcode())
		if visit != nil {
			visit(s, dbc)
		}
	}
	return s.JumpInfoSnapshot()
}
