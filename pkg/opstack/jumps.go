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

// JumpInfo is the per-method snapshot of branch-target states after the
// last iteration: locals (and, where non-empty, stack) keyed by target
// offset. It can be persisted in a JumpInfoCache and fed back to later
// analyses of the same method.
type JumpInfo struct {
	JumpEntries        map[int][]*Item
	JumpStackEntries   map[int][]*Item
	JumpEntryLocations map[int]bool
}

// NextJump is the smallest recorded jump-target offset at or after pc, or
// -1 when none remains.
func (j *JumpInfo) NextJump(pc int) int {
	next := -1
	for target := range j.JumpEntryLocations {
		if target >= pc && (next == -1 || target < next) {
			next = target
		}
	}
	return next
}

func copyItems(items []*Item) []*Item {
	out := make([]*Item, len(items))
	for i, it := range items {
		if it != nil {
			out[i] = it.Copy()
		}
	}
	return out
}

func copyItemTable(table map[int][]*Item) map[int][]*Item {
	out := make(map[int][]*Item, len(table))
	for pc, items := range table {
		out[pc] = copyItems(items)
	}
	return out
}

func copyLocations(locations map[int]bool) map[int]bool {
	out := make(map[int]bool, len(locations))
	for pc, set := range locations {
		if set {
			out[pc] = true
		}
	}
	return out
}

// JumpInfoSnapshot captures the current jump tables for persisting.
func (s *OpcodeStack) JumpInfoSnapshot() *JumpInfo {
	return &JumpInfo{
		JumpEntries:        copyItemTable(s.jumpEntries),
		JumpStackEntries:   copyItemTable(s.jumpStackEntries),
		JumpEntryLocations: copyLocations(s.jumpEntryLocations),
	}
}

// LearnFrom seeds the jump tables from a previously-computed snapshot.
func (s *OpcodeStack) LearnFrom(info *JumpInfo) {
	if info == nil {
		return
	}
	s.jumpEntries = copyItemTable(info.JumpEntries)
	s.jumpStackEntries = copyItemTable(info.JumpStackEntries)
	s.jumpEntryLocations = copyLocations(info.JumpEntryLocations)
}

// IsJumpTarget reports whether any branch targets the offset.
func (s *OpcodeStack) IsJumpTarget(pc int) bool {
	return s.jumpEntryLocations[pc]
}

// HasIncomingBranches reports whether a merged state is recorded for the
// offset.
func (s *OpcodeStack) HasIncomingBranches(pc int) bool {
	return s.jumpEntryLocations[pc] && s.jumpEntries[pc] != nil
}

func exceptionSignature(h dismantle.ExceptionHandler) string {
	if h.CatchType == "" {
		return "Ljava/lang/Throwable;"
	}
	return "L" + h.CatchType + ";"
}

// mergeLists merges from into into pointwise up to the shorter length,
// reporting whether anything changed. Size mismatches are logged, never
// fatal.
func (s *OpcodeStack) mergeLists(mergeInto, mergeFrom []*Item) bool {
	changed := false
	if len(mergeInto) != len(mergeFrom) {
		s.ctx.trace("merging %d items from %d items in %s",
			len(mergeInto), len(mergeFrom), s.fullyQualifiedMethodName)
	}
	common := len(mergeInto)
	if len(mergeFrom) < common {
		common = len(mergeFrom)
	}
	for i := 0; i < common; i++ {
		oldValue := mergeInto[i]
		merged := MergeItems(oldValue, mergeFrom[i])
		if merged != nil && !merged.Equals(oldValue) {
			mergeInto[i] = merged
			changed = true
		}
	}
	return changed
}

func (s *OpcodeStack) setJumpInfoChangedByBackwardBranch(from, to int) {
	if from < to {
		return
	}
	s.jumpInfoChangedByBackwardsBranch = true
}

// addJumpValue records the current state as the incoming state of a branch
// target, merging with any previously-recorded entry.
func (s *OpcodeStack) addJumpValue(from, target int) {
	if from >= target {
		s.backwardsBranch = true
	}
	atTarget := s.jumpEntries[target]
	if atTarget == nil {
		s.setJumpInfoChangedByBackwardBranch(from, target)
		s.jumpInfoChangedByNewTarget = true
		s.jumpEntries[target] = copyItems(s.lvValues)
		s.jumpEntryLocations[target] = true
		if len(s.stack) > 0 {
			s.jumpStackEntries[target] = copyItems(s.stack)
		}
		return
	}
	if s.mergeLists(atTarget, s.lvValues) {
		s.setJumpInfoChangedByBackwardBranch(from, target)
	}
	stackAtTarget := s.jumpStackEntries[target]
	if len(s.stack) > 0 && stackAtTarget != nil && s.mergeLists(stackAtTarget, s.stack) {
		s.setJumpInfoChangedByBackwardBranch(from, target)
	}
}

// mergeJumps folds any state recorded for the current offset into the live
// state. It also completes the two boolean-materialisation idioms whose
// rewrite falls due at this offset, and revives the state at exception
// handlers.
func (s *OpcodeStack) mergeJumps(dbc *dismantle.Method) {
	if !s.needToMerge {
		return
	}
	s.needToMerge = false

	if dbc.PC() == s.zeroOneComing {
		s.pop()
		s.top = false
		item := NewItem("I")
		if s.oneMeansNull {
			item.SetSpecialKind(NonzeroMeansNull)
		} else {
			item.SetSpecialKind(ZeroMeansNull)
		}
		item.SetPC(dbc.PC() - 8)
		item.setCouldBeZero(true)
		s.push(item)
		s.zeroOneComing = -1
		s.ctx.trace("updated to %s", s.String())
		return
	}

	stackUpdated := false
	if !s.IsTop() && (s.convertJumpToOneZeroState == 3 || s.convertJumpToZeroOneState == 3) {
		s.pop()
		topItem := NewItem("I")
		topItem.setCouldBeZero(true)
		s.push(topItem)
		s.convertJumpToOneZeroState = 0
		s.convertJumpToZeroOneState = 0
		stackUpdated = true
	}

	var jumpEntry []*Item
	if s.jumpEntryLocations[dbc.PC()] {
		jumpEntry = s.jumpEntries[dbc.PC()]
	}
	if jumpEntry != nil {
		wasUnreachable := s.IsTop() || s.isReachOnlyByBranch()
		s.setReachOnlyByBranch(false)
		jumpStackEntry := s.jumpStackEntries[dbc.PC()]
		if wasUnreachable {
			s.lvValues = copyItems(jumpEntry)
			if !stackUpdated {
				if jumpStackEntry != nil {
					s.stack = copyItems(jumpStackEntry)
				} else {
					s.stack = s.stack[:0]
				}
			}
			s.setTop(false)
			return
		}
		s.setTop(false)
		s.mergeLists(s.lvValues, jumpEntry)
		if !stackUpdated && jumpStackEntry != nil {
			s.mergeLists(s.stack, jumpStackEntry)
		}
		s.ctx.trace("merged lvValues %s", s.String())
		return
	}

	if s.isReachOnlyByBranch() && !stackUpdated {
		s.stack = s.stack[:0]
		var item *Item
		for _, h := range dbc.ExceptionHandlers() {
			if h.HandlerPC == dbc.PC() {
				newItem := NewItem(exceptionSignature(h))
				if item == nil {
					item = newItem
				} else {
					item = MergeItems(item, newItem)
				}
			}
		}
		if item != nil {
			s.push(item)
			s.setReachOnlyByBranch(false)
			s.setTop(false)
		} else {
			s.setTop(true)
		}
	}
}

// Precomputation runs the between-opcode fixups: promoting values proven
// non-negative by the previous branch, and merging any jump entry recorded
// for the current offset. SawOpcode calls it itself; detector drivers that
// inspect the pre-instruction state may call it early, the second call is
// a no-op.
func (s *OpcodeStack) Precomputation(dbc *dismantle.Method) {
	if s.registerTestedFoundToBeNonnegative >= 0 {
		for i, it := range s.stack {
			if it != nil && it.registerNumber == s.registerTestedFoundToBeNonnegative {
				s.stack[i] = it.CopyWithSpecialKind(NonNegative)
			}
		}
		for i, it := range s.lvValues {
			if it != nil && it.registerNumber == s.registerTestedFoundToBeNonnegative {
				s.lvValues[i] = it.CopyWithSpecialKind(NonNegative)
			}
		}
	}
	s.registerTestedFoundToBeNonnegative = -1
	s.mergeJumps(dbc)
}
