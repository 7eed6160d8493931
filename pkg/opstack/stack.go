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
	"strings"
)

// OpcodeStack tracks the types, constants and provenance of every operand
// stack slot and local variable throughout a method body. Create one per
// method, call ResetForMethodEntry, then SawOpcode for each instruction in
// offset order; between opcodes the stack and locals can be inspected.
//
// A true top flag means the current offset is unreachable by fall-through;
// state-changing opcodes are ignored there until a jump entry revives the
// state.
type OpcodeStack struct {
	ctx *AnalysisContext

	stack      []*Item
	lvValues   []*Item
	lastUpdate []int
	top        bool

	seenTransferOfControl bool
	encounteredTop        bool
	backwardsBranch       bool
	reachOnlyByBranch     bool
	needToMerge           bool

	exceptionHandlers map[int]bool

	jumpInfoChangedByBackwardsBranch bool
	jumpInfoChangedByNewTarget       bool
	jumpEntries                      map[int][]*Item
	jumpStackEntries                 map[int][]*Item
	jumpEntryLocations               map[int]bool

	convertJumpToOneZeroState          int
	convertJumpToZeroOneState          int
	registerTestedFoundToBeNonnegative int
	zeroOneComing                      int
	oneMeansNull                       bool

	methodName               string
	fullyQualifiedMethodName string
}

// NewOpcodeStack builds an empty stack bound to the given context.
func NewOpcodeStack(ctx *AnalysisContext) *OpcodeStack {
	if ctx == nil {
		ctx = NewAnalysisContext()
	}
	return &OpcodeStack{
		ctx:                                ctx,
		exceptionHandlers:                  map[int]bool{},
		jumpEntries:                        map[int][]*Item{},
		jumpStackEntries:                   map[int][]*Item{},
		jumpEntryLocations:                 map[int]bool{},
		registerTestedFoundToBeNonnegative: -1,
		zeroOneComing:                      -1,
		needToMerge:                        true,
	}
}

func (s *OpcodeStack) String() string {
	if s.IsTop() {
		return "TOP"
	}
	var buf strings.Builder
	buf.WriteString("[")
	for i, it := range s.stack {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(it.String())
	}
	buf.WriteString("]::[")
	for i, it := range s.lvValues {
		if i > 0 {
			buf.WriteString(", ")
		}
		if it == nil {
			buf.WriteString("-")
		} else {
			buf.WriteString(it.String())
		}
	}
	buf.WriteString("]")
	return buf.String()
}

// StackDepth is the number of abstract slots on the operand stack.
func (s *OpcodeStack) StackDepth() int {
	return len(s.stack)
}

// StackItem returns the item at the given offset from the top of the
// stack, 0 being the top. Reading past the bottom logs a diagnostic and
// returns a synthetic error item so that callers never crash on malformed
// bytecode.
func (s *OpcodeStack) StackItem(stackOffset int) *Item {
	if stackOffset < 0 || stackOffset >= len(s.stack) {
		s.ctx.logError("can't get stack offset %d from %s in %s",
			stackOffset, s.String(), s.fullyQualifiedMethodName)
		return NewItem(errorItemSignature)
	}
	return s.stack[len(s.stack)-1-stackOffset]
}

// Replace overwrites the item at the given offset from the top.
func (s *OpcodeStack) Replace(stackOffset int, value *Item) {
	if stackOffset < 0 || stackOffset >= len(s.stack) {
		s.ctx.logError("can't replace stack offset %d in %s in %s",
			stackOffset, s.String(), s.fullyQualifiedMethodName)
		return
	}
	s.stack[len(s.stack)-1-stackOffset] = value
}

// ReplaceTop swaps the top of stack for the given item.
func (s *OpcodeStack) ReplaceTop(newTop *Item) {
	s.pop()
	s.push(newTop)
}

func (s *OpcodeStack) push(it *Item) {
	s.stack = append(s.stack, it)
}

func (s *OpcodeStack) pop() *Item {
	if len(s.stack) == 0 {
		s.ctx.logError("stack underflow in %s", s.fullyQualifiedMethodName)
		return NewItem(errorItemSignature)
	}
	it := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return it
}

func (s *OpcodeStack) popN(count int) {
	for ; count > 0; count-- {
		s.pop()
	}
}

func (s *OpcodeStack) topItem() *Item {
	if len(s.stack) == 0 {
		s.ctx.logError("stack underflow in %s", s.fullyQualifiedMethodName)
		return NewItem(errorItemSignature)
	}
	return s.stack[len(s.stack)-1]
}

func (s *OpcodeStack) clear() {
	s.stack = s.stack[:0]
	s.lvValues = s.lvValues[:0]
}

// LVValue returns the abstract value of the given local register; an
// out-of-range or never-written register reads as an untyped null.
func (s *OpcodeStack) LVValue(register int) *Item {
	if register < 0 || register >= len(s.lvValues) {
		return NewNullItem()
	}
	if it := s.lvValues[register]; it != nil {
		return it
	}
	return NewNullItem()
}

// NumLocalValues is the extent of the written local-variable array.
func (s *OpcodeStack) NumLocalValues() int {
	return len(s.lvValues)
}

func (s *OpcodeStack) setLVValue(register int, value *Item) {
	for len(s.lvValues) <= register {
		s.lvValues = append(s.lvValues, nil)
	}
	if !s.ctx.IterativeAnalysis && s.seenTransferOfControl {
		value = MergeItems(value, s.lvValues[register])
	}
	s.lvValues[register] = value
}

func (s *OpcodeStack) setLastUpdate(register, pc int) {
	for len(s.lastUpdate) <= register {
		s.lastUpdate = append(s.lastUpdate, 0)
	}
	s.lastUpdate[register] = pc
}

// LastUpdate is the offset of the last store to the register, 0 when the
// register was never stored.
func (s *OpcodeStack) LastUpdate(register int) int {
	if register >= len(s.lastUpdate) {
		return 0
	}
	return s.lastUpdate[register]
}

// NumLastUpdates is the extent of the store-tracking array.
func (s *OpcodeStack) NumLastUpdates() int {
	return len(s.lastUpdate)
}

// IsTop reports whether the current offset is unreachable by fall-through.
func (s *OpcodeStack) IsTop() bool {
	return s.top
}

func (s *OpcodeStack) setTop(top bool) {
	s.top = top
}

func (s *OpcodeStack) setReachOnlyByBranch(reachOnlyByBranch bool) {
	if reachOnlyByBranch {
		s.setTop(true)
	}
	s.reachOnlyByBranch = reachOnlyByBranch
}

func (s *OpcodeStack) isReachOnlyByBranch() bool {
	return s.reachOnlyByBranch
}

// EncounteredTop reports whether any scan reached an unreachable region,
// which makes back-edge bookkeeping unreliable.
func (s *OpcodeStack) EncounteredTop() bool {
	return s.encounteredTop
}

// HasBackwardsBranch reports whether the method branched backwards during
// the scan.
func (s *OpcodeStack) HasBackwardsBranch() bool {
	return s.backwardsBranch
}

func (s *OpcodeStack) pushByLocalLoad(signature string, register int) {
	oldItem := s.LVValue(register).Copy()

	newItem := oldItem
	if newItem.signature == "Ljava/lang/Object;" && signature != "Ljava/lang/Object;" {
		newItem = oldItem.Copy()
		newItem.signature = signature
	}
	if newItem.RegisterNumber() < 0 {
		if newItem == oldItem {
			newItem = oldItem.Copy()
		}
		newItem.registerNumber = register
	}
	s.push(newItem)
}

func (s *OpcodeStack) pushByLocalStore(register int) {
	it := s.pop().Copy()
	if it.RegisterNumber() != register {
		clearRegisterLoad(s.lvValues, register)
		clearRegisterLoad(s.stack, register)
	}
	if it.registerNumber == NoRegister {
		it.registerNumber = register
	}
	s.setLVValue(register, it)
}

// clearRegisterLoad invalidates the register mirrors of items still
// claiming a register that is being overwritten.
func clearRegisterLoad(list []*Item, register int) {
	for pos, it := range list {
		if it == nil {
			continue
		}
		if it.registerNumber == register || it.fieldLoadedFromRegister == register {
			it = it.Copy()
			if it.registerNumber == register {
				it.registerNumber = NoRegister
			}
			if it.fieldLoadedFromRegister == register {
				it.fieldLoadedFromRegister = NoRegister
			}
			list[pos] = it
		}
	}
}

func (s *OpcodeStack) eraseKnowledgeOf(field Member) {
	if field.IsZero() {
		return
	}
	for _, it := range s.stack {
		if f, ok := it.XField(); ok && f == field {
			it.setLoadedFromField(Member{}, NoRegister)
		}
	}
	for _, it := range s.lvValues {
		if it == nil {
			continue
		}
		if f, ok := it.XField(); ok && f == field {
			it.setLoadedFromField(Member{}, NoRegister)
		}
	}
}

// markConstantValueUnknown forgets the constant of a builder that escapes,
// along with the local it mirrors.
func (s *OpcodeStack) markConstantValueUnknown(it *Item) {
	it.constant = nil
	if it.registerNumber >= 0 && it.registerNumber < len(s.lvValues) {
		if lv := s.lvValues[it.registerNumber]; lv != nil && lv.signature == it.signature {
			lv.constant = nil
		}
	}
}
