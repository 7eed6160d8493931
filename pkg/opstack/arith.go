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
	"math"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
)

// foldBinaryInt evaluates an int arithmetic opcode over two constants with
// JVM semantics. Division and remainder by zero do not fold: the analysed
// code throws at runtime, the analyser produces a non-constant value.
func foldBinaryInt(op int, lhs, rhs int32) (int32, bool) {
	switch op {
	case dismantle.Iadd:
		return lhs + rhs, true
	case dismantle.Isub:
		return lhs - rhs, true
	case dismantle.Imul:
		return lhs * rhs, true
	case dismantle.Idiv:
		if rhs == 0 {
			return 0, false
		}
		if lhs == math.MinInt32 && rhs == -1 {
			return math.MinInt32, true
		}
		return lhs / rhs, true
	case dismantle.Irem:
		if rhs == 0 {
			return 0, false
		}
		if lhs == math.MinInt32 && rhs == -1 {
			return 0, true
		}
		return lhs % rhs, true
	case dismantle.Iand:
		return lhs & rhs, true
	case dismantle.Ior:
		return lhs | rhs, true
	case dismantle.Ixor:
		return lhs ^ rhs, true
	case dismantle.Ishl:
		return lhs << uint(rhs&0x1f), true
	case dismantle.Ishr:
		return lhs >> uint(rhs&0x1f), true
	case dismantle.Iushr:
		return int32(uint32(lhs) >> uint(rhs&0x1f)), true
	}
	return 0, false
}

func foldBinaryLong(op int, lhs, rhs int64) (int64, bool) {
	switch op {
	case dismantle.Ladd:
		return lhs + rhs, true
	case dismantle.Lsub:
		return lhs - rhs, true
	case dismantle.Lmul:
		return lhs * rhs, true
	case dismantle.Ldiv:
		if rhs == 0 {
			return 0, false
		}
		if lhs == math.MinInt64 && rhs == -1 {
			return math.MinInt64, true
		}
		return lhs / rhs, true
	case dismantle.Lrem:
		if rhs == 0 {
			return 0, false
		}
		if lhs == math.MinInt64 && rhs == -1 {
			return 0, true
		}
		return lhs % rhs, true
	case dismantle.Land:
		return lhs & rhs, true
	case dismantle.Lor:
		return lhs | rhs, true
	case dismantle.Lxor:
		return lhs ^ rhs, true
	case dismantle.Lshl:
		return lhs << uint(rhs&0x3f), true
	case dismantle.Lshr:
		return lhs >> uint(rhs&0x3f), true
	case dismantle.Lushr:
		return int64(uint64(lhs) >> uint(rhs&0x3f)), true
	}
	return 0, false
}

func (s *OpcodeStack) pushByIntMath(dbc *dismantle.Method, seen int, lhs, rhs *Item) {
	newValue := NewItem("I")
	if lhs == nil || rhs == nil {
		s.push(newValue)
		return
	}
	s.ctx.trace("pushByIntMath %s @ %d : %s %s %s",
		s.fullyQualifiedMethodName, dbc.PC(), lhs, dismantle.OpcodeName(seen), rhs)

	lhsValue, lhsConstant := numericInt(lhs.Constant())
	rhsValue, rhsConstant := numericInt(rhs.Constant())

	// division or remainder by a literal zero throws at runtime; the
	// result is an unknown int with no provenance
	if rhsConstant && rhsValue == 0 && (seen == dismantle.Idiv || seen == dismantle.Irem) {
		newValue.SetPC(dbc.PC())
		s.push(newValue)
		return
	}

	switch {
	case lhsConstant && rhsConstant:
		if folded, ok := foldBinaryInt(seen, lhsValue, rhsValue); ok {
			newValue = NewConstantItem("I", folded)
			switch seen {
			case dismantle.Iand:
				if rhsValue&0xff == 0 && rhsValue != 0 || lhsValue&0xff == 0 && lhsValue != 0 {
					newValue.SetSpecialKind(Low8BitsClear)
				}
			case dismantle.Ishl:
				if rhsValue >= 8 {
					newValue.SetSpecialKind(Low8BitsClear)
				}
			}
		}

	case seen == dismantle.Ishl || seen == dismantle.Ishr || seen == dismantle.Iushr:
		if rhsConstant {
			if rhsValue&0x1f == 0 {
				newValue = lhs.Copy()
			} else if seen == dismantle.Ishl && rhsValue&0x1f >= 8 {
				newValue.SetSpecialKind(Low8BitsClear)
			}
		} else if lhsConstant && lhsValue == 0 {
			newValue = NewConstantItem("I", int32(0))
		}

	case lhsConstant && seen == dismantle.Iand:
		switch {
		case lhsValue == 0:
			newValue = NewConstantItem("I", int32(0))
		case lhsValue&0xff == 0:
			newValue.SetSpecialKind(Low8BitsClear)
		case lhsValue >= 0:
			newValue.SetSpecialKind(NonNegative)
		}

	case rhsConstant && seen == dismantle.Iand:
		switch {
		case rhsValue == 0:
			newValue = NewConstantItem("I", int32(0))
		case rhsValue&0xff == 0:
			newValue.SetSpecialKind(Low8BitsClear)
		case rhsValue >= 0:
			newValue.SetSpecialKind(NonNegative)
		}

	case seen == dismantle.Iand && lhs.SpecialKind() == ZeroMeansNull:
		newValue.SetSpecialKind(ZeroMeansNull)
		newValue.SetPC(lhs.PC())
	case seen == dismantle.Iand && rhs.SpecialKind() == ZeroMeansNull:
		newValue.SetSpecialKind(ZeroMeansNull)
		newValue.SetPC(rhs.PC())
	case seen == dismantle.Ior && lhs.SpecialKind() == NonzeroMeansNull:
		newValue.SetSpecialKind(NonzeroMeansNull)
		newValue.SetPC(lhs.PC())
	case seen == dismantle.Ior && rhs.SpecialKind() == NonzeroMeansNull:
		newValue.SetSpecialKind(NonzeroMeansNull)
		newValue.SetPC(rhs.PC())
	}

	if lhs.SpecialKind() == IntegerSum && rhsConstant {
		if seen == dismantle.Idiv && rhsValue == 2 || seen == dismantle.Ishr && rhsValue == 1 {
			newValue.SetSpecialKind(AverageComputedUsingDivision)
		}
	}
	if seen == dismantle.Iadd && newValue.SpecialKind() == NotSpecial &&
		lhs.Constant() == nil && rhs.Constant() == nil {
		newValue.SetSpecialKind(IntegerSum)
	}
	if seen == dismantle.Irem &&
		(lhs.SpecialKind() == HashcodeInt || lhs.SpecialKind() == RandomInt) {
		// a remainder by a power of two is taken as a deliberate mask, not
		// a bucket index
		if !(rhsConstant && isPowerOfTwo(rhsValue)) {
			newValue.SetSpecialKind(lhs.specialKindForRemainder())
		}
	}

	newValue.SetPC(dbc.PC())
	s.push(newValue)
}

func (s *OpcodeStack) pushByLongMath(seen int, lhs, rhs *Item) {
	newValue := NewItem("J")

	lhsValue, lhsConstant := numericLong(lhs.Constant())
	rhsValue, rhsConstant := numericLong(rhs.Constant())

	switch {
	case lhsConstant && rhsConstant:
		shift := int64(0)
		if v, ok := numericInt(rhs.Constant()); ok {
			shift = int64(v)
		}
		foldRHS := rhsValue
		if seen == dismantle.Lshl || seen == dismantle.Lshr || seen == dismantle.Lushr {
			foldRHS = shift
		}
		if folded, ok := foldBinaryLong(seen, lhsValue, foldRHS); ok {
			newValue = NewConstantItem("J", folded)
			switch seen {
			case dismantle.Lshl:
				if shift >= 8 {
					newValue.SetSpecialKind(Low8BitsClear)
				}
			case dismantle.Land:
				if rhsValue&0xff == 0 && rhsValue != 0 || lhsValue&0xff == 0 && lhsValue != 0 {
					newValue.SetSpecialKind(Low8BitsClear)
				}
			}
		}
	case rhsConstant && seen == dismantle.Lshl && rhsValue >= 8:
		newValue.SetSpecialKind(Low8BitsClear)
	case lhsConstant && seen == dismantle.Land && lhsValue&0xff == 0:
		newValue.SetSpecialKind(Low8BitsClear)
	case rhsConstant && seen == dismantle.Land && rhsValue&0xff == 0:
		newValue.SetSpecialKind(Low8BitsClear)
	}

	s.push(newValue)
}

func (s *OpcodeStack) pushByFloatMath(seen int, it, it2 *Item) {
	rhs, rhsOK := it.Constant().(float32)
	lhs, lhsOK := it2.Constant().(float32)
	var result *Item
	if lhsOK && rhsOK {
		switch seen {
		case dismantle.Fadd:
			result = NewConstantItem("F", lhs+rhs)
		case dismantle.Fsub:
			result = NewConstantItem("F", lhs-rhs)
		case dismantle.Fmul:
			result = NewConstantItem("F", lhs*rhs)
		case dismantle.Fdiv:
			result = NewConstantItem("F", lhs/rhs)
		case dismantle.Frem:
			result = NewConstantItem("F", float32(math.Mod(float64(lhs), float64(rhs))))
		default:
			result = NewItem("F")
		}
	} else {
		result = NewItem("F")
	}
	result.SetSpecialKind(FloatMath)
	s.push(result)
}

func (s *OpcodeStack) pushByDoubleMath(seen int, it, it2 *Item) {
	rhs, rhsOK := it.Constant().(float64)
	lhs, lhsOK := it2.Constant().(float64)
	var result *Item
	specialKind := FloatMath
	if lhsOK && rhsOK {
		switch seen {
		case dismantle.Dadd:
			result = NewConstantItem("D", lhs+rhs)
		case dismantle.Dsub:
			result = NewConstantItem("D", lhs-rhs)
		case dismantle.Dmul:
			result = NewConstantItem("D", lhs*rhs)
		case dismantle.Ddiv:
			result = NewConstantItem("D", lhs/rhs)
		case dismantle.Drem:
			result = NewConstantItem("D", math.Mod(lhs, rhs))
		default:
			result = NewItem("D")
		}
	} else {
		result = NewItem("D")
		if seen == dismantle.Ddiv {
			specialKind = NastyFloatMath
		}
	}
	result.SetSpecialKind(specialKind)
	s.push(result)
}

func (s *OpcodeStack) handleLcmp() {
	it := s.pop()
	it2 := s.pop()
	v, ok := numericLong(it.Constant())
	v2, ok2 := numericLong(it2.Constant())
	if ok && ok2 {
		switch {
		case v2 < v:
			s.push(NewConstantItem("I", int32(-1)))
		case v2 > v:
			s.push(NewConstantItem("I", int32(1)))
		default:
			s.push(NewConstantItem("I", int32(0)))
		}
		return
	}
	s.push(NewItem("I"))
}

func (s *OpcodeStack) handleFcmp(seen int) {
	it := s.pop()
	it2 := s.pop()
	v, ok := numericFloat(it.Constant())
	v2, ok2 := numericFloat(it2.Constant())
	if ok && ok2 {
		switch {
		case math.IsNaN(float64(v)) || math.IsNaN(float64(v2)):
			if seen == dismantle.Fcmpg {
				s.push(NewConstantItem("I", int32(1)))
			} else {
				s.push(NewConstantItem("I", int32(-1)))
			}
		case v2 < v:
			s.push(NewConstantItem("I", int32(-1)))
		case v2 > v:
			s.push(NewConstantItem("I", int32(1)))
		default:
			s.push(NewConstantItem("I", int32(0)))
		}
		return
	}
	s.push(NewItem("I"))
}

func (s *OpcodeStack) handleDcmp(seen int) {
	it := s.pop()
	it2 := s.pop()
	v, ok := numericDouble(it.Constant())
	v2, ok2 := numericDouble(it2.Constant())
	if ok && ok2 {
		switch {
		case math.IsNaN(v) || math.IsNaN(v2):
			if seen == dismantle.Dcmpg {
				s.push(NewConstantItem("I", int32(1)))
			} else {
				s.push(NewConstantItem("I", int32(-1)))
			}
		case v2 < v:
			s.push(NewConstantItem("I", int32(-1)))
		case v2 > v:
			s.push(NewConstantItem("I", int32(1)))
		default:
			s.push(NewConstantItem("I", int32(0)))
		}
		return
	}
	s.push(NewItem("I"))
}
