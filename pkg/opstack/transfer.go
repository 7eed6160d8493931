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
	"strings"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
)

// SawOpcode applies the current instruction to the abstract state. Any
// error while modelling an instruction clears the state and marks it
// unreachable; the scan resynchronises at the next jump target. No
// instruction is ever fatal to the analysis.
func (s *OpcodeStack) SawOpcode(dbc *dismantle.Method, seen int) {
	if dbc.IsRegisterStore() {
		s.setLastUpdate(dbc.StoreRegister(), dbc.PC())
	}

	s.Precomputation(dbc)
	s.needToMerge = true

	defer func() {
		if r := recover(); r != nil {
			s.ctx.logError("error processing opcode %s @ %d in %s: %v",
				dismantle.OpcodeName(seen), dbc.PC(), dbc.FullyQualifiedMethodName(), r)
			s.clear()
			s.setTop(true)
		}
		s.ctx.trace("%4d: %14s %s", dbc.PC(), dismantle.OpcodeName(seen), s.String())
	}()

	if s.IsTop() {
		s.encounteredTop = true
		return
	}

	if seen == dismantle.Goto {
		s.detectNullnessIdiom(dbc)
	}
	s.stepBooleanIdiomStateMachines(dbc, seen)

	switch seen {
	case dismantle.Aload:
		s.pushByLocalObjectLoad(dbc, dbc.RegisterOperand())
	case dismantle.Aload0, dismantle.Aload1, dismantle.Aload2, dismantle.Aload3:
		s.pushByLocalObjectLoad(dbc, seen-dismantle.Aload0)

	case dismantle.Dload:
		s.pushByLocalLoad("D", dbc.RegisterOperand())
	case dismantle.Dload0, dismantle.Dload1, dismantle.Dload2, dismantle.Dload3:
		s.pushByLocalLoad("D", seen-dismantle.Dload0)

	case dismantle.Fload:
		s.pushByLocalLoad("F", dbc.RegisterOperand())
	case dismantle.Fload0, dismantle.Fload1, dismantle.Fload2, dismantle.Fload3:
		s.pushByLocalLoad("F", seen-dismantle.Fload0)

	case dismantle.Iload:
		s.pushByLocalLoad("I", dbc.RegisterOperand())
	case dismantle.Iload0, dismantle.Iload1, dismantle.Iload2, dismantle.Iload3:
		s.pushByLocalLoad("I", seen-dismantle.Iload0)

	case dismantle.Lload:
		s.pushByLocalLoad("J", dbc.RegisterOperand())
	case dismantle.Lload0, dismantle.Lload1, dismantle.Lload2, dismantle.Lload3:
		s.pushByLocalLoad("J", seen-dismantle.Lload0)

	case dismantle.Getstatic:
		s.pushByStaticFieldLoad(dbc)

	case dismantle.Ldc, dismantle.LdcW, dismantle.Ldc2W:
		s.pushByConstant(dbc)

	case dismantle.Instanceof:
		s.pop()
		s.push(NewItem("I"))

	case dismantle.Ifnonnull, dismantle.Ifnull,
		dismantle.Ifeq, dismantle.Ifne, dismantle.Iflt, dismantle.Ifle,
		dismantle.Ifgt, dismantle.Ifge:
		s.seenTransferOfControl = true
		topItem := s.pop()
		if seen == dismantle.Iflt || seen == dismantle.Ifle {
			s.registerTestedFoundToBeNonnegative = topItem.registerNumber
		}
		// a comparison of a possibly-negative special value against zero
		// bounds every other copy of that kind on one path
		if topItem.ValueCouldBeNegative() &&
			(seen == dismantle.Iflt || seen == dismantle.Ifle || seen == dismantle.Ifgt || seen == dismantle.Ifge) {
			kind := topItem.SpecialKind()
			for _, it := range s.stack {
				if it != nil && it.SpecialKind() == kind {
					it.SetSpecialKind(NotSpecial)
				}
			}
			for _, it := range s.lvValues {
				if it != nil && it.SpecialKind() == kind {
					it.SetSpecialKind(NotSpecial)
				}
			}
		}
		s.addJumpValue(dbc.PC(), dbc.BranchTarget())

	case dismantle.Lookupswitch, dismantle.Tableswitch:
		s.seenTransferOfControl = true
		s.setReachOnlyByBranch(true)
		s.pop()
		s.addJumpValue(dbc.PC(), dbc.BranchTarget())
		base := dbc.BranchTarget() - dbc.BranchOffset()
		for _, offset := range dbc.SwitchOffsets() {
			s.addJumpValue(dbc.PC(), offset+base)
		}

	case dismantle.Areturn, dismantle.Dreturn, dismantle.Freturn,
		dismantle.Ireturn, dismantle.Lreturn:
		s.seenTransferOfControl = true
		s.setReachOnlyByBranch(true)
		s.pop()

	case dismantle.Monitorenter, dismantle.Monitorexit, dismantle.Pop:
		s.pop()

	case dismantle.Putstatic:
		s.pop()
		s.eraseKnowledgeOf(fieldOperand(dbc))
	case dismantle.Putfield:
		s.popN(2)
		s.eraseKnowledgeOf(fieldOperand(dbc))

	case dismantle.IfAcmpeq, dismantle.IfAcmpne,
		dismantle.IfIcmpeq, dismantle.IfIcmpne, dismantle.IfIcmplt,
		dismantle.IfIcmple, dismantle.IfIcmpgt, dismantle.IfIcmpge:
		s.handleComparisonBranch(dbc, seen)

	case dismantle.Pop2:
		if it := s.pop(); it.Size() == 1 {
			s.pop()
		}

	case dismantle.Iaload, dismantle.Saload:
		s.popN(2)
		s.push(NewItem("I"))

	case dismantle.Dup:
		s.handleDup()
	case dismantle.Dup2:
		s.handleDup2()
	case dismantle.DupX1:
		s.handleDupX1()
	case dismantle.DupX2:
		s.handleDupX2()
	case dismantle.Dup2X1:
		s.handleDup2X1()
	case dismantle.Dup2X2:
		s.handleDup2X2()
	case dismantle.Swap:
		s.handleSwap()

	case dismantle.Iinc:
		register := dbc.RegisterOperand()
		it := s.LVValue(register)
		it2 := NewConstantItem("I", int32(dbc.IntConstant()))
		s.pushByIntMath(dbc, dismantle.Iadd, it2, it)
		s.pushByLocalStore(register)

	case dismantle.Athrow:
		s.pop()
		s.seenTransferOfControl = true
		s.setReachOnlyByBranch(true)
		s.setTop(true)

	case dismantle.Checkcast:
		castTo := dbc.ClassConstantOperand()
		if !strings.HasPrefix(castTo, "[") {
			castTo = "L" + castTo + ";"
		}
		it := s.pop()
		if it.Signature() != castTo {
			it = it.ConvertTo(castTo)
		}
		s.push(it)

	case dismantle.Nop:

	case dismantle.Ret, dismantle.Return:
		s.seenTransferOfControl = true
		s.setReachOnlyByBranch(true)

	case dismantle.Goto, dismantle.GotoW:
		s.seenTransferOfControl = true
		s.setReachOnlyByBranch(true)
		s.addJumpValue(dbc.PC(), dbc.BranchTarget())
		s.stack = s.stack[:0]
		s.setTop(true)

	case dismantle.IconstM1, dismantle.Iconst0, dismantle.Iconst1,
		dismantle.Iconst2, dismantle.Iconst3, dismantle.Iconst4, dismantle.Iconst5:
		s.push(NewConstantItem("I", int32(seen-dismantle.Iconst0)))

	case dismantle.Lconst0, dismantle.Lconst1:
		s.push(NewConstantItem("J", int64(seen-dismantle.Lconst0)))

	case dismantle.Dconst0, dismantle.Dconst1:
		s.push(NewConstantItem("D", float64(seen-dismantle.Dconst0)))

	case dismantle.Fconst0, dismantle.Fconst1, dismantle.Fconst2:
		s.push(NewConstantItem("F", float32(seen-dismantle.Fconst0)))

	case dismantle.AconstNull:
		s.push(NewNullItem())

	case dismantle.Astore, dismantle.Dstore, dismantle.Fstore,
		dismantle.Istore, dismantle.Lstore:
		s.pushByLocalStore(dbc.RegisterOperand())
	case dismantle.Astore0, dismantle.Astore1, dismantle.Astore2, dismantle.Astore3:
		s.pushByLocalStore(seen - dismantle.Astore0)
	case dismantle.Dstore0, dismantle.Dstore1, dismantle.Dstore2, dismantle.Dstore3:
		s.pushByLocalStore(seen - dismantle.Dstore0)
	case dismantle.Fstore0, dismantle.Fstore1, dismantle.Fstore2, dismantle.Fstore3:
		s.pushByLocalStore(seen - dismantle.Fstore0)
	case dismantle.Istore0, dismantle.Istore1, dismantle.Istore2, dismantle.Istore3:
		s.pushByLocalStore(seen - dismantle.Istore0)
	case dismantle.Lstore0, dismantle.Lstore1, dismantle.Lstore2, dismantle.Lstore3:
		s.pushByLocalStore(seen - dismantle.Lstore0)

	case dismantle.Getfield:
		s.pushByInstanceFieldLoad(dbc)

	case dismantle.Arraylength:
		array := s.pop()
		newItem := NewConstantItem("I", array.Constant())
		newItem.SetSpecialKind(NonNegative)
		s.push(newItem)

	case dismantle.Baload:
		s.popN(2)
		newItem := NewItem("I")
		newItem.SetSpecialKind(SignedByte)
		s.push(newItem)
	case dismantle.Caload:
		s.popN(2)
		newItem := NewItem("I")
		newItem.SetSpecialKind(NonNegative)
		s.push(newItem)
	case dismantle.Daload:
		s.popN(2)
		s.push(NewItem("D"))
	case dismantle.Faload:
		s.popN(2)
		s.push(NewItem("F"))
	case dismantle.Laload:
		s.popN(2)
		s.push(NewItem("J"))

	case dismantle.Aastore, dismantle.Bastore, dismantle.Castore,
		dismantle.Dastore, dismantle.Fastore, dismantle.Iastore,
		dismantle.Lastore, dismantle.Sastore:
		s.popN(3)

	case dismantle.Bipush, dismantle.Sipush:
		s.push(NewConstantItem("I", int32(dbc.IntConstant())))

	case dismantle.Iadd, dismantle.Isub, dismantle.Imul, dismantle.Idiv,
		dismantle.Iand, dismantle.Ior, dismantle.Ixor, dismantle.Ishl,
		dismantle.Ishr, dismantle.Irem, dismantle.Iushr:
		it := s.pop()
		it2 := s.pop()
		s.pushByIntMath(dbc, seen, it2, it)

	case dismantle.Ineg:
		it := s.pop()
		if v, ok := it.Constant().(int32); ok {
			s.push(NewConstantItem("I", -v))
		} else {
			s.push(NewItem("I"))
		}
	case dismantle.Lneg:
		it := s.pop()
		if v, ok := it.Constant().(int64); ok {
			s.push(NewConstantItem("J", -v))
		} else {
			s.push(NewItem("J"))
		}
	case dismantle.Fneg:
		it := s.pop()
		if v, ok := it.Constant().(float32); ok {
			s.push(NewConstantItem("F", -v))
		} else {
			s.push(NewItem("F"))
		}
	case dismantle.Dneg:
		it := s.pop()
		if v, ok := it.Constant().(float64); ok {
			s.push(NewConstantItem("D", -v))
		} else {
			s.push(NewItem("D"))
		}

	case dismantle.Ladd, dismantle.Lsub, dismantle.Lmul, dismantle.Ldiv,
		dismantle.Land, dismantle.Lor, dismantle.Lxor, dismantle.Lshl,
		dismantle.Lshr, dismantle.Lrem, dismantle.Lushr:
		it := s.pop()
		it2 := s.pop()
		s.pushByLongMath(seen, it2, it)

	case dismantle.Lcmp:
		s.handleLcmp()
	case dismantle.Fcmpg, dismantle.Fcmpl:
		s.handleFcmp(seen)
	case dismantle.Dcmpg, dismantle.Dcmpl:
		s.handleDcmp(seen)

	case dismantle.Fadd, dismantle.Fsub, dismantle.Fmul, dismantle.Fdiv, dismantle.Frem:
		it := s.pop()
		it2 := s.pop()
		s.pushByFloatMath(seen, it, it2)

	case dismantle.Dadd, dismantle.Dsub, dismantle.Dmul, dismantle.Ddiv, dismantle.Drem:
		it := s.pop()
		it2 := s.pop()
		s.pushByDoubleMath(seen, it, it2)

	case dismantle.I2b:
		it := s.pop()
		newValue := it.ConvertTo("B")
		newValue.setCouldBeNegative()
		s.push(newValue)

	case dismantle.I2c:
		it := s.pop()
		s.push(it.ConvertTo("C"))

	case dismantle.I2l, dismantle.D2l, dismantle.F2l:
		it := s.pop()
		newValue := it.ConvertTo("J")
		if it.SpecialKind() != SignedByte && seen == dismantle.I2l {
			newValue.SetSpecialKind(ResultOfI2L)
		}
		s.push(newValue)

	case dismantle.I2s:
		it := s.pop()
		newValue := it.ConvertTo("S")
		newValue.setCouldBeNegative()
		s.push(newValue)

	case dismantle.L2i, dismantle.D2i, dismantle.F2i:
		it := s.pop()
		oldSpecialKind := it.SpecialKind()
		converted := it.ConvertTo("I")
		if oldSpecialKind == NotSpecial {
			converted.SetSpecialKind(ResultOfL2I)
		}
		s.push(converted)

	case dismantle.L2f, dismantle.D2f, dismantle.I2f:
		it := s.pop()
		if v, ok := numericFloat(it.Constant()); ok {
			s.push(NewConstantItem("F", v))
		} else {
			s.push(NewItem("F"))
		}

	case dismantle.F2d, dismantle.I2d, dismantle.L2d:
		it := s.pop()
		if v, ok := numericDouble(it.Constant()); ok {
			s.push(NewConstantItem("D", v))
		} else {
			s.push(NewItem("D"))
		}

	case dismantle.New:
		item := NewConstantItem("L"+dbc.ClassConstantOperand()+";", nil)
		item.SetSpecialKind(NewlyAllocated)
		s.push(item)

	case dismantle.Newarray:
		length := s.pop()
		signature := "[" + newarrayElementSignature(dbc.IntConstant())
		item := NewConstantItem(signature, length.Constant())
		item.SetPC(dbc.PC())
		item.SetSpecialKind(NewlyAllocated)
		s.push(item)

	case dismantle.Anewarray:
		// per JVMS 4.4.1 the class operand is either a class name in
		// internal form or an array signature
		length := s.pop()
		signature := dbc.ClassConstantOperand()
		if strings.HasPrefix(signature, "[") {
			signature = "[" + signature
		} else {
			signature = "[L" + signature + ";"
		}
		item := NewConstantItem(signature, length.Constant())
		item.SetPC(dbc.PC())
		item.SetSpecialKind(NewlyAllocated)
		s.push(item)

	case dismantle.Multianewarray:
		dims := dbc.IntConstant()
		for i := 0; i < dims; i++ {
			s.pop()
		}
		s.pushBySignature(dbc.ClassConstantOperand(), dbc)
		s.StackItem(0).SetSpecialKind(NewlyAllocated)

	case dismantle.Aaload:
		s.pop()
		it := s.pop()
		arraySig := it.Signature()
		if strings.HasPrefix(arraySig, "[") {
			s.pushBySignature(arraySig[1:], dbc)
		} else {
			s.push(NewNullItem())
		}

	case dismantle.Jsr, dismantle.JsrW:
		s.seenTransferOfControl = true
		s.setReachOnlyByBranch(false)
		s.push(NewItem(""))
		s.addJumpValue(dbc.PC(), dbc.BranchTarget())
		s.pop()
		if dbc.BranchOffset() < 0 {
			// backwards JSRs are weird; forget everything on the stack
			size := len(s.stack)
			s.stack = s.stack[:0]
			for i := 0; i < size; i++ {
				s.push(NewNullItem())
			}
		}
		s.setTop(false)

	case dismantle.Invokeinterface, dismantle.Invokespecial,
		dismantle.Invokestatic, dismantle.Invokevirtual:
		s.processMethodCall(dbc, seen)

	case dismantle.Invokedynamic:
		s.processInvokeDynamic(dbc)

	default:
		s.ctx.logError("opcode %s (%d) @ %d not supported in %s",
			dismantle.OpcodeName(seen), seen, dbc.PC(), dbc.FullyQualifiedMethodName())
		s.clear()
		s.setTop(true)
	}
}

func fieldOperand(dbc *dismantle.Method) Member {
	ref := dbc.MemberOperand()
	return FieldMember(ref.Class, ref.Name, ref.Signature)
}

func methodOperand(dbc *dismantle.Method) Member {
	ref := dbc.MemberOperand()
	return MethodMember(ref.Class, ref.Name, ref.Signature)
}

// detectNullnessIdiom recognises ifnull/ifnonnull; iconst_{0,1}; goto;
// iconst_{1,0} materialising nullness as a boolean, and schedules the
// replacement of the merged constant with a ZeroMeansNull or
// NonzeroMeansNull value once the scan reaches the join point.
func (s *OpcodeStack) detectNullnessIdiom(dbc *dismantle.Method) {
	nextPC := dbc.PC() + 3
	if nextPC > dbc.MaxPC() {
		return
	}
	prevOpcode1 := dbc.PrevOpcode(1)
	prevOpcode2 := dbc.PrevOpcode(2)
	nextOpcode := dbc.CodeByte(nextPC)
	if (prevOpcode1 == dismantle.Iconst0 || prevOpcode1 == dismantle.Iconst1) &&
		(prevOpcode2 == dismantle.Ifnull || prevOpcode2 == dismantle.Ifnonnull) &&
		(nextOpcode == dismantle.Iconst0 || nextOpcode == dismantle.Iconst1) &&
		prevOpcode1 != nextOpcode {
		s.oneMeansNull = prevOpcode1 == dismantle.Iconst0
		if prevOpcode2 != dismantle.Ifnull {
			s.oneMeansNull = !s.oneMeansNull
		}
		s.zeroOneComing = nextPC + 1
		s.convertJumpToOneZeroState = 0
		s.convertJumpToZeroOneState = 0
	}
}

// stepBooleanIdiomStateMachines advances the two three-step recognisers
// that collapse iconst_1; goto +4; iconst_0 (and its mirror) into a single
// could-be-zero int at the join.
func (s *OpcodeStack) stepBooleanIdiomStateMachines(dbc *dismantle.Method, seen int) {
	switch seen {
	case dismantle.Iconst1:
		s.convertJumpToOneZeroState = 1
	case dismantle.Goto:
		if s.convertJumpToOneZeroState == 1 && dbc.BranchOffset() == 4 {
			s.convertJumpToOneZeroState = 2
		} else {
			s.convertJumpToOneZeroState = 0
		}
	case dismantle.Iconst0:
		if s.convertJumpToOneZeroState == 2 {
			s.convertJumpToOneZeroState = 3
		} else {
			s.convertJumpToOneZeroState = 0
		}
	default:
		s.convertJumpToOneZeroState = 0
	}

	switch seen {
	case dismantle.Iconst0:
		s.convertJumpToZeroOneState = 1
	case dismantle.Goto:
		if s.convertJumpToZeroOneState == 1 && dbc.BranchOffset() == 4 {
			s.convertJumpToZeroOneState = 2
		} else {
			s.convertJumpToZeroOneState = 0
		}
	case dismantle.Iconst1:
		if s.convertJumpToZeroOneState == 2 {
			s.convertJumpToZeroOneState = 3
		} else {
			s.convertJumpToZeroOneState = 0
		}
	default:
		s.convertJumpToZeroOneState = 0
	}
}

func (s *OpcodeStack) handleComparisonBranch(dbc *dismantle.Method, seen int) {
	s.seenTransferOfControl = true
	right := s.pop()
	left := s.pop()

	lConstant := left.Constant()
	rConstant := right.Constant()
	takeJump := false
	handled := false
	if seen == dismantle.IfAcmpne || seen == dismantle.IfAcmpeq {
		if lConstant != nil && rConstant != nil && !constantsEqual(lConstant, rConstant) ||
			lConstant != nil && right.IsNull() || rConstant != nil && left.IsNull() {
			handled = true
			takeJump = seen == dismantle.IfAcmpne
		}
	} else if lC, ok := lConstant.(int32); ok {
		if rC, ok2 := rConstant.(int32); ok2 {
			handled = true
			switch seen {
			case dismantle.IfIcmpeq:
				takeJump = lC == rC
			case dismantle.IfIcmpne:
				takeJump = lC != rC
			case dismantle.IfIcmpge:
				takeJump = lC >= rC
			case dismantle.IfIcmpgt:
				takeJump = lC > rC
			case dismantle.IfIcmple:
				takeJump = lC <= rC
			case dismantle.IfIcmplt:
				takeJump = lC < rC
			}
		}
	}
	if handled {
		if takeJump {
			s.addJumpValue(dbc.PC(), dbc.BranchTarget())
			s.setTop(true)
		}
		// an impossible jump records nothing: the fall-through alone
		// continues
		return
	}
	if right.HasConstantValue(math.MinInt32) && left.MightRarelyBeNegative() ||
		left.HasConstantValue(math.MinInt32) && right.MightRarelyBeNegative() {
		for _, it := range s.stack {
			if it != nil && it.MightRarelyBeNegative() {
				it.SetSpecialKind(NotSpecial)
			}
		}
		for _, it := range s.lvValues {
			if it != nil && it.MightRarelyBeNegative() {
				it.SetSpecialKind(NotSpecial)
			}
		}
	}
	s.addJumpValue(dbc.PC(), dbc.BranchTarget())
}

func (s *OpcodeStack) pushByConstant(dbc *dismantle.Method) {
	switch c := dbc.ConstantValue().(type) {
	case dismantle.ClassConstant:
		s.push(NewConstantItem("Ljava/lang/Class;", c.Name))
	case int32:
		s.push(NewConstantItem("I", c))
	case string:
		s.push(NewConstantItem("Ljava/lang/String;", c))
	case float32:
		s.push(NewConstantItem("F", c))
	case float64:
		s.push(NewConstantItem("D", c))
	case int64:
		s.push(NewConstantItem("J", c))
	case dismantle.DynamicConstant:
		s.push(NewConstantItem(c.Signature, c.Name))
	default:
		s.ctx.logError("unexpected constant operand %v @ %d in %s",
			c, dbc.PC(), dbc.FullyQualifiedMethodName())
		s.push(NewNullItem())
	}
}

func (s *OpcodeStack) pushByLocalObjectLoad(dbc *dismantle.Method, register int) {
	if signature, ok := dbc.LocalVariableSignature(register, dbc.PC()); ok {
		s.pushByLocalLoad(signature, register)
		return
	}
	s.pushByLocalLoad("Ljava/lang/Object;", register)
}

func (s *OpcodeStack) pushBySignature(signature string, dbc *dismantle.Method) {
	if signature == "V" {
		return
	}
	item := NewItem(signature)
	if dbc != nil {
		item.SetPC(dbc.PC())
	}
	s.push(item)
}

func (s *OpcodeStack) pushByStaticFieldLoad(dbc *dismantle.Method) {
	field := fieldOperand(dbc)
	if fs := s.ctx.FieldSummaries; fs != nil && fs.Complete() {
		if summary := fs.Get(field); summary != nil {
			itm := summary.Copy()
			itm.setLoadedFromField(field, StaticFieldRegister)
			itm.SetPC(dbc.PC())
			s.push(itm)
			return
		}
	}
	item := NewFieldItem(dbc.SigConstantOperand(), field, StaticFieldRegister)
	if field.Name == "separator" && field.Class == "java/io/File" {
		item.SetSpecialKind(FileSeparatorString)
	}
	item.SetPC(dbc.PC())
	s.push(item)
}

func (s *OpcodeStack) pushByInstanceFieldLoad(dbc *dismantle.Method) {
	field := fieldOperand(dbc)
	if fs := s.ctx.FieldSummaries; fs != nil && fs.Complete() {
		if summary := fs.Get(field); summary != nil {
			addr := s.pop()
			itm := summary.Copy()
			itm.setLoadedFromField(field, addr.RegisterNumber())
			itm.SetPC(dbc.PC())
			s.push(itm)
			return
		}
	}
	item := s.pop()
	valueLoaded := NewFieldItem(dbc.SigConstantOperand(), field, item.RegisterNumber())
	valueLoaded.SetPC(dbc.PC())
	s.push(valueLoaded)
}

func (s *OpcodeStack) handleSwap() {
	i1 := s.pop()
	i2 := s.pop()
	s.push(i1)
	s.push(i2)
}

func (s *OpcodeStack) handleDup() {
	it := s.pop()
	s.push(it)
	s.push(it)
}

func (s *OpcodeStack) handleDupX1() {
	it := s.pop()
	it2 := s.pop()
	s.push(it)
	s.push(it2)
	s.push(it)
}

func (s *OpcodeStack) handleDupX2() {
	it := s.pop()
	it2 := s.pop()
	if it2.IsWide() {
		s.push(it)
		s.push(it2)
		s.push(it)
		return
	}
	it3 := s.pop()
	s.push(it)
	s.push(it3)
	s.push(it2)
	s.push(it)
}

func (s *OpcodeStack) handleDup2() {
	it := s.pop()
	if it.Size() == 2 {
		s.push(it)
		s.push(it)
		return
	}
	it2 := s.pop()
	s.push(it2)
	s.push(it)
	s.push(it2)
	s.push(it)
}

func (s *OpcodeStack) handleDup2X1() {
	it := s.pop()
	it2 := s.pop()
	if it.IsWide() {
		s.push(it)
		s.push(it2)
		s.push(it)
		return
	}
	it3 := s.pop()
	s.push(it2)
	s.push(it)
	s.push(it3)
	s.push(it2)
	s.push(it)
}

func (s *OpcodeStack) handleDup2X2() {
	it := s.pop()
	it2 := s.pop()
	if it.IsWide() {
		if it2.IsWide() {
			s.push(it)
			s.push(it2)
			s.push(it)
			return
		}
		it3 := s.pop()
		s.push(it)
		s.push(it3)
		s.push(it2)
		s.push(it)
		return
	}
	it3 := s.pop()
	if it3.IsWide() {
		s.push(it2)
		s.push(it)
		s.push(it3)
		s.push(it2)
		s.push(it)
		return
	}
	it4 := s.pop()
	s.push(it2)
	s.push(it)
	s.push(it4)
	s.push(it3)
	s.push(it2)
	s.push(it)
}
