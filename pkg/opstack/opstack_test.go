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

package opstack_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
	"github.com/palantir/bytecode-sniffer/pkg/log"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

type fakeConstants struct {
	constants        map[int]interface{}
	classes          map[int]string
	members          map[int]dismantle.MemberRef
	bootstrapIndices map[int]int
	bootstrapStrings map[int]string
}

func (f fakeConstants) Constant(index int) (interface{}, error) {
	c, ok := f.constants[index]
	if !ok {
		return nil, errors.Errorf("no constant at %d", index)
	}
	return c, nil
}

func (f fakeConstants) ClassName(index int) (string, error) {
	c, ok := f.classes[index]
	if !ok {
		return "", errors.Errorf("no class at %d", index)
	}
	return c, nil
}

func (f fakeConstants) MemberRef(index int) (dismantle.MemberRef, error) {
	m, ok := f.members[index]
	if !ok {
		return dismantle.MemberRef{}, errors.Errorf("no member at %d", index)
	}
	return m, nil
}

func (f fakeConstants) BootstrapMethodIndex(index int) (int, error) {
	i, ok := f.bootstrapIndices[index]
	if !ok {
		return 0, errors.Errorf("no bootstrap index at %d", index)
	}
	return i, nil
}

func (f fakeConstants) BootstrapStringArgument(bootstrapIndex int) (string, bool) {
	s, ok := f.bootstrapStrings[bootstrapIndex]
	return s, ok
}

func bc(values ...int) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = byte(v)
	}
	return out
}

type methodConfig struct {
	descriptor string
	static     bool
	handlers   []dismantle.ExceptionHandler
}

func newTestMethod(t *testing.T, code []byte, consts fakeConstants, cfg methodConfig) *dismantle.Method {
	descriptor := cfg.descriptor
	if descriptor == "" {
		descriptor = "()V"
	}
	m, err := dismantle.NewMethod("com/example/Subject", "target", descriptor, code, dismantle.Options{
		Constants:         consts,
		ExceptionHandlers: cfg.handlers,
		Static:            cfg.static,
	})
	require.NoError(t, err)
	return m
}

func quietContext() *opstack.AnalysisContext {
	ctx := opstack.NewAnalysisContext()
	ctx.Log = log.Logger{}
	ctx.Debug = false
	return ctx
}

func runCode(t *testing.T, m *dismantle.Method) *opstack.OpcodeStack {
	s := opstack.NewOpcodeStack(quietContext())
	s.ResetForMethodEntry(m)
	m.Reset()
	for m.Next() {
		s.SawOpcode(m, m.Opcode())
	}
	return s
}

func TestMathCallOnConstant(t *testing.T) {
	// dconst_0; invokestatic Math.cos(D)D
	consts := fakeConstants{members: map[int]dismantle.MemberRef{
		1: {Class: "java/lang/Math", Name: "cos", Signature: "(D)D"},
	}}
	m := newTestMethod(t, bc(dismantle.Dconst0, dismantle.Invokestatic, 0, 1), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "D", top.Signature())
	assert.Equal(t, opstack.FloatMath, top.SpecialKind())
	source, ok := top.ReturnValueOf()
	require.True(t, ok)
	assert.Equal(t, "cos", source.Name)
	assert.Equal(t, "java/lang/Math", source.Class)
}

func TestMathAbsOfRandom(t *testing.T) {
	// new Random; dup; invokespecial <init>; invokevirtual nextInt()I;
	// invokestatic Math.abs(I)I
	consts := fakeConstants{
		classes: map[int]string{1: "java/util/Random"},
		members: map[int]dismantle.MemberRef{
			2: {Class: "java/util/Random", Name: "<init>", Signature: "()V"},
			3: {Class: "java/util/Random", Name: "nextInt", Signature: "()I"},
			4: {Class: "java/lang/Math", Name: "abs", Signature: "(I)I"},
		},
	}
	m := newTestMethod(t, bc(
		dismantle.New, 0, 1,
		dismantle.Dup,
		dismantle.Invokespecial, 0, 2,
		dismantle.Invokevirtual, 0, 3,
		dismantle.Invokestatic, 0, 4,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "I", top.Signature())
	assert.Equal(t, opstack.MathAbsOfRandom, top.SpecialKind())
}

func TestNullnessBooleanIdiom(t *testing.T) {
	t.Run("ifnonnull yields nonzero means null", func(t *testing.T) {
		// 0: aload_0
		// 1: ifnonnull 8
		// 4: iconst_1
		// 5: goto 9
		// 8: iconst_0
		// 9: return
		m := newTestMethod(t, bc(
			dismantle.Aload0,
			dismantle.Ifnonnull, 0, 7,
			dismantle.Iconst1,
			dismantle.Goto, 0, 4,
			dismantle.Iconst0,
			dismantle.Return,
		), fakeConstants{}, methodConfig{})
		s := runCode(t, m)

		require.Equal(t, 1, s.StackDepth())
		top := s.StackItem(0)
		assert.Equal(t, "I", top.Signature())
		assert.Equal(t, opstack.NonzeroMeansNull, top.SpecialKind())
		assert.True(t, top.CouldBeZero())
		assert.Equal(t, 1, top.PC())
	})

	t.Run("ifnull yields zero means null", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Aload0,
			dismantle.Ifnull, 0, 7,
			dismantle.Iconst1,
			dismantle.Goto, 0, 4,
			dismantle.Iconst0,
			dismantle.Return,
		), fakeConstants{}, methodConfig{})
		s := runCode(t, m)

		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, opstack.ZeroMeansNull, s.StackItem(0).SpecialKind())
	})
}

func TestStringLengthConstantFolds(t *testing.T) {
	// ldc "ab"; invokevirtual String.length()I
	consts := fakeConstants{
		constants: map[int]interface{}{1: "ab"},
		members: map[int]dismantle.MemberRef{
			2: {Class: "java/lang/String", Name: "length", Signature: "()I"},
		},
	}
	m := newTestMethod(t, bc(
		dismantle.Ldc, 1,
		dismantle.Invokevirtual, 0, 2,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "I", top.Signature())
	assert.Equal(t, int32(2), top.Constant())
}

func TestStringBuilderConstantTracking(t *testing.T) {
	consts := fakeConstants{
		constants: map[int]interface{}{3: "x"},
		classes:   map[int]string{1: "java/lang/StringBuilder"},
		members: map[int]dismantle.MemberRef{
			2: {Class: "java/lang/StringBuilder", Name: "<init>", Signature: "()V"},
			4: {Class: "java/lang/StringBuilder", Name: "append", Signature: "(Ljava/lang/String;)Ljava/lang/StringBuilder;"},
			5: {Class: "java/lang/StringBuilder", Name: "toString", Signature: "()Ljava/lang/String;"},
		},
	}
	m := newTestMethod(t, bc(
		dismantle.New, 0, 1,
		dismantle.Dup,
		dismantle.Invokespecial, 0, 2,
		dismantle.Ldc, 3,
		dismantle.Invokevirtual, 0, 4,
		dismantle.Invokevirtual, 0, 5,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "Ljava/lang/String;", top.Signature())
	assert.Equal(t, "x", top.Constant())
	assert.False(t, top.IsServletParameterTainted())
}

func TestServletParameterTaintThroughTrim(t *testing.T) {
	// aload_0; invokeinterface getParameter; invokevirtual String.trim
	consts := fakeConstants{
		members: map[int]dismantle.MemberRef{
			1: {Class: "javax/servlet/http/HttpServletRequest", Name: "getParameter", Signature: "(Ljava/lang/String;)Ljava/lang/String;"},
			2: {Class: "java/lang/String", Name: "trim", Signature: "()Ljava/lang/String;"},
		},
	}
	m := newTestMethod(t, bc(
		dismantle.Aload0,
		dismantle.Invokeinterface, 0, 1, 2, 0,
		dismantle.Invokevirtual, 0, 2,
	), consts, methodConfig{})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "Ljava/lang/String;", top.Signature())
	assert.True(t, top.IsServletParameterTainted())
	injection := top.Injection()
	require.NotNil(t, injection)
	assert.False(t, injection.HasName)
	assert.Equal(t, 1, injection.PC)
}

func TestConstantFoldingIntArithmetic(t *testing.T) {
	for _, tc := range []struct {
		name     string
		lhs, rhs int
		op       int
		expected int32
	}{
		{name: "iadd", lhs: 3, rhs: 4, op: dismantle.Iadd, expected: 7},
		{name: "isub", lhs: 3, rhs: 4, op: dismantle.Isub, expected: -1},
		{name: "imul", lhs: 3, rhs: 4, op: dismantle.Imul, expected: 12},
		{name: "idiv", lhs: 12, rhs: 4, op: dismantle.Idiv, expected: 3},
		{name: "irem", lhs: 13, rhs: 4, op: dismantle.Irem, expected: 1},
		{name: "iand", lhs: 6, rhs: 3, op: dismantle.Iand, expected: 2},
		{name: "ior", lhs: 6, rhs: 3, op: dismantle.Ior, expected: 7},
		{name: "ixor", lhs: 6, rhs: 3, op: dismantle.Ixor, expected: 5},
		{name: "ishl", lhs: 3, rhs: 2, op: dismantle.Ishl, expected: 12},
		{name: "ishr", lhs: 12, rhs: 2, op: dismantle.Ishr, expected: 3},
		{name: "iushr", lhs: -1, rhs: 28, op: dismantle.Iushr, expected: 15},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMethod(t, bc(
				dismantle.Bipush, tc.lhs,
				dismantle.Bipush, tc.rhs,
				tc.op,
			), fakeConstants{}, methodConfig{static: true})
			s := runCode(t, m)

			require.Equal(t, 1, s.StackDepth())
			assert.Equal(t, tc.expected, s.StackItem(0).Constant())
		})
	}

	t.Run("division by zero does not fold", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Iconst1,
			dismantle.Iconst0,
			dismantle.Idiv,
		), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)

		require.Equal(t, 1, s.StackDepth())
		assert.Nil(t, s.StackItem(0).Constant())
		assert.Equal(t, "I", s.StackItem(0).Signature())
	})
}

func TestLongArithmeticFolds(t *testing.T) {
	consts := fakeConstants{constants: map[int]interface{}{
		1: int64(1 << 40),
		2: int64(3),
	}}
	m := newTestMethod(t, bc(
		dismantle.Ldc2W, 0, 1,
		dismantle.Ldc2W, 0, 2,
		dismantle.Lmul,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "J", top.Signature())
	assert.Equal(t, int64(3<<40), top.Constant())
	assert.Equal(t, 2, top.Size())
}

func TestIntegerSumAndAverage(t *testing.T) {
	// iload_1 + iload_2 is a sum of unknowns; dividing it by two is the
	// average idiom
	m := newTestMethod(t, bc(
		dismantle.Iload1,
		dismantle.Iload2,
		dismantle.Iadd,
		dismantle.Iconst2,
		dismantle.Idiv,
	), fakeConstants{}, methodConfig{descriptor: "(III)V", static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	assert.Equal(t, opstack.AverageComputedUsingDivision, s.StackItem(0).SpecialKind())
}

func TestWideValueShuffles(t *testing.T) {
	t.Run("dup2 duplicates one wide value", func(t *testing.T) {
		m := newTestMethod(t, bc(dismantle.Lconst1, dismantle.Dup2), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)

		require.Equal(t, 2, s.StackDepth())
		assert.Equal(t, 2, s.StackItem(0).Size())
		assert.Equal(t, int64(1), s.StackItem(0).Constant())
		assert.Equal(t, int64(1), s.StackItem(1).Constant())
	})

	t.Run("dup_x1 buries a copy", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Iconst1, dismantle.Iconst2, dismantle.DupX1,
		), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)

		require.Equal(t, 3, s.StackDepth())
		assert.Equal(t, int32(2), s.StackItem(0).Constant())
		assert.Equal(t, int32(1), s.StackItem(1).Constant())
		assert.Equal(t, int32(2), s.StackItem(2).Constant())
	})

	t.Run("dup2_x2 with wide over narrow", func(t *testing.T) {
		// value1 wide, value2 narrow: [.., v3, v2, v1] -> [.., v1, v3, v2, v1]
		m := newTestMethod(t, bc(
			dismantle.Iconst3, dismantle.Iconst4, dismantle.Lconst1, dismantle.Dup2X2,
		), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)

		require.Equal(t, 4, s.StackDepth())
		assert.Equal(t, int64(1), s.StackItem(0).Constant())
		assert.Equal(t, int32(4), s.StackItem(1).Constant())
		assert.Equal(t, int32(3), s.StackItem(2).Constant())
		assert.Equal(t, int64(1), s.StackItem(3).Constant())
	})

	t.Run("pop2 removes one wide or two narrow", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Iconst1, dismantle.Lconst0, dismantle.Pop2,
		), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, int32(1), s.StackItem(0).Constant())

		m = newTestMethod(t, bc(
			dismantle.Iconst1, dismantle.Iconst2, dismantle.Iconst3, dismantle.Pop2,
		), fakeConstants{}, methodConfig{static: true})
		s = runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, int32(1), s.StackItem(0).Constant())
	})
}

func TestRegisterMirrorCoherence(t *testing.T) {
	// a store to r1 invalidates the stack copy still claiming r1
	m := newTestMethod(t, bc(
		dismantle.Iconst0,
		dismantle.Istore1,
		dismantle.Iload1,
		dismantle.Iconst5,
		dismantle.Istore1,
	), fakeConstants{}, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	assert.Equal(t, opstack.NoRegister, s.StackItem(0).RegisterNumber())
	assert.Equal(t, 1, s.LVValue(1).RegisterNumber())
	assert.Equal(t, int32(5), s.LVValue(1).Constant())
}

func TestIincModelledAsAddStore(t *testing.T) {
	m := newTestMethod(t, bc(
		dismantle.Iconst3,
		dismantle.Istore1,
		dismantle.Iinc, 1, 2,
		dismantle.Iload1,
	), fakeConstants{}, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	assert.Equal(t, int32(5), s.StackItem(0).Constant())
}

func TestBranchPromotesRegisterToNonNegative(t *testing.T) {
	// iflt on r1 proves r1 non-negative on the fall-through path
	m := newTestMethod(t, bc(
		dismantle.Iload1,
		dismantle.Iflt, 0, 5,
		dismantle.Iload1,
	), fakeConstants{}, methodConfig{descriptor: "(II)V", static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	assert.Equal(t, opstack.NonNegative, s.StackItem(0).SpecialKind())
	assert.Equal(t, opstack.NonNegative, s.LVValue(1).SpecialKind())
}

func TestConstantBranchDecidesStatically(t *testing.T) {
	t.Run("impossible branch records no target", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Iconst1,
			dismantle.Iconst2,
			dismantle.IfIcmpeq, 0, 5,
			dismantle.Iconst3,
		), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)

		assert.False(t, s.IsJumpTarget(7))
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, int32(3), s.StackItem(0).Constant())
	})

	t.Run("taken branch marks fall-through unreachable", func(t *testing.T) {
		// 0: iconst_1; 1: iconst_1; 2: if_icmpeq 7; 5: iconst_2; 6: nop;
		// 7: iconst_3
		m := newTestMethod(t, bc(
			dismantle.Iconst1,
			dismantle.Iconst1,
			dismantle.IfIcmpeq, 0, 5,
			dismantle.Iconst2,
			dismantle.Nop,
			dismantle.Iconst3,
		), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)

		assert.True(t, s.IsJumpTarget(7))
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, int32(3), s.StackItem(0).Constant())
	})
}

func TestFixedPointLoopConverges(t *testing.T) {
	//  0: iconst_0
	//  1: istore_1
	//  2: iload_1
	//  3: iconst_5
	//  4: if_icmpge 13
	//  7: iinc 1 1
	// 10: goto 2
	// 13: return
	m := newTestMethod(t, bc(
		dismantle.Iconst0,
		dismantle.Istore1,
		dismantle.Iload1,
		dismantle.Iconst5,
		dismantle.IfIcmpge, 0, 9,
		dismantle.Iinc, 1, 1,
		dismantle.Goto, 0xff, 0xf8,
		dismantle.Return,
	), fakeConstants{}, methodConfig{static: true})

	ctx := quietContext()
	info := opstack.ComputeJumpInfo(ctx, m)
	require.NotNil(t, info)
	assert.True(t, info.JumpEntryLocations[2], "loop head must be a jump target")
	assert.True(t, info.JumpEntryLocations[13])

	s := opstack.NewOpcodeStack(ctx)
	s.ResetForMethodEntry(m)
	s.LearnFrom(info)
	m.Reset()
	for m.Next() {
		s.SawOpcode(m, m.Opcode())
	}
	assert.True(t, s.HasBackwardsBranch())
	// after merging the back edge, r1 is no longer the constant 0
	merged := s.LVValue(1)
	assert.Nil(t, merged.Constant())
	assert.True(t, merged.CouldBeZero())
}

func TestNoBackEdgeSinglePass(t *testing.T) {
	m := newTestMethod(t, bc(
		dismantle.Iconst0,
		dismantle.Istore1,
		dismantle.Return,
	), fakeConstants{}, methodConfig{static: true})
	s := runCode(t, m)
	assert.False(t, s.HasBackwardsBranch())
	assert.Equal(t, 0, s.StackDepth())
}

func TestExceptionHandlerSeedsCaughtType(t *testing.T) {
	// 0: return; 1: nop (handler for IOException)
	m := newTestMethod(t, bc(
		dismantle.Return,
		dismantle.Nop,
	), fakeConstants{}, methodConfig{
		static: true,
		handlers: []dismantle.ExceptionHandler{
			{StartPC: 0, EndPC: 1, HandlerPC: 1, CatchType: "java/io/IOException"},
		},
	})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	assert.Equal(t, "Ljava/io/IOException;", s.StackItem(0).Signature())
	assert.False(t, s.IsTop())
}

func TestStackUnderflowProducesErrorItem(t *testing.T) {
	m := newTestMethod(t, bc(dismantle.Pop), fakeConstants{}, methodConfig{static: true})
	s := runCode(t, m)

	assert.Equal(t, 0, s.StackDepth())
	errorItem := s.StackItem(0)
	assert.Equal(t, "Lbytecodesniffer/OpcodeStackError;", errorItem.Signature())
}

func TestGetstaticFileSeparator(t *testing.T) {
	consts := fakeConstants{members: map[int]dismantle.MemberRef{
		1: {Class: "java/io/File", Name: "separator", Signature: "Ljava/lang/String;"},
	}}
	m := newTestMethod(t, bc(dismantle.Getstatic, 0, 1), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, opstack.FileSeparatorString, top.SpecialKind())
	field, ok := top.XField()
	require.True(t, ok)
	assert.Equal(t, "separator", field.Name)
	assert.Equal(t, opstack.StaticFieldRegister, top.FieldLoadedFromRegister())
}

func TestFieldSummaryOracleUsed(t *testing.T) {
	field := opstack.FieldMember("com/example/Config", "limit", "I")
	summary := opstack.NewConstantItem("I", int32(42))
	summary.MakeCrossMethod()

	ctx := quietContext()
	ctx.FieldSummaries = opstack.NewMapFieldSummaries(true, map[opstack.Member]*opstack.Item{
		field: summary,
	})

	consts := fakeConstants{members: map[int]dismantle.MemberRef{
		1: {Class: "com/example/Config", Name: "limit", Signature: "I"},
	}}
	m := newTestMethod(t, bc(dismantle.Getstatic, 0, 1), consts, methodConfig{static: true})

	s := opstack.NewOpcodeStack(ctx)
	s.ResetForMethodEntry(m)
	m.Reset()
	for m.Next() {
		s.SawOpcode(m, m.Opcode())
	}

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, int32(42), top.Constant())
	assert.Equal(t, opstack.StaticFieldRegister, top.FieldLoadedFromRegister())
}

func TestPutstaticErasesFieldKnowledge(t *testing.T) {
	consts := fakeConstants{members: map[int]dismantle.MemberRef{
		1: {Class: "com/example/Config", Name: "limit", Signature: "I"},
	}}
	// load the field, then store something else to it; the loaded value
	// must forget its field link
	m := newTestMethod(t, bc(
		dismantle.Getstatic, 0, 1,
		dismantle.Iconst0,
		dismantle.Putstatic, 0, 1,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	_, ok := s.StackItem(0).XField()
	assert.False(t, ok)
}

func TestBoxingPreservesConstant(t *testing.T) {
	consts := fakeConstants{members: map[int]dismantle.MemberRef{
		1: {Class: "java/lang/Integer", Name: "valueOf", Signature: "(I)Ljava/lang/Integer;"},
	}}
	m := newTestMethod(t, bc(
		dismantle.Bipush, 42,
		dismantle.Invokestatic, 0, 1,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "Ljava/lang/Integer;", top.Signature())
	assert.Equal(t, int32(42), top.Constant())
}

func TestCollectionFactories(t *testing.T) {
	t.Run("Collections.emptyList", func(t *testing.T) {
		consts := fakeConstants{members: map[int]dismantle.MemberRef{
			1: {Class: "java/util/Collections", Name: "emptyList", Signature: "()Ljava/util/List;"},
		}}
		m := newTestMethod(t, bc(dismantle.Invokestatic, 0, 1), consts, methodConfig{static: true})
		s := runCode(t, m)

		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, "Ljava/util/Collections$EmptyList;", s.StackItem(0).Signature())
	})

	t.Run("unmodifiableList of Arrays.asList", func(t *testing.T) {
		consts := fakeConstants{members: map[int]dismantle.MemberRef{
			1: {Class: "java/util/Arrays", Name: "asList", Signature: "([Ljava/lang/Object;)Ljava/util/List;"},
			2: {Class: "java/util/Collections", Name: "unmodifiableList", Signature: "(Ljava/util/List;)Ljava/util/List;"},
		}}
		m := newTestMethod(t, bc(
			dismantle.AconstNull,
			dismantle.Invokestatic, 0, 1,
			dismantle.Invokestatic, 0, 2,
		), consts, methodConfig{static: true})
		s := runCode(t, m)

		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, "Ljava/util/Collections$UnmodifiableRandomAccessList;", s.StackItem(0).Signature())
	})
}

func TestFileOpenedInAppendMode(t *testing.T) {
	consts := fakeConstants{
		constants: map[int]interface{}{3: "out.log"},
		classes:   map[int]string{1: "java/io/FileOutputStream"},
		members: map[int]dismantle.MemberRef{
			2: {Class: "java/io/FileOutputStream", Name: "<init>", Signature: "(Ljava/lang/String;Z)V"},
		},
	}
	m := newTestMethod(t, bc(
		dismantle.New, 0, 1,
		dismantle.Dup,
		dismantle.Ldc, 3,
		dismantle.Iconst1,
		dismantle.Invokespecial, 0, 2,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	assert.Equal(t, opstack.FileOpenedInAppendMode, s.StackItem(0).SpecialKind())
}

func TestInvokedynamicConcatFolds(t *testing.T) {
	consts := fakeConstants{
		constants: map[int]interface{}{1: "world"},
		members: map[int]dismantle.MemberRef{
			2: {Name: "makeConcatWithConstants", Signature: "(Ljava/lang/String;)Ljava/lang/String;"},
		},
		bootstrapIndices: map[int]int{2: 0},
		bootstrapStrings: map[int]string{0: "hello \u0001"},
	}
	m := newTestMethod(t, bc(
		dismantle.Ldc, 1,
		dismantle.Invokedynamic, 0, 2, 0, 0,
	), consts, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	assert.Equal(t, "hello world", s.StackItem(0).Constant())
}

func TestConversions(t *testing.T) {
	t.Run("i2l tags result", func(t *testing.T) {
		m := newTestMethod(t, bc(dismantle.Iload1, dismantle.I2l), fakeConstants{}, methodConfig{descriptor: "(I)V", static: true})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		top := s.StackItem(0)
		assert.Equal(t, "J", top.Signature())
		assert.Equal(t, opstack.ResultOfI2L, top.SpecialKind())
	})

	t.Run("l2i tags result", func(t *testing.T) {
		m := newTestMethod(t, bc(dismantle.Lload1, dismantle.L2i), fakeConstants{}, methodConfig{descriptor: "(J)V", static: true})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, opstack.ResultOfL2I, s.StackItem(0).SpecialKind())
	})

	t.Run("i2c is non-negative", func(t *testing.T) {
		m := newTestMethod(t, bc(dismantle.Iload1, dismantle.I2c), fakeConstants{}, methodConfig{descriptor: "(I)V", static: true})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, opstack.NonNegative, s.StackItem(0).SpecialKind())
	})

	t.Run("numeric constants convert", func(t *testing.T) {
		m := newTestMethod(t, bc(dismantle.Bipush, 3, dismantle.I2d), fakeConstants{}, methodConfig{static: true})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, float64(3), s.StackItem(0).Constant())
	})
}

func TestNewarrayTracksLength(t *testing.T) {
	m := newTestMethod(t, bc(
		dismantle.Bipush, 10,
		dismantle.Newarray, 10, // T_INT
		dismantle.Arraylength,
	), fakeConstants{}, methodConfig{static: true})
	s := runCode(t, m)

	require.Equal(t, 1, s.StackDepth())
	top := s.StackItem(0)
	assert.Equal(t, "I", top.Signature())
	assert.Equal(t, int32(10), top.Constant())
	assert.Equal(t, opstack.NonNegative, top.SpecialKind())
}

func TestHashcodeRemainder(t *testing.T) {
	consts := fakeConstants{members: map[int]dismantle.MemberRef{
		1: {Class: "java/lang/Object", Name: "hashCode", Signature: "()I"},
	}}
	t.Run("non power of two divisor keeps the label", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Aload0,
			dismantle.Invokevirtual, 0, 1,
			dismantle.Bipush, 3,
			dismantle.Irem,
		), consts, methodConfig{})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, opstack.HashcodeIntRemainder, s.StackItem(0).SpecialKind())
	})

	t.Run("power of two divisor clears it", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Aload0,
			dismantle.Invokevirtual, 0, 1,
			dismantle.Bipush, 4,
			dismantle.Irem,
		), consts, methodConfig{})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, opstack.NotSpecial, s.StackItem(0).SpecialKind())
	})

	t.Run("zero divisor attaches nothing", func(t *testing.T) {
		m := newTestMethod(t, bc(
			dismantle.Aload0,
			dismantle.Invokevirtual, 0, 1,
			dismantle.Iconst0,
			dismantle.Irem,
		), consts, methodConfig{})
		s := runCode(t, m)
		require.Equal(t, 1, s.StackDepth())
		assert.Equal(t, opstack.NotSpecial, s.StackItem(0).SpecialKind())
		assert.Nil(t, s.StackItem(0).Constant())
	})
}

func TestTableswitchRecordsAllTargets(t *testing.T) {
	//  0: iconst_1
	//  1: tableswitch default=+27 low=0 high=1 offsets +23, +25
	// 28: nop  (default)
	m := append(bc(dismantle.Iconst1, dismantle.Tableswitch, 0, 0),
		0, 0, 0, 27, // default
		0, 0, 0, 0, // low
		0, 0, 0, 1, // high
		0, 0, 0, 23,
		0, 0, 0, 25,
		dismantle.Nop, dismantle.Nop, dismantle.Nop, dismantle.Nop, dismantle.Nop)
	method := newTestMethod(t, m, fakeConstants{}, methodConfig{static: true})
	s := runCode(t, method)

	assert.True(t, s.IsJumpTarget(1+27))
	assert.True(t, s.IsJumpTarget(1+23))
	assert.True(t, s.IsJumpTarget(1+25))
}
