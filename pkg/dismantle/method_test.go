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

package dismantle_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
)

type stubConstants struct {
	constants map[int]interface{}
	classes   map[int]string
	members   map[int]dismantle.MemberRef
	bootstrap map[int]int
}

func (f stubConstants) Constant(index int) (interface{}, error) {
	c, ok := f.constants[index]
	if !ok {
		return nil, errors.Errorf("no constant at %d", index)
	}
	return c, nil
}

func (f stubConstants) ClassName(index int) (string, error) {
	c, ok := f.classes[index]
	if !ok {
		return "", errors.Errorf("no class at %d", index)
	}
	return c, nil
}

func (f stubConstants) MemberRef(index int) (dismantle.MemberRef, error) {
	m, ok := f.members[index]
	if !ok {
		return dismantle.MemberRef{}, errors.Errorf("no member at %d", index)
	}
	return m, nil
}

func (f stubConstants) BootstrapMethodIndex(index int) (int, error) {
	i, ok := f.bootstrap[index]
	if !ok {
		return 0, errors.Errorf("no bootstrap index at %d", index)
	}
	return i, nil
}

func (f stubConstants) BootstrapStringArgument(bootstrapIndex int) (string, bool) {
	return "", false
}

func decode(t *testing.T, code []byte, consts stubConstants) *dismantle.Method {
	m, err := dismantle.NewMethod("com/example/Subject", "target", "()V", code, dismantle.Options{
		Constants: consts,
		Static:    true,
	})
	require.NoError(t, err)
	return m
}

func advance(t *testing.T, m *dismantle.Method, steps int) {
	for i := 0; i < steps; i++ {
		require.True(t, m.Next())
	}
}

func TestDecodeImmediateOperands(t *testing.T) {
	m := decode(t, []byte{
		dismantle.Bipush, 0xfe, // -2
		dismantle.Sipush, 0xff, 0x38, // -200
		dismantle.Iinc, 3, 0xff, // register 3 += -1
		dismantle.Newarray, 10,
	}, stubConstants{})

	advance(t, m, 1)
	assert.Equal(t, dismantle.Bipush, m.Opcode())
	assert.Equal(t, -2, m.IntConstant())
	assert.Equal(t, 0, m.PC())

	advance(t, m, 1)
	assert.Equal(t, -200, m.IntConstant())
	assert.Equal(t, 2, m.PC())

	advance(t, m, 1)
	assert.Equal(t, dismantle.Iinc, m.Opcode())
	assert.Equal(t, 3, m.RegisterOperand())
	assert.Equal(t, -1, m.IntConstant())
	assert.True(t, m.IsRegisterStore())
	assert.Equal(t, 3, m.StoreRegister())

	advance(t, m, 1)
	assert.Equal(t, 10, m.IntConstant())
	assert.False(t, m.Next())
}

func TestDecodeWidePrefix(t *testing.T) {
	m := decode(t, []byte{
		dismantle.Wide, dismantle.Iload, 0x01, 0x00, // iload 256
		dismantle.Wide, dismantle.Iinc, 0x01, 0x00, 0xff, 0x9c, // iinc 256 -100
		dismantle.Return,
	}, stubConstants{})

	advance(t, m, 1)
	assert.Equal(t, dismantle.Iload, m.Opcode())
	assert.Equal(t, 256, m.RegisterOperand())

	advance(t, m, 1)
	assert.Equal(t, dismantle.Iinc, m.Opcode())
	assert.Equal(t, 256, m.RegisterOperand())
	assert.Equal(t, -100, m.IntConstant())

	advance(t, m, 1)
	assert.Equal(t, dismantle.Return, m.Opcode())
	assert.Equal(t, 10, m.PC())
}

func TestDecodeConstantOperands(t *testing.T) {
	consts := stubConstants{
		constants: map[int]interface{}{
			7:   "hello",
			300: int64(12),
		},
		classes: map[int]string{9: "java/util/ArrayList"},
		members: map[int]dismantle.MemberRef{
			5: {Class: "java/io/PrintStream", Name: "println", Signature: "(Ljava/lang/String;)V"},
		},
	}
	m := decode(t, []byte{
		dismantle.Ldc, 7,
		dismantle.Ldc2W, 0x01, 0x2c, // index 300
		dismantle.New, 0, 9,
		dismantle.Invokevirtual, 0, 5,
		dismantle.Invokeinterface, 0, 5, 2, 0,
		dismantle.Multianewarray, 0, 9, 2,
	}, consts)

	advance(t, m, 1)
	assert.Equal(t, "hello", m.ConstantValue())

	advance(t, m, 1)
	assert.Equal(t, int64(12), m.ConstantValue())

	advance(t, m, 1)
	assert.Equal(t, "java/util/ArrayList", m.ClassConstantOperand())
	assert.Equal(t, "java.util.ArrayList", m.DottedClassConstantOperand())

	advance(t, m, 1)
	assert.Equal(t, "println", m.NameConstantOperand())
	assert.Equal(t, "(Ljava/lang/String;)V", m.SigConstantOperand())
	assert.Equal(t, "java/io/PrintStream", m.ClassConstantOperand())

	advance(t, m, 1)
	assert.Equal(t, dismantle.Invokeinterface, m.Opcode())
	assert.Equal(t, "println", m.NameConstantOperand())

	advance(t, m, 1)
	assert.Equal(t, dismantle.Multianewarray, m.Opcode())
	assert.Equal(t, "java/util/ArrayList", m.ClassConstantOperand())
	assert.Equal(t, 2, m.IntConstant())
	assert.False(t, m.Next())
}

func TestDecodeBranches(t *testing.T) {
	m := decode(t, []byte{
		dismantle.Nop,
		dismantle.Goto, 0xff, 0xff, // -1: back to 0
		dismantle.GotoW, 0x00, 0x00, 0x00, 0x05,
		dismantle.Return,
	}, stubConstants{})

	advance(t, m, 2)
	assert.Equal(t, -1, m.BranchOffset())
	assert.Equal(t, 0, m.BranchTarget())

	advance(t, m, 1)
	assert.Equal(t, 5, m.BranchOffset())
	assert.Equal(t, 9, m.BranchTarget())
}

func TestDecodeLookupswitch(t *testing.T) {
	// 0: nop, 1: nop, 2: nop
	// 3: lookupswitch, padded to 4: default +29, npairs 2,
	//    pairs (1 -> +21), (5 -> +25)
	code := []byte{
		dismantle.Nop, dismantle.Nop, dismantle.Nop,
		dismantle.Lookupswitch,
		0, 0, 0, 29, // default
		0, 0, 0, 2, // npairs
		0, 0, 0, 1, 0, 0, 0, 21,
		0, 0, 0, 5, 0, 0, 0, 25,
		dismantle.Nop, dismantle.Nop, dismantle.Nop, dismantle.Nop, dismantle.Nop,
	}
	m := decode(t, code, stubConstants{})

	advance(t, m, 4)
	require.Equal(t, dismantle.Lookupswitch, m.Opcode())
	assert.Equal(t, 29, m.BranchOffset())
	assert.Equal(t, 32, m.BranchTarget())
	assert.Equal(t, []int{21, 25}, m.SwitchOffsets())

	advance(t, m, 1)
	assert.Equal(t, 28, m.PC())
}

func TestPrevOpcodeAndCodeByte(t *testing.T) {
	m := decode(t, []byte{
		dismantle.Iconst0,
		dismantle.Istore1,
		dismantle.Iload1,
	}, stubConstants{})

	advance(t, m, 3)
	assert.Equal(t, dismantle.Istore1, m.PrevOpcode(1))
	assert.Equal(t, dismantle.Iconst0, m.PrevOpcode(2))
	assert.Equal(t, -1, m.PrevOpcode(3))
	assert.Equal(t, dismantle.Iload1, m.CodeByte(2))
	assert.Equal(t, -1, m.CodeByte(99))
	assert.Equal(t, 2, m.MaxPC())
}

func TestStoreRegisterShortForms(t *testing.T) {
	m := decode(t, []byte{
		dismantle.Astore2,
		dismantle.Lstore, 7,
		dismantle.Iconst0,
	}, stubConstants{})

	advance(t, m, 1)
	assert.True(t, m.IsRegisterStore())
	assert.Equal(t, 2, m.StoreRegister())

	advance(t, m, 1)
	assert.True(t, m.IsRegisterStore())
	assert.Equal(t, 7, m.StoreRegister())

	advance(t, m, 1)
	assert.False(t, m.IsRegisterStore())
}

func TestTruncatedCodeFailsDecode(t *testing.T) {
	_, err := dismantle.NewMethod("a/B", "m", "()V", []byte{dismantle.Bipush}, dismantle.Options{
		Constants: stubConstants{},
		Static:    true,
	})
	assert.Error(t, err)
}

func TestLocalVariableSignatureLookup(t *testing.T) {
	m, err := dismantle.NewMethod("a/B", "m", "()V", []byte{dismantle.Nop}, dismantle.Options{
		Constants: stubConstants{},
		Static:    true,
		LocalVariables: []dismantle.LocalVariable{
			{StartPC: 0, Length: 10, Register: 1, Name: "list", Signature: "Ljava/util/List;"},
		},
	})
	require.NoError(t, err)

	sig, ok := m.LocalVariableSignature(1, 5)
	require.True(t, ok)
	assert.Equal(t, "Ljava/util/List;", sig)

	_, ok = m.LocalVariableSignature(1, 11)
	assert.False(t, ok)
	_, ok = m.LocalVariableSignature(2, 5)
	assert.False(t, ok)
}

func TestResetRewindsScan(t *testing.T) {
	m := decode(t, []byte{dismantle.Iconst0, dismantle.Iconst1}, stubConstants{})
	advance(t, m, 2)
	assert.False(t, m.Next())
	m.Reset()
	advance(t, m, 1)
	assert.Equal(t, dismantle.Iconst0, m.Opcode())
}
