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

package dismantle

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ClassConstant is the resolved value of an ldc of a class reference.
// Name is the slashed class name.
type ClassConstant struct {
	Name string
}

// DynamicConstant is the resolved value of an ldc of a dynamically-computed
// constant. The value itself is opaque; only the nominal name and type
// descriptor are known statically.
type DynamicConstant struct {
	Name      string
	Signature string
}

// MemberRef identifies a field or method referenced from the constant pool.
// Class is the slashed owning class name; it is empty for invokedynamic
// call sites, which have no owner.
type MemberRef struct {
	Class     string
	Name      string
	Signature string
}

// ConstantSource resolves constant-pool indices for a method's code. It is
// implemented over a parsed class file in pkg/java, and by fakes in tests.
type ConstantSource interface {
	// Constant resolves an ldc/ldc_w/ldc2_w operand: one of int32, int64,
	// float32, float64, string, ClassConstant or DynamicConstant.
	Constant(index int) (interface{}, error)
	// ClassName resolves a CONSTANT_Class entry to its slashed name.
	ClassName(index int) (string, error)
	// MemberRef resolves a field, method, interface-method or
	// invokedynamic entry.
	MemberRef(index int) (MemberRef, error)
	// BootstrapMethodIndex gives the bootstrap-method-attribute index for
	// an invokedynamic constant-pool entry.
	BootstrapMethodIndex(index int) (int, error)
	// BootstrapStringArgument resolves the first bootstrap argument of the
	// given bootstrap method as a string, if it is one.
	BootstrapStringArgument(bootstrapIndex int) (string, bool)
}

// ExceptionHandler is one entry of a method's exception table. CatchType is
// the slashed class name of the caught type, empty for catch-all.
type ExceptionHandler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType string
}

// LocalVariable is one entry of a method's LocalVariableTable attribute.
type LocalVariable struct {
	StartPC   int
	Length    int
	Register  int
	Name      string
	Signature string
}

// Options carries the per-method inputs beyond the raw code bytes.
type Options struct {
	Constants         ConstantSource
	ExceptionHandlers []ExceptionHandler
	LocalVariables    []LocalVariable
	Static            bool
}

type instruction struct {
	pc            int
	opcode        int
	register      int
	intValue      int
	constant      interface{}
	className     string
	member        MemberRef
	bootstrapIdx  int
	branchOffset  int
	switchOffsets []int
}

// Method walks the decoded instruction stream of one method body, exposing
// the current instruction's operands by name. It is the input interface
// consumed by the opcode-stack interpreter; decode once, Reset and re-scan
// as many times as the fixed-point iteration needs.
type Method struct {
	className  string
	name       string
	descriptor string
	static     bool
	code       []byte
	handlers   []ExceptionHandler
	localVars  []LocalVariable
	consts     ConstantSource

	instrs []instruction
	idx    int
}

// NewMethod decodes the code attribute of className.name(descriptor) into a
// scannable Method. Decoding resolves all constant-pool operands eagerly so
// that scanning never consults the pool.
func NewMethod(className, name, descriptor string, code []byte, opts Options) (*Method, error) {
	m := &Method{
		className:  className,
		name:       name,
		descriptor: descriptor,
		static:     opts.Static,
		code:       code,
		handlers:   opts.ExceptionHandlers,
		localVars:  opts.LocalVariables,
		consts:     opts.Constants,
		idx:        -1,
	}
	if err := m.decode(); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", m.FullyQualifiedMethodName())
	}
	return m, nil
}

func (m *Method) decode() error {
	pc := 0
	for pc < len(m.code) {
		in := instruction{pc: pc, opcode: int(m.code[pc]), register: -1, bootstrapIdx: -1}
		next, err := m.decodeOperands(&in, pc)
		if err != nil {
			return err
		}
		m.instrs = append(m.instrs, in)
		pc = next
	}
	return nil
}

func (m *Method) decodeOperands(in *instruction, pc int) (int, error) {
	op := in.opcode
	switch op {
	case Wide:
		wideOp, err := m.byteAt(pc + 1)
		if err != nil {
			return 0, err
		}
		in.opcode = wideOp
		reg, err := m.u16At(pc + 2)
		if err != nil {
			return 0, err
		}
		in.register = reg
		if wideOp == Iinc {
			delta, err := m.u16At(pc + 4)
			if err != nil {
				return 0, err
			}
			in.intValue = int(int16(delta))
			return pc + 6, nil
		}
		return pc + 4, nil

	case Tableswitch:
		base := align4(pc + 1)
		def, err := m.s32At(base)
		if err != nil {
			return 0, err
		}
		low, err := m.s32At(base + 4)
		if err != nil {
			return 0, err
		}
		high, err := m.s32At(base + 8)
		if err != nil {
			return 0, err
		}
		if high < low {
			return 0, errors.Errorf("tableswitch bounds [%d, %d] at pc %d", low, high, pc)
		}
		in.branchOffset = def
		count := high - low + 1
		in.switchOffsets = make([]int, 0, count)
		for i := 0; i < count; i++ {
			off, err := m.s32At(base + 12 + 4*i)
			if err != nil {
				return 0, err
			}
			in.switchOffsets = append(in.switchOffsets, off)
		}
		return base + 12 + 4*count, nil

	case Lookupswitch:
		base := align4(pc + 1)
		def, err := m.s32At(base)
		if err != nil {
			return 0, err
		}
		npairs, err := m.s32At(base + 4)
		if err != nil {
			return 0, err
		}
		if npairs < 0 {
			return 0, errors.Errorf("lookupswitch pair count %d at pc %d", npairs, pc)
		}
		in.branchOffset = def
		in.switchOffsets = make([]int, 0, npairs)
		for i := 0; i < npairs; i++ {
			off, err := m.s32At(base + 8 + 8*i + 4)
			if err != nil {
				return 0, err
			}
			in.switchOffsets = append(in.switchOffsets, off)
		}
		return base + 8 + 8*npairs, nil
	}

	length := operandLengths[op]
	end := pc + 1 + length
	if end > len(m.code) {
		return 0, errors.Errorf("%s at pc %d runs past end of code", OpcodeName(op), pc)
	}

	switch op {
	case Bipush:
		b, _ := m.byteAt(pc + 1)
		in.intValue = int(int8(b))
	case Sipush:
		v, _ := m.u16At(pc + 1)
		in.intValue = int(int16(v))
	case Iload, Lload, Fload, Dload, Aload,
		Istore, Lstore, Fstore, Dstore, Astore, Ret:
		b, _ := m.byteAt(pc + 1)
		in.register = b
	case Iinc:
		reg, _ := m.byteAt(pc + 1)
		delta, _ := m.byteAt(pc + 2)
		in.register = reg
		in.intValue = int(int8(delta))
	case Newarray:
		b, _ := m.byteAt(pc + 1)
		in.intValue = b
	case Ldc:
		idx, _ := m.byteAt(pc + 1)
		if err := m.resolveConstant(in, idx); err != nil {
			return 0, err
		}
	case LdcW, Ldc2W:
		idx, _ := m.u16At(pc + 1)
		if err := m.resolveConstant(in, idx); err != nil {
			return 0, err
		}
	case New, Anewarray, Checkcast, Instanceof:
		idx, _ := m.u16At(pc + 1)
		name, err := m.consts.ClassName(idx)
		if err != nil {
			return 0, errors.Wrapf(err, "class operand of %s at pc %d", OpcodeName(op), pc)
		}
		in.className = name
	case Multianewarray:
		idx, _ := m.u16At(pc + 1)
		dims, _ := m.byteAt(pc + 3)
		name, err := m.consts.ClassName(idx)
		if err != nil {
			return 0, errors.Wrapf(err, "class operand of multianewarray at pc %d", pc)
		}
		in.className = name
		in.intValue = dims
	case Getstatic, Putstatic, Getfield, Putfield,
		Invokevirtual, Invokespecial, Invokestatic, Invokeinterface:
		idx, _ := m.u16At(pc + 1)
		ref, err := m.consts.MemberRef(idx)
		if err != nil {
			return 0, errors.Wrapf(err, "member operand of %s at pc %d", OpcodeName(op), pc)
		}
		in.member = ref
		in.className = ref.Class
	case Invokedynamic:
		idx, _ := m.u16At(pc + 1)
		ref, err := m.consts.MemberRef(idx)
		if err != nil {
			return 0, errors.Wrapf(err, "call-site operand of invokedynamic at pc %d", pc)
		}
		in.member = ref
		if bidx, err := m.consts.BootstrapMethodIndex(idx); err == nil {
			in.bootstrapIdx = bidx
		}
	case Ifeq, Ifne, Iflt, Ifge, Ifgt, Ifle,
		IfIcmpeq, IfIcmpne, IfIcmplt, IfIcmpge, IfIcmpgt, IfIcmple,
		IfAcmpeq, IfAcmpne, Goto, Jsr, Ifnull, Ifnonnull:
		v, _ := m.u16At(pc + 1)
		in.branchOffset = int(int16(v))
	case GotoW, JsrW:
		v, err := m.s32At(pc + 1)
		if err != nil {
			return 0, err
		}
		in.branchOffset = v
	}
	return end, nil
}

func (m *Method) resolveConstant(in *instruction, index int) error {
	c, err := m.consts.Constant(index)
	if err != nil {
		return errors.Wrapf(err, "constant operand at pc %d", in.pc)
	}
	in.constant = c
	return nil
}

func (m *Method) byteAt(pc int) (int, error) {
	if pc < 0 || pc >= len(m.code) {
		return 0, errors.Errorf("code offset %d out of range", pc)
	}
	return int(m.code[pc]), nil
}

func (m *Method) u16At(pc int) (int, error) {
	if pc < 0 || pc+1 >= len(m.code) {
		return 0, errors.Errorf("code offset %d out of range", pc)
	}
	return int(m.code[pc])<<8 | int(m.code[pc+1]), nil
}

func (m *Method) s32At(pc int) (int, error) {
	if pc < 0 || pc+3 >= len(m.code) {
		return 0, errors.Errorf("code offset %d out of range", pc)
	}
	v := uint32(m.code[pc])<<24 | uint32(m.code[pc+1])<<16 | uint32(m.code[pc+2])<<8 | uint32(m.code[pc+3])
	return int(int32(v)), nil
}

func align4(pc int) int {
	return (pc + 3) &^ 3
}

// Reset rewinds the scan to before the first instruction.
func (m *Method) Reset() {
	m.idx = -1
}

// Next advances to the next instruction, returning false at end of code.
func (m *Method) Next() bool {
	if m.idx+1 >= len(m.instrs) {
		return false
	}
	m.idx++
	return true
}

func (m *Method) current() *instruction {
	return &m.instrs[m.idx]
}

// PC is the offset of the current instruction.
func (m *Method) PC() int {
	return m.current().pc
}

// MaxPC is the last valid code offset.
func (m *Method) MaxPC() int {
	return len(m.code) - 1
}

// Opcode is the current opcode byte; wide-prefixed instructions report the
// underlying opcode with a widened register operand.
func (m *Method) Opcode() int {
	return m.current().opcode
}

// PrevOpcode returns the opcode n instructions before the current one, or
// -1 when the scan has not gone that far.
func (m *Method) PrevOpcode(n int) int {
	if m.idx-n < 0 {
		return -1
	}
	return m.instrs[m.idx-n].opcode
}

// CodeByte returns the raw code byte at pc, or -1 when out of range.
func (m *Method) CodeByte(pc int) int {
	if pc < 0 || pc >= len(m.code) {
		return -1
	}
	return int(m.code[pc])
}

// RegisterOperand is the local-variable index operand, or -1.
func (m *Method) RegisterOperand() int {
	return m.current().register
}

// IntConstant is the immediate integer operand (bipush/sipush value, iinc
// delta, newarray element type, multianewarray dimension count).
func (m *Method) IntConstant() int {
	return m.current().intValue
}

// ConstantValue is the resolved ldc operand.
func (m *Method) ConstantValue() interface{} {
	return m.current().constant
}

// ClassConstantOperand is the slashed class operand (the owning class for
// member accesses).
func (m *Method) ClassConstantOperand() string {
	return m.current().className
}

// DottedClassConstantOperand is ClassConstantOperand with dots.
func (m *Method) DottedClassConstantOperand() string {
	return strings.ReplaceAll(m.current().className, "/", ".")
}

// NameConstantOperand is the referenced member's name.
func (m *Method) NameConstantOperand() string {
	return m.current().member.Name
}

// SigConstantOperand is the referenced member's descriptor.
func (m *Method) SigConstantOperand() string {
	return m.current().member.Signature
}

// MemberOperand is the full referenced member.
func (m *Method) MemberOperand() MemberRef {
	return m.current().member
}

// BranchOffset is the relative branch operand (the default offset for
// switches).
func (m *Method) BranchOffset() int {
	return m.current().branchOffset
}

// BranchTarget is the absolute branch target.
func (m *Method) BranchTarget() int {
	return m.current().pc + m.current().branchOffset
}

// SwitchOffsets are the relative case-target offsets of the current switch.
func (m *Method) SwitchOffsets() []int {
	return m.current().switchOffsets
}

// IsRegisterStore reports whether the current instruction writes a local.
func (m *Method) IsRegisterStore() bool {
	in := m.current()
	if registerStoreOpcodes[in.opcode] {
		return true
	}
	return in.opcode >= Istore0 && in.opcode <= Astore3
}

// StoreRegister gives the register written by the current store
// instruction, folding the _0.._3 short forms.
func (m *Method) StoreRegister() int {
	in := m.current()
	switch {
	case in.opcode >= Istore0 && in.opcode <= Istore3:
		return in.opcode - Istore0
	case in.opcode >= Lstore0 && in.opcode <= Lstore3:
		return in.opcode - Lstore0
	case in.opcode >= Fstore0 && in.opcode <= Fstore3:
		return in.opcode - Fstore0
	case in.opcode >= Dstore0 && in.opcode <= Dstore3:
		return in.opcode - Dstore0
	case in.opcode >= Astore0 && in.opcode <= Astore3:
		return in.opcode - Astore0
	}
	return in.register
}

// BootstrapStringArgument resolves the first bootstrap-method argument of
// the current invokedynamic call site as a string.
func (m *Method) BootstrapStringArgument() (string, bool) {
	in := m.current()
	if in.bootstrapIdx < 0 || m.consts == nil {
		return "", false
	}
	return m.consts.BootstrapStringArgument(in.bootstrapIdx)
}

// ExceptionHandlers is the method's exception table.
func (m *Method) ExceptionHandlers() []ExceptionHandler {
	return m.handlers
}

// LocalVariableSignature looks up the declared signature of a register at a
// pc from the LocalVariableTable attribute, when present.
func (m *Method) LocalVariableSignature(register, pc int) (string, bool) {
	for _, lv := range m.localVars {
		if lv.Register == register && pc >= lv.StartPC && pc <= lv.StartPC+lv.Length {
			return lv.Signature, true
		}
	}
	return "", false
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool {
	return m.static
}

// ClassName is the slashed name of the declaring class.
func (m *Method) ClassName() string {
	return m.className
}

// MethodName is the simple method name.
func (m *Method) MethodName() string {
	return m.name
}

// Descriptor is the method's type descriptor.
func (m *Method) Descriptor() string {
	return m.descriptor
}

// FullyQualifiedMethodName is the dotted class, name and descriptor, used
// in diagnostics.
func (m *Method) FullyQualifiedMethodName() string {
	return fmt.Sprintf("%s.%s%s", strings.ReplaceAll(m.className, "/", "."), m.name, m.descriptor)
}

// InstructionCount is the number of decoded instructions.
func (m *Method) InstructionCount() int {
	return len(m.instrs)
}
