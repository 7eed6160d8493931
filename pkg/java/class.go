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

package java

import (
	md52 "crypto/md5"
	"fmt"

	"github.com/pkg/errors"
	"github.com/zxh0/jvm.go/classfile"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
)

const accStatic = 0x0008

// Class adapts a parsed class file to the analyzer: it enumerates the
// methods as scannable instruction streams and serves as the constant
// source resolving their operands.
type Class struct {
	file *classfile.ClassFile
}

// ParseClass parses raw class-file bytes.
func ParseClass(classBytes []byte) (*Class, error) {
	cf, err := classfile.Parse(classBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse class file")
	}
	return &Class{file: cf}, nil
}

// Name is the slashed name of the class.
func (c *Class) Name() string {
	name, err := c.ClassName(int(c.file.ThisClass))
	if err != nil {
		return ""
	}
	return name
}

func (c *Class) constantInfo(index int) (classfile.ConstantInfo, error) {
	if index <= 0 || index >= len(c.file.ConstantPool) {
		return nil, errors.Errorf("constant pool index %d out of range", index)
	}
	return c.file.ConstantPool[index], nil
}

func (c *Class) utf8(index int) (string, error) {
	info, err := c.constantInfo(index)
	if err != nil {
		return "", err
	}
	utf8, ok := info.(classfile.ConstantUtf8Info)
	if !ok {
		return "", errors.Errorf("constant pool index %d is %T, not utf8", index, info)
	}
	return utf8.Str, nil
}

func (c *Class) nameAndType(index int) (name, descriptor string, err error) {
	info, err := c.constantInfo(index)
	if err != nil {
		return "", "", err
	}
	nt, ok := info.(classfile.ConstantNameAndTypeInfo)
	if !ok {
		return "", "", errors.Errorf("constant pool index %d is %T, not name-and-type", index, info)
	}
	if name, err = c.utf8(int(nt.NameIndex)); err != nil {
		return "", "", err
	}
	if descriptor, err = c.utf8(int(nt.DescriptorIndex)); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// ClassName resolves a CONSTANT_Class entry to its slashed name.
func (c *Class) ClassName(index int) (string, error) {
	info, err := c.constantInfo(index)
	if err != nil {
		return "", err
	}
	class, ok := info.(classfile.ConstantClassInfo)
	if !ok {
		return "", errors.Errorf("constant pool index %d is %T, not a class", index, info)
	}
	return c.utf8(int(class.NameIndex))
}

// Constant resolves an ldc-able constant-pool entry.
func (c *Class) Constant(index int) (interface{}, error) {
	info, err := c.constantInfo(index)
	if err != nil {
		return nil, err
	}
	switch v := info.(type) {
	case classfile.ConstantIntegerInfo:
		return int32(v.Val), nil
	case classfile.ConstantFloatInfo:
		return float32(v.Val), nil
	case classfile.ConstantLongInfo:
		return int64(v.Val), nil
	case classfile.ConstantDoubleInfo:
		return float64(v.Val), nil
	case classfile.ConstantStringInfo:
		return c.utf8(int(v.StringIndex))
	case classfile.ConstantClassInfo:
		name, err := c.utf8(int(v.NameIndex))
		if err != nil {
			return nil, err
		}
		return dismantle.ClassConstant{Name: name}, nil
	case classfile.ConstantDynamicInfo:
		name, descriptor, err := c.nameAndType(int(v.NameAndTypeIndex))
		if err != nil {
			return nil, err
		}
		return dismantle.DynamicConstant{Name: name, Signature: descriptor}, nil
	}
	return nil, errors.Errorf("constant pool index %d is %T, not loadable", index, info)
}

// MemberRef resolves a field, method, interface-method or invokedynamic
// entry.
func (c *Class) MemberRef(index int) (dismantle.MemberRef, error) {
	info, err := c.constantInfo(index)
	if err != nil {
		return dismantle.MemberRef{}, err
	}
	resolve := func(classIndex, nameAndTypeIndex uint16) (dismantle.MemberRef, error) {
		name, descriptor, err := c.nameAndType(int(nameAndTypeIndex))
		if err != nil {
			return dismantle.MemberRef{}, err
		}
		ref := dismantle.MemberRef{Name: name, Signature: descriptor}
		if classIndex != 0 {
			if ref.Class, err = c.ClassName(int(classIndex)); err != nil {
				return dismantle.MemberRef{}, err
			}
		}
		return ref, nil
	}
	switch v := info.(type) {
	case classfile.ConstantFieldRefInfo:
		return resolve(v.ClassIndex, v.NameAndTypeIndex)
	case classfile.ConstantMethodRefInfo:
		return resolve(v.ClassIndex, v.NameAndTypeIndex)
	case classfile.ConstantInterfaceMethodRefInfo:
		return resolve(v.ClassIndex, v.NameAndTypeIndex)
	case classfile.ConstantInvokeDynamicInfo:
		return resolve(0, v.NameAndTypeIndex)
	}
	return dismantle.MemberRef{}, errors.Errorf("constant pool index %d is %T, not a member", index, info)
}

// BootstrapMethodIndex gives the bootstrap-method-attribute index of an
// invokedynamic entry.
func (c *Class) BootstrapMethodIndex(index int) (int, error) {
	info, err := c.constantInfo(index)
	if err != nil {
		return 0, err
	}
	indy, ok := info.(classfile.ConstantInvokeDynamicInfo)
	if !ok {
		return 0, errors.Errorf("constant pool index %d is %T, not invokedynamic", index, info)
	}
	return int(indy.BootstrapMethodAttrIndex), nil
}

// BootstrapStringArgument resolves the first argument of the given
// bootstrap method when it is a string constant.
func (c *Class) BootstrapStringArgument(bootstrapIndex int) (string, bool) {
	for _, attribute := range c.file.AttributeTable {
		bm, ok := attribute.(classfile.BootstrapMethodsAttribute)
		if !ok {
			continue
		}
		if bootstrapIndex < 0 || bootstrapIndex >= len(bm.BootstrapMethods) {
			return "", false
		}
		args := bm.BootstrapMethods[bootstrapIndex].BootstrapArguments
		if len(args) == 0 {
			return "", false
		}
		value, err := c.Constant(int(args[0]))
		if err != nil {
			return "", false
		}
		s, ok := value.(string)
		return s, ok
	}
	return "", false
}

func (c *Class) exceptionHandlers(code classfile.CodeAttribute) []dismantle.ExceptionHandler {
	var handlers []dismantle.ExceptionHandler
	for _, entry := range code.ExceptionTable {
		handler := dismantle.ExceptionHandler{
			StartPC:   int(entry.StartPc),
			EndPC:     int(entry.EndPc),
			HandlerPC: int(entry.HandlerPc),
		}
		if entry.CatchType != 0 {
			if name, err := c.ClassName(int(entry.CatchType)); err == nil {
				handler.CatchType = name
			}
		}
		handlers = append(handlers, handler)
	}
	return handlers
}

func (c *Class) localVariables(code classfile.CodeAttribute) []dismantle.LocalVariable {
	var locals []dismantle.LocalVariable
	for _, attribute := range code.AttributeTable {
		lvt, ok := attribute.(classfile.LocalVariableTableAttribute)
		if !ok {
			continue
		}
		for _, entry := range lvt.LocalVariableTable {
			lv := dismantle.LocalVariable{
				StartPC:  int(entry.StartPc),
				Length:   int(entry.Length),
				Register: int(entry.Index),
			}
			lv.Name, _ = c.utf8(int(entry.NameIndex))
			lv.Signature, _ = c.utf8(int(entry.DescriptorIndex))
			locals = append(locals, lv)
		}
	}
	return locals
}

// Methods decodes every concrete method of the class. Abstract and native
// methods carry no code and are omitted; methods whose code fails to
// decode are reported in the second return value, keyed by name and
// descriptor.
func (c *Class) Methods() ([]*dismantle.Method, map[string]error) {
	var methods []*dismantle.Method
	failed := map[string]error{}
	className := c.Name()
	for _, member := range c.file.Methods {
		name, err := c.utf8(int(member.NameIndex))
		if err != nil {
			continue
		}
		descriptor, err := c.utf8(int(member.DescriptorIndex))
		if err != nil {
			continue
		}
		for _, attribute := range member.AttributeTable {
			code, ok := attribute.(classfile.CodeAttribute)
			if !ok {
				continue
			}
			method, err := dismantle.NewMethod(className, name, descriptor, code.Code, dismantle.Options{
				Constants:         c,
				ExceptionHandlers: c.exceptionHandlers(code),
				LocalVariables:    c.localVariables(code),
				Static:            member.AccessFlags&accStatic != 0,
			})
			if err != nil {
				failed[name+descriptor] = err
				continue
			}
			methods = append(methods, method)
		}
	}
	return methods, failed
}

// HashClassInstructions hashes the opcode sequence of every method,
// ignoring operands. The hash is stable across constant-pool renumbering,
// so it survives shading and most renaming obfuscation.
func HashClassInstructions(classBytes []byte) (string, error) {
	class, err := ParseClass(classBytes)
	if err != nil {
		return "", err
	}
	h := md52.New()
	methods, _ := class.Methods()
	for _, method := range methods {
		method.Reset()
		for method.Next() {
			fmt.Fprintf(h, "%s", dismantle.OpcodeName(method.Opcode()))
		}
	}
	return fmt.Sprintf("%x-v0", h.Sum(nil)), nil
}
