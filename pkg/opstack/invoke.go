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
	"fmt"
	"strings"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
)

const (
	javaUtilArraysArrayList = "Ljava/util/Arrays$ArrayList;"
	javaUtilCollections     = "java/util/Collections"
	constructorName         = "<init>"
)

var boxedTypes = map[string]string{
	"java/lang/Integer":   "int",
	"java/lang/Long":      "long",
	"java/lang/Double":    "double",
	"java/lang/Short":     "short",
	"java/lang/Float":     "float",
	"java/lang/Boolean":   "boolean",
	"java/lang/Character": "char",
	"java/lang/Byte":      "byte",
}

type classMethod struct {
	class  string
	method string
}

// immutableReturnerMap maps well-known factory methods to the concrete
// type of the collection they return.
var immutableReturnerMap = map[classMethod]string{
	{javaUtilCollections, "emptyList"}:         "Ljava/util/Collections$EmptyList;",
	{javaUtilCollections, "emptyMap"}:          "Ljava/util/Collections$EmptyMap;",
	{javaUtilCollections, "emptyNavigableMap"}: "Ljava/util/Collections$EmptyNavigableMap;",
	{javaUtilCollections, "emptySortedMap"}:    "Ljava/util/Collections$EmptyNavigableMap;",
	{javaUtilCollections, "emptySet"}:          "Ljava/util/Collections$EmptySet;",
	{javaUtilCollections, "emptyNavigableSet"}: "Ljava/util/Collections$EmptyNavigableSet;",
	{javaUtilCollections, "emptySortedSet"}:    "Ljava/util/Collections$EmptyNavigableSet;",

	{javaUtilCollections, "singletonList"}: "Ljava/util/Collections$SingletonList;",
	{javaUtilCollections, "singletonMap"}:  "Ljava/util/Collections$SingletonMap;",
	{javaUtilCollections, "singleton"}:     "Ljava/util/Collections$SingletonSet;",

	{javaUtilCollections, "unmodifiableList"}:         "Ljava/util/Collections$UnmodifiableList;",
	{javaUtilCollections, "unmodifiableMap"}:          "Ljava/util/Collections$UnmodifiableMap;",
	{javaUtilCollections, "unmodifiableNavigableMap"}: "Ljava/util/Collections$UnmodifiableNavigableMap;",
	{javaUtilCollections, "unmodifiableSortedMap"}:    "Ljava/util/Collections$UnmodifiableSortedMap;",
	{javaUtilCollections, "unmodifiableSet"}:          "Ljava/util/Collections$UnmodifiableSet;",
	{javaUtilCollections, "unmodifiableNavigableSet"}: "Ljava/util/Collections$UnmodifiableNavigableSet;",
	{javaUtilCollections, "unmodifiableSortedSet"}:    "Ljava/util/Collections$UnmodifiableSortedSet;",

	{"java/util/List", "of"}:     "Ljava/util/ImmutableCollections$AbstractImmutableList;",
	{"java/util/List", "copyOf"}: "Ljava/util/ImmutableCollections$AbstractImmutableList;",

	{"java/util/Map", "of"}:     "Ljava/util/ImmutableCollections$AbstractImmutableMap;",
	{"java/util/Map", "copyOf"}: "Ljava/util/ImmutableCollections$AbstractImmutableMap;",

	{"java/util/Set", "of"}:     "Ljava/util/ImmutableCollections$AbstractImmutableSet;",
	{"java/util/Set", "copyOf"}: "Ljava/util/ImmutableCollections$AbstractImmutableSet;",
}

func isServletRequestClass(clsName string) bool {
	return clsName == "javax/servlet/http/HttpServletRequest" ||
		clsName == "javax/servlet/ServletRequest"
}

func hasStringConstant(it *Item) bool {
	if it == nil {
		return false
	}
	_, ok := it.constant.(string)
	return ok
}

func isMathClass(clsName string) bool {
	return clsName == "java/lang/Math" || clsName == "java/lang/StrictMath"
}

func isMethodThatReturnsGivenReference(clsName, methodName string) bool {
	return clsName == "java/util/Objects" && methodName == "requireNonNull" ||
		clsName == "com/google/common/base/Preconditions" && methodName == "checkNotNull"
}

func (s *OpcodeStack) processMethodCall(dbc *dismantle.Method, seen int) {
	clsName := dbc.ClassConstantOperand()
	method := dbc.NameConstantOperand()
	signature := dbc.SigConstantOperand()
	var appenderValue interface{}
	servletRequestParameterTainted := false
	sawUnknownAppend := false
	var sbItem *Item
	var topItem *Item
	if s.StackDepth() > 0 {
		topItem = s.StackItem(0)
	}

	argCount := numberArguments(signature)

	if primitive, boxed := boxedTypes[clsName]; boxed && topItem != nil &&
		(method == "valueOf" && !strings.Contains(signature, "String") || method == primitive+"Value") {
		// boxing/unboxing conversion: the value passes through unchanged
		value := s.pop()
		newSignature := returnTypeSignature(signature)
		newValue := value.ConvertTo(newSignature)
		if newValue.source.IsZero() {
			newValue.source = methodOperand(dbc)
		}
		if newValue.SpecialKind() == NotSpecial {
			if newSignature == "B" || newSignature == "Ljava/lang/Boolean;" {
				newValue.SetSpecialKind(SignedByte)
			} else if newSignature == "C" || newSignature == "Ljava/lang/Character;" {
				newValue.SetSpecialKind(NonNegative)
			}
		}
		s.push(newValue)
		return
	}

	// a builder passed as an argument escapes: its accumulated constant is
	// no longer trustworthy
	for i := 0; i < argCount; i++ {
		if i >= s.StackDepth() {
			break
		}
		item := s.StackItem(i)
		itemSignature := item.Signature()
		if itemSignature == "Ljava/lang/StringBuilder;" || itemSignature == "Ljava/lang/StringBuffer;" {
			s.markConstantValueUnknown(item)
		}
	}

	initializingServletWriter := false
	if seen == dismantle.Invokespecial && method == constructorName &&
		strings.HasPrefix(clsName, "java/io") && strings.HasSuffix(clsName, "Writer") && argCount > 0 {
		firstArg := s.StackItem(argCount - 1)
		if firstArg.IsServletWriter() {
			initializingServletWriter = true
		}
	}

	topIsTainted := topItem != nil && topItem.IsServletParameterTainted()
	var injection *HTTPParameterInjection
	if topIsTainted {
		injection = topItem.injection
	}

	switch {
	case clsName == "java/lang/StringBuffer" || clsName == "java/lang/StringBuilder":
		switch {
		case method == constructorName:
			if signature == "(Ljava/lang/String;)V" {
				i := s.StackItem(0)
				if v, ok := i.Constant().(string); ok {
					appenderValue = v
				}
				if i.IsServletParameterTainted() {
					servletRequestParameterTainted = true
				}
			} else if signature == "()V" {
				appenderValue = ""
			}
		case method == "toString" && s.StackDepth() >= 1:
			i := s.StackItem(0)
			if v, ok := i.Constant().(string); ok {
				appenderValue = v
			}
			if i.IsServletParameterTainted() {
				servletRequestParameterTainted = true
			}
		case method == "append":
			if !strings.Contains(signature, "II)") && s.StackDepth() >= 2 {
				sbItem = s.StackItem(1)
				i := s.StackItem(0)
				if i.IsServletParameterTainted() || sbItem.IsServletParameterTainted() {
					servletRequestParameterTainted = true
				}
				sbVal := sbItem.Constant()
				sVal := i.Constant()
				if sbVal != nil && sVal != nil {
					appenderValue = fmt.Sprintf("%v%v", sbVal, sVal)
				} else {
					s.markConstantValueUnknown(sbItem)
				}
			} else if strings.HasPrefix(signature, "([CII)") {
				sawUnknownAppend = true
				sbItem = s.StackItem(3)
				s.markConstantValueUnknown(sbItem)
			} else {
				sawUnknownAppend = true
			}
		}

	case seen == dismantle.Invokespecial && clsName == "java/io/FileOutputStream" && method == constructorName &&
		(signature == "(Ljava/io/File;Z)V" || signature == "(Ljava/lang/String;Z)V") && len(s.stack) > 3:
		item := s.StackItem(0)
		if v, ok := numericInt(item.Constant()); ok && v == 1 {
			s.popN(3)
			newTop := s.StackItem(0)
			if newTop.Signature() == "Ljava/io/FileOutputStream;" {
				newTop.SetSpecialKind(FileOpenedInAppendMode)
				newTop.source = methodOperand(dbc)
				newTop.SetPC(dbc.PC())
			}
			return
		}

	case seen == dismantle.Invokespecial && clsName == "java/io/BufferedOutputStream" && method == constructorName &&
		signature == "(Ljava/io/OutputStream;)V":
		if s.StackItem(0).SpecialKind() == FileOpenedInAppendMode &&
			s.StackItem(2).Signature() == "Ljava/io/BufferedOutputStream;" {
			s.popN(2)
			newTop := s.StackItem(0)
			newTop.SetSpecialKind(FileOpenedInAppendMode)
			newTop.source = methodOperand(dbc)
			newTop.SetPC(dbc.PC())
			return
		}

	case seen == dismantle.Invokeinterface && method == "getParameter" && isServletRequestClass(clsName):
		requestParameter := s.pop()
		s.pop()
		result := NewItem("Ljava/lang/String;")
		result.setServletParameterTainted()
		result.source = methodOperand(dbc)
		inj := &HTTPParameterInjection{PC: dbc.PC()}
		if name, ok := requestParameter.Constant().(string); ok {
			inj.ParameterName = name
			inj.HasName = true
		}
		result.injection = inj
		result.SetPC(dbc.PC())
		s.push(result)
		return

	case seen == dismantle.Invokeinterface && method == "getQueryString" && isServletRequestClass(clsName):
		s.pop()
		result := NewItem("Ljava/lang/String;")
		result.setServletParameterTainted()
		result.source = methodOperand(dbc)
		result.injection = &HTTPParameterInjection{PC: dbc.PC()}
		result.SetPC(dbc.PC())
		s.push(result)
		return

	case seen == dismantle.Invokeinterface && method == "getHeader" && isServletRequestClass(clsName):
		s.pop()
		s.pop()
		result := NewItem("Ljava/lang/String;")
		result.setServletParameterTainted()
		result.source = methodOperand(dbc)
		result.injection = &HTTPParameterInjection{PC: dbc.PC()}
		result.SetPC(dbc.PC())
		s.push(result)
		return

	case seen == dismantle.Invokestatic && method == "asList" && clsName == "java/util/Arrays":
		s.pop()
		s.push(NewItem(javaUtilArraysArrayList))
		return

	case seen == dismantle.Invokestatic:
		var requestParameter *Item
		if signature == "(Ljava/util/List;)Ljava/util/List;" && clsName == javaUtilCollections {
			requestParameter = s.topItem()
		}
		if returnTypeName, ok := immutableReturnerMap[classMethod{clsName, method}]; ok {
			s.popN(argCount)
			var result *Item
			if requestParameter != nil && requestParameter.Signature() == javaUtilArraysArrayList {
				result = NewItem("Ljava/util/Collections$UnmodifiableRandomAccessList;")
			} else {
				result = NewItem(returnTypeName)
			}
			s.push(result)
			return
		}
		if requestParameter != nil {
			s.pop()
			if requestParameter.Signature() == javaUtilArraysArrayList {
				s.push(NewItem(javaUtilArraysArrayList))
				return
			}
			// not a known wrapper input; fall back to the generic call
			// modelling below
			s.push(requestParameter)
		}
	}

	s.pushByInvoke(dbc, seen != dismantle.Invokestatic)

	if sbItem != nil && sbItem.IsNewlyAllocated() {
		s.StackItem(0).SetSpecialKind(NewlyAllocated)
	}

	if initializingServletWriter {
		s.StackItem(0).SetSpecialKind(ServletOutput)
	}

	if (sawUnknownAppend || appenderValue != nil || servletRequestParameterTainted) && s.StackDepth() > 0 {
		i := s.StackItem(0)
		i.constant = appenderValue
		if !sawUnknownAppend && servletRequestParameterTainted {
			i.injection = topItem.injection
			i.setServletParameterTainted()
		}
		if sbItem != nil {
			i.registerNumber = sbItem.registerNumber
			i.source = sbItem.source
			if i.injection == nil {
				i.injection = sbItem.injection
			}
			if sbItem.registerNumber >= 0 {
				s.setLVValue(sbItem.registerNumber, i)
			}
		}
		return
	}

	switch {
	case (clsName == "java/util/Random" || clsName == "java/security/SecureRandom") &&
		(method == "nextInt" && signature == "()I" || method == "nextLong" && signature == "()J"):
		i := s.pop().Copy()
		i.SetSpecialKind(RandomInt)
		s.push(i)

	case method == "size" && signature == "()I" &&
		s.ctx.isCollectionSubtype(strings.ReplaceAll(clsName, "/", ".")):
		i := s.pop().Copy()
		if i.SpecialKind() == NotSpecial {
			i.SetSpecialKind(NonNegative)
		}
		s.push(i)

	case clsName == "java/lang/String" && argCount == 0 && hasStringConstant(topItem):
		input, _ := topItem.Constant().(string)
		var result interface{}
		switch method {
		case "length":
			result = javaStringLength(input)
		case "trim":
			result = javaTrim(input)
		case "toString", "intern":
			result = input
		}
		if result != nil {
			i := s.pop().Copy()
			i.constant = result
			s.push(i)
		}

	case isMathClass(clsName) && method == "abs":
		// the argument's provenance decides whether abs can still be
		// negative (Integer.MIN_VALUE)
		i := s.pop().Copy()
		if topItem != nil {
			i.SetSpecialKind(topItem.specialKindForAbs())
		} else {
			i.SetSpecialKind(MathAbs)
		}
		s.push(i)

	case isMathClass(clsName) &&
		(strings.HasSuffix(signature, ")D") || strings.HasSuffix(signature, ")F")):
		i := s.pop().Copy()
		if i.SpecialKind() == NotSpecial {
			i.SetSpecialKind(FloatMath)
		}
		s.push(i)

	case seen == dismantle.Invokevirtual && method == "hashCode" && signature == "()I" ||
		seen == dismantle.Invokestatic && clsName == "java/lang/System" &&
			method == "identityHashCode" && signature == "(Ljava/lang/Object;)I":
		i := s.pop().Copy()
		i.SetSpecialKind(HashcodeInt)
		s.push(i)

	case topIsTainted &&
		(strings.HasPrefix(method, "encode") && clsName == "javax/servlet/http/HttpServletResponse" ||
			method == "trim" && clsName == "java/lang/String"):
		i := s.pop().Copy()
		i.setServletParameterTainted()
		i.injection = injection
		s.push(i)
	}

	if !strings.HasSuffix(signature, ")V") {
		i := s.pop().Copy()
		i.source = methodOperand(dbc)
		s.push(i)
	}

	if seen == dismantle.Invokestatic && topItem != nil && topItem.IsInitialParameter() &&
		isMethodThatReturnsGivenReference(clsName, method) {
		s.StackItem(0).setInitialParameter(true)
	}
}

// pushByInvoke is the generic call modelling: pop the arguments (and the
// receiver for instance calls), push the return value with the callee as
// its source. The new X; dup; invokespecial <init> idiom rewrites the
// duplicate left under the arguments instead of pushing.
func (s *OpcodeStack) pushByInvoke(dbc *dismantle.Method, popThis bool) {
	signature := dbc.SigConstantOperand()
	if dbc.NameConstantOperand() == constructorName && strings.HasSuffix(signature, ")V") && popThis {
		s.popN(numberArguments(signature))
		constructed := s.pop()
		if s.StackDepth() > 0 {
			next := s.StackItem(0)
			if constructed.Equals(next) {
				next = next.Copy()
				next.source = methodOperand(dbc)
				next.pc = dbc.PC()
				s.Replace(0, next)
			}
		}
		return
	}
	popCount := numberArguments(signature)
	if popThis {
		popCount++
	}
	s.popN(popCount)
	s.pushBySignature(returnTypeSignature(signature), dbc)
}

func (s *OpcodeStack) processInvokeDynamic(dbc *dismantle.Method) {
	var appenderValue interface{}
	servletRequestParameterTainted := false
	var topItem *Item
	if s.StackDepth() > 0 {
		topItem = s.StackItem(0)
	}

	signature := dbc.SigConstantOperand()

	if dbc.NameConstantOperand() == "makeConcatWithConstants" {
		args := argumentSignatures(signature)
		if len(args) == 1 {
			i := s.StackItem(0)
			if i.IsServletParameterTainted() {
				servletRequestParameterTainted = true
			}
			if sVal := i.Constant(); sVal != nil {
				if concatArg, ok := dbc.BootstrapStringArgument(); ok {
					appenderValue = strings.ReplaceAll(concatArg, "\u0001", fmt.Sprint(sVal))
				}
			}
		} else if len(args) == 2 {
			i1 := s.StackItem(0)
			i2 := s.StackItem(1)
			if i1.IsServletParameterTainted() || i2.IsServletParameterTainted() {
				servletRequestParameterTainted = true
			}
			sVal1 := i1.Constant()
			sVal2 := i2.Constant()
			if sVal1 != nil && sVal2 != nil {
				appenderValue = fmt.Sprintf("%v%v", sVal2, sVal1)
			}
		}
	}

	s.popN(numberArguments(signature))
	s.pushBySignature(returnTypeSignature(signature), dbc)

	if (appenderValue != nil || servletRequestParameterTainted) && s.StackDepth() > 0 {
		i := s.StackItem(0)
		i.constant = appenderValue
		if servletRequestParameterTainted {
			i.injection = topItem.injection
			i.setServletParameterTainted()
		}
	}
}

// javaStringLength is the UTF-16 code-unit count, matching
// String.length().
func javaStringLength(s string) int32 {
	n := 0
	for _, r := range s {
		n++
		if r > 0xffff {
			n++
		}
	}
	return int32(n)
}

// javaTrim matches String.trim: strip leading and trailing chars <= 0x20.
func javaTrim(s string) string {
	start := 0
	end := len(s)
	for start < end && s[start] <= ' ' {
		start++
	}
	for end > start && s[end-1] <= ' ' {
		end--
	}
	return s[start:end]
}
