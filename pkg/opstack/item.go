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
	"math"
	"strings"
	"sync"
)

// SpecialKind labels the provenance or a known property of an abstract
// value, e.g. that it came from Random.nextInt or holds a hash code.
type SpecialKind int

const (
	NotSpecial SpecialKind = iota
	SignedByte
	RandomInt
	Low8BitsClear
	HashcodeInt
	IntegerSum
	AverageComputedUsingDivision
	FloatMath
	RandomIntRemainder
	HashcodeIntRemainder
	FileSeparatorString
	MathAbs
	MathAbsOfRandom
	MathAbsOfHashcode
	NonNegative
	NastyFloatMath
	FileOpenedInAppendMode
	ServletRequestTainted
	NewlyAllocated
	ZeroMeansNull
	NonzeroMeansNull
	ResultOfI2L
	ResultOfL2I
	ServletOutput
	TypeOnly
)

var specialKindRegistry = struct {
	sync.Mutex
	names map[SpecialKind]string
	next  SpecialKind
}{
	names: map[SpecialKind]string{},
	next:  TypeOnly + 1,
}

// DefineSpecialKind registers a new special kind under the given name and
// returns its tag. User-defined kinds are opaque to the interpreter: it
// preserves them through copies and merges but attaches no semantics.
func DefineSpecialKind(name string) SpecialKind {
	specialKindRegistry.Lock()
	defer specialKindRegistry.Unlock()
	kind := specialKindRegistry.next
	specialKindRegistry.next++
	specialKindRegistry.names[kind] = name
	return kind
}

// SpecialKindName returns the registered name of a user-defined kind.
func SpecialKindName(kind SpecialKind) (string, bool) {
	specialKindRegistry.Lock()
	defer specialKindRegistry.Unlock()
	name, ok := specialKindRegistry.names[kind]
	return name, ok
}

type memberKind uint8

const (
	memberNone memberKind = iota
	memberField
	memberMethod
)

// Member identifies the field or method a value was produced by. Class
// names are slashed. The zero Member means "no source".
type Member struct {
	kind      memberKind
	Class     string
	Name      string
	Signature string
}

// FieldMember builds a field source reference.
func FieldMember(class, name, signature string) Member {
	return Member{kind: memberField, Class: class, Name: name, Signature: signature}
}

// MethodMember builds a method source reference.
func MethodMember(class, name, signature string) Member {
	return Member{kind: memberMethod, Class: class, Name: name, Signature: signature}
}

// IsField reports whether the member is a field reference.
func (m Member) IsField() bool {
	return m.kind == memberField
}

// IsMethod reports whether the member is a method reference.
func (m Member) IsMethod() bool {
	return m.kind == memberMethod
}

// IsZero reports whether no member is referenced.
func (m Member) IsZero() bool {
	return m.kind == memberNone
}

func (m Member) String() string {
	if m.kind == memberNone {
		return ""
	}
	return fmt.Sprintf("%s.%s%s", strings.ReplaceAll(m.Class, "/", "."), m.Name, m.Signature)
}

// HTTPParameterInjection records where a servlet-tainted value entered the
// method and, when known, which request parameter it came from.
type HTTPParameterInjection struct {
	ParameterName string
	HasName       bool
	PC            int
}

const (
	isInitialParameterFlag = 1 << iota
	couldBeZeroFlag
	isNullFlag
)

const (
	// NoRegister marks a value not mirroring any local.
	NoRegister = -1
	// StaticFieldRegister marks a value loaded from a static field.
	StaticFieldRegister = math.MaxInt32
)

// errorItemSignature is pushed in place of a value when a read underflows
// the abstract stack, so that detectors always receive a well-typed Item.
const errorItemSignature = "Lbytecodesniffer/OpcodeStackError;"

// Item is one abstract value: its static type, an optional constant, the
// field or method it came from, a special-kind label and bookkeeping about
// which local it mirrors. Items are owned by the one stack or local slot
// holding them; code that keeps a value across a transition copies it.
type Item struct {
	signature               string
	constant                interface{}
	source                  Member
	specialKind             SpecialKind
	flags                   int
	registerNumber          int
	fieldLoadedFromRegister int
	pc                      int
	userValue               interface{}
	injection               *HTTPParameterInjection
}

func blankItem() *Item {
	return &Item{
		registerNumber:          NoRegister,
		fieldLoadedFromRegister: NoRegister,
		pc:                      -1,
	}
}

// NewItem builds a value of the given type with no known constant.
func NewItem(signature string) *Item {
	return NewConstantItem(signature, nil)
}

// NewConstantItem builds a value of the given type holding a known
// constant. Integer constants with the low 8 bits clear are labelled
// Low8BitsClear; zero constants are marked as possibly zero.
func NewConstantItem(signature string, constant interface{}) *Item {
	it := blankItem()
	it.signature = signature
	it.setSpecialKindFromSignature()
	it.constant = constant
	switch v := constant.(type) {
	case int32:
		if v != 0 && v&0xff == 0 {
			it.specialKind = Low8BitsClear
		}
		if v == 0 {
			it.setCouldBeZero(true)
		}
	case int64:
		if v != 0 && v&0xff == 0 {
			it.specialKind = Low8BitsClear
		}
		if v == 0 {
			it.setCouldBeZero(true)
		}
	}
	return it
}

// NewFieldItem builds a value loaded from the given field;
// fieldLoadedFromRegister is the register holding the object the field was
// read from, StaticFieldRegister for statics, NoRegister when unknown.
func NewFieldItem(signature string, field Member, fieldLoadedFromRegister int) *Item {
	it := blankItem()
	it.signature = signature
	it.setSpecialKindFromSignature()
	it.source = field
	it.fieldLoadedFromRegister = fieldLoadedFromRegister
	return it
}

// NewNullItem is the null literal.
func NewNullItem() *Item {
	it := blankItem()
	it.signature = "Ljava/lang/Object;"
	it.setNull(true)
	return it
}

// TypedNullItem is a null of a known reference type.
func TypedNullItem(signature string) *Item {
	it := NewItem(signature)
	it.constant = nil
	it.setNull(true)
	return it
}

// TypeOnlyItem carries nothing but a type; it yields to the other side of
// any merge.
func TypeOnlyItem(signature string) *Item {
	it := NewItem(signature)
	it.specialKind = TypeOnly
	return it
}

// InitialArgument is the value seeding a parameter's register on method
// entry.
func InitialArgument(signature string, register int) *Item {
	it := NewItem(signature)
	it.setInitialParameter(true)
	it.registerNumber = register
	return it
}

// Copy clones the item.
func (it *Item) Copy() *Item {
	dup := *it
	return &dup
}

// ConvertTo reinterprets the item under a different type descriptor.
// Numeric constants are truncated or widened to the new type; a non-
// reference target drops any member source.
func (it *Item) ConvertTo(signature string) *Item {
	converted := it.Copy()
	converted.signature = signature
	if v, ok := numericLong(it.constant); ok {
		switch signature {
		case "Z", "Ljava/lang/Boolean;":
			converted.constant = v != 0
		case "B", "Ljava/lang/Byte;":
			converted.constant = int32(int8(v))
		case "S", "Ljava/lang/Short;":
			converted.constant = int32(int16(v))
		case "C", "Ljava/lang/Character;":
			converted.constant = int32(uint16(v))
		case "I", "Ljava/lang/Integer;":
			converted.constant = int32(v)
		case "J", "Ljava/lang/Long;":
			converted.constant = v
		case "D", "Ljava/lang/Double;":
			if d, ok := numericDouble(it.constant); ok {
				converted.constant = d
			}
		case "F", "Ljava/lang/Float;":
			if f, ok := numericFloat(it.constant); ok {
				converted.constant = f
			}
		}
	}
	if signature != "" && signature[0] != 'L' && signature[0] != '[' {
		converted.source = Member{}
	}
	converted.setSpecialKindFromSignature()
	return converted
}

func (it *Item) setSpecialKindFromSignature() {
	switch it.signature {
	case "B":
		it.specialKind = SignedByte
	case "C":
		it.specialKind = NonNegative
	}
}

// Signature is the JVM type descriptor of the value.
func (it *Item) Signature() string {
	return it.signature
}

// Constant returns the known constant value, or nil. A constant Class is
// represented by its slashed name; a known-length array by its length.
func (it *Item) Constant() interface{} {
	return it.constant
}

// SetUserValue attaches a detector-private value to the item.
func (it *Item) SetUserValue(v interface{}) {
	it.userValue = v
}

// UserValue returns the detector-private value.
func (it *Item) UserValue() interface{} {
	return it.userValue
}

// Size is the number of abstract stack slots the value occupies.
func (it *Item) Size() int {
	if it.signature == "J" || it.signature == "D" {
		return 2
	}
	return 1
}

// IsWide reports whether the value is a two-slot primitive.
func (it *Item) IsWide() bool {
	return it.Size() == 2
}

// PC is the offset where the value was produced, or -1.
func (it *Item) PC() int {
	return it.pc
}

// SetPC records the producing offset.
func (it *Item) SetPC(pc int) {
	it.pc = pc
}

// RegisterNumber is the local this value currently mirrors, or NoRegister.
func (it *Item) RegisterNumber() int {
	return it.registerNumber
}

// FieldLoadedFromRegister is the register holding the object whose field
// produced this value, StaticFieldRegister for statics, NoRegister if not
// a field load.
func (it *Item) FieldLoadedFromRegister() int {
	return it.fieldLoadedFromRegister
}

// XField returns the source field reference, if the value came from a
// field load.
func (it *Item) XField() (Member, bool) {
	if it.source.IsField() {
		return it.source, true
	}
	return Member{}, false
}

// ReturnValueOf returns the invoked method, if the value is a call result.
func (it *Item) ReturnValueOf() (Member, bool) {
	if it.source.IsMethod() {
		return it.source, true
	}
	return Member{}, false
}

func (it *Item) setLoadedFromField(field Member, register int) {
	it.source = field
	it.fieldLoadedFromRegister = register
	it.registerNumber = NoRegister
}

// SpecialKind returns the value's provenance label.
func (it *Item) SpecialKind() SpecialKind {
	return it.specialKind
}

// SetSpecialKind sets the value's provenance label.
func (it *Item) SetSpecialKind(kind SpecialKind) {
	it.specialKind = kind
}

// CopyWithSpecialKind clones the item under a different label.
func (it *Item) CopyWithSpecialKind(kind SpecialKind) *Item {
	dup := it.Copy()
	dup.specialKind = kind
	return dup
}

// IsBooleanNullnessValue reports whether the value encodes the nullness of
// a reference as 0/1.
func (it *Item) IsBooleanNullnessValue() bool {
	return it.specialKind == ZeroMeansNull || it.specialKind == NonzeroMeansNull
}

func (it *Item) setFlag(on bool, bit int) {
	if on {
		it.flags |= bit
	} else {
		it.flags &^= bit
	}
}

func (it *Item) setInitialParameter(on bool) {
	it.setFlag(on, isInitialParameterFlag)
}

// IsInitialParameter reports whether the value is an unchanged incoming
// argument.
func (it *Item) IsInitialParameter() bool {
	return it.flags&isInitialParameterFlag != 0
}

func (it *Item) setCouldBeZero(on bool) {
	it.setFlag(on, couldBeZeroFlag)
}

// CouldBeZero reports whether the value may be zero.
func (it *Item) CouldBeZero() bool {
	return it.flags&couldBeZeroFlag != 0 || it.isZero()
}

func (it *Item) isZero() bool {
	v, ok := it.constant.(int32)
	return ok && v == 0
}

// MustBeZero reports whether the value is the integer constant zero.
func (it *Item) MustBeZero() bool {
	v, ok := numericInt(it.constant)
	return ok && v == 0
}

func (it *Item) setNull(on bool) {
	it.setFlag(on, isNullFlag)
}

// IsNull reports whether the value is the null constant.
func (it *Item) IsNull() bool {
	return it.flags&isNullFlag != 0
}

// IsArray reports whether the value is of array type.
func (it *Item) IsArray() bool {
	return strings.HasPrefix(it.signature, "[")
}

// IsPrimitive reports whether the value is of primitive type.
func (it *Item) IsPrimitive() bool {
	return !strings.HasPrefix(it.signature, "L") && !strings.HasPrefix(it.signature, "[")
}

// IsNonNegative reports whether the value is provably >= 0.
func (it *Item) IsNonNegative() bool {
	if it.specialKind == NonNegative {
		return true
	}
	if v, ok := numericDouble(it.constant); ok {
		return v >= 0
	}
	return false
}

// ValueCouldBeNegative reports whether the value's provenance admits
// negative values.
func (it *Item) ValueCouldBeNegative() bool {
	if it.IsNonNegative() {
		return false
	}
	switch it.specialKind {
	case RandomInt, SignedByte, HashcodeInt, RandomIntRemainder,
		HashcodeIntRemainder, MathAbsOfRandom, MathAbsOfHashcode:
		return true
	}
	return false
}

// CheckForIntegerMinValue reports whether the value could be
// math.MinInt32, which Math.abs cannot make non-negative.
func (it *Item) CheckForIntegerMinValue() bool {
	return !it.IsNonNegative() && (it.specialKind == RandomInt || it.specialKind == HashcodeInt)
}

// MightRarelyBeNegative reports whether the value is Math.abs of a
// possibly-MinValue input.
func (it *Item) MightRarelyBeNegative() bool {
	return !it.IsNonNegative() &&
		(it.specialKind == MathAbsOfRandom || it.specialKind == MathAbsOfHashcode)
}

func (it *Item) specialKindForAbs() SpecialKind {
	switch it.specialKind {
	case HashcodeInt:
		return MathAbsOfHashcode
	case RandomInt:
		return MathAbsOfRandom
	default:
		return MathAbs
	}
}

func (it *Item) specialKindForRemainder() SpecialKind {
	switch it.specialKind {
	case HashcodeInt:
		return HashcodeIntRemainder
	case RandomInt:
		return RandomIntRemainder
	default:
		return NotSpecial
	}
}

func (it *Item) setCouldBeNegative() {
	if it.specialKind == NonNegative {
		it.specialKind = NotSpecial
	}
}

// IsServletParameterTainted reports whether the value carries servlet
// request taint.
func (it *Item) IsServletParameterTainted() bool {
	return it.specialKind == ServletRequestTainted
}

func (it *Item) setServletParameterTainted() {
	it.specialKind = ServletRequestTainted
}

// Injection describes where a tainted value entered, nil when untainted or
// unknown.
func (it *Item) Injection() *HTTPParameterInjection {
	return it.injection
}

// IsServletWriter reports whether the value writes to a servlet response.
func (it *Item) IsServletWriter() bool {
	if it.specialKind == ServletOutput {
		return true
	}
	if it.signature == "Ljavax/servlet/ServletOutputStream;" {
		return true
	}
	src, ok := it.ReturnValueOf()
	if !ok {
		return false
	}
	dotted := strings.ReplaceAll(src.Class, "/", ".")
	return (dotted == "javax.servlet.http.HttpServletResponse" || dotted == "jakarta.servlet.http.HttpServletResponse") &&
		(src.Name == "getWriter" || src.Name == "getOutputStream")
}

// IsNewlyAllocated reports whether the value is a fresh allocation.
func (it *Item) IsNewlyAllocated() bool {
	return it.specialKind == NewlyAllocated
}

// ClearNewlyAllocated drops the fresh-allocation label once the value
// escapes; a builder additionally forgets its accumulated constant.
func (it *Item) ClearNewlyAllocated() {
	if it.specialKind == NewlyAllocated {
		if strings.HasPrefix(it.signature, "Ljava/lang/StringB") {
			it.constant = nil
		}
		it.specialKind = NotSpecial
	}
}

// HasConstantValue reports whether the value is the given integer constant.
func (it *Item) HasConstantValue(value int64) bool {
	v, ok := numericLong(it.constant)
	return ok && v == value
}

// MakeCrossMethod strips per-method bookkeeping so the item can be stored
// in a cross-method summary.
func (it *Item) MakeCrossMethod() {
	it.pc = -1
	it.registerNumber = NoRegister
	it.fieldLoadedFromRegister = NoRegister
}

// Equals is structural equality over every lattice-relevant field.
func (it *Item) Equals(other *Item) bool {
	if it == nil || other == nil {
		return it == other
	}
	return it.signature == other.signature &&
		constantsEqual(it.constant, other.constant) &&
		it.source == other.source &&
		constantsEqual(it.userValue, other.userValue) &&
		injectionsEqual(it.injection, other.injection) &&
		it.specialKind == other.specialKind &&
		it.registerNumber == other.registerNumber &&
		it.flags == other.flags &&
		it.fieldLoadedFromRegister == other.fieldLoadedFromRegister
}

// SameValue reports whether two items provably denote the same runtime
// value, via a shared register or field load.
func (it *Item) SameValue(other *Item) bool {
	return it.Equals(other) &&
		(it.registerNumber != NoRegister && it.registerNumber == other.registerNumber ||
			it.fieldLoadedFromRegister != NoRegister)
}

func isEmptyString(c interface{}) bool {
	s, ok := c.(string)
	return ok && s == ""
}

func constantsEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

func injectionsEqual(a, b *HTTPParameterInjection) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MergeItems joins two abstract values at a control-flow confluence.
func MergeItems(i1, i2 *Item) *Item {
	if i1 == nil {
		return i2
	}
	if i2 == nil {
		return i1
	}
	if i1.Equals(i2) {
		return i1
	}
	if i1.specialKind == TypeOnly && i2.specialKind != TypeOnly {
		return i2
	}
	if i2.specialKind == TypeOnly && i1.specialKind != TypeOnly {
		return i1
	}
	m := blankItem()
	m.signature = "Ljava/lang/Object;"
	m.flags = i1.flags & i2.flags
	m.setCouldBeZero(i1.CouldBeZero() || i2.CouldBeZero())
	if i1.pc == i2.pc {
		m.pc = i1.pc
	}
	switch {
	case i1.signature == i2.signature:
		m.signature = i1.signature
	case i1.IsNull():
		m.signature = i2.signature
	case i2.IsNull():
		m.signature = i1.signature
	}
	if constantsEqual(i1.constant, i2.constant) {
		m.constant = i1.constant
	}
	switch {
	case i1.source == i2.source:
		m.source = i1.source
	case isEmptyString(i1.constant):
		m.source = i2.source
	case isEmptyString(i2.constant):
		m.source = i1.source
	}
	if constantsEqual(i1.userValue, i2.userValue) {
		m.userValue = i1.userValue
	}
	if i1.registerNumber == i2.registerNumber {
		m.registerNumber = i1.registerNumber
	}
	if i1.fieldLoadedFromRegister == i2.fieldLoadedFromRegister {
		m.fieldLoadedFromRegister = i1.fieldLoadedFromRegister
	}
	switch {
	case i1.specialKind == ServletRequestTainted:
		m.specialKind = ServletRequestTainted
		m.injection = i1.injection
	case i2.specialKind == ServletRequestTainted:
		m.specialKind = ServletRequestTainted
		m.injection = i2.injection
	case i1.specialKind == i2.specialKind:
		m.specialKind = i1.specialKind
	case i1.specialKind == NastyFloatMath || i2.specialKind == NastyFloatMath:
		m.specialKind = NastyFloatMath
	case i1.specialKind == FloatMath || i2.specialKind == FloatMath:
		m.specialKind = FloatMath
	}
	return m
}

var specialKindLabels = map[SpecialKind]string{
	SignedByte:                   "signed_byte",
	RandomInt:                    "random_int",
	Low8BitsClear:                "low8clear",
	HashcodeInt:                  "hashcode_int",
	IntegerSum:                   "int_sum",
	AverageComputedUsingDivision: "averageComputingUsingDivision",
	FloatMath:                    "floatMath",
	NastyFloatMath:               "nastyFloatMath",
	HashcodeIntRemainder:         "hashcode_int_rem",
	RandomIntRemainder:           "random_int_rem",
	MathAbsOfRandom:              "abs_of_random",
	MathAbsOfHashcode:            "abs_of_hashcode",
	FileSeparatorString:          "file_separator_string",
	MathAbs:                      "Math.abs",
	NonNegative:                  "non_negative",
	FileOpenedInAppendMode:       "file opened in append mode",
	ServletRequestTainted:        "servlet request tainted",
	NewlyAllocated:               "new",
	ZeroMeansNull:                "zero means null",
	NonzeroMeansNull:             "nonzero means null",
	ServletOutput:                "servlet_output",
	TypeOnly:                     "type_only",
}

func (it *Item) String() string {
	var buf strings.Builder
	buf.WriteString("< ")
	buf.WriteString(it.signature)
	if it.specialKind != NotSpecial {
		if label, ok := specialKindLabels[it.specialKind]; ok {
			buf.WriteString(", " + label)
		} else if name, ok := SpecialKindName(it.specialKind); ok {
			fmt.Fprintf(&buf, ", #%d(%s)", it.specialKind, name)
		} else {
			fmt.Fprintf(&buf, ", #%d", it.specialKind)
		}
	}
	if it.constant != nil {
		if s, ok := it.constant.(string); ok {
			fmt.Fprintf(&buf, ", %q", s)
		} else {
			fmt.Fprintf(&buf, ", %v", it.constant)
		}
	}
	if it.source.IsField() {
		buf.WriteString(", ")
		if it.fieldLoadedFromRegister != NoRegister && it.fieldLoadedFromRegister != StaticFieldRegister {
			fmt.Fprintf(&buf, "%d:", it.fieldLoadedFromRegister)
		}
		buf.WriteString(it.source.String())
	}
	if it.source.IsMethod() {
		buf.WriteString(", return value from ")
		buf.WriteString(it.source.String())
	}
	if it.IsInitialParameter() {
		buf.WriteString(", IP")
	}
	if it.IsNull() {
		buf.WriteString(", isNull")
	}
	if it.registerNumber != NoRegister {
		fmt.Fprintf(&buf, ", r%d", it.registerNumber)
	}
	if it.CouldBeZero() && !it.isZero() {
		buf.WriteString(", cbz")
	}
	if it.userValue != nil {
		fmt.Fprintf(&buf, ", uv: %v", it.userValue)
	}
	buf.WriteString(" >")
	return buf.String()
}

func numericInt(c interface{}) (int32, bool) {
	switch v := c.(type) {
	case int32:
		return v, true
	case int64:
		return int32(v), true
	case float32:
		return int32(v), true
	case float64:
		return int32(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func numericLong(c interface{}) (int64, bool) {
	switch v := c.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func numericFloat(c interface{}) (float32, bool) {
	switch v := c.(type) {
	case int32:
		return float32(v), true
	case int64:
		return float32(v), true
	case float32:
		return v, true
	case float64:
		return float32(v), true
	}
	return 0, false
}

func numericDouble(c interface{}) (float64, bool) {
	switch v := c.(type) {
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
