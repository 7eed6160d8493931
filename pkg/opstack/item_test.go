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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

func TestMergeIdempotence(t *testing.T) {
	items := []*opstack.Item{
		opstack.NewItem("I"),
		opstack.NewConstantItem("I", int32(7)),
		opstack.NewConstantItem("Ljava/lang/String;", "s"),
		opstack.NewNullItem(),
		opstack.TypedNullItem("Ljava/util/List;"),
		opstack.InitialArgument("J", 1),
		opstack.NewFieldItem("I", opstack.FieldMember("a/B", "f", "I"), 2),
	}
	for _, it := range items {
		merged := opstack.MergeItems(it, it)
		assert.True(t, merged.Equals(it), "merge(x, x) must equal x for %s", it)
	}
}

func TestMergeRules(t *testing.T) {
	t.Run("servlet taint wins", func(t *testing.T) {
		tainted := opstack.NewItem("Ljava/lang/String;")
		tainted.SetSpecialKind(opstack.ServletRequestTainted)
		plain := opstack.NewConstantItem("Ljava/lang/String;", "x")

		merged := opstack.MergeItems(tainted, plain)
		assert.Equal(t, opstack.ServletRequestTainted, merged.SpecialKind())
		merged = opstack.MergeItems(plain, tainted)
		assert.Equal(t, opstack.ServletRequestTainted, merged.SpecialKind())
	})

	t.Run("nasty float math dominates float math", func(t *testing.T) {
		nasty := opstack.NewItem("D")
		nasty.SetSpecialKind(opstack.NastyFloatMath)
		float := opstack.NewItem("D")
		float.SetSpecialKind(opstack.FloatMath)

		merged := opstack.MergeItems(nasty, float)
		assert.Equal(t, opstack.NastyFloatMath, merged.SpecialKind())
	})

	t.Run("type only yields to the other side", func(t *testing.T) {
		typeOnly := opstack.TypeOnlyItem("I")
		constant := opstack.NewConstantItem("I", int32(3))

		merged := opstack.MergeItems(typeOnly, constant)
		assert.True(t, merged.Equals(constant))
	})

	t.Run("constants survive only on agreement", func(t *testing.T) {
		a := opstack.NewConstantItem("I", int32(3))
		b := opstack.NewConstantItem("I", int32(4))
		merged := opstack.MergeItems(a, b)
		assert.Nil(t, merged.Constant())
		assert.Equal(t, "I", merged.Signature())

		same := opstack.MergeItems(a, opstack.NewConstantItem("I", int32(3)))
		assert.Equal(t, int32(3), same.Constant())
	})

	t.Run("null adopts the other signature", func(t *testing.T) {
		null := opstack.NewNullItem()
		typed := opstack.NewItem("Ljava/util/List;")
		merged := opstack.MergeItems(null, typed)
		assert.Equal(t, "Ljava/util/List;", merged.Signature())
	})

	t.Run("could-be-zero is ored", func(t *testing.T) {
		zero := opstack.NewConstantItem("I", int32(0))
		other := opstack.NewConstantItem("I", int32(5))
		merged := opstack.MergeItems(zero, other)
		assert.True(t, merged.CouldBeZero())
	})

	t.Run("mismatched kinds collapse", func(t *testing.T) {
		a := opstack.NewItem("I")
		a.SetSpecialKind(opstack.RandomInt)
		b := opstack.NewItem("I")
		b.SetSpecialKind(opstack.HashcodeInt)
		merged := opstack.MergeItems(a, b)
		assert.Equal(t, opstack.NotSpecial, merged.SpecialKind())
	})

	t.Run("equal user-defined kinds survive", func(t *testing.T) {
		kind := opstack.DefineSpecialKind("custom-taint")
		a := opstack.NewItem("I")
		a.SetSpecialKind(kind)
		b := opstack.NewItem("I")
		b.SetSpecialKind(kind)
		merged := opstack.MergeItems(a, b)
		assert.Equal(t, kind, merged.SpecialKind())
	})
}

func TestDefineSpecialKind(t *testing.T) {
	first := opstack.DefineSpecialKind("first-kind")
	second := opstack.DefineSpecialKind("second-kind")
	require.NotEqual(t, first, second)

	name, ok := opstack.SpecialKindName(first)
	require.True(t, ok)
	assert.Equal(t, "first-kind", name)

	_, ok = opstack.SpecialKindName(opstack.SpecialKind(99999))
	assert.False(t, ok)
}

func TestConvertTo(t *testing.T) {
	t.Run("truncates to byte", func(t *testing.T) {
		it := opstack.NewConstantItem("I", int32(300))
		converted := it.ConvertTo("B")
		assert.Equal(t, int32(44), converted.Constant())
		assert.Equal(t, opstack.SignedByte, converted.SpecialKind())
	})

	t.Run("widens to long", func(t *testing.T) {
		it := opstack.NewConstantItem("I", int32(-2))
		converted := it.ConvertTo("J")
		assert.Equal(t, int64(-2), converted.Constant())
		assert.Equal(t, 2, converted.Size())
	})

	t.Run("char conversion is unsigned", func(t *testing.T) {
		it := opstack.NewConstantItem("I", int32(-1))
		converted := it.ConvertTo("C")
		assert.Equal(t, int32(0xffff), converted.Constant())
		assert.Equal(t, opstack.NonNegative, converted.SpecialKind())
	})

	t.Run("primitive target drops the member source", func(t *testing.T) {
		it := opstack.NewFieldItem("Ljava/lang/Integer;", opstack.FieldMember("a/B", "f", "Ljava/lang/Integer;"), 1)
		converted := it.ConvertTo("I")
		_, ok := converted.XField()
		assert.False(t, ok)
	})
}

func TestSignatureSeedsKinds(t *testing.T) {
	assert.Equal(t, opstack.SignedByte, opstack.NewItem("B").SpecialKind())
	assert.Equal(t, opstack.NonNegative, opstack.NewItem("C").SpecialKind())
	assert.Equal(t, opstack.NotSpecial, opstack.NewItem("I").SpecialKind())
}

func TestLowBitsClearConstants(t *testing.T) {
	assert.Equal(t, opstack.Low8BitsClear, opstack.NewConstantItem("I", int32(0x100)).SpecialKind())
	assert.Equal(t, opstack.NotSpecial, opstack.NewConstantItem("I", int32(0x101)).SpecialKind())
	zero := opstack.NewConstantItem("I", int32(0))
	assert.Equal(t, opstack.NotSpecial, zero.SpecialKind())
	assert.True(t, zero.CouldBeZero())
}

func TestNegativityPredicates(t *testing.T) {
	random := opstack.NewItem("I")
	random.SetSpecialKind(opstack.RandomInt)
	assert.True(t, random.ValueCouldBeNegative())
	assert.True(t, random.CheckForIntegerMinValue())
	assert.False(t, random.MightRarelyBeNegative())

	abs := random.CopyWithSpecialKind(opstack.MathAbsOfRandom)
	assert.True(t, abs.ValueCouldBeNegative())
	assert.False(t, abs.CheckForIntegerMinValue())
	assert.True(t, abs.MightRarelyBeNegative())

	nonNegative := opstack.NewItem("I")
	nonNegative.SetSpecialKind(opstack.NonNegative)
	assert.False(t, nonNegative.ValueCouldBeNegative())

	constant := opstack.NewConstantItem("I", int32(3))
	assert.True(t, constant.IsNonNegative())
	assert.False(t, constant.ValueCouldBeNegative())
}

func TestWideItems(t *testing.T) {
	assert.Equal(t, 2, opstack.NewItem("J").Size())
	assert.Equal(t, 2, opstack.NewItem("D").Size())
	assert.True(t, opstack.NewItem("J").IsWide())
	assert.Equal(t, 1, opstack.NewItem("I").Size())
	assert.Equal(t, 1, opstack.NewItem("Ljava/lang/Long;").Size())
}

func TestNullItems(t *testing.T) {
	null := opstack.NewNullItem()
	assert.True(t, null.IsNull())
	assert.Nil(t, null.Constant())
	assert.Equal(t, "Ljava/lang/Object;", null.Signature())

	typed := opstack.TypedNullItem("Ljava/util/Map;")
	assert.True(t, typed.IsNull())
	assert.Equal(t, "Ljava/util/Map;", typed.Signature())
}
