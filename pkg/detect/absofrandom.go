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

package detect

import (
	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

// AbsOfRandom finds arithmetic on Math.abs of a random or hash-code int.
// Math.abs(Integer.MIN_VALUE) is negative, so code like
// Math.abs(r.nextInt()) % n can still produce a negative index unless the
// value was compared against MIN_VALUE first; the interpreter erases the
// label when it sees that guard.
type AbsOfRandom struct{}

// StartMethod is stateless for this detector.
func (d *AbsOfRandom) StartMethod(m *dismantle.Method) {}

// SawOpcode reports remainder or array indexing on a might-rarely-be-
// negative value.
func (d *AbsOfRandom) SawOpcode(s *opstack.OpcodeStack, m *dismantle.Method, report ReportFunc) {
	switch m.Opcode() {
	case dismantle.Irem:
		if s.StackDepth() < 2 {
			return
		}
		lhs := s.StackItem(1)
		switch lhs.SpecialKind() {
		case opstack.MathAbsOfRandom:
			report(Finding{
				Type:     "RV_ABSOLUTE_VALUE_OF_RANDOM_INT",
				Priority: HighPriority,
				PC:       m.PC(),
				Message:  "remainder of Math.abs(Random.nextInt()) can be negative for Integer.MIN_VALUE",
			})
		case opstack.MathAbsOfHashcode:
			report(Finding{
				Type:     "RV_ABSOLUTE_VALUE_OF_HASHCODE",
				Priority: HighPriority,
				PC:       m.PC(),
				Message:  "remainder of Math.abs(hashCode()) can be negative for Integer.MIN_VALUE",
			})
		}

	case dismantle.Iaload, dismantle.Aaload, dismantle.Baload,
		dismantle.Caload, dismantle.Saload, dismantle.Laload,
		dismantle.Faload, dismantle.Daload:
		if s.StackDepth() < 2 {
			return
		}
		index := s.StackItem(0)
		if index.MightRarelyBeNegative() {
			report(Finding{
				Type:     "RV_ABSOLUTE_VALUE_OF_RANDOM_INT",
				Priority: NormalPriority,
				PC:       m.PC(),
				Message:  "array indexed by Math.abs of a possibly-MIN_VALUE int",
			})
		}
	}
}
