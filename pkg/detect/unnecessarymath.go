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
	"fmt"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

const (
	seenNothing = iota
	seenConstant
)

var zeroArgMathMethods = map[string]bool{
	"acos": true, "asin": true, "atan": true, "atan2": true, "cbrt": true,
	"cos": true, "cosh": true, "exp": true, "expm1": true, "log": true,
	"log10": true, "pow": true, "sin": true, "sinh": true, "sqrt": true,
	"tan": true, "tanh": true, "toDegrees": true, "toRadians": true,
}

var oneArgMathMethods = map[string]bool{
	"acos": true, "asin": true, "atan": true, "cbrt": true, "exp": true,
	"log": true, "log10": true, "pow": true, "sqrt": true, "toDegrees": true,
}

var anyArgMathMethods = map[string]bool{
	"abs": true, "ceil": true, "floor": true, "rint": true, "round": true,
}

// UnnecessaryMath finds calls of pure Math methods on constants, where the
// result of the calculation can be determined statically. Replacing the
// formula with the constant performs better, and sometimes is more
// accurate.
type UnnecessaryMath struct {
	state      int
	constValue float64
}

// StartMethod resets the recogniser for a new method.
func (d *UnnecessaryMath) StartMethod(m *dismantle.Method) {
	d.state = seenNothing
}

// SawOpcode advances the constant-then-Math-call recogniser.
func (d *UnnecessaryMath) SawOpcode(s *opstack.OpcodeStack, m *dismantle.Method, report ReportFunc) {
	// constants in class initializers may be spelled as math for
	// readability
	if m.MethodName() == "<clinit>" {
		return
	}
	seen := m.Opcode()
	switch d.state {
	case seenNothing:
		switch seen {
		case dismantle.Dconst0, dismantle.Dconst1:
			d.constValue = float64(seen - dismantle.Dconst0)
			d.state = seenConstant
		case dismantle.LdcW, dismantle.Ldc2W:
			switch c := m.ConstantValue().(type) {
			case float64:
				d.constValue = c
				d.state = seenConstant
			case float32:
				d.constValue = float64(c)
				d.state = seenConstant
			case int64:
				d.constValue = float64(c)
				d.state = seenConstant
			}
		}
	case seenConstant:
		if seen == dismantle.Invokestatic && m.DottedClassConstantOperand() == "java.lang.Math" {
			methodName := m.NameConstantOperand()
			if d.constValue == 0.0 && zeroArgMathMethods[methodName] ||
				d.constValue == 1.0 && oneArgMathMethods[methodName] ||
				anyArgMathMethods[methodName] {
				report(Finding{
					Type:     "UM_UNNECESSARY_MATH",
					Priority: LowPriority,
					PC:       m.PC(),
					Message:  fmt.Sprintf("Math.%s called on the constant %v", methodName, d.constValue),
				})
			}
		}
		d.state = seenNothing
	}
}
