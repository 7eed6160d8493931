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
	"strings"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

// TaintedOutput finds servlet-request-tainted strings flowing into a
// response writer or a SQL statement without sanitisation.
type TaintedOutput struct{}

// StartMethod is stateless for this detector.
func (d *TaintedOutput) StartMethod(m *dismantle.Method) {}

var writerSinkMethods = map[string]bool{
	"print": true, "println": true, "write": true, "append": true,
}

var statementSinkMethods = map[string]bool{
	"execute": true, "executeQuery": true, "executeUpdate": true,
	"executeLargeUpdate": true, "addBatch": true,
}

// SawOpcode inspects call sites whose arguments carry request taint.
func (d *TaintedOutput) SawOpcode(s *opstack.OpcodeStack, m *dismantle.Method, report ReportFunc) {
	switch m.Opcode() {
	case dismantle.Invokevirtual, dismantle.Invokeinterface:
	default:
		return
	}
	method := m.NameConstantOperand()
	clsName := m.ClassConstantOperand()

	if s.StackDepth() < 2 {
		return
	}
	arg := s.StackItem(0)
	if !arg.IsServletParameterTainted() {
		return
	}

	if writerSinkMethods[method] {
		receiver := s.StackItem(1)
		if receiver.IsServletWriter() {
			report(Finding{
				Type:     "XSS_REQUEST_PARAMETER_TO_SERVLET_WRITER",
				Priority: HighPriority,
				PC:       m.PC(),
				Message:  taintMessage("request parameter written to servlet output", arg),
			})
		}
		return
	}

	if statementSinkMethods[method] && strings.HasPrefix(clsName, "java/sql/") {
		report(Finding{
			Type:     "SQL_NONCONSTANT_STRING_PASSED_TO_EXECUTE",
			Priority: HighPriority,
			PC:       m.PC(),
			Message:  taintMessage("request parameter passed to SQL execute", arg),
		})
	}
}

func taintMessage(prefix string, arg *opstack.Item) string {
	injection := arg.Injection()
	if injection == nil {
		return prefix
	}
	if injection.HasName {
		return fmt.Sprintf("%s (parameter %q, tainted at pc %d)", prefix, injection.ParameterName, injection.PC)
	}
	return fmt.Sprintf("%s (tainted at pc %d)", prefix, injection.PC)
}
