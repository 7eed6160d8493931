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
	"github.com/palantir/bytecode-sniffer/pkg/java"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

// Priorities follow the usual convention: lower is more severe.
const (
	HighPriority   = 1
	NormalPriority = 2
	LowPriority    = 3
)

// Finding is one reported bug pattern occurrence.
type Finding struct {
	Type     string
	Priority int
	Class    string
	Method   string
	PC       int
	Message  string
}

// ReportFunc receives findings as detectors produce them.
type ReportFunc func(Finding)

// Detector recognises one bug pattern over the abstract interpreter's
// state. SawOpcode runs before the state transition for the instruction,
// so the operand stack still holds the instruction's inputs.
type Detector interface {
	StartMethod(m *dismantle.Method)
	SawOpcode(s *opstack.OpcodeStack, m *dismantle.Method, report ReportFunc)
}

// RunMethod drives the detectors over one method: the interpreter is
// brought to a fixed point, then a final scan invokes every detector at
// each instruction with read-only access to the state.
func RunMethod(ctx *opstack.AnalysisContext, m *dismantle.Method, detectors []Detector) []Finding {
	if ctx == nil {
		ctx = opstack.NewAnalysisContext()
	}
	var findings []Finding
	report := func(f Finding) {
		if f.Class == "" {
			f.Class = m.ClassName()
		}
		if f.Method == "" {
			f.Method = m.MethodName() + m.Descriptor()
		}
		findings = append(findings, f)
	}

	var info *opstack.JumpInfo
	if ctx.IterativeAnalysis {
		info = opstack.ComputeJumpInfo(ctx, m)
	}
	s := opstack.NewOpcodeStack(ctx)
	s.ResetForMethodEntry(m)
	s.LearnFrom(info)

	for _, d := range detectors {
		d.StartMethod(m)
	}
	m.Reset()
	for m.Next() {
		s.Precomputation(m)
		for _, d := range detectors {
			d.SawOpcode(s, m, report)
		}
		s.SawOpcode(m, m.Opcode())
	}
	return findings
}

// RunClass drives the detectors over every method of a class.
func RunClass(ctx *opstack.AnalysisContext, class *java.Class, detectors []Detector) []Finding {
	var findings []Finding
	methods, failed := class.Methods()
	if ctx != nil {
		for method, err := range failed {
			ctx.Log.Trace("skipping undecodable method %s: %v", method, err)
		}
	}
	for _, m := range methods {
		findings = append(findings, RunMethod(ctx, m, detectors)...)
	}
	return findings
}

// Standard is the default detector set.
func Standard() []Detector {
	return []Detector{
		&UnnecessaryMath{},
		&AbsOfRandom{},
		&TaintedOutput{},
	}
}
