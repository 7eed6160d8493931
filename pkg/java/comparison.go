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
	"sort"
	"strings"

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

// MethodProfile summarises one method body for cross-version matching.
// The trace couples each mnemonic with the abstract type the interpreter
// leaves on top of the operand stack after it, so two methods match only
// when they compute the same shapes, regardless of constant-pool layout
// or renamed members.
type MethodProfile struct {
	Name       string
	Descriptor string
	Trace      []string
}

// traceKey is the whole trace as one comparable string.
func (p MethodProfile) traceKey() string {
	return strings.Join(p.Trace, "\n")
}

// ProfileClass abstractly interprets every method of a class and returns
// its method profiles.
func ProfileClass(ctx *opstack.AnalysisContext, classBytes []byte) ([]MethodProfile, error) {
	class, err := ParseClass(classBytes)
	if err != nil {
		return nil, err
	}
	methods, _ := class.Methods()
	profiles := make([]MethodProfile, 0, len(methods))
	for _, m := range methods {
		profile := MethodProfile{Name: m.MethodName(), Descriptor: m.Descriptor()}
		opstack.Analyze(ctx, m, func(s *opstack.OpcodeStack, dbc *dismantle.Method) {
			entry := dismantle.OpcodeName(dbc.Opcode())
			if !s.IsTop() && s.StackDepth() > 0 {
				entry += ">" + s.StackItem(0).Signature()
			}
			profile.Trace = append(profile.Trace, entry)
		})
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// MethodMatch pairs a method of the first class with its counterpart in
// the second. Similarity is 1 for an identical trace, otherwise the
// shared fraction of trace entries.
type MethodMatch struct {
	First      MethodProfile
	Second     MethodProfile
	Similarity float64
}

// ClassComparison is the result of matching the methods of two versions
// of a class.
type ClassComparison struct {
	// Identical traces, regardless of method name.
	ExactMatches []MethodMatch
	// Same computation shape at or above the similarity threshold, e.g. a
	// renamed or lightly edited method.
	ModifiedMatches []MethodMatch
	FirstUnmatched  []MethodProfile
	SecondUnmatched []MethodProfile
}

// modifiedMatchThreshold is the minimum shared-entry fraction for two
// non-identical methods to be reported as versions of each other.
const modifiedMatchThreshold = 0.75

// CompareClasses matches the methods of two versions of the same class,
// e.g. before and after shading or obfuscation. Both classes are
// abstractly interpreted first; matching runs on the resulting profiles,
// so member renames and constant-pool renumbering do not defeat it.
func CompareClasses(ctx *opstack.AnalysisContext, firstClass, secondClass []byte) (ClassComparison, error) {
	first, err := ProfileClass(ctx, firstClass)
	if err != nil {
		return ClassComparison{}, err
	}
	second, err := ProfileClass(ctx, secondClass)
	if err != nil {
		return ClassComparison{}, err
	}
	return CompareProfiles(first, second), nil
}

// CompareProfiles matches two profile sets: identical traces pair up
// first, then the leftovers pair greedily by descending trace similarity
// until no pair reaches the threshold.
func CompareProfiles(first, second []MethodProfile) ClassComparison {
	comparison := ClassComparison{}

	secondByTrace := map[string][]int{}
	for j, p := range second {
		secondByTrace[p.traceKey()] = append(secondByTrace[p.traceKey()], j)
	}
	takenSecond := make([]bool, len(second))
	var firstRemaining []MethodProfile
	for _, p := range first {
		matched := false
		for _, j := range secondByTrace[p.traceKey()] {
			if takenSecond[j] {
				continue
			}
			takenSecond[j] = true
			matched = true
			comparison.ExactMatches = append(comparison.ExactMatches, MethodMatch{
				First:      p,
				Second:     second[j],
				Similarity: 1,
			})
			break
		}
		if !matched {
			firstRemaining = append(firstRemaining, p)
		}
	}

	type candidate struct {
		firstIdx   int
		secondIdx  int
		similarity float64
	}
	var candidates []candidate
	for i, p := range firstRemaining {
		for j, q := range second {
			if takenSecond[j] {
				continue
			}
			if similarity := traceSimilarity(p.Trace, q.Trace); similarity >= modifiedMatchThreshold {
				candidates = append(candidates, candidate{firstIdx: i, secondIdx: j, similarity: similarity})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})

	takenFirst := make([]bool, len(firstRemaining))
	for _, c := range candidates {
		if takenFirst[c.firstIdx] || takenSecond[c.secondIdx] {
			continue
		}
		takenFirst[c.firstIdx] = true
		takenSecond[c.secondIdx] = true
		comparison.ModifiedMatches = append(comparison.ModifiedMatches, MethodMatch{
			First:      firstRemaining[c.firstIdx],
			Second:     second[c.secondIdx],
			Similarity: c.similarity,
		})
	}

	for i, p := range firstRemaining {
		if !takenFirst[i] {
			comparison.FirstUnmatched = append(comparison.FirstUnmatched, p)
		}
	}
	for j, q := range second {
		if !takenSecond[j] {
			comparison.SecondUnmatched = append(comparison.SecondUnmatched, q)
		}
	}
	return comparison
}

// traceSimilarity is the multiset overlap of two traces: twice the number
// of shared entries over the total entry count. Two empty traces count as
// identical.
func traceSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := map[string]int{}
	for _, entry := range a {
		counts[entry]++
	}
	shared := 0
	for _, entry := range b {
		if counts[entry] > 0 {
			counts[entry]--
			shared++
		}
	}
	return float64(2*shared) / float64(len(a)+len(b))
}
