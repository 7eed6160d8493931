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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/palantir/bytecode-sniffer/pkg/detect"
	"github.com/palantir/bytecode-sniffer/pkg/java"
)

func analyzeCmd() *cobra.Command {
	var className string
	cmd := cobra.Command{
		Use:   "analyze <jar-or-class>",
		Args:  cobra.ExactArgs(1),
		Short: "Run the bug-pattern detectors over a jar or class file",
		Long: `Run the bug-pattern detectors over a jar or class file.
Each method is abstractly interpreted, reconstructing the types, constant
values and provenance of every operand stack slot and local variable, and
the detectors report the suspicious patterns they recognise in that state.
Use the class-name option to restrict analysis to one class within a jar.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner := newScanner()
			var findings []detect.Finding
			var err error
			if className != "" {
				classBytes, readErr := java.ClassBytesFromJar(args[0], className)
				if readErr != nil {
					return readErr
				}
				findings, err = scanner.AnalyzeClassBytes(classBytes)
			} else {
				findings, err = scanner.AnalyzePath(args[0])
			}
			if err != nil {
				return err
			}
			for _, f := range findings {
				fmt.Printf("%s (priority %d) at %s.%s pc %d: %s\n",
					f.Type, f.Priority, f.Class, f.Method, f.PC, f.Message)
			}
			fmt.Printf("%d findings\n", len(findings))
			return nil
		},
	}
	cmd.Flags().StringVar(&className, "class-name", "", `Specify the full class name and package to analyze within the jar.
By default every class in the jar is analyzed.`)
	return &cmd
}
