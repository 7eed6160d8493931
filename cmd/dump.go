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

	"github.com/palantir/bytecode-sniffer/pkg/dismantle"
	"github.com/palantir/bytecode-sniffer/pkg/java"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
)

func dumpCmd() *cobra.Command {
	var className string
	var methodName string
	cmd := cobra.Command{
		Use:   "dump <jar>",
		Args:  cobra.ExactArgs(1),
		Short: "Print the abstract stack and locals at each instruction of a class's methods",
		Long: `Print the abstract stack and locals at each instruction of a class's methods,
along with hashes identifying the class file within the JAR.
The entire class is hashed to allow for matching against the exact version;
the bytecode opcodes making up the methods are hashed for matching versions
with modifications.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			classBytes, err := java.ClassBytesFromJar(args[0], className)
			if err != nil {
				return err
			}
			hashes, err := java.HashClassBytes(classBytes)
			if err != nil {
				return err
			}
			fmt.Printf("Size of class: %d\n", hashes.ClassSize)
			fmt.Printf("Hash of complete class: %s\n", hashes.CompleteHash)
			fmt.Printf("Hash of all bytecode instructions: %s\n", hashes.BytecodeInstructionHash)

			class, err := java.ParseClass(classBytes)
			if err != nil {
				return err
			}
			ctx := analysisContext()
			methods, failed := class.Methods()
			for signature, err := range failed {
				ctx.Log.Error("cannot decode %s: %v", signature, err)
			}
			for _, m := range methods {
				if methodName != "" && m.MethodName() != methodName {
					continue
				}
				fmt.Printf("\n%s\n", m.FullyQualifiedMethodName())
				opstack.Analyze(ctx, m, func(s *opstack.OpcodeStack, dbc *dismantle.Method) {
					fmt.Printf("%4d: %-14s %s\n", dbc.PC(), dismantle.OpcodeName(dbc.Opcode()), s)
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&className, "class-name", "", "Specify the full class name and package to dump within the jar.")
	cmd.Flags().StringVar(&methodName, "method", "", "Restrict the dump to methods with this simple name.")
	_ = cmd.MarkFlagRequired("class-name")
	return &cmd
}
