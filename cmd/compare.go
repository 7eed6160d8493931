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

	"github.com/palantir/bytecode-sniffer/pkg/java"
)

func compareCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "compare <first-jar> <first-class> <second-jar> <second-class>",
		Args:  cobra.ExactArgs(4),
		Short: "Match the methods of two versions of a class by their abstract behaviour",
		Long: `Match the methods of two versions of a class, e.g. before and after
shading or obfuscation. Both versions are abstractly interpreted and
methods pair up by the types their instructions compute, so renamed
members and reshuffled constant pools do not defeat the match.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			first, err := java.ClassBytesFromJar(args[0], args[1])
			if err != nil {
				return err
			}
			second, err := java.ClassBytesFromJar(args[2], args[3])
			if err != nil {
				return err
			}
			comparison, err := java.CompareClasses(analysisContext(), first, second)
			if err != nil {
				return err
			}
			for _, match := range comparison.ExactMatches {
				fmt.Printf("identical: %s%s == %s%s\n",
					match.First.Name, match.First.Descriptor,
					match.Second.Name, match.Second.Descriptor)
			}
			for _, match := range comparison.ModifiedMatches {
				fmt.Printf("modified (%.0f%%): %s%s ~ %s%s\n",
					match.Similarity*100,
					match.First.Name, match.First.Descriptor,
					match.Second.Name, match.Second.Descriptor)
			}
			for _, profile := range comparison.FirstUnmatched {
				fmt.Printf("only in first: %s%s\n", profile.Name, profile.Descriptor)
			}
			for _, profile := range comparison.SecondUnmatched {
				fmt.Printf("only in second: %s%s\n", profile.Name, profile.Descriptor)
			}
			fmt.Printf("%d identical, %d modified, %d+%d unmatched\n",
				len(comparison.ExactMatches), len(comparison.ModifiedMatches),
				len(comparison.FirstUnmatched), len(comparison.SecondUnmatched))
			return nil
		},
	}
	return &cmd
}
