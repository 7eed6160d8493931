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
	"regexp"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/ratelimit"

	"github.com/palantir/bytecode-sniffer/pkg/detect"
	"github.com/palantir/bytecode-sniffer/pkg/scan"
)

func crawlCmd() *cobra.Command {
	var ignoreDirs []string
	var filesPerSecond int
	cmd := cobra.Command{
		Use:   "crawl <root>",
		Args:  cobra.ExactArgs(1),
		Short: "Crawl a directory tree, analyzing every jar and class file found",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ignores []*regexp.Regexp
			for _, pattern := range ignoreDirs {
				compiled, err := regexp.Compile(pattern)
				if err != nil {
					return errors.Wrapf(err, "invalid ignore-dir pattern %s", pattern)
				}
				ignores = append(ignores, compiled)
			}
			limiter := ratelimit.NewUnlimited()
			if filesPerSecond > 0 {
				limiter = ratelimit.New(filesPerSecond)
			}
			crawler := scan.Crawler{
				Limiter:    limiter,
				Log:        defaultLogger(),
				IgnoreDirs: ignores,
			}
			scanner := newScanner()
			total := 0
			stats, err := scanner.ScanRoot(cmd.Context(), crawler, args[0], func(path string, findings []detect.Finding) {
				for _, f := range findings {
					fmt.Printf("%s: %s (priority %d) at %s.%s pc %d: %s\n",
						path, f.Type, f.Priority, f.Class, f.Method, f.PC, f.Message)
				}
				total += len(findings)
			})
			if err != nil {
				return err
			}
			fmt.Printf("Files visited: %d\n", stats.FilesVisited)
			fmt.Printf("Directories pruned: %d\n", stats.DirsPruned)
			fmt.Printf("Permission denied: %d\n", stats.PermissionDenied)
			fmt.Printf("Errors: %d\n", stats.VisitErrors)
			fmt.Printf("Findings: %d\n", total)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ignoreDirs, "ignore-dir", nil, `Specify directory pattern to ignore. Use multiple times to supply multiple patterns.
Patterns are matched against the full path of each directory, which starts with the provided root.
e.g. ignore "^/proc" to ignore "/proc" when using a crawl root of "/"`)
	cmd.Flags().IntVar(&filesPerSecond, "files-per-second", 0, `Limit the crawl to analyzing this many files per second. 0 means unlimited.`)
	return &cmd
}
