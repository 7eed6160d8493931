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
	"github.com/palantir/pkg/cobracli"
	"github.com/spf13/cobra"

	"github.com/palantir/bytecode-sniffer/pkg/java"
	"github.com/palantir/bytecode-sniffer/pkg/log"
	"github.com/palantir/bytecode-sniffer/pkg/opstack"
	"github.com/palantir/bytecode-sniffer/pkg/scan"
)

var (
	Version            = "unspecified"
	enableTraceLogging bool
	useDirectIO        bool
	singlePass         bool
)

func Execute() int {
	rootCmd := &cobra.Command{
		Use:   "bytecode-sniffer",
		Short: "Abstract interpreter and bug-pattern scanner for JVM bytecode",
	}
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(crawlCmd())
	rootCmd.PersistentFlags().BoolVar(&enableTraceLogging, "trace", false, `If true, trace logging including per-opcode abstract state is enabled.`)
	rootCmd.PersistentFlags().BoolVar(&useDirectIO, "direct-io", false, `If true, files are opened with direct i/o, skipping the filesystem cache.
Useful when scanning large trees that should not evict hot data.`)
	rootCmd.PersistentFlags().BoolVar(&singlePass, "single-pass", false, `If true, methods are scanned once instead of iterating the abstract
interpretation to a fixed point. The branch-snapshot cache starts empty, so no
cached snapshots are applied.`)
	return cobracli.ExecuteWithDefaultParams(rootCmd, cobracli.VersionFlagParam(Version))
}

func defaultLogger() log.Logger {
	return log.Default(enableTraceLogging)
}

func analysisContext() *opstack.AnalysisContext {
	ctx := opstack.NewAnalysisContext()
	ctx.Log = defaultLogger()
	ctx.IterativeAnalysis = !singlePass
	ctx.Debug = ctx.Debug || enableTraceLogging
	ctx.JumpInfoCache = opstack.NewInMemoryJumpInfoCache()
	return ctx
}

func openMode() java.FileOpenMode {
	if useDirectIO {
		return java.DirectIOOpen
	}
	return java.StandardOpen
}

func newScanner() scan.Scanner {
	return scan.Scanner{
		Logger:          defaultLogger(),
		AnalysisContext: analysisContext(),
		OpenMode:        openMode(),
	}
}
