// Copyright 2025 The Accelink Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/accelink/accelink/pkg/tracer"
	"github.com/accelink/accelink/pkg/tracer/compiler"
	"github.com/accelink/accelink/pkg/tracer/graph"
	"github.com/accelink/accelink/pkg/tracer/optimizer"
)

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "accelink",
		Short: "Graph compilation bridge for the accel-cc accelerator compiler",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05.123",
			})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "yaml config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(listOperatorsCmd(), compileCmd(), dumpCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func listOperatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-operators",
		Short: "Print the operator types the compiler accepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := tracer.LoadOptions(configPath)
			if err != nil {
				return err
			}
			catalog := compiler.NewCatalog(opts.CompilerBinary, opts.Framework)
			var ops []string
			for op := range catalog.SupportedOperators() {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				fmt.Fprintln(cmd.OutOrStdout(), op)
			}
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "compile <graph-file>",
		Short: "Compile a serialized graph and write the fused result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := tracer.LoadOptions(configPath)
			if err != nil {
				return err
			}
			g, err := readGraph(args[0])
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(opts)
			if err != nil {
				return err
			}
			compiled, report, err := pipeline.Run(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			logrus.Infof("compiled %d of %d subgraphs, %d restored", report.Compiled, report.Segments, report.Restored)
			raw, err := graph.Marshal(compiled)
			if err != nil {
				return err
			}
			return os.WriteFile(outputPath, raw, 0o644)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "graph.out.pb", "output graph file")
	return cmd
}

func dumpCmd() *cobra.Command {
	var showPlan bool
	cmd := &cobra.Command{
		Use:   "dump <graph-file>",
		Short: "Dump a serialized graph as graphviz or as its execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readGraph(args[0])
			if err != nil {
				return err
			}
			if showPlan {
				_, plan, err := optimizer.AssignExecutionPlan(g)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), plan.DumpString())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), g.DumpGraphviz())
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPlan, "plan", false, "print the execution plan instead of graphviz")
	return cmd
}

func readGraph(path string) (*graph.Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return graph.Unmarshal(raw)
}

func newPipeline(opts *tracer.Options) (*optimizer.Pipeline, error) {
	extraFlags, err := compiler.ParseFlags(opts.ExtraCompilerFlags)
	if err != nil {
		return nil, err
	}
	return &optimizer.Pipeline{
		Catalog: compiler.NewCatalog(opts.CompilerBinary, opts.Framework),
		CompileOpts: compiler.Options{
			Binary:     opts.CompilerBinary,
			Framework:  opts.Framework,
			DumpRoot:   opts.DumpDir,
			ExtraFlags: extraFlags,
			Timeout:    opts.CompileTimeout,
			Verbosity:  opts.Verbosity,
		},
		SelectOpts: optimizer.SelectOptions{
			NoFuseOps:                opts.NoFuseOps,
			FuseFoldableNodes:        opts.FuseFoldableNodes,
			MinimumSegmentSize:       opts.MinimumSegmentSize,
			PruneSmallSubgraphsRatio: opts.PruneSmallSubgraphsRatio,
		},
		Workers:          opts.Workers,
		MaxConstantBytes: opts.MaxConstantBytes,
	}, nil
}
