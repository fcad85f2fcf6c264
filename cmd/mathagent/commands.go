package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scottdavis/mathagent/internal/app"
	"github.com/scottdavis/mathagent/pkg/agents"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/modules"
	"github.com/scottdavis/mathagent/pkg/server"
)

func newSolveCommand(cli *CLI) *cobra.Command {
	var (
		noTools bool
		prompt  string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "solve <problem>",
		Short: "Solve one problem without routing or history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := cli.newApp(ctx, app.WithoutRouter())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []modules.SolveOption{modules.WithTools(!noTools)}
			if prompt != "" {
				opts = append(opts, modules.WithPrompt(prompt))
			}
			solution, err := a.Solver.Solve(ctx, strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(solution)
			}
			printSolution(out, solution)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noTools, "no-tools", false, "Disable tool calls")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "System prompt name (default, with_tools, step_by_step, concise) or literal text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full solution as JSON")
	return cmd
}

func printSolution(out io.Writer, solution *modules.Solution) {
	for _, step := range solution.Trail {
		status := green("ok")
		text := step.Result.Formatted
		if !step.Result.Success {
			status = red("failed")
			text = step.Result.Error
		}
		fmt.Fprintf(out, "%s %s [%s] %s\n", cyan("tool"), step.Tool, status, gray(text))
	}
	fmt.Fprintln(out, solution.Answer)
	if solution.FinalAnswer != "" {
		fmt.Fprintf(out, "\n%s %s\n", bold("Final answer:"), solution.FinalAnswer)
	}
	if solution.Warning != "" {
		fmt.Fprintf(out, "%s\n", red(solution.Warning))
	}
}

func newToolsCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the enabled tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := cli.newApp(cmd.Context(), app.WithoutRouter())
			if err != nil {
				return err
			}
			defer a.Close()

			descriptions := a.Registry.List()
			for _, name := range a.Registry.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n", bold(name), descriptions[name])
			}
			return nil
		},
	}
}

func newServeCommand(cli *CLI) *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := cli.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := server.Config{
				Addr:        a.Settings.Server.Addr,
				MaxSessions: a.Settings.Server.MaxSessions,
				CORSOrigins: a.Settings.Server.CORSOrigins,
				Debug:       debug,
			}
			if addr != "" {
				cfg.Addr = addr
			}
			srv, err := server.New(cfg, a.Registry, a.NewAgent, server.WithLogger(a.Logger))
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode and request logging")
	return cmd
}

type batchRecord struct {
	Index    int    `json:"index"`
	Input    string `json:"input"`
	Type     string `json:"type,omitempty"`
	Response string `json:"response,omitempty"`
	Answer   string `json:"final_answer,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newBatchCommand(cli *CLI) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Solve one problem per line, each in its own session, printing JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readProblems(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := cli.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if concurrency <= 0 {
				concurrency = a.Settings.Concurrency
			}
			results := agents.SolveBatch(ctx, a.Factory(ctx), inputs, concurrency)

			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, r := range results {
				rec := batchRecord{Index: r.Index, Input: r.Input}
				if r.Err != nil {
					failed++
					rec.Error = r.Err.Error()
				} else {
					rec.Type = string(r.Response.Decision.Type)
					rec.Response = r.Response.Text
					if r.Response.Solution != nil {
						rec.Answer = r.Response.Solution.FinalAnswer
					}
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			if failed > 0 {
				return errors.Errorf(errors.Unknown, "%d of %d problems failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Problems solved in parallel (default from config)")
	return cmd
}

// readProblems returns the non-blank lines of path.
func readProblems(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to open problem file"),
			errors.Fields{"path": path},
		)
	}
	defer f.Close()

	var problems []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			problems = append(problems, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to read problem file")
	}
	return problems, nil
}
