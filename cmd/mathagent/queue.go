package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/jobs"
)

func newEnqueueCommand(cli *CLI) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue <file>",
		Short: "Queue one problem per line for workers and print the batch id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problems, err := readProblems(args[0])
			if err != nil {
				return err
			}
			s, err := cli.settings()
			if err != nil {
				return err
			}
			queue, err := s.OpenQueue()
			if err != nil {
				return err
			}
			defer queue.Close()

			ctx := cmd.Context()
			batch, err := jobs.Enqueue(ctx, queue, problems, s.Queue.Retry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), gray(fmt.Sprintf("queued %d problems", len(problems))))
			fmt.Fprintln(cmd.OutOrStdout(), batch)
			if !wait {
				return nil
			}

			collector, ok := queue.(*jobs.RedisQueue)
			if !ok {
				return errors.New(errors.ConfigurationError, "--wait needs the redis queue backend")
			}
			results, err := collector.Collect(ctx, batch, len(problems), timeout)
			sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range results {
				if encErr := enc.Encode(r); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the results and print them as JSON lines")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "How long --wait blocks")
	return cmd
}

func newWorkerCommand(cli *CLI) *cobra.Command {
	var (
		concurrency int
		drain       bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Solve queued problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := cli.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			queue, err := a.Settings.OpenQueue()
			if err != nil {
				return err
			}
			defer queue.Close()

			// Redis keeps results for the enqueuing process; otherwise print them.
			sink, ok := queue.(jobs.ResultSink)
			if !ok {
				sink = jsonLineSink(cmd)
			}
			if concurrency <= 0 {
				concurrency = a.Settings.Concurrency
			}

			worker, err := jobs.NewWorker(jobs.WorkerConfig{
				Queue:       queue,
				Sink:        sink,
				Factory:     a.Factory(ctx),
				Concurrency: concurrency,
				Drain:       drain,
				Logger:      a.Logger,
			})
			if err != nil {
				return err
			}
			return worker.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Jobs solved in parallel (default from config)")
	cmd.Flags().BoolVar(&drain, "drain", false, "Exit once the queue is empty")
	return cmd
}

func jsonLineSink(cmd *cobra.Command) jobs.ResultSink {
	var mu sync.Mutex
	enc := json.NewEncoder(cmd.OutOrStdout())
	return jobs.SinkFunc(func(_ context.Context, r jobs.Result) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(r)
	})
}
