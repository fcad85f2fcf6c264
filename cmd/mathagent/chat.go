package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/scottdavis/mathagent/pkg/agents"
	"github.com/scottdavis/mathagent/pkg/errors"
)

const renderWidth = 100

func newChatCommand(cli *CLI) *cobra.Command {
	var (
		sessionID string
		raw       bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := cli.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			agent, err := a.NewAgent(ctx, sessionID)
			if err != nil {
				return err
			}
			return runChat(ctx, agent, !raw)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume a persisted session")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print replies without markdown rendering")
	return cmd
}

func runChat(ctx context.Context, agent *agents.MathAgent, render bool) error {
	fmt.Println(bold("mathagent"))
	fmt.Println("Type a problem and press Enter. /reset clears the history, exit quits.")
	fmt.Printf("Session ID: %s\n\n", agent.SessionID())

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       filepath.Join(homeDir, ".mathagent-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return errors.Wrap(err, errors.ConfigurationError, "failed to initialize readline")
	}
	defer rl.Close()

	for {
		input, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(input) == 0 {
				fmt.Println("\nGoodbye!")
				return nil
			}
			continue
		} else if err == io.EOF {
			fmt.Println("\nGoodbye!")
			return nil
		}

		reply, done := handleLine(ctx, agent, input, render)
		if reply != "" {
			fmt.Println(reply)
		}
		if done {
			fmt.Println("Goodbye!")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleLine runs one REPL line and returns what to print and whether to quit.
func handleLine(ctx context.Context, agent *agents.MathAgent, input string, render bool) (string, bool) {
	input = strings.TrimSpace(input)
	switch input {
	case "":
		return "", false
	case "exit", "quit", "q":
		return "", true
	case "/reset":
		if err := agent.Reset(ctx); err != nil {
			return red("Error: " + err.Error()), false
		}
		return gray("History cleared."), false
	}

	resp, err := agent.Run(ctx, input)
	if err != nil {
		return red("Error: " + err.Error()), false
	}

	var b strings.Builder
	if resp.Solution != nil {
		for _, step := range resp.Solution.Trail {
			fmt.Fprintf(&b, "%s %s %s\n", cyan("tool"), step.Tool, gray(step.Result.Formatted))
		}
	}
	text := resp.Text
	if resp.Solution != nil && resp.Solution.FinalAnswer != "" {
		text += "\n\n**Final answer:** " + resp.Solution.FinalAnswer
	}
	if render {
		b.Write(markdown.Render(text, renderWidth, 2))
	} else {
		b.WriteString(text)
	}
	if resp.Solution != nil && resp.Solution.Warning != "" {
		b.WriteString("\n" + red(resp.Solution.Warning))
	}
	return b.String(), false
}
