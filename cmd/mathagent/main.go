// Command mathagent solves math problems with a tool-augmented language model.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scottdavis/mathagent/internal/app"
	"github.com/scottdavis/mathagent/pkg/config"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// CLI holds flag values shared by every subcommand.
type CLI struct {
	configPath    string
	model         string
	decisionModel string
	logLevel      string

	// appOpts is appended when building the app, letting tests swap engines.
	appOpts []app.Option
}

// NewRootCommand creates the root cobra command.
func NewRootCommand(cli *CLI) *cobra.Command {
	root := &cobra.Command{
		Use:   "mathagent",
		Short: "Tool-augmented math problem solver",
		Long: fmt.Sprintf(`%s

Routes each input through a decision model, then solves math problems with a
generation model that can call a calculator, Wolfram|Alpha and a code runner.

%s
  mathagent solve "Calculate sin(pi/2) + cos(0)"
  mathagent chat
  mathagent serve --config mathagent.yaml
  mathagent batch problems.txt
  mathagent enqueue --wait problems.txt   # with "mathagent worker" running elsewhere`, bold("mathagent"), bold("EXAMPLES:")),
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&cli.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVarP(&cli.model, "model", "m", "", "Generation model id, e.g. ollama:qwen2-math")
	root.PersistentFlags().StringVar(&cli.decisionModel, "decision-model", "", "Decision model id, e.g. google:gemini-2.5-flash")
	root.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(newSolveCommand(cli))
	root.AddCommand(newChatCommand(cli))
	root.AddCommand(newServeCommand(cli))
	root.AddCommand(newToolsCommand(cli))
	root.AddCommand(newBatchCommand(cli))
	root.AddCommand(newEnqueueCommand(cli))
	root.AddCommand(newWorkerCommand(cli))
	return root
}

// settings loads the config file and applies flag overrides.
func (c *CLI) settings() (*config.Settings, error) {
	s, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.model != "" {
		s.Generator.Model = c.model
	}
	if c.decisionModel != "" {
		s.Decision.Model = c.decisionModel
	}
	if c.logLevel != "" {
		s.Logging.Level = c.logLevel
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *CLI) newApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	s, err := c.settings()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, s, append(opts, c.appOpts...)...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(&CLI{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}
