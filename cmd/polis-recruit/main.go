// Package main is the entry point for the polis-recruit binary.
// It serves the recruitment pipeline over HTTP and runs it once from the shell.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/polisai/polis-recruit/pkg/config"
	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/logging"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLIConfig holds the flags shared by every subcommand.
type CLIConfig struct {
	Config   string
	LogLevel string
	Pretty   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-recruit
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-recruit",
		Short: "Recruitment pipeline orchestration engine",
		Long: `Routes a hiring request through analysis, candidate generation, screening,
outreach drafting and authorized delivery.

Examples:
  polis-recruit serve --config recruit.yaml
  polis-recruit run "Senior Go engineer, 3 profiles, apply to jobs@example.com"
  polis-recruit resume state.json`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human readable logs")

	rootCmd.AddCommand(newServeCmd(), newRunCmd(), newResumeCmd(), newVersionCmd())
	return rootCmd
}

// parseCLIConfig reads the persistent flags.
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	return &CLIConfig{Config: configPath, LogLevel: logLevel, Pretty: pretty}, nil
}

// loadEnvironment resolves configuration and the logger. Flags win over the file.
func loadEnvironment(cmd *cobra.Command, logOutput io.Writer) (*CLIConfig, *config.Config, *slog.Logger, error) {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, nil, err
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.Pretty {
		cfg.Logging.Pretty = true
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: logOutput,
	})
	slog.SetDefault(logger)
	return cli, cfg, logger, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [raw input]",
		Short: "Run the pipeline once and print the result as JSON",
		Long: `Runs the pipeline until it parks. Without --authorize a drafted message is
left awaiting approval; pass the printed state to "resume" to send it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, logger, err := loadEnvironment(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			raw := strings.Join(args, " ")
			if raw == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read raw input: %w", err)
				}
				raw = string(data)
			}
			candidates, _ := cmd.Flags().GetStringArray("candidate")
			target, _ := cmd.Flags().GetString("to")
			authorize, _ := cmd.Flags().GetBool("authorize")

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.Start(ctx, engine.StartRequest{
				RawInput:       raw,
				CandidateItems: candidates,
				TargetAddress:  target,
			})
			if err == nil && authorize && domain.AwaitingApproval(result.State) {
				result, err = a.service.Resume(ctx, result.State)
			}
			return printResult(cmd.OutOrStdout(), result, err)
		},
	}
	cmd.Flags().StringArray("candidate", nil, "Candidate profile to screen instead of generating (repeatable)")
	cmd.Flags().String("to", "", "Recipient address for the outreach message")
	cmd.Flags().Bool("authorize", false, "Send the drafted message without a separate resume")
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <state.json>",
		Short: "Authorize and resume a parked run from its JSON state",
		Long:  `Reads a state (or a full run result) written by "run" and resumes it. A drafted message is authorized for transmission; a run stopped before drafting continues and parks again. Use "-" for stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, logger, err := loadEnvironment(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			state, err := readState(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.Resume(ctx, state)
			return printResult(cmd.OutOrStdout(), result, err)
		},
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "polis-recruit %s\n", version)
		},
	}
}

// readState accepts either a bare state or a run result wrapping one.
func readState(stdin io.Reader, path string) (domain.State, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		//nolint:gosec // path is supplied by the operator
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return domain.State{}, fmt.Errorf("read state: %w", err)
	}

	var wrapped struct {
		State *domain.State `json:"state"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.State != nil {
		return *wrapped.State, nil
	}
	var state domain.State
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.State{}, fmt.Errorf("parse state: %w", err)
	}
	return state, nil
}

type cliResult struct {
	RunID   string         `json:"run_id"`
	Status  string         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Steps   int            `json:"steps"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Summary domain.Summary `json:"summary"`
	State   domain.State   `json:"state"`
}

// printResult writes the result as JSON. A run error is printed with the state
// and then returned so the exit code reflects it.
func printResult(w io.Writer, result domain.RunResult, runErr error) error {
	out := cliResult{
		RunID:   result.State.RunID,
		Status:  string(result.Status),
		Reason:  result.Reason,
		Steps:   result.Steps,
		Summary: domain.Summarize(result.State),
		State:   result.State,
	}
	if runErr != nil {
		out.Error = runErr.Error()
		out.Code = engine.ErrorCode(runErr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return runErr
}
