package cli

import (
	"fmt"
	"time"

	"github.com/qaenablers/qautils/pkg/commandline"
	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/spf13/cobra"
)

// ExitCodeError reports a command that ran but did not succeed.
type ExitCodeError struct {
	Code     int
	TimedOut bool
}

func (e *ExitCodeError) Error() string {
	if e.TimedOut {
		return "command timed out"
	}
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// ExecCmd runs a local command and prints its combined output.
func ExecCmd() *cobra.Command {
	var (
		timeout time.Duration
		noShell bool
		dir     string
		env     map[string]string
	)
	cmd := &cobra.Command{
		Use:   "exec -- <command>",
		Short: "Run a command and print its output",
		Long: `Run a command and print its combined stdout and stderr.
A single argument is run through /bin/sh; several arguments, or --no-shell,
run the program directly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runner := commandline.NewRunner(
				commandline.WithTimeout(timeout),
				commandline.WithDir(dir),
				commandline.WithEnv(env),
			)
			var (
				res commandline.Result
				err error
			)
			switch {
			case len(args) > 1:
				res, err = runner.RunArgs(ctx, args...)
			case noShell:
				var argv []string
				argv, err = commandline.Split(args[0])
				if err != nil {
					return err
				}
				res, err = runner.RunArgs(ctx, argv...)
			default:
				res, err = runner.Run(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if _, err := fmt.Fprint(cmd.OutOrStdout(), res.Output); err != nil {
				return err
			}
			logger.FromContext(ctx).Debug("Command finished",
				"exit_code", res.ExitCode, "duration", res.Duration, "truncated", res.Truncated)
			if !res.Success() {
				return &ExitCodeError{Code: res.ExitCode, TimedOut: res.TimedOut}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the command after this duration (0 waits forever)")
	cmd.Flags().BoolVar(&noShell, "no-shell", false, "Split the command with shell quoting rules and run it directly")
	cmd.Flags().StringVar(&dir, "dir", "", "Working directory of the command")
	cmd.Flags().StringToStringVar(&env, "env", nil, "Extra environment variables (KEY=VALUE)")
	return cmd
}
