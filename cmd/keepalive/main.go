// Command keepalive watches a hosted service and redeploys it when its
// liveness endpoint stops answering 200.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes of the check command. Other commands only use exitOK and exitError.
const (
	exitOK                = 0
	exitProbeFailed       = 1
	exitRemediationFailed = 2
	exitError             = 3
)

// codeError carries a process exit code out of a command. A nil err means the
// command already reported its result.
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *codeError) Unwrap() error {
	return e.err
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "keepalive",
		Short:         "Probe a hosted service and redeploy it when it is down",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("KEEPALIVE_CONFIG"),
		"path to a YAML config file (env KEEPALIVE_CONFIG)")

	cmd.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newVersionCmd(),
		newConfigCmd(opts),
	)
	return cmd
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	var ce *codeError
	if errors.As(err, &ce) {
		if ce.err != nil {
			slog.Error("Command failed", "error", ce.err)
		}
		return ce.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitError
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
