// Command importctl runs the import engine's matching steps offline against a
// local file: spec parsing, column mapping suggestions and entity grouping.
// Nothing is persisted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kamal2602/thinkhub-sub001/internal/logging"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type codedError struct {
	code int
	err  error
}

func (e codedError) Error() string { return e.err.Error() }
func (e codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return codedError{code: code, err: err}
}

type rootOptions struct {
	logLevel  string
	logFormat string
	output    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Inspect supplier spreadsheets the way the import engine sees them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "json" && opts.output != "text" {
				return withCode(exitUsage, fmt.Errorf("unsupported --output: %s", opts.output))
			}
			// Results go to stdout, so logs go to stderr.
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")

	cmd.AddCommand(newParseSpecCmd(opts), newSuggestCmd(opts), newAnalyzeCmd(opts))
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := exitOK
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		code = exitError
		var ce codedError
		if errors.As(err, &ce) {
			code = ce.code
		}
	}
	stop()
	os.Exit(code)
}
