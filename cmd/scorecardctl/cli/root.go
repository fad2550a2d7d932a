// Package cli implements the scorecardctl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/scorecard/internal/app"
)

const dateLayout = "2006-01-02"

// Options injects IO, the clock and the queue backend.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Now    func() time.Time
	// Jobs opens the queue backend; defaults to Asynq at REDIS_ADDR.
	Jobs func() (JobsBackend, error)
}

func (o Options) withDefaults() Options {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Jobs == nil {
		o.Jobs = func() (JobsBackend, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			return NewJobsCLI(cfg.RedisAddr)
		}
	}
	return o
}

// NewRootCommand builds the scorecardctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	opts = opts.withDefaults()
	root := &cobra.Command{
		Use:           "scorecardctl",
		Short:         "Operator tooling for scorecard evaluation periods",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.AddCommand(
		newWindowCommand(opts),
		newAutoFreezeCommand(opts),
		newQueueCommand(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, opts Options) int {
	return run(ctx, NewRootCommand(opts), os.Args[1:])
}

func run(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(root.ErrOrStderr(), "scorecardctl: %v\n", err)
		return 1
	}
	return 0
}

func withJobs(opts Options, fn func(JobsBackend) error) error {
	backend, err := opts.Jobs()
	if err != nil {
		return err
	}
	defer func() {
		_ = backend.Close()
	}()
	return fn(backend)
}
