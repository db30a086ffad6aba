package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/frontend"
	"github.com/fansqz/trace-debugger/metrics"
	"github.com/fansqz/trace-debugger/output"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <location>",
	Short: "Show a previously persisted trace",
	Long: `Loads a trace written by "tracer trace --output-trace", either a file path or redis://<key>.
With --list, prints the stored trace locations of the configured output instead.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if list, _ := cmd.Flags().GetBool("list"); list {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err = SetupLogger(conf.Log); err != nil {
			return err
		}
		defer CloseLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if list, _ := cmd.Flags().GetBool("list"); list {
			return runList(ctx, conf, cmd.OutOrStdout())
		}
		return runReplay(ctx, args[0], conf, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	flags := replayCmd.Flags()
	flags.Bool("list", false, "List stored traces instead of replaying one")
	flags.String("output", "", "Output to list: file or redis")
	flags.String("out-dir", "", "Directory of trace files to list")
	flags.String("redis", "", "Redis address for redis:// locations")
}

// runList 输出已保存的trace位置，每行一个
func runList(ctx context.Context, conf *config.Config, out io.Writer) error {
	store := output.NewStore(conf.Output)
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	locations, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, location := range locations {
		if _, err = fmt.Fprintln(out, location); err != nil {
			return err
		}
	}
	return nil
}

func runReplay(ctx context.Context, location string, conf *config.Config, in io.Reader, out io.Writer) error {
	loader := output.NewLoader(location, conf.Output)
	if closer, ok := loader.(io.Closer); ok {
		defer closer.Close()
	}
	trace, err := loader.Load(ctx, location)
	if err != nil {
		return fmt.Errorf("load trace: %w", err)
	}
	return frontend.New(conf.Frontend, metrics.NewRecorder(), in, out).Init(ctx, trace)
}
