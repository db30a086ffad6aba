package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/debugger/dap_debugger"
	"github.com/fansqz/trace-debugger/editor"
	"github.com/fansqz/trace-debugger/frontend"
	"github.com/fansqz/trace-debugger/metrics"
	"github.com/fansqz/trace-debugger/orchestrator"
	"github.com/fansqz/trace-debugger/output"
	"github.com/fansqz/trace-debugger/source"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace [file]",
	Short: "Debug a program step by step and show the recorded trace",
	Long: `Creates a temporary copy of the file, runs it under a debug adapter (debugpy for
Python, dlv for Go), records every step with its stack frames and variables, and hands the
trace to the frontend.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err = SetupLogger(conf.Log); err != nil {
			return err
		}
		defer CloseLogger()

		file := ""
		if len(args) > 0 {
			file = args[0]
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runTrace(ctx, file, conf, os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
	flags := traceCmd.Flags()
	flags.Bool("output-trace", false, "Persist the generated backend trace")
	flags.Bool("on-demand", false, "Generate the trace on demand (not implemented, does nothing)")
	flags.String("output", "", "Where to persist the trace: file or redis")
	flags.String("out-dir", "", "Directory for trace files, defaults to the source directory")
	flags.String("redis", "", "Redis address for the redis output")
	flags.Int("max-steps", 0, "Maximum number of recorded steps")
}

// runTrace 组装所有组件，命令行中目标文件就是当前打开的文档
func runTrace(ctx context.Context, file string, conf *config.Config, in io.Reader, out io.Writer, errOut io.Writer) error {
	workspace := editor.NewWorkspace(errOut)
	if file != "" {
		workspace.Open(file)
	}
	recorder := metrics.NewRecorder()
	store := output.NewStore(conf.Output)
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	adapterConf := dap_debugger.AdapterConfig{
		PythonPath: conf.Debugger.PythonPath,
		DlvPath:    conf.Debugger.DlvPath,
	}
	options := backend.Options{
		LaunchTimeout: conf.Debugger.LaunchTimeout,
		StepTimeout:   conf.Debugger.StepTimeout,
		MaxSteps:      conf.Debugger.MaxSteps,
		VariableDepth: conf.Debugger.VariableDepth,
	}
	newSession := func() backend.Session {
		return backend.NewBackendSession(backend.DAPDebuggerFactory(adapterConf), options)
	}

	orch := orchestrator.NewOrchestrator(
		workspace,
		source.NewTempFiles(conf.WorkDir),
		newSession,
		store,
		frontend.New(conf.Frontend, recorder, in, out),
		recorder,
	)
	trace, err := orch.Run(ctx, file, conf)
	if err != nil {
		return err
	}
	if trace != nil {
		logrus.Infof("[trace] finished, steps = %d", trace.Len())
	}
	return nil
}
