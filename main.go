package main

import (
	"fmt"
	"os"

	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/constants"
	"github.com/spf13/cobra"
)

// 定义版本号
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "tracer",
	Short:         "Record a program's execution with a debugger and replay it step by step",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to a yaml config file")
	flags.String("frontend", "", "Frontend to show the trace: terminal or web")
	flags.String("addr", "", "Listen address of the web frontend")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Append logs to this file instead of stderr")
	flags.StringArray("set", nil, "Override a setting, e.g. --set debugger.stepTimeout=5s (repeatable)")
}

// loadConfig 读取配置文件，再依次应用--set和具体的命令行参数
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	conf, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("set") {
		pairs, _ := flags.GetStringArray("set")
		settings, err := config.ParseSettings(pairs)
		if err != nil {
			return nil, err
		}
		if err = conf.ApplySettings(settings); err != nil {
			return nil, err
		}
	}
	if flags.Changed("frontend") {
		frontendType, _ := flags.GetString("frontend")
		conf.Frontend.Type = constants.FrontendType(frontendType)
	}
	if flags.Changed("addr") {
		conf.Frontend.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("log-level") {
		conf.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		conf.Log.File, _ = flags.GetString("log-file")
	}
	if flags.Changed("output-trace") {
		conf.OutputBackendTrace, _ = flags.GetBool("output-trace")
	}
	if flags.Changed("on-demand") {
		conf.OnDemandTrace, _ = flags.GetBool("on-demand")
	}
	if flags.Changed("output") {
		outputType, _ := flags.GetString("output")
		conf.Output.Type = constants.OutputType(outputType)
	}
	if flags.Changed("out-dir") {
		conf.Output.Dir, _ = flags.GetString("out-dir")
	}
	if flags.Changed("redis") {
		conf.Output.RedisAddr, _ = flags.GetString("redis")
	}
	if flags.Changed("max-steps") {
		conf.Debugger.MaxSteps, _ = flags.GetInt("max-steps")
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
