package frontend

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/constants"
	"github.com/fansqz/trace-debugger/metrics"
	"github.com/fansqz/trace-debugger/source"
)

// Frontend trace的可视化
type Frontend interface {
	Init(ctx context.Context, trace *backend.BackendTrace) error
}

// New 根据配置创建前端，in和out只用于终端前端
func New(conf config.FrontendConfig, recorder *metrics.Recorder, in io.Reader, out io.Writer) Frontend {
	if conf.Type == constants.WebFrontend {
		return NewWeb(conf.Addr, recorder)
	}
	return NewTerminal(in, out)
}

// readOutline 分析源码结构，失败时返回nil
func readOutline(ctx context.Context, trace *backend.BackendTrace) *source.Outline {
	content, err := os.ReadFile(trace.File)
	if err != nil {
		return nil
	}
	outline, err := source.Analyze(ctx, content, trace.Language)
	if err != nil {
		return nil
	}
	return outline
}

// readSourceLines 读取源码，读取失败时返回nil
func readSourceLines(file string) []string {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimRight(string(content), "\n"), "\n")
}

// outputUntil 截止到第step步程序的全部输出
func outputUntil(trace *backend.BackendTrace, step int) string {
	var sb strings.Builder
	for i := 0; i <= step && i < len(trace.Elements); i++ {
		sb.WriteString(trace.Elements[i].Output)
	}
	return sb.String()
}
