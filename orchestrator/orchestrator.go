package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/editor"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/fansqz/trace-debugger/frontend"
	"github.com/fansqz/trace-debugger/metrics"
	"github.com/fansqz/trace-debugger/output"
	"github.com/sirupsen/logrus"
)

const (
	FileUndefinedMessage = "The passed filename variable was undefined!\nThe extension finished"
	StartFailedMessage   = "Debug Session could not be started!\nStopping..."
)

// TempFileCreator 读取源文件并创建可调试的临时副本
type TempFileCreator interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	CreateTempFile(ctx context.Context, path string, content []byte) (string, error)
	Remove(tempFile string) error
}

// SessionFactory 每次运行创建新的调试会话
type SessionFactory func() backend.Session

// Orchestrator 串联一次trace：创建临时文件，调试生成trace，保存，交给前端展示
type Orchestrator struct {
	host       editor.Host
	files      TempFileCreator
	newSession SessionFactory
	writer     output.TraceWriter
	frontend   frontend.Frontend
	recorder   *metrics.Recorder
}

func NewOrchestrator(host editor.Host, files TempFileCreator, newSession SessionFactory,
	writer output.TraceWriter, front frontend.Frontend, recorder *metrics.Recorder) *Orchestrator {
	return &Orchestrator{
		host:       host,
		files:      files,
		newSession: newSession,
		writer:     writer,
		frontend:   front,
		recorder:   recorder,
	}
}

// Run 对file执行一次完整的trace，每一步失败后都不会执行后面的步骤
// 按需模式还没有实现，直接返回nil, nil
func (o *Orchestrator) Run(ctx context.Context, file string, conf *config.Config) (*backend.BackendTrace, error) {
	logrus.Infof("[Orchestrator] Run, file = %s", file)
	if conf == nil {
		conf = config.Default()
	}
	if file == "" {
		if err := o.host.ShowError(ctx, FileUndefinedMessage); err != nil {
			logrus.Warnf("[Orchestrator] show error fail, err = %v", err)
		}
		return nil, e.ErrFileUndefined
	}
	if conf.OnDemandTrace {
		logrus.Infof("[Orchestrator] on-demand trace is not implemented, nothing to do")
		return nil, nil
	}

	// 先确认文件已经在编辑器中打开，否则不产生任何副作用
	matched, err := o.hasOpenEditor(ctx, file)
	if err != nil {
		return nil, err
	}
	if !matched {
		logrus.Warnf("[Orchestrator] no open editor matches %s", file)
		return nil, fmt.Errorf("%w: %s", e.ErrEditorNotFound, file)
	}

	content, err := o.files.ReadFile(ctx, file)
	if err != nil {
		logrus.Errorf("[Orchestrator] read file fail, err = %v", err)
		return nil, err
	}
	tempFile, err := o.files.CreateTempFile(ctx, file, content)
	if err != nil {
		logrus.Errorf("[Orchestrator] create temp file fail, err = %v", err)
		return nil, err
	}

	// 临时文件会作为新的文档打开，关闭原文件避免同时显示两份
	if err = o.host.CloseActiveEditor(ctx); err != nil {
		o.removeTempFile(tempFile)
		return nil, fmt.Errorf("close active editor: %w", err)
	}

	trace, err := o.generateBackendTrace(ctx, tempFile)
	if err != nil {
		o.removeTempFile(tempFile)
		return nil, err
	}

	if conf.OutputBackendTrace {
		o.writeTrace(ctx, trace, file)
	}

	// 展示之后临时文件归编辑器所有，不再删除
	if err = o.host.ShowDocument(ctx, tempFile); err != nil {
		o.removeTempFile(tempFile)
		return nil, fmt.Errorf("show document: %w", err)
	}
	if err = o.frontend.Init(ctx, trace); err != nil {
		o.recordFailure(metrics.ReasonFrontend)
		return trace, fmt.Errorf("init frontend: %w", err)
	}
	return trace, nil
}

func (o *Orchestrator) hasOpenEditor(ctx context.Context, file string) (bool, error) {
	editors, err := o.host.ListOpenEditors(ctx)
	if err != nil {
		return false, fmt.Errorf("list open editors: %w", err)
	}
	target := cleanPath(file)
	for _, opened := range editors {
		if cleanPath(opened.Path) == target {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) generateBackendTrace(ctx context.Context, tempFile string) (*backend.BackendTrace, error) {
	session := o.newSession()
	if err := session.StartDebugging(ctx, tempFile); err != nil {
		logrus.Errorf("[Orchestrator] start debugging fail, err = %v", err)
		if showErr := o.host.ShowError(ctx, StartFailedMessage); showErr != nil {
			logrus.Warnf("[Orchestrator] show error fail, err = %v", showErr)
		}
		o.recordFailure(metrics.ReasonStartFailed)
		if errors.Is(err, e.ErrSessionStartFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", e.ErrSessionStartFailed, err)
	}

	trace, err := session.GenerateBackendTrace(ctx)
	if err != nil || trace == nil {
		logrus.Errorf("[Orchestrator] generate backend trace fail, err = %v", err)
		switch {
		case errors.Is(err, e.ErrStepLimitReached):
			o.recordFailure(metrics.ReasonStepLimit)
		case errors.Is(err, e.ErrStepTimeout):
			o.recordFailure(metrics.ReasonTimeout)
		default:
			o.recordFailure(metrics.ReasonNoTrace)
		}
		if err == nil {
			return nil, e.ErrTraceUnavailable
		}
		return nil, fmt.Errorf("%w: %w", e.ErrTraceUnavailable, err)
	}
	if o.recorder != nil {
		o.recorder.TraceGenerated(trace.Len())
	}
	return trace, nil
}

// writeTrace 保存失败只记录日志，不影响展示
func (o *Orchestrator) writeTrace(ctx context.Context, trace *backend.BackendTrace, file string) {
	if o.writer == nil {
		logrus.Warnf("[Orchestrator] outputBackendTrace is set but no trace writer is configured")
		return
	}
	location, err := o.writer.Write(ctx, trace, file)
	if err != nil {
		logrus.Warnf("[Orchestrator] write backend trace fail, err = %v", err)
		o.recordFailure(metrics.ReasonOutput)
		return
	}
	logrus.Infof("[Orchestrator] backend trace written to %s", location)
}

// removeTempFile 失败时清理临时副本
func (o *Orchestrator) removeTempFile(tempFile string) {
	if err := o.files.Remove(tempFile); err != nil {
		logrus.Warnf("[Orchestrator] remove temp file fail, err = %v", err)
	}
}

func (o *Orchestrator) recordFailure(reason string) {
	if o.recorder != nil {
		o.recorder.TraceFailed(reason)
	}
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
