package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emirpasic/gods/sets"
	"github.com/fansqz/trace-debugger/constants"
	"github.com/fansqz/trace-debugger/debugger"
	"github.com/fansqz/trace-debugger/debugger/dap_debugger"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/fansqz/trace-debugger/source"
	. "github.com/fansqz/trace-debugger/utils"
	"github.com/sirupsen/logrus"
)

const terminateTimeout = 10 * time.Second

// Session 一次调试会话，启动后驱动调试器直到程序结束并生成trace
type Session interface {
	// StartDebugging 启动调试器并加载目标文件
	StartDebugging(ctx context.Context, file string) error
	// GenerateBackendTrace 驱动已启动的会话直到结束，无法生成时返回错误
	GenerateBackendTrace(ctx context.Context) (*BackendTrace, error)
}

// Options 生成trace的限制
type Options struct {
	LaunchTimeout time.Duration
	// StepTimeout 两个调试事件之间的最长间隔，包括处理一次停止的时间，0表示不限制
	StepTimeout   time.Duration
	MaxSteps      int
	VariableDepth int
}

// DebuggerFactory 根据语言创建调试器
type DebuggerFactory func(languageType constants.LanguageType) (debugger.Debugger, error)

// DAPDebuggerFactory 所有语言都通过调试适配器调试
func DAPDebuggerFactory(conf dap_debugger.AdapterConfig) DebuggerFactory {
	return func(languageType constants.LanguageType) (debugger.Debugger, error) {
		switch languageType {
		case constants.LanguagePython, constants.LanguageGo:
			return dap_debugger.NewDAPDebugger(conf), nil
		default:
			return nil, e.ErrLanguageNotSupported
		}
	}
}

// BackendSession 记录程序每一步的位置、栈帧和变量
// 在入口行设置断点，之后在工作区内不断StepIn，进入工作区外的代码时StepOut
type BackendSession struct {
	options     Options
	newDebugger DebuggerFactory

	debug          debugger.Debugger
	trace          *BackendTrace
	workspace      sets.Set
	events         *EventQueue
	timeoutManager *TimeoutManager
}

func NewBackendSession(factory DebuggerFactory, options Options) *BackendSession {
	if options.MaxSteps <= 0 {
		options.MaxSteps = 1000
	}
	return &BackendSession{
		options:        options,
		newDebugger:    factory,
		events:         NewEventQueue(),
		timeoutManager: NewTimeoutManager(),
	}
}

func (s *BackendSession) StartDebugging(ctx context.Context, file string) error {
	logrus.Infof("[BackendSession] StartDebugging, file = %s", file)
	if s.debug != nil {
		return errors.New("session has already been started")
	}
	file, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	languageType, err := source.LanguageOf(file)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	outline, err := source.Analyze(ctx, content, languageType)
	if err != nil {
		return err
	}
	if outline.EntryLine == 0 {
		return fmt.Errorf("%w: %s has no executable statement", e.ErrSessionStartFailed, file)
	}
	if outline.HasError {
		logrus.Warnf("[BackendSession] %s has syntax errors", file)
	}

	debug, err := s.newDebugger(languageType)
	if err != nil {
		return err
	}
	err = debug.Start(ctx, &debugger.StartOption{
		Language:      languageType,
		File:          file,
		WorkPath:      filepath.Dir(file),
		BreakPoints:   []*debugger.Breakpoint{debugger.NewBreakpoint(file, outline.EntryLine)},
		LaunchTimeout: s.options.LaunchTimeout,
		Callback:      s.events.Push,
	})
	if err != nil {
		logrus.Errorf("[BackendSession] start debugger fail, err = %v", err)
		return fmt.Errorf("%w: %w", e.ErrSessionStartFailed, err)
	}

	// 调试器返回的路径可能已经解析过软链接
	paths := []string{file}
	if resolved, evalErr := filepath.EvalSymlinks(file); evalErr == nil {
		paths = append(paths, resolved)
	}
	s.workspace = PathSet(paths)
	s.debug = debug
	s.trace = NewBackendTrace(file, languageType)
	return nil
}

func (s *BackendSession) GenerateBackendTrace(ctx context.Context) (*BackendTrace, error) {
	logrus.Infof("[BackendSession] GenerateBackendTrace")
	if s.debug == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	defer s.terminate()

	// 计时器触发时取消本次生成，阻塞中的调试器请求也会随之返回
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if s.options.StepTimeout > 0 {
		s.timeoutManager.Start(s.options.StepTimeout, func() {
			cancel(e.ErrStepTimeout)
		})
		defer s.timeoutManager.Cancel()
	}

	for {
		item, err := s.events.Pop(ctx)
		if err != nil {
			return nil, s.generateError(ctx, err)
		}
		s.timeoutManager.Reset()

		switch event := item.(type) {
		case *debugger.StoppedEvent:
			err = s.processStopped(ctx, event)
			// 程序可能在命令执行过程中结束，等待TerminatedEvent
			if err != nil && !errors.Is(err, e.ErrDebuggerIsClosed) {
				return nil, s.generateError(ctx, err)
			}
		case *debugger.OutputEvent:
			if event.Category == "stdout" || event.Category == "stderr" {
				s.trace.appendOutput(event.Output)
			}
		case *debugger.ExitedEvent:
			s.trace.ExitCode = event.ExitCode
		case *debugger.TerminatedEvent:
			logrus.Infof("[BackendSession] program terminated, steps = %d", s.trace.Len())
			return s.trace, nil
		}
	}
}

// generateError 超时取消时返回ErrStepTimeout，否则返回原始错误
func (s *BackendSession) generateError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), e.ErrStepTimeout) {
		logrus.Errorf("[BackendSession] step timeout after %d steps, err = %v", s.trace.Len(), err)
		return e.ErrStepTimeout
	}
	return err
}

func (s *BackendSession) processStopped(ctx context.Context, event *debugger.StoppedEvent) error {
	if !s.inWorkspace(event.File) {
		logrus.Debugf("[BackendSession] stopped outside workspace, file = %s", event.File)
		if err := s.debug.StepOut(ctx); err != nil {
			if errors.Is(err, e.ErrDebuggerIsClosed) {
				return err
			}
			return s.debug.Continue(ctx)
		}
		return nil
	}
	if s.trace.Len() >= s.options.MaxSteps {
		return fmt.Errorf("%w: %d", e.ErrStepLimitReached, s.options.MaxSteps)
	}
	elem, err := s.snapshot(ctx, event)
	if err != nil {
		return err
	}
	s.trace.Elements = append(s.trace.Elements, elem)
	return s.debug.StepIn(ctx)
}

// snapshot 记录当前停止位置的栈帧和变量
func (s *BackendSession) snapshot(ctx context.Context, event *debugger.StoppedEvent) (*TraceElem, error) {
	frames, err := s.debug.GetStackTrace(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stack trace: %w", err)
	}
	elem := &TraceElem{
		Step:   s.trace.Len(),
		File:   event.File,
		Line:   event.Line,
		Reason: event.Reason,
		Frames: []*Frame{},
	}
	for _, frame := range frames {
		if !s.inWorkspace(frame.Path) {
			continue
		}
		variables, err := s.debug.GetFrameVariables(ctx, frame.ID)
		if err != nil {
			return nil, fmt.Errorf("get variables of frame %s: %w", frame.ID, err)
		}
		if err = s.expand(ctx, variables, s.options.VariableDepth); err != nil {
			return nil, err
		}
		elem.Frames = append(elem.Frames, &Frame{
			ID:        frame.ID,
			Name:      frame.Name,
			File:      frame.Path,
			Line:      frame.Line,
			Variables: variables,
		})
	}
	return elem, nil
}

// expand 展开depth层子变量
func (s *BackendSession) expand(ctx context.Context, variables []*debugger.Variable, depth int) error {
	if depth <= 0 {
		return nil
	}
	for _, variable := range variables {
		if !variable.HasChildren() {
			continue
		}
		children, err := s.debug.GetVariables(ctx, variable.Reference)
		if err != nil {
			return fmt.Errorf("get children of %s: %w", variable.Name, err)
		}
		if err = s.expand(ctx, children, depth-1); err != nil {
			return err
		}
		variable.Children = children
	}
	return nil
}

func (s *BackendSession) inWorkspace(path string) bool {
	if path == "" {
		return false
	}
	return s.workspace.Contains(filepath.Clean(path))
}

func (s *BackendSession) terminate() {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := s.debug.Terminate(ctx); err != nil {
		logrus.Warnf("[BackendSession] terminate debugger fail, err = %v", err)
	}
}
