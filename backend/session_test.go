package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/trace-debugger/constants"
	"github.com/fansqz/trace-debugger/debugger"
	"github.com/fansqz/trace-debugger/debugger/dap_debugger"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const libFile = "/usr/lib/python3/json/__init__.py"

// fakeStop 脚本中的一次停止
type fakeStop struct {
	file   string
	line   int
	output string
}

// fakeDebugger 按照脚本产生事件的调试器
type fakeDebugger struct {
	lock       sync.Mutex
	stops      []fakeStop
	pos        int
	option     *debugger.StartOption
	startErr   error
	hang       bool
	hangStack  bool
	finished   bool
	terminated bool
	commands   []string
}

func (f *fakeDebugger) Start(ctx context.Context, option *debugger.StartOption) error {
	f.option = option
	if f.startErr != nil {
		option.Callback(debugger.LaunchFailEvent)
		return f.startErr
	}
	option.Callback(debugger.NewBreakpointEvent(constants.NewType, option.BreakPoints))
	option.Callback(debugger.LaunchSuccessEvent)
	f.stopAt(constants.BreakpointStopped)
	return nil
}

func (f *fakeDebugger) stopAt(reason constants.StoppedReasonType) {
	if f.pos >= len(f.stops) {
		f.finished = true
		f.option.Callback(debugger.NewExitedEvent(3, ""))
		f.option.Callback(debugger.NewTerminatedEvent())
		return
	}
	stop := f.stops[f.pos]
	f.option.Callback(debugger.NewStoppedEvent(reason, stop.file, stop.line))
}

func (f *fakeDebugger) command(name string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.commands = append(f.commands, name)
	if f.finished {
		return e.ErrDebuggerIsClosed
	}
	if f.hang {
		return nil
	}
	f.option.Callback(debugger.NewContinuedEvent())
	if output := f.stops[f.pos].output; output != "" {
		f.option.Callback(debugger.NewOutputEvent("stdout", output))
	}
	f.option.Callback(debugger.NewOutputEvent("console", "ignored"))
	f.pos++
	f.stopAt(constants.StepStopped)
	return nil
}

func (f *fakeDebugger) StepOver(ctx context.Context) error { return f.command("stepOver") }
func (f *fakeDebugger) StepIn(ctx context.Context) error   { return f.command("stepIn") }
func (f *fakeDebugger) StepOut(ctx context.Context) error  { return f.command("stepOut") }
func (f *fakeDebugger) Continue(ctx context.Context) error { return f.command("continue") }

func (f *fakeDebugger) AddBreakpoints(ctx context.Context, breakpoints []*debugger.Breakpoint) error {
	return nil
}

func (f *fakeDebugger) RemoveBreakpoints(ctx context.Context, breakpoints []*debugger.Breakpoint) error {
	return nil
}

func (f *fakeDebugger) GetStackTrace(ctx context.Context) ([]*debugger.StackFrame, error) {
	if f.hangStack {
		// 适配器不再响应，只能等待ctx结束
		<-ctx.Done()
		return nil, ctx.Err()
	}
	stop := f.stops[f.pos]
	return []*debugger.StackFrame{
		{ID: "1", Name: "<module>", Path: stop.file, Line: stop.line},
		{ID: "2", Name: "_run_code", Path: "/usr/lib/python3/runpy.py", Line: 86},
	}, nil
}

func (f *fakeDebugger) GetFrameVariables(ctx context.Context, frameId string) ([]*debugger.Variable, error) {
	if frameId != "1" {
		return nil, errors.New("unexpected frame")
	}
	return []*debugger.Variable{
		newVariable("a", "int", "1", ""),
		newVariable("items", "list", "[[1]]", "7"),
	}, nil
}

func (f *fakeDebugger) GetVariables(ctx context.Context, reference string) ([]*debugger.Variable, error) {
	switch reference {
	case "7":
		return []*debugger.Variable{newVariable("0", "list", "[1]", "8")}, nil
	case "8":
		return []*debugger.Variable{newVariable("0", "int", "1", "")}, nil
	}
	return nil, errors.New("未找到该引用")
}

func (f *fakeDebugger) Terminate(ctx context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.terminated = true
	return nil
}

func (f *fakeDebugger) Commands() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string{}, f.commands...)
}

func newVariable(name, typ, value, reference string) *debugger.Variable {
	return &debugger.Variable{Name: name, Type: typ, Value: &value, Reference: reference}
}

func writeProgram(t *testing.T) string {
	file := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(file, []byte("# demo\na = 1\nprint(a)\npass\n"), 0o644))
	resolved, err := filepath.EvalSymlinks(file)
	require.NoError(t, err)
	return resolved
}

func newTestSession(fake *fakeDebugger, options Options) *BackendSession {
	return NewBackendSession(func(languageType constants.LanguageType) (debugger.Debugger, error) {
		return fake, nil
	}, options)
}

func TestBackendSession_GenerateBackendTrace(t *testing.T) {
	file := writeProgram(t)
	fake := &fakeDebugger{stops: []fakeStop{
		{file: file, line: 2},
		{file: file, line: 3, output: "1\n"},
		{file: libFile, line: 10},
		{file: file, line: 4},
	}}
	session := newTestSession(fake, Options{MaxSteps: 10, VariableDepth: 1})
	ctx := context.Background()

	require.NoError(t, session.StartDebugging(ctx, file))
	// 入口行断点
	assert.Equal(t, []*debugger.Breakpoint{{File: file, Line: 2}}, fake.option.BreakPoints)
	assert.Equal(t, constants.LanguagePython, fake.option.Language)
	assert.Equal(t, filepath.Dir(file), fake.option.WorkPath)

	trace, err := session.GenerateBackendTrace(ctx)
	require.NoError(t, err)
	assert.True(t, fake.terminated)
	assert.Equal(t, file, trace.File)
	assert.Equal(t, 3, trace.ExitCode)
	assert.Equal(t, "1\n", trace.Output)
	assert.Equal(t, []string{"stepIn", "stepIn", "stepOut", "stepIn"}, fake.Commands())

	require.Equal(t, 3, trace.Len())
	lines := []int{}
	for i, elem := range trace.Elements {
		assert.Equal(t, i, elem.Step)
		lines = append(lines, elem.Line)
	}
	assert.Equal(t, []int{2, 3, 4}, lines)
	assert.Equal(t, constants.BreakpointStopped, trace.Elements[0].Reason)
	assert.Equal(t, constants.StepStopped, trace.Elements[1].Reason)
	// 输出属于产生它的那一行
	assert.Equal(t, "", trace.Elements[0].Output)
	assert.Equal(t, "1\n", trace.Elements[1].Output)

	// 工作区外的栈帧被过滤，变量只展开一层
	elem := trace.Elements[0]
	require.Len(t, elem.Frames, 1)
	assert.Equal(t, "<module>", elem.Frames[0].Name)
	variables := elem.Frames[0].Variables
	require.Len(t, variables, 2)
	assert.Nil(t, variables[0].Children)
	require.Len(t, variables[1].Children, 1)
	assert.Nil(t, variables[1].Children[0].Children)

	step, err := trace.Step(2)
	require.NoError(t, err)
	assert.Equal(t, 4, step.Line)
	_, err = trace.Step(3)
	assert.ErrorIs(t, err, e.ErrStepOutOfRange)
}

func TestBackendSession_StepLimit(t *testing.T) {
	file := writeProgram(t)
	fake := &fakeDebugger{stops: []fakeStop{{file: file, line: 2}, {file: file, line: 3}, {file: file, line: 4}}}
	session := newTestSession(fake, Options{MaxSteps: 2})
	ctx := context.Background()
	require.NoError(t, session.StartDebugging(ctx, file))
	trace, err := session.GenerateBackendTrace(ctx)
	assert.ErrorIs(t, err, e.ErrStepLimitReached)
	assert.Nil(t, trace)
	assert.True(t, fake.terminated)
}

func TestBackendSession_StepTimeout(t *testing.T) {
	file := writeProgram(t)
	fake := &fakeDebugger{stops: []fakeStop{{file: file, line: 2}}, hang: true}
	session := newTestSession(fake, Options{StepTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, session.StartDebugging(ctx, file))
	_, err := session.GenerateBackendTrace(ctx)
	assert.ErrorIs(t, err, e.ErrStepTimeout)
	assert.True(t, fake.terminated)
}

func TestBackendSession_StepTimeoutWhileRequesting(t *testing.T) {
	file := writeProgram(t)
	fake := &fakeDebugger{stops: []fakeStop{{file: file, line: 2}}, hangStack: true}
	session := newTestSession(fake, Options{StepTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, session.StartDebugging(ctx, file))

	done := make(chan error, 1)
	go func() {
		_, err := session.GenerateBackendTrace(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, e.ErrStepTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("GenerateBackendTrace did not return after the step timeout")
	}
	assert.True(t, fake.terminated)
}

func TestBackendSession_Cancel(t *testing.T) {
	file := writeProgram(t)
	fake := &fakeDebugger{stops: []fakeStop{{file: file, line: 2}}, hang: true}
	session := newTestSession(fake, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, session.StartDebugging(ctx, file))
	_, err := session.GenerateBackendTrace(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, fake.terminated)
}

func TestBackendSession_StartFail(t *testing.T) {
	file := writeProgram(t)
	fake := &fakeDebugger{startErr: errors.New("debugpy is not installed")}
	session := newTestSession(fake, Options{})
	ctx := context.Background()

	err := session.StartDebugging(ctx, file)
	assert.ErrorIs(t, err, e.ErrSessionStartFailed)
	assert.Contains(t, err.Error(), "debugpy is not installed")

	_, err = session.GenerateBackendTrace(ctx)
	assert.ErrorIs(t, err, e.ErrDebuggerNotStarted)

	// 没有可执行语句
	empty := filepath.Join(t.TempDir(), "empty.py")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	err = newTestSession(&fakeDebugger{}, Options{}).StartDebugging(ctx, empty)
	assert.ErrorIs(t, err, e.ErrSessionStartFailed)

	err = newTestSession(&fakeDebugger{}, Options{}).StartDebugging(ctx, filepath.Join(t.TempDir(), "main.rs"))
	assert.ErrorIs(t, err, e.ErrLanguageNotSupported)
}

func TestDAPDebuggerFactory(t *testing.T) {
	factory := DAPDebuggerFactory(dap_debugger.AdapterConfig{})
	d, err := factory(constants.LanguageGo)
	assert.NoError(t, err)
	assert.NotNil(t, d)
	_, err = factory("c")
	assert.ErrorIs(t, err, e.ErrLanguageNotSupported)
}
