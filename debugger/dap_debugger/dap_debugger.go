package dap_debugger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fansqz/trace-debugger/constants"
	. "github.com/fansqz/trace-debugger/debugger"
	e "github.com/fansqz/trace-debugger/error"
	. "github.com/fansqz/trace-debugger/utils"
	"github.com/fansqz/trace-debugger/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

const (
	OptionTimeout        = time.Second * 10
	DefaultLaunchTimeout = time.Second * 30
)

// closedSignal 与适配器的连接已经断开
type closedSignal struct {
	err error
}

// DAPDebugger 通过Debug Adapter Protocol驱动外部调试适配器（debugpy、dlv dap）
type DAPDebugger struct {
	startOption *StartOption

	// 事件产生时，触发该回调
	callback NotificationCallback

	// statusManager 调试的状态管理
	statusManager *StatusManager

	connect ConnectFunc
	client  *dapClient
	events  *EventQueue

	// 最近一次停止的线程
	threadLock sync.RWMutex
	threadID   int

	initialized chan struct{}
	initOnce    sync.Once

	// 断点记录，key为文件绝对路径，DAP每次设置都会覆盖整个文件的断点
	breakpointLock sync.Mutex
	breakpoints    map[string][]int

	finishOnce    sync.Once
	terminateOnce sync.Once
}

func NewDAPDebugger(conf AdapterConfig) *DAPDebugger {
	return newDAPDebugger(NewAdapterConnector(conf))
}

func newDAPDebugger(connect ConnectFunc) *DAPDebugger {
	return &DAPDebugger{
		statusManager: NewStatusManager(),
		connect:       connect,
		events:        NewEventQueue(),
		initialized:   make(chan struct{}),
		breakpoints:   make(map[string][]int),
	}
}

// Start 启动适配器并完成initialize、launch、configurationDone握手
func (d *DAPDebugger) Start(ctx context.Context, option *StartOption) error {
	logrus.Infof("[DAPDebugger] Start, file = %s", option.File)
	if !d.statusManager.Is(Init) {
		return errors.New("debugger has already been started")
	}
	d.startOption = option
	d.callback = option.Callback

	timeout := option.LaunchTimeout
	if timeout == 0 {
		timeout = DefaultLaunchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.connect(ctx, option)
	if err != nil {
		logrus.Errorf("[DAPDebugger] connect adapter fail, err = %v", err)
		d.notify(LaunchFailEvent)
		d.statusManager.Set(Finish)
		return fmt.Errorf("connect debug adapter: %w", err)
	}
	d.client = newDAPClient(conn,
		func(event dap.EventMessage) { d.events.Push(event) },
		func(err error) { d.events.Push(closedSignal{err: err}) })
	gosync.Go(context.Background(), func(ctx context.Context) {
		d.eventLoop()
	})

	if err = d.launch(ctx); err != nil {
		logrus.Errorf("[DAPDebugger] launch fail, err = %v", err)
		d.notify(LaunchFailEvent)
		_ = d.client.close()
		d.statusManager.Set(Finish)
		return err
	}
	return nil
}

func (d *DAPDebugger) launch(ctx context.Context) error {
	initReq := &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:        "trace-debugger",
			ClientName:      "Trace Debugger",
			AdapterID:       string(d.startOption.Language),
			Locale:          "en-us",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	}
	if _, err := d.client.call(ctx, initReq); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	args, err := launchArguments(d.startOption)
	if err != nil {
		return err
	}
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal launch arguments: %w", err)
	}
	// debugpy在configurationDone之后才会返回launch的响应，所以这里只发送不等待
	launchCh, err := d.client.send(&dap.LaunchRequest{Request: newRequest("launch"), Arguments: rawArgs})
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	launched := false
	for waiting := true; waiting; {
		select {
		case <-d.initialized:
			waiting = false
		case msg, ok := <-launchCh:
			if _, err = d.client.check(msg, ok); err != nil {
				return fmt.Errorf("launch: %w", err)
			}
			launched = true
			launchCh = nil
		case <-ctx.Done():
			return fmt.Errorf("wait initialized event: %w", ctx.Err())
		}
	}

	if err = d.AddBreakpoints(ctx, d.startOption.BreakPoints); err != nil {
		return fmt.Errorf("set breakpoints: %w", err)
	}
	d.notify(LaunchSuccessEvent)

	d.statusManager.Set(Running)
	if _, err = d.client.call(ctx, &dap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}); err != nil {
		return fmt.Errorf("configurationDone: %w", err)
	}
	if !launched {
		if _, err = d.client.wait(ctx, launchCh); err != nil {
			return fmt.Errorf("launch: %w", err)
		}
	}
	return nil
}

// eventLoop 按顺序处理适配器事件
func (d *DAPDebugger) eventLoop() {
	for {
		item, _ := d.events.Pop(context.Background())
		switch event := item.(type) {
		case closedSignal:
			logrus.Infof("[DAPDebugger] adapter connection closed, err = %v", event.err)
			d.finish()
			return
		case dap.EventMessage:
			d.processEvent(event)
		}
	}
}

func (d *DAPDebugger) processEvent(event dap.EventMessage) {
	switch ev := event.(type) {
	case *dap.InitializedEvent:
		d.initOnce.Do(func() { close(d.initialized) })
	case *dap.StoppedEvent:
		d.processStopped(ev.Body)
	case *dap.ContinuedEvent:
		d.statusManager.Set(Running)
	case *dap.OutputEvent:
		if ev.Body.Category == "telemetry" {
			return
		}
		d.notify(NewOutputEvent(ev.Body.Category, ev.Body.Output))
	case *dap.ExitedEvent:
		d.notify(NewExitedEvent(ev.Body.ExitCode, ""))
	case *dap.TerminatedEvent:
		d.finish()
	}
}

// processStopped 获取停止的位置并通知
func (d *DAPDebugger) processStopped(body dap.StoppedEventBody) {
	ctx, cancel := context.WithTimeout(context.Background(), OptionTimeout)
	defer cancel()

	threadID := body.ThreadId
	if threadID == 0 {
		var err error
		if threadID, err = d.firstThread(ctx); err != nil {
			logrus.Errorf("[processStopped] get threads fail, err = %v", err)
		}
	}
	d.setThread(threadID)

	file, line := "", 0
	frames, err := d.stackTrace(ctx, threadID, 1)
	if err != nil {
		logrus.Errorf("[processStopped] get stack trace fail, err = %v", err)
	} else if len(frames) > 0 {
		file, line = frames[0].Path, frames[0].Line
	}
	d.statusManager.Set(Stopped)
	d.notify(NewStoppedEvent(convertStoppedReason(body.Reason), file, line))
}

// finish 调试会话结束，只通知一次
func (d *DAPDebugger) finish() {
	d.finishOnce.Do(func() {
		d.statusManager.Set(Finish)
		d.notify(NewTerminatedEvent())
	})
}

func (d *DAPDebugger) notify(event interface{}) {
	if d.callback != nil {
		d.callback(event)
	}
}

func (d *DAPDebugger) StepOver(ctx context.Context) error {
	logrus.Infof("[DAPDebugger] StepOver")
	return d.command(ctx, &dap.NextRequest{
		Request:   newRequest("next"),
		Arguments: dap.NextArguments{ThreadId: d.thread()},
	})
}

func (d *DAPDebugger) StepIn(ctx context.Context) error {
	logrus.Infof("[DAPDebugger] StepIn")
	return d.command(ctx, &dap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: dap.StepInArguments{ThreadId: d.thread()},
	})
}

func (d *DAPDebugger) StepOut(ctx context.Context) error {
	logrus.Infof("[DAPDebugger] StepOut")
	return d.command(ctx, &dap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: dap.StepOutArguments{ThreadId: d.thread()},
	})
}

func (d *DAPDebugger) Continue(ctx context.Context) error {
	logrus.Infof("[DAPDebugger] Continue")
	return d.command(ctx, &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: d.thread()},
	})
}

// command 执行控制命令，只有程序暂停时才能执行
func (d *DAPDebugger) command(ctx context.Context, request dap.RequestMessage) error {
	if err := d.checkStarted(); err != nil {
		return err
	}
	if !d.statusManager.CompareAndSet(Stopped, Running) {
		return e.ErrProgramIsRunningOptionFail
	}
	d.notify(NewContinuedEvent())
	if _, err := d.client.call(ctx, request); err != nil {
		d.statusManager.CompareAndSet(Running, Stopped)
		return err
	}
	return nil
}

func (d *DAPDebugger) AddBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error {
	logrus.Infof("[DAPDebugger] AddBreakpoints")
	if err := d.checkStarted(); err != nil {
		return err
	}
	files := d.updateBreakpoints(breakpoints, true)
	for _, file := range files {
		verified, err := d.setBreakpoints(ctx, file)
		if err != nil {
			return err
		}
		d.notify(NewBreakpointEvent(constants.NewType, verified))
	}
	return nil
}

func (d *DAPDebugger) RemoveBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error {
	logrus.Infof("[DAPDebugger] RemoveBreakpoints")
	if err := d.checkStarted(); err != nil {
		return err
	}
	files := d.updateBreakpoints(breakpoints, false)
	for _, file := range files {
		if _, err := d.setBreakpoints(ctx, file); err != nil {
			return err
		}
	}
	removed := make([]*Breakpoint, 0, len(breakpoints))
	for _, bp := range breakpoints {
		removed = append(removed, NewBreakpoint(d.resolvePath(bp.File), bp.Line))
	}
	d.notify(NewBreakpointEvent(constants.RemovedType, removed))
	return nil
}

// updateBreakpoints 更新断点记录，返回有变化的文件列表
func (d *DAPDebugger) updateBreakpoints(breakpoints []*Breakpoint, add bool) []string {
	d.breakpointLock.Lock()
	defer d.breakpointLock.Unlock()
	changed := make(map[string]struct{})
	for _, bp := range breakpoints {
		file := d.resolvePath(bp.File)
		lines := d.breakpoints[file]
		index := -1
		for i, line := range lines {
			if line == bp.Line {
				index = i
				break
			}
		}
		if add && index < 0 {
			d.breakpoints[file] = append(lines, bp.Line)
			changed[file] = struct{}{}
		} else if !add && index >= 0 {
			d.breakpoints[file] = append(lines[:index], lines[index+1:]...)
			changed[file] = struct{}{}
		}
	}
	files := make([]string, 0, len(changed))
	for file := range changed {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// setBreakpoints 将某个文件的全部断点同步给适配器，返回验证通过的断点
func (d *DAPDebugger) setBreakpoints(ctx context.Context, file string) ([]*Breakpoint, error) {
	d.breakpointLock.Lock()
	lines := append([]int{}, d.breakpoints[file]...)
	d.breakpointLock.Unlock()

	sourceBreakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		sourceBreakpoints[i] = dap.SourceBreakpoint{Line: line}
	}
	resp, err := d.client.call(ctx, &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Name: filepath.Base(file), Path: file},
			Breakpoints: sourceBreakpoints,
		},
	})
	if err != nil {
		return nil, err
	}
	answer := make([]*Breakpoint, 0, len(lines))
	if r, ok := resp.(*dap.SetBreakpointsResponse); ok {
		for _, bp := range r.Body.Breakpoints {
			if bp.Verified {
				answer = append(answer, NewBreakpoint(file, bp.Line))
			}
		}
	}
	return answer, nil
}

func (d *DAPDebugger) GetStackTrace(ctx context.Context) ([]*StackFrame, error) {
	logrus.Infof("[DAPDebugger] GetStackTrace")
	if err := d.checkStopped(); err != nil {
		return nil, err
	}
	return d.stackTrace(ctx, d.thread(), 0)
}

func (d *DAPDebugger) stackTrace(ctx context.Context, threadID int, levels int) ([]*StackFrame, error) {
	resp, err := d.client.call(ctx, &dap.StackTraceRequest{
		Request: newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId: threadID,
			Levels:   levels,
		},
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*dap.StackTraceResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected stackTrace response %T", resp)
	}
	answer := make([]*StackFrame, len(r.Body.StackFrames))
	for i, s := range r.Body.StackFrames {
		path := ""
		if s.Source != nil {
			path = s.Source.Path
		}
		answer[i] = &StackFrame{
			ID:   strconv.Itoa(s.Id),
			Name: s.Name,
			Path: path,
			Line: s.Line,
		}
	}
	return answer, nil
}

// GetFrameVariables 只读取栈帧的第一个作用域（局部变量）
// debugpy模块级栈帧的Locals与Globals相同，函数栈帧的Globals会混入模块内的函数定义
func (d *DAPDebugger) GetFrameVariables(ctx context.Context, frameId string) ([]*Variable, error) {
	logrus.Infof("[DAPDebugger] GetFrameVariables")
	if err := d.checkStopped(); err != nil {
		return nil, err
	}
	frame, err := strconv.Atoi(frameId)
	if err != nil {
		return nil, fmt.Errorf("invalid frame id %q: %w", frameId, err)
	}
	resp, err := d.client.call(ctx, &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frame},
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*dap.ScopesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected scopes response %T", resp)
	}
	for _, scope := range r.Body.Scopes {
		if scope.Expensive || scope.VariablesReference == 0 {
			continue
		}
		return d.variables(ctx, scope.VariablesReference)
	}
	return []*Variable{}, nil
}

func (d *DAPDebugger) GetVariables(ctx context.Context, reference string) ([]*Variable, error) {
	logrus.Infof("[DAPDebugger] GetVariables")
	if err := d.checkStopped(); err != nil {
		return nil, err
	}
	ref, err := strconv.Atoi(reference)
	if err != nil || ref == 0 {
		return nil, errors.New("未找到该引用")
	}
	return d.variables(ctx, ref)
}

func (d *DAPDebugger) variables(ctx context.Context, reference int) ([]*Variable, error) {
	resp, err := d.client.call(ctx, &dap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: reference},
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*dap.VariablesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected variables response %T", resp)
	}
	children := []*Variable{} // must return empty array, not null, if no children
	for _, v := range r.Body.Variables {
		if isInternalVariable(v.Name, v.Type) {
			continue
		}
		value := v.Value
		variable := &Variable{
			Name:           v.Name,
			Type:           v.Type,
			Value:          &value,
			ChildrenNumber: v.IndexedVariables + v.NamedVariables,
		}
		if v.VariablesReference != 0 {
			variable.Reference = strconv.Itoa(v.VariablesReference)
		}
		children = append(children, variable)
	}
	return children, nil
}

func (d *DAPDebugger) Terminate(ctx context.Context) error {
	logrus.Infof("[DAPDebugger] Terminate")
	if d.client == nil {
		d.statusManager.Set(Finish)
		return nil
	}
	var err error
	d.terminateOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, OptionTimeout)
		defer cancel()
		_, disconnectErr := d.client.call(ctx, &dap.DisconnectRequest{
			Request:   newRequest("disconnect"),
			Arguments: &dap.DisconnectArguments{TerminateDebuggee: true},
		})
		if disconnectErr != nil && !errors.Is(disconnectErr, e.ErrDebuggerIsClosed) {
			logrus.Warnf("[DAPDebugger] disconnect fail, err = %v", disconnectErr)
		}
		err = d.client.close()
		d.statusManager.Set(Finish)
	})
	return err
}

func (d *DAPDebugger) firstThread(ctx context.Context) (int, error) {
	resp, err := d.client.call(ctx, &dap.ThreadsRequest{Request: newRequest("threads")})
	if err != nil {
		return 0, err
	}
	r, ok := resp.(*dap.ThreadsResponse)
	if !ok || len(r.Body.Threads) == 0 {
		return 0, errors.New("can't find any threads")
	}
	return r.Body.Threads[0].Id, nil
}

func (d *DAPDebugger) checkStarted() error {
	if d.client == nil {
		return e.ErrDebuggerNotStarted
	}
	if d.statusManager.Is(Finish) {
		return e.ErrDebuggerIsClosed
	}
	return nil
}

func (d *DAPDebugger) checkStopped() error {
	if err := d.checkStarted(); err != nil {
		return err
	}
	if !d.statusManager.Is(Stopped) {
		return e.ErrProgramIsRunningOptionFail
	}
	return nil
}

func (d *DAPDebugger) thread() int {
	d.threadLock.RLock()
	defer d.threadLock.RUnlock()
	return d.threadID
}

func (d *DAPDebugger) setThread(threadID int) {
	d.threadLock.Lock()
	d.threadID = threadID
	d.threadLock.Unlock()
}

// resolvePath 相对路径按照工作目录解析
func (d *DAPDebugger) resolvePath(file string) string {
	if filepath.IsAbs(file) || d.startOption == nil {
		return filepath.Clean(file)
	}
	return filepath.Join(d.startOption.WorkPath, file)
}

func convertStoppedReason(reason string) constants.StoppedReasonType {
	switch reason {
	case "breakpoint", "function breakpoint", "data breakpoint", "instruction breakpoint":
		return constants.BreakpointStopped
	case "entry":
		return constants.EntryStopped
	case "exception":
		return constants.ExceptionStopped
	case "pause":
		return constants.PauseStopped
	default:
		return constants.StepStopped
	}
}

// isInternalVariable 过滤调试器附加的分组、魔术变量、返回值占位以及函数、模块等定义
func isInternalVariable(name string, typ string) bool {
	switch name {
	case "special variables", "function variables", "class variables", "protected variables", "len()":
		return true
	}
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return true
	}
	if strings.HasPrefix(name, "~r") {
		return true
	}
	switch typ {
	case "function", "module", "type", "builtin_function_or_method":
		return true
	}
	return false
}
