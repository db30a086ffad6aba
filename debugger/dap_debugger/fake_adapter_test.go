package dap_debugger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	. "github.com/fansqz/trace-debugger/debugger"
	"github.com/google/go-dap"
)

// fakeStep 脚本化程序的一行
type fakeStep struct {
	line   int
	output string
	locals []dap.Variable
}

// fakeProgram 用来驱动fakeAdapter的程序描述
type fakeProgram struct {
	path       string
	steps      []fakeStep
	failLaunch bool
	// children 变量引用对应的子变量
	children map[int][]dap.Variable
}

// fakeAdapter 内存中的调试适配器，按照脚本返回停止位置和变量
type fakeAdapter struct {
	program     *fakeProgram
	rw          *bufio.ReadWriter
	conn        net.Conn
	pc          int
	breakpoints map[int]bool

	lock     sync.Mutex
	requests []string
}

// newFakeConnector 返回连接到fakeAdapter的ConnectFunc
func newFakeConnector(program *fakeProgram) (ConnectFunc, *fakeAdapter) {
	adapter := &fakeAdapter{program: program, breakpoints: make(map[int]bool), pc: -1}
	connect := func(ctx context.Context, option *StartOption) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		adapter.conn = server
		adapter.rw = bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server))
		go adapter.serve()
		return client, nil
	}
	return connect, adapter
}

func (f *fakeAdapter) serve() {
	defer f.conn.Close()
	for {
		request, err := dap.ReadProtocolMessage(f.rw.Reader)
		if err != nil {
			return
		}
		if !f.dispatchRequest(request) {
			return
		}
	}
}

func (f *fakeAdapter) send(message dap.Message) {
	_ = dap.WriteProtocolMessage(f.rw.Writer, message)
	_ = f.rw.Flush()
}

// dispatchRequest 返回false表示会话结束
func (f *fakeAdapter) dispatchRequest(request dap.Message) bool {
	if r, ok := request.(dap.RequestMessage); ok {
		f.lock.Lock()
		f.requests = append(f.requests, r.GetRequest().Command)
		f.lock.Unlock()
	}
	switch request := request.(type) {
	case *dap.InitializeRequest:
		response := &dap.InitializeResponse{}
		response.Response = *newResponse(request.Seq, request.Command)
		response.Body.SupportsConfigurationDoneRequest = true
		f.send(response)
		// 适配器自定义事件，客户端需要跳过
		f.send(newEvent("debugpySockets"))
	case *dap.LaunchRequest:
		if f.program.failLaunch {
			f.send(newErrorResponse(request.Seq, request.Command, "program not found"))
			return true
		}
		f.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
		f.send(&dap.LaunchResponse{Response: *newResponse(request.Seq, request.Command)})
	case *dap.SetBreakpointsRequest:
		response := &dap.SetBreakpointsResponse{}
		response.Response = *newResponse(request.Seq, request.Command)
		f.breakpoints = make(map[int]bool)
		response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
		for i, b := range request.Arguments.Breakpoints {
			f.breakpoints[b.Line] = true
			response.Body.Breakpoints[i].Line = b.Line
			response.Body.Breakpoints[i].Verified = true
		}
		f.send(response)
	case *dap.ConfigurationDoneRequest:
		f.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Seq, request.Command)})
		f.runToBreakpoint()
	case *dap.NextRequest:
		f.send(&dap.NextResponse{Response: *newResponse(request.Seq, request.Command)})
		f.step()
	case *dap.StepInRequest:
		f.send(&dap.StepInResponse{Response: *newResponse(request.Seq, request.Command)})
		f.step()
	case *dap.StepOutRequest:
		f.send(&dap.StepOutResponse{Response: *newResponse(request.Seq, request.Command)})
		f.step()
	case *dap.ContinueRequest:
		f.send(&dap.ContinueResponse{Response: *newResponse(request.Seq, request.Command)})
		f.runToBreakpoint()
	case *dap.ThreadsRequest:
		response := &dap.ThreadsResponse{}
		response.Response = *newResponse(request.Seq, request.Command)
		response.Body.Threads = []dap.Thread{{Id: 1, Name: "MainThread"}}
		f.send(response)
	case *dap.StackTraceRequest:
		response := &dap.StackTraceResponse{}
		response.Response = *newResponse(request.Seq, request.Command)
		frame := dap.StackFrame{
			Id:     1,
			Name:   "<module>",
			Source: &dap.Source{Name: "main.py", Path: f.program.path},
			Line:   f.program.steps[f.pc].line,
		}
		response.Body.StackFrames = []dap.StackFrame{frame}
		response.Body.TotalFrames = 1
		f.send(response)
	case *dap.ScopesRequest:
		response := &dap.ScopesResponse{}
		response.Response = *newResponse(request.Seq, request.Command)
		response.Body.Scopes = []dap.Scope{
			{Name: "Locals", VariablesReference: 1000},
			{Name: "Globals", VariablesReference: 1001},
		}
		f.send(response)
	case *dap.VariablesRequest:
		response := &dap.VariablesResponse{}
		response.Response = *newResponse(request.Seq, request.Command)
		ref := request.Arguments.VariablesReference
		switch {
		case ref == 1000:
			response.Body.Variables = append([]dap.Variable{
				{Name: "special variables", VariablesReference: 5},
				{Name: "__name__", Value: "'__main__'", Type: "str"},
			}, f.program.steps[f.pc].locals...)
		case f.program.children[ref] != nil:
			response.Body.Variables = f.program.children[ref]
		default:
			response.Body.Variables = []dap.Variable{}
		}
		f.send(response)
	case *dap.DisconnectRequest:
		f.send(&dap.DisconnectResponse{Response: *newResponse(request.Seq, request.Command)})
		return false
	default:
		if r, ok := request.(dap.RequestMessage); ok {
			req := r.GetRequest()
			f.send(newErrorResponse(req.Seq, req.Command, fmt.Sprintf("%s is not yet supported", req.Command)))
		}
	}
	return true
}

// step 单步执行到下一行，离开当前行时产生该行的输出
func (f *fakeAdapter) step() {
	f.emitOutputOf(f.pc)
	f.pc++
	f.afterMove("step")
}

// runToBreakpoint 执行到下一个断点或者程序结束
func (f *fakeAdapter) runToBreakpoint() {
	for {
		f.emitOutputOf(f.pc)
		f.pc++
		if f.pc >= len(f.program.steps) || f.breakpoints[f.program.steps[f.pc].line] {
			break
		}
	}
	f.afterMove("breakpoint")
}

func (f *fakeAdapter) afterMove(reason string) {
	if f.pc >= len(f.program.steps) {
		f.send(&dap.ExitedEvent{Event: *newEvent("exited"), Body: dap.ExitedEventBody{ExitCode: 0}})
		f.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
		return
	}
	f.send(&dap.StoppedEvent{
		Event: *newEvent("stopped"),
		Body:  dap.StoppedEventBody{Reason: reason, ThreadId: 1, AllThreadsStopped: true},
	})
}

func (f *fakeAdapter) emitOutputOf(pc int) {
	if pc < 0 || pc >= len(f.program.steps) || f.program.steps[pc].output == "" {
		return
	}
	f.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body:  dap.OutputEventBody{Category: "stdout", Output: f.program.steps[pc].output},
	})
}

// Requests 适配器收到的请求命令
func (f *fakeAdapter) Requests() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string{}, f.requests...)
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}
