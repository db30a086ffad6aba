package debugger

import (
	"time"

	"github.com/fansqz/trace-debugger/constants"
)

// StartOption 启动调试的参数
type StartOption struct {
	// Language 调试的目标语言
	Language constants.LanguageType
	// File 需要调试的文件
	File string
	// WorkPath 调试的工作目录
	WorkPath string
	// BreakPoints 初始断点
	BreakPoints []*Breakpoint
	// StopOnEntry 启动后是否停在入口处
	StopOnEntry bool
	// LaunchTimeout 调试器启动超时时间
	LaunchTimeout time.Duration
	// Callback 事件回调
	Callback NotificationCallback
}

// Breakpoint 表示断点
type Breakpoint struct {
	File string `json:"file"` // 文件名称
	Line int    `json:"line"` // 行号
}

func NewBreakpoint(file string, line int) *Breakpoint {
	return &Breakpoint{file, line}
}

// StackFrame 栈帧
type StackFrame struct {
	ID   string `json:"id"`   // 栈帧id
	Name string `json:"name"` // 函数名称
	Path string `json:"path"` // 文件路径
	Line int    `json:"line"`
}

// Variable 变量
type Variable struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value *string `json:"value"`
	// 变量引用，为空或者"0"表示没有子变量
	Reference string `json:"reference,omitempty"`
	// ChildrenNumber 子变量数量
	ChildrenNumber int `json:"childrenNumber,omitempty"`
	// Children 展开后的子变量
	Children []*Variable `json:"children,omitempty"`
}

// HasChildren 变量是否可以继续展开
func (v *Variable) HasChildren() bool {
	return v.Reference != "" && v.Reference != "0"
}

// 定义的一些Event
var (
	LaunchSuccessEvent = NewLaunchEvent(true, "目标代码加载成功")
	LaunchFailEvent    = NewLaunchEvent(false, "目标代码加载失败")
)

// BreakpointEvent 断点事件
// 该event指示有关断点的某些信息已更改。
type BreakpointEvent struct {
	Reason      constants.BreakpointReasonType
	Breakpoints []*Breakpoint
}

func NewBreakpointEvent(reason constants.BreakpointReasonType, breakpoints []*Breakpoint) *BreakpointEvent {
	return &BreakpointEvent{
		Reason:      reason,
		Breakpoints: breakpoints,
	}
}

// OutputEvent
// 用户程序输出
type OutputEvent struct {
	Category string // stdout、stderr、console等
	Output   string // 输出内容
}

func NewOutputEvent(category string, output string) *OutputEvent {
	return &OutputEvent{
		Category: category,
		Output:   output,
	}
}

// StoppedEvent
// 该event表明，由于某些原因，被调试进程的执行已经停止。
// 这可能是由先前设置的断点、完成的步进请求、执行调试器语句等引起的。
type StoppedEvent struct {
	Reason constants.StoppedReasonType // 停止执行的原因
	File   string                      // 当前停止在哪个文件
	Line   int                         // 停止在某行
}

func NewStoppedEvent(reason constants.StoppedReasonType, file string, line int) *StoppedEvent {
	return &StoppedEvent{
		Reason: reason,
		File:   file,
		Line:   line,
	}
}

// ContinuedEvent
// 该event表明debug的执行已经继续。
type ContinuedEvent struct {
}

func NewContinuedEvent() *ContinuedEvent {
	return &ContinuedEvent{}
}

// ExitedEvent
// 该event表明被调试对象已经退出并返回exit code。但是并不意味着调试会话结束
type ExitedEvent struct {
	ExitCode int
	Message  string
}

func NewExitedEvent(code int, message string) *ExitedEvent {
	return &ExitedEvent{
		ExitCode: code,
		Message:  message,
	}
}

// TerminatedEvent
// 调试会话结束
type TerminatedEvent struct {
}

func NewTerminatedEvent() *TerminatedEvent {
	return &TerminatedEvent{}
}

// LaunchEvent
// 调试资源准备成功
type LaunchEvent struct {
	Success bool
	Message string // 启动调试器的消息
}

func NewLaunchEvent(success bool, message string) *LaunchEvent {
	return &LaunchEvent{
		Success: success,
		Message: message,
	}
}
