package constants

type DebugEventType string

const (
	BreakpointEvent DebugEventType = "breakpoint"
	OutputEvent     DebugEventType = "output"
	StoppedEvent    DebugEventType = "stopped"
	ContinuedEvent  DebugEventType = "continued"
	ExitedEvent     DebugEventType = "exited"
	TerminatedEvent DebugEventType = "terminated"
	LaunchEvent     DebugEventType = "launch"
)

// BreakpointReasonType 断点改变类型
type BreakpointReasonType string

const (
	ChangeType  BreakpointReasonType = "change"
	NewType     BreakpointReasonType = "new"
	RemovedType BreakpointReasonType = "removed"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	EntryStopped      StoppedReasonType = "entry"
	ExceptionStopped  StoppedReasonType = "exception"
	PauseStopped      StoppedReasonType = "pause"
)

// FrontendType 可视化前端类型
type FrontendType string

const (
	TerminalFrontend FrontendType = "terminal"
	WebFrontend      FrontendType = "web"
)

// OutputType 后端trace的输出位置
type OutputType string

const (
	FileOutput  OutputType = "file"
	RedisOutput OutputType = "redis"
)
