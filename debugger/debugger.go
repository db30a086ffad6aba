package debugger

import (
	"context"
)

type NotificationCallback func(interface{})

// Debugger
// 用户的一次调试过程处理
// 需要保证并发安全
type Debugger interface {
	// Start
	// 开始调试，同步完成调试器的启动和目标程序的加载，callback用来异步处理调试事件
	Start(ctx context.Context, option *StartOption) error
	// StepOver 下一步，不会进入函数内部
	StepOver(ctx context.Context) error
	// StepIn 下一步，会进入函数内部
	StepIn(ctx context.Context) error
	// StepOut 单步退出
	StepOut(ctx context.Context) error
	// Continue 忽略继续执行
	Continue(ctx context.Context) error
	// AddBreakpoints 添加断点
	AddBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error
	// RemoveBreakpoints 移除断点
	RemoveBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error
	// GetStackTrace 获取栈帧
	GetStackTrace(ctx context.Context) ([]*StackFrame, error)
	// GetFrameVariables 获取某个栈帧中的变量列表
	GetFrameVariables(ctx context.Context, frameId string) ([]*Variable, error)
	// GetVariables 查看引用的值
	GetVariables(ctx context.Context, reference string) ([]*Variable, error)
	// Terminate 终止调试
	Terminate(ctx context.Context) error
}
