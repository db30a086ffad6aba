package error

import "errors"

var (
	ErrLanguageNotSupported       = errors.New("This language is not supported")
	ErrDebuggerIsClosed           = errors.New("debug is closed")
	ErrDebuggerNotStarted         = errors.New("debug is not started")
	ErrProgramIsRunningOptionFail = errors.New("The program is running")

	ErrFileUndefined      = errors.New("The passed filename variable was undefined")
	ErrEditorNotFound     = errors.New("no open editor matches the target file")
	ErrSessionStartFailed = errors.New("Debug Session could not be started")
	ErrTraceUnavailable   = errors.New("backend trace could not be generated")
	ErrStepLimitReached   = errors.New("step limit reached before the program exited")
	ErrStepTimeout        = errors.New("debugger did not respond in time")
	ErrTraceNotFound      = errors.New("backend trace not found")
	ErrStepOutOfRange     = errors.New("step out of range")
)
