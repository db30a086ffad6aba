package protocol

import (
	"time"

	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/constants"
	"github.com/fansqz/trace-debugger/source"
)

// TraceSummary trace的概要信息
type TraceSummary struct {
	File      string                 `json:"file"`
	Language  constants.LanguageType `json:"language"`
	Steps     int                    `json:"steps"`
	ExitCode  int                    `json:"exitCode"`
	Output    string                 `json:"output"`
	CreatedAt time.Time              `json:"createdAt"`
}

func NewTraceSummary(trace *backend.BackendTrace) *TraceSummary {
	return &TraceSummary{
		File:      trace.File,
		Language:  trace.Language,
		Steps:     trace.Len(),
		ExitCode:  trace.ExitCode,
		Output:    trace.Output,
		CreatedAt: trace.CreatedAt,
	}
}

// StepResponse 某一步的详细信息
type StepResponse struct {
	Total   int                `json:"total"`
	Element *backend.TraceElem `json:"element"`
	// Output 截止到这一步程序的全部输出
	Output string `json:"output"`
}

// SourceResponse 被调试的源码
type SourceResponse struct {
	File    string          `json:"file"`
	Lines   []string        `json:"lines"`
	Outline *source.Outline `json:"outline,omitempty"`
}
