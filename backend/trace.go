package backend

import (
	"time"

	"github.com/fansqz/trace-debugger/constants"
	"github.com/fansqz/trace-debugger/debugger"
	e "github.com/fansqz/trace-debugger/error"
)

// Frame 某一步时的栈帧快照
type Frame struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	File      string               `json:"file"`
	Line      int                  `json:"line"`
	Variables []*debugger.Variable `json:"variables"`
}

// TraceElem 程序停止一次记录一个元素
type TraceElem struct {
	Step   int                         `json:"step"`
	File   string                      `json:"file"`
	Line   int                         `json:"line"`
	Reason constants.StoppedReasonType `json:"reason"`
	// Frames 工作区内的栈帧，最内层在前
	Frames []*Frame `json:"frames"`
	// Output 执行该行时产生的输出
	Output string `json:"output,omitempty"`
}

// BackendTrace 调试器逐步执行程序得到的完整记录
type BackendTrace struct {
	File      string                 `json:"file"`
	Language  constants.LanguageType `json:"language"`
	Elements  []*TraceElem           `json:"elements"`
	Output    string                 `json:"output"`
	ExitCode  int                    `json:"exitCode"`
	CreatedAt time.Time              `json:"createdAt"`
}

func NewBackendTrace(file string, languageType constants.LanguageType) *BackendTrace {
	return &BackendTrace{
		File:      file,
		Language:  languageType,
		Elements:  []*TraceElem{},
		CreatedAt: time.Now(),
	}
}

func (t *BackendTrace) Len() int {
	return len(t.Elements)
}

// Step 获取第step步，从0开始
func (t *BackendTrace) Step(step int) (*TraceElem, error) {
	if step < 0 || step >= len(t.Elements) {
		return nil, e.ErrStepOutOfRange
	}
	return t.Elements[step], nil
}

func (t *BackendTrace) last() *TraceElem {
	if len(t.Elements) == 0 {
		return nil
	}
	return t.Elements[len(t.Elements)-1]
}

// appendOutput 输出同时记录到产生它的步骤和整个程序
func (t *BackendTrace) appendOutput(output string) {
	t.Output += output
	if elem := t.last(); elem != nil {
		elem.Output += output
	}
}
