package frontend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/debugger"
	"github.com/fansqz/trace-debugger/source"
	"github.com/fansqz/trace-debugger/utils/gosync"
	"github.com/muesli/termenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const keyCtrlC = 3

// Terminal 在终端中展示trace
// 输入是终端时进入交互模式，按键切换步骤，否则依次输出所有步骤
type Terminal struct {
	in     io.Reader
	out    io.Writer
	output *termenv.Output
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:     in,
		out:    out,
		output: termenv.NewOutput(out),
	}
}

func (t *Terminal) Init(ctx context.Context, trace *backend.BackendTrace) error {
	logrus.Infof("[Terminal] Init, steps = %d", trace.Len())
	summary, err := t.renderSummary(trace)
	if err != nil {
		return err
	}
	if _, err = io.WriteString(t.out, summary); err != nil {
		return err
	}
	if trace.Len() == 0 {
		_, err = fmt.Fprintln(t.out, "no steps recorded")
		return err
	}

	lines := readSourceLines(trace.File)
	outline := readOutline(ctx, trace)
	if f, ok := t.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return t.interactive(ctx, f, trace, lines, outline)
	}
	for i := range trace.Elements {
		if _, err = io.WriteString(t.out, t.renderStep(trace, lines, outline, i)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// renderSummary 用glamour渲染trace概要
func (t *Terminal) renderSummary(trace *backend.BackendTrace) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Trace of %s\n\n", filepath.Base(trace.File))
	sb.WriteString("| Language | Steps | Exit code | Created |\n|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %s | %d | %d | %s |\n", trace.Language, trace.Len(), trace.ExitCode,
		trace.CreatedAt.Format("2006-01-02 15:04:05"))
	if trace.Output != "" {
		sb.WriteString("\n## Output\n\n```\n")
		sb.WriteString(strings.TrimRight(trace.Output, "\n"))
		sb.WriteString("\n```\n")
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return renderer.Render(sb.String())
}

// renderStep 渲染一步：位置、源码行、栈帧变量和输出
func (t *Terminal) renderStep(trace *backend.BackendTrace, lines []string, outline *source.Outline, step int) string {
	elem := trace.Elements[step]
	var sb strings.Builder
	location := fmt.Sprintf("%s:%d", filepath.Base(elem.File), elem.Line)
	if outline != nil {
		if function, ok := outline.FunctionAt(elem.Line); ok {
			location += " in " + function.Name
		}
	}
	header := fmt.Sprintf("Step %d/%d  %s  (%s)", step+1, trace.Len(), location, elem.Reason)
	sb.WriteString(t.output.String(header).Bold().String())
	sb.WriteString("\n")
	if elem.Line > 0 && elem.Line <= len(lines) {
		lineNo := t.output.String(fmt.Sprintf("%4d |", elem.Line)).Faint().String()
		sb.WriteString(fmt.Sprintf("%s %s\n", lineNo, lines[elem.Line-1]))
	}
	for _, frame := range elem.Frames {
		sb.WriteString(fmt.Sprintf("  frame %s (line %d)\n", frame.Name, frame.Line))
		t.writeVariables(&sb, frame.Variables, 2)
	}
	if elem.Output != "" {
		sb.WriteString(t.output.String("  output:").Foreground(t.output.Color("2")).String())
		sb.WriteString("\n")
		for _, line := range strings.Split(strings.TrimRight(elem.Output, "\n"), "\n") {
			sb.WriteString("    " + line + "\n")
		}
	}
	return sb.String()
}

func (t *Terminal) writeVariables(sb *strings.Builder, variables []*debugger.Variable, indent int) {
	for _, v := range variables {
		value := ""
		if v.Value != nil {
			value = *v.Value
		}
		name := t.output.String(v.Name).Foreground(t.output.Color("6")).String()
		sb.WriteString(fmt.Sprintf("%s%s: %s = %s\n", strings.Repeat("  ", indent), name, v.Type, value))
		t.writeVariables(sb, v.Children, indent+1)
	}
}

// interactive 原始模式下读取按键：n/空格 下一步，p 上一步，g 第一步，G 最后一步，q 退出
func (t *Terminal) interactive(ctx context.Context, in *os.File, trace *backend.BackendTrace, lines []string, outline *source.Outline) error {
	state, err := term.MakeRaw(int(in.Fd()))
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(int(in.Fd()), state)
	}()

	keys := make(chan byte)
	quit := make(chan struct{})
	readerDone := make(chan struct{})
	gosync.Go(ctx, func(ctx context.Context) {
		defer close(readerDone)
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			select {
			case keys <- buf[0]:
			case <-quit:
				return
			}
		}
	})
	defer stopReader(in, quit, readerDone)

	step := 0
	for {
		t.output.ClearScreen()
		t.output.MoveCursor(1, 1)
		// 原始模式下换行不会回到行首
		page := t.renderStep(trace, lines, outline, step) + "\n[n]ext [p]rev [g]first [G]last [q]uit\n"
		if _, err = io.WriteString(t.out, strings.ReplaceAll(page, "\n", "\r\n")); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			switch key {
			case 'n', ' ', 'j':
				if step < trace.Len()-1 {
					step++
				}
			case 'p', 'k':
				if step > 0 {
					step--
				}
			case 'g':
				step = 0
			case 'G':
				step = trace.Len() - 1
			case 'q', keyCtrlC:
				return nil
			}
		}
	}
}

// stopReader 让读取按键的协程退出，避免它在退出后继续占用输入
func stopReader(in *os.File, quit chan struct{}, readerDone chan struct{}) {
	close(quit)
	if err := in.SetReadDeadline(time.Now()); err != nil {
		// 不支持deadline的输入只能等下一次按键后退出
		logrus.Debugf("[Terminal] set read deadline fail, err = %v", err)
		return
	}
	<-readerDone
	_ = in.SetReadDeadline(time.Time{})
}
