package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/muesli/termenv"
	"github.com/sirupsen/logrus"
)

var errNoActiveEditor = errors.New("no active editor")

// Workspace 命令行下的编辑器宿主，在内存中记录打开的文档，错误输出到终端
type Workspace struct {
	lock    sync.Mutex
	editors []Editor
	// active 激活文档的下标，-1表示没有
	active int
	output *termenv.Output
}

func NewWorkspace(errOut io.Writer) *Workspace {
	return &Workspace{
		active: -1,
		output: termenv.NewOutput(errOut),
	}
}

// Open 打开文档，已经打开的文档只会被激活
func (w *Workspace) Open(path string) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.open(path)
}

func (w *Workspace) open(path string) {
	path = absPath(path)
	for i, editor := range w.editors {
		if editor.Path == path {
			w.active = i
			return
		}
	}
	w.editors = append(w.editors, Editor{Path: path})
	w.active = len(w.editors) - 1
}

// Active 当前激活的文档
func (w *Workspace) Active() (string, bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.active < 0 {
		return "", false
	}
	return w.editors[w.active].Path, true
}

func (w *Workspace) ListOpenEditors(ctx context.Context) ([]Editor, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return append([]Editor{}, w.editors...), nil
}

func (w *Workspace) CloseActiveEditor(ctx context.Context) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.active < 0 {
		return errNoActiveEditor
	}
	logrus.Infof("[Workspace] CloseActiveEditor, path = %s", w.editors[w.active].Path)
	w.editors = append(w.editors[:w.active], w.editors[w.active+1:]...)
	w.active = len(w.editors) - 1
	return nil
}

func (w *Workspace) ShowDocument(ctx context.Context, path string) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	logrus.Infof("[Workspace] ShowDocument, path = %s", path)
	w.open(path)
	return nil
}

func (w *Workspace) ShowError(ctx context.Context, message string) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	_, err := fmt.Fprintln(w.output, w.output.String(message).Foreground(w.output.Color("1")).Bold())
	return err
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
