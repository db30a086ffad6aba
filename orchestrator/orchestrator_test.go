package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/constants"
	"github.com/fansqz/trace-debugger/editor"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/fansqz/trace-debugger/metrics"
	"github.com/fansqz/trace-debugger/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sourceFile = "/work/main.py"
	tempFile   = "/tmp/trace/1234/main.py"
)

// recorder 记录所有协作者被调用的顺序
type recorder struct {
	calls []string
}

func (r *recorder) add(call string) {
	r.calls = append(r.calls, call)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (r *recorder) index(call string) int {
	for i, c := range r.calls {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeHost struct {
	*recorder
	editors []editor.Editor
	errors  []string
	shown   []string
}

func (h *fakeHost) ListOpenEditors(ctx context.Context) ([]editor.Editor, error) {
	h.add("listOpenEditors")
	return h.editors, nil
}

func (h *fakeHost) CloseActiveEditor(ctx context.Context) error {
	h.add("closeActiveEditor")
	return nil
}

func (h *fakeHost) ShowDocument(ctx context.Context, path string) error {
	h.add("showDocument")
	h.shown = append(h.shown, path)
	return nil
}

func (h *fakeHost) ShowError(ctx context.Context, message string) error {
	h.add("showError")
	h.errors = append(h.errors, message)
	return nil
}

type fakeFiles struct {
	*recorder
	createErr error
	created   []string
	removed   []string
}

func (f *fakeFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f.add("readFile")
	return []byte("a = 1\n"), nil
}

func (f *fakeFiles) CreateTempFile(ctx context.Context, path string, content []byte) (string, error) {
	f.add("createTempFile")
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, path)
	return tempFile, nil
}

func (f *fakeFiles) Remove(tempFile string) error {
	f.add("removeTempFile")
	f.removed = append(f.removed, tempFile)
	return nil
}

type fakeSession struct {
	*recorder
	startErr    error
	generateErr error
	trace       *backend.BackendTrace
	started     []string
}

func (s *fakeSession) StartDebugging(ctx context.Context, file string) error {
	s.add("startDebugging")
	s.started = append(s.started, file)
	return s.startErr
}

func (s *fakeSession) GenerateBackendTrace(ctx context.Context) (*backend.BackendTrace, error) {
	s.add("generateBackendTrace")
	return s.trace, s.generateErr
}

type fakeWriter struct {
	*recorder
	err     error
	sources []string
}

func (w *fakeWriter) Write(ctx context.Context, trace *backend.BackendTrace, sourcePath string) (string, error) {
	w.add("write")
	w.sources = append(w.sources, sourcePath)
	return "/work/main.trace.json", w.err
}

type fakeFrontend struct {
	*recorder
	traces []*backend.BackendTrace
}

func (f *fakeFrontend) Init(ctx context.Context, trace *backend.BackendTrace) error {
	f.add("initFrontend")
	f.traces = append(f.traces, trace)
	return nil
}

type fixture struct {
	calls    *recorder
	host     *fakeHost
	files    *fakeFiles
	session  *fakeSession
	writer   *fakeWriter
	frontend *fakeFrontend
	metrics  *metrics.Recorder
	orch     *Orchestrator
}

func newFixture() *fixture {
	calls := &recorder{}
	f := &fixture{
		calls:    calls,
		host:     &fakeHost{recorder: calls, editors: []editor.Editor{{Path: "/work/other.py"}, {Path: sourceFile}}},
		files:    &fakeFiles{recorder: calls},
		session:  &fakeSession{recorder: calls, trace: backend.NewBackendTrace(tempFile, constants.LanguagePython)},
		writer:   &fakeWriter{recorder: calls},
		frontend: &fakeFrontend{recorder: calls},
		metrics:  metrics.NewRecorder(),
	}
	f.orch = NewOrchestrator(f.host, f.files, func() backend.Session { return f.session }, f.writer, f.frontend, f.metrics)
	return f
}

func TestRun_FileUndefined(t *testing.T) {
	f := newFixture()
	trace, err := f.orch.Run(context.Background(), "", config.Default())
	assert.ErrorIs(t, err, e.ErrFileUndefined)
	assert.Nil(t, trace)
	// 只展示一次错误，没有其他副作用
	assert.Equal(t, []string{"showError"}, f.calls.calls)
	assert.Equal(t, []string{FileUndefinedMessage}, f.host.errors)
}

func TestRun_OnDemand(t *testing.T) {
	f := newFixture()
	conf := config.Default()
	conf.OnDemandTrace = true
	trace, err := f.orch.Run(context.Background(), sourceFile, conf)
	assert.NoError(t, err)
	assert.Nil(t, trace)
	assert.Empty(t, f.calls.calls)
}

func TestRun_Batch(t *testing.T) {
	f := newFixture()
	trace, err := f.orch.Run(context.Background(), sourceFile, config.Default())
	require.NoError(t, err)
	assert.Same(t, f.session.trace, trace)

	assert.Equal(t, []string{
		"listOpenEditors", "readFile", "createTempFile", "closeActiveEditor",
		"startDebugging", "generateBackendTrace", "showDocument", "initFrontend",
	}, f.calls.calls)
	assert.Equal(t, []string{sourceFile}, f.files.created)
	assert.Equal(t, []string{tempFile}, f.session.started)
	assert.Equal(t, []string{tempFile}, f.host.shown)
	assert.Equal(t, []*backend.BackendTrace{f.session.trace}, f.frontend.traces)
	assert.Empty(t, f.host.errors)
	assert.Empty(t, f.files.removed)
	// 没有开启输出时不保存
	assert.Equal(t, 0, f.calls.count("write"))
}

func TestRun_OutputBackendTrace(t *testing.T) {
	f := newFixture()
	conf := config.Default()
	conf.OutputBackendTrace = true
	_, err := f.orch.Run(context.Background(), sourceFile, conf)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls.count("write"))
	assert.Less(t, f.calls.index("write"), f.calls.index("initFrontend"))
	// trace保存在原文件旁边，而不是临时文件
	assert.Equal(t, []string{sourceFile}, f.writer.sources)
}

func TestRun_OutputFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	f.writer.err = errors.New("disk full")
	conf := config.Default()
	conf.OutputBackendTrace = true
	trace, err := f.orch.Run(context.Background(), sourceFile, conf)
	require.NoError(t, err)
	assert.NotNil(t, trace)
	assert.Equal(t, 1, f.calls.count("initFrontend"))
	assert.Empty(t, f.host.errors)
}

func TestRun_StartFailed(t *testing.T) {
	f := newFixture()
	f.session.startErr = errors.New("adapter exited")
	conf := config.Default()
	conf.OutputBackendTrace = true
	trace, err := f.orch.Run(context.Background(), sourceFile, conf)
	assert.ErrorIs(t, err, e.ErrSessionStartFailed)
	assert.Nil(t, trace)
	assert.Equal(t, []string{StartFailedMessage}, f.host.errors)
	for _, call := range []string{"generateBackendTrace", "write", "showDocument", "initFrontend"} {
		assert.Equal(t, 0, f.calls.count(call), call)
	}
	// 启动失败后不留下临时文件
	assert.Equal(t, []string{tempFile}, f.files.removed)
}

func TestRun_TraceUnavailable(t *testing.T) {
	f := newFixture()
	f.session.trace = nil
	trace, err := f.orch.Run(context.Background(), sourceFile, config.Default())
	assert.ErrorIs(t, err, e.ErrTraceUnavailable)
	assert.Nil(t, trace)

	f = newFixture()
	f.session.trace = nil
	f.session.generateErr = e.ErrStepLimitReached
	_, err = f.orch.Run(context.Background(), sourceFile, config.Default())
	assert.ErrorIs(t, err, e.ErrTraceUnavailable)
	assert.ErrorIs(t, err, e.ErrStepLimitReached)
	assert.Equal(t, 0, f.calls.count("showDocument"))
	assert.Equal(t, 0, f.calls.count("initFrontend"))
	assert.Empty(t, f.host.errors)
	assert.Equal(t, []string{tempFile}, f.files.removed)
}

func TestRun_NoMatchingEditor(t *testing.T) {
	f := newFixture()
	f.host.editors = []editor.Editor{{Path: "/work/other.py"}}
	trace, err := f.orch.Run(context.Background(), sourceFile, config.Default())
	assert.ErrorIs(t, err, e.ErrEditorNotFound)
	assert.Nil(t, trace)
	// 除了查询编辑器之外没有任何副作用
	assert.Equal(t, []string{"listOpenEditors"}, f.calls.calls)
}

func TestRun_TempFileFailed(t *testing.T) {
	f := newFixture()
	f.files.createErr = errors.New("read-only file system")
	_, err := f.orch.Run(context.Background(), sourceFile, config.Default())
	assert.Error(t, err)
	assert.Equal(t, 0, f.calls.count("closeActiveEditor"))
	assert.Equal(t, 0, f.calls.count("startDebugging"))
	assert.Empty(t, f.files.removed)
}

func TestRun_NilConfig(t *testing.T) {
	f := newFixture()
	trace, err := f.orch.Run(context.Background(), sourceFile, nil)
	require.NoError(t, err)
	assert.NotNil(t, trace)
	assert.Equal(t, 0, f.calls.count("write"))
}

func TestRun_RemovesTempFileOnFailure(t *testing.T) {
	work := t.TempDir()
	dir := t.TempDir()
	file := filepath.Join(dir, "main.py")
	require.NoError(t, os.WriteFile(file, []byte("a = 1\n"), 0o644))

	f := newFixture()
	f.host.editors = []editor.Editor{{Path: file}}
	f.session.startErr = errors.New("adapter exited")
	orch := NewOrchestrator(f.host, source.NewTempFiles(work), func() backend.Session { return f.session },
		f.writer, f.frontend, f.metrics)
	_, err := orch.Run(context.Background(), file, config.Default())
	assert.ErrorIs(t, err, e.ErrSessionStartFailed)
	require.Len(t, f.session.started, 1)
	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
