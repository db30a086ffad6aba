package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fansqz/trace-debugger/backend"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/fansqz/trace-debugger/metrics"
	"github.com/fansqz/trace-debugger/protocol"
	"github.com/fansqz/trace-debugger/source"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Web 通过http展示trace，直到ctx结束
type Web struct {
	addr     string
	recorder *metrics.Recorder
	// ready 监听成功后写入实际地址
	ready chan string
}

func NewWeb(addr string, recorder *metrics.Recorder) *Web {
	return &Web{
		addr:     addr,
		recorder: recorder,
		ready:    make(chan string, 1),
	}
}

// Ready 监听成功后返回实际监听的地址
func (w *Web) Ready() <-chan string {
	return w.ready
}

func (w *Web) Init(ctx context.Context, trace *backend.BackendTrace) error {
	listener, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.addr, err)
	}
	server := &http.Server{
		Handler:           w.Handler(trace),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logrus.Infof("[Web] serving trace on http://%s", listener.Addr())
	w.ready <- listener.Addr().String()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logrus.Infof("[Web] shutting down")
		return server.Shutdown(shutdownCtx)
	}
}

// Handler trace的http接口
func (w *Web) Handler(trace *backend.BackendTrace) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = rw.Write([]byte(indexHTML))
	})
	r.Get("/api/trace", func(rw http.ResponseWriter, req *http.Request) {
		writeJSON(rw, http.StatusOK, protocol.NewSuccessResponse(protocol.NewTraceSummary(trace)))
	})
	r.Get("/api/trace/steps/{step}", func(rw http.ResponseWriter, req *http.Request) {
		step, err := strconv.Atoi(chi.URLParam(req, "step"))
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, protocol.NewFailResponse("step must be an integer"))
			return
		}
		elem, err := trace.Step(step)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, e.ErrStepOutOfRange) {
				status = http.StatusNotFound
			}
			writeJSON(rw, status, protocol.NewFailResponse(err.Error()))
			return
		}
		writeJSON(rw, http.StatusOK, protocol.NewSuccessResponse(&protocol.StepResponse{
			Total:   trace.Len(),
			Element: elem,
			Output:  outputUntil(trace, step),
		}))
	})
	r.Get("/api/source", func(rw http.ResponseWriter, req *http.Request) {
		content, err := os.ReadFile(trace.File)
		if err != nil {
			writeJSON(rw, http.StatusNotFound, protocol.NewFailResponse("source file is not available"))
			return
		}
		response := &protocol.SourceResponse{File: trace.File, Lines: readSourceLines(trace.File)}
		if outline, err := source.Analyze(req.Context(), content, trace.Language); err == nil {
			response.Outline = outline
		}
		writeJSON(rw, http.StatusOK, protocol.NewSuccessResponse(response))
	})
	if w.recorder != nil {
		r.Method(http.MethodGet, "/metrics", w.recorder.Handler())
	}
	return r
}

func writeJSON(rw http.ResponseWriter, status int, response *protocol.Response) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(response); err != nil {
		logrus.Warnf("[Web] marshal response fail, err = %v", err)
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>Trace</title>
<style>
body { font-family: monospace; margin: 2em; }
.current { background: #fde68a; }
pre { margin: 0; }
#vars, #output { margin-top: 1em; white-space: pre; }
</style>
</head>
<body>
<h2 id="title"></h2>
<div><button id="prev">prev</button> <span id="pos"></span> <button id="next">next</button></div>
<div id="code"></div>
<div id="vars"></div>
<div id="output"></div>
<script>
let step = 0, total = 0, lines = [];
async function get(url) { return (await (await fetch(url)).json()).data; }
function dump(vars, indent) {
  return (vars || []).map(v => indent + v.name + ": " + v.type + " = " + v.value + "\n" + dump(v.children, indent + "  ")).join("");
}
async function show() {
  const s = await get("/api/trace/steps/" + step);
  document.getElementById("pos").textContent = (step + 1) + " / " + total;
  document.getElementById("code").innerHTML = lines.map((l, i) =>
    "<pre class='" + (i + 1 === s.element.line ? "current" : "") + "'>" + String(i + 1).padStart(4) + " | " +
    l.replace(/&/g, "&amp;").replace(/</g, "&lt;") + "</pre>").join("");
  document.getElementById("vars").textContent = s.element.frames.map(f => f.name + "\n" + dump(f.variables, "  ")).join("");
  document.getElementById("output").textContent = s.output;
}
(async () => {
  const t = await get("/api/trace");
  total = t.steps;
  document.getElementById("title").textContent = t.file;
  const src = await get("/api/source");
  lines = src ? src.lines : [];
  if (total > 0) show();
})();
document.getElementById("prev").onclick = () => { if (step > 0) { step--; show(); } };
document.getElementById("next").onclick = () => { if (step < total - 1) { step++; show(); } };
</script>
</body>
</html>
`
