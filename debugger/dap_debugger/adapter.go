package dap_debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/fansqz/trace-debugger/constants"
	. "github.com/fansqz/trace-debugger/debugger"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/sirupsen/logrus"
)

// ConnectFunc 启动或连接调试适配器，返回与适配器通信的连接
type ConnectFunc func(ctx context.Context, option *StartOption) (io.ReadWriteCloser, error)

// AdapterConfig 调试适配器的可执行文件配置
type AdapterConfig struct {
	// PythonPath python解释器，需要安装debugpy
	PythonPath string
	// DlvPath delve可执行文件
	DlvPath string
}

// NewAdapterConnector 根据语言启动对应的调试适配器
// python使用debugpy.adapter的stdio模式，go使用dlv dap的socket模式
func NewAdapterConnector(conf AdapterConfig) ConnectFunc {
	return func(ctx context.Context, option *StartOption) (io.ReadWriteCloser, error) {
		switch option.Language {
		case constants.LanguagePython:
			python := conf.PythonPath
			if python == "" {
				python = "python3"
			}
			cmd := exec.Command(python, "-m", "debugpy.adapter")
			cmd.Dir = option.WorkPath
			return startStdioAdapter(cmd)
		case constants.LanguageGo:
			dlv := conf.DlvPath
			if dlv == "" {
				dlv = "dlv"
			}
			return startSocketAdapter(ctx, dlv, option.WorkPath)
		default:
			return nil, e.ErrLanguageNotSupported
		}
	}
}

// stdioConn 通过子进程的标准输入输出与适配器通信
type stdioConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func startStdioAdapter(cmd *exec.Cmd) (io.ReadWriteCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err = cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	logrus.Infof("[startStdioAdapter] adapter started, pid = %d", cmd.Process.Pid)
	return &stdioConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (s *stdioConn) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *stdioConn) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *stdioConn) Close() error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// Wait会关闭stdout
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// socketConn 通过tcp与适配器通信，关闭时结束适配器进程
type socketConn struct {
	net.Conn
	cmd *exec.Cmd
}

func startSocketAdapter(ctx context.Context, dlv string, workPath string) (io.ReadWriteCloser, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	cmd := exec.Command(dlv, "dap", "--listen", address)
	cmd.Dir = workPath
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", dlv, err)
	}
	logrus.Infof("[startSocketAdapter] adapter started, pid = %d, address = %s", cmd.Process.Pid, address)

	// 适配器监听端口需要时间，循环重试直到超时
	dialer := net.Dialer{Timeout: time.Second}
	for {
		conn, dialErr := dialer.DialContext(ctx, "tcp", address)
		if dialErr == nil {
			return &socketConn{Conn: conn, cmd: cmd}, nil
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("dial %s: %w", address, dialErr)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *socketConn) Close() error {
	err := s.Conn.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return err
}

func freePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// launchArguments 各语言launch请求的参数
func launchArguments(option *StartOption) (map[string]interface{}, error) {
	switch option.Language {
	case constants.LanguagePython:
		return map[string]interface{}{
			"name":           "backend-trace",
			"type":           "python",
			"request":        "launch",
			"program":        option.File,
			"cwd":            option.WorkPath,
			"console":        "internalConsole",
			"justMyCode":     true,
			"redirectOutput": true,
			"stopOnEntry":    option.StopOnEntry,
		}, nil
	case constants.LanguageGo:
		return map[string]interface{}{
			"name":        "backend-trace",
			"request":     "launch",
			"mode":        "debug",
			"program":     option.File,
			"cwd":         option.WorkPath,
			"stopOnEntry": option.StopOnEntry,
		}, nil
	default:
		return nil, e.ErrLanguageNotSupported
	}
}
