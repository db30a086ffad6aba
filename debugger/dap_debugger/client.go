package dap_debugger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	e "github.com/fansqz/trace-debugger/error"
	"github.com/fansqz/trace-debugger/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// dapClient 与调试适配器通信的DAP客户端
// 请求通过seq与响应对应，事件和连接关闭通过回调异步通知
type dapClient struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader

	writeLock sync.Mutex
	seq       int64

	pendingLock sync.Mutex
	pending     map[int]chan dap.Message
	err         error

	onEvent func(dap.EventMessage)
	onClose func(error)

	closeOnce sync.Once
}

func newDAPClient(conn io.ReadWriteCloser, onEvent func(dap.EventMessage), onClose func(error)) *dapClient {
	c := &dapClient{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		pending: make(map[int]chan dap.Message),
		onEvent: onEvent,
		onClose: onClose,
	}
	gosync.Go(context.Background(), func(ctx context.Context) {
		c.receiveLoop()
	})
	return c
}

// receiveLoop 循环读取适配器消息
func (c *dapClient) receiveLoop() {
	for {
		content, err := dap.ReadBaseMessage(c.reader)
		if err != nil {
			c.fail(err)
			return
		}
		msg, err := dap.DecodeProtocolMessage(content)
		if err != nil {
			// 适配器的自定义事件go-dap无法解析，跳过即可
			logrus.Debugf("[dapClient] skip message, err = %v", err)
			continue
		}
		switch m := msg.(type) {
		case dap.ResponseMessage:
			c.dispatchResponse(m)
		case dap.EventMessage:
			if c.onEvent != nil {
				c.onEvent(m)
			}
		case dap.RequestMessage:
			c.rejectReverseRequest(m)
		}
	}
}

func (c *dapClient) dispatchResponse(resp dap.ResponseMessage) {
	seq := resp.GetResponse().RequestSeq
	c.pendingLock.Lock()
	ch, ok := c.pending[seq]
	delete(c.pending, seq)
	c.pendingLock.Unlock()
	if !ok {
		logrus.Warnf("[dapClient] response without request, seq = %d, command = %s", seq, resp.GetResponse().Command)
		return
	}
	ch <- resp
}

// rejectReverseRequest 不支持runInTerminal等反向请求
func (c *dapClient) rejectReverseRequest(req dap.RequestMessage) {
	r := req.GetRequest()
	logrus.Warnf("[dapClient] reverse request %s is not supported", r.Command)
	resp := newErrorResponse(r.Seq, r.Command, fmt.Sprintf("%s is not supported", r.Command))
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := dap.WriteProtocolMessage(c.conn, resp); err != nil {
		logrus.Errorf("[dapClient] write response fail, err = %v", err)
	}
}

// fail 连接断开，唤醒所有等待中的请求
func (c *dapClient) fail(err error) {
	c.pendingLock.Lock()
	if c.err == nil {
		c.err = err
	}
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
	c.pendingLock.Unlock()
	if c.onClose != nil {
		c.onClose(err)
	}
}

// send 发送请求，返回接收响应的channel
func (c *dapClient) send(request dap.RequestMessage) (chan dap.Message, error) {
	req := request.GetRequest()
	req.Seq = int(atomic.AddInt64(&c.seq, 1))
	req.Type = "request"

	ch := make(chan dap.Message, 1)
	c.pendingLock.Lock()
	if c.err != nil {
		c.pendingLock.Unlock()
		return nil, fmt.Errorf("%w: %v", e.ErrDebuggerIsClosed, c.err)
	}
	c.pending[req.Seq] = ch
	c.pendingLock.Unlock()

	c.writeLock.Lock()
	err := dap.WriteProtocolMessage(c.conn, request)
	c.writeLock.Unlock()
	if err != nil {
		c.pendingLock.Lock()
		delete(c.pending, req.Seq)
		c.pendingLock.Unlock()
		return nil, fmt.Errorf("write %s request: %w", req.Command, err)
	}
	return ch, nil
}

// wait 等待请求的响应
func (c *dapClient) wait(ctx context.Context, ch chan dap.Message) (dap.ResponseMessage, error) {
	select {
	case msg, ok := <-ch:
		return c.check(msg, ok)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// check 校验响应是否成功
func (c *dapClient) check(msg dap.Message, ok bool) (dap.ResponseMessage, error) {
	if !ok {
		c.pendingLock.Lock()
		err := c.err
		c.pendingLock.Unlock()
		return nil, fmt.Errorf("%w: %v", e.ErrDebuggerIsClosed, err)
	}
	resp, isResp := msg.(dap.ResponseMessage)
	if !isResp {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	if !resp.GetResponse().Success {
		return nil, responseError(resp)
	}
	return resp, nil
}

// call 发送请求并同步等待响应
func (c *dapClient) call(ctx context.Context, request dap.RequestMessage) (dap.ResponseMessage, error) {
	ch, err := c.send(request)
	if err != nil {
		return nil, err
	}
	return c.wait(ctx, ch)
}

func (c *dapClient) close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func responseError(resp dap.ResponseMessage) error {
	r := resp.GetResponse()
	message := r.Message
	if er, ok := resp.(*dap.ErrorResponse); ok && er.Body.Error != nil && er.Body.Error.Format != "" {
		message = er.Body.Error.Format
	}
	return fmt.Errorf("%s request failed: %s", r.Command, message)
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{
			Type: "request",
		},
		Command: command,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
