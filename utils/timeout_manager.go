package utils

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行reset命令，就会执行fun函数
type TimeoutManager struct {
	mutex   sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	fired   bool
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Start 开始计时
// 在timeout时间内没有执行reset命令，就会执行fun函数，fun最多执行一次
func (t *TimeoutManager) Start(timeout time.Duration, fun func()) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timeout = timeout
	t.fired = false
	t.timer = time.AfterFunc(timeout, func() {
		t.mutex.Lock()
		if t.fired {
			t.mutex.Unlock()
			return
		}
		t.fired = true
		t.mutex.Unlock()
		logrus.Infof("[TimeoutManager] Timer expired, performing action")
		fun()
	})
}

// Reset 重置计时器，计时器已经触发时不做处理
func (t *TimeoutManager) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.timer == nil || t.fired {
		return
	}
	t.timer.Stop()
	t.timer.Reset(t.timeout)
}

// Cancel 取消计时
func (t *TimeoutManager) Cancel() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.fired = true
}

// Fired 计时器是否已经触发或取消
func (t *TimeoutManager) Fired() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.fired
}
