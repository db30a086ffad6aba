package utils

import "sync"

// Status 调试器状态
type Status string

const (
	// Init 调试初始化状态
	Init Status = "init"
	// Stopped 用户程序暂停
	Stopped Status = "stopped"
	// Running 用户程序运行中
	Running Status = "running"
	// Finish 调试结束状态
	Finish Status = "finish"
)

// StatusManager 记录调试器的状态的
type StatusManager struct {
	lock   sync.RWMutex
	status Status
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Init,
	}
}

func (s *StatusManager) Set(status Status) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() Status {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...Status) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}

// CompareAndSet 当前状态为old时设置为new，返回是否设置成功
func (s *StatusManager) CompareAndSet(old, new Status) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	if s.status != old {
		return false
	}
	s.status = new
	return true
}
