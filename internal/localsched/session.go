package localsched

import (
	"context"
	"sync"
)

// Factory 为登录用户构建调度器
type Factory func(userID string) *Scheduler

// Session 登录期间持有一个调度器，登出时撤掉
type Session struct {
	factory Factory

	mu        sync.Mutex
	userID    string
	scheduler *Scheduler
}

func NewSession(factory Factory) *Session {
	return &Session{factory: factory}
}

// SignIn 先撤掉上一个用户的调度器。权限未授予时返回 ErrPermissionNotGranted，会话保持空
func (s *Session) SignIn(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	sched := s.factory(userID)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	s.userID = userID
	s.scheduler = sched
	return nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) Scheduler() *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler
}

func (s *Session) teardownLocked() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.scheduler = nil
	s.userID = ""
}
