package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kioskguard/internal/logger"
	"kioskguard/internal/session"
	"kioskguard/pkg/model"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("会话不存在")

// Service 服务实现
type Service struct {
	sessions *session.Manager
	log      logger.Logger
}

// New 创建服务
func New(l logger.Logger, opts ...session.Option) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{sessions: session.NewManager(l, opts...), log: l}
}

// Close 停止所有会话
func (s *Service) Close() {
	s.sessions.CloseAll()
}

// StartSession 启动会话
func (s *Service) StartSession(cfg model.SessionConfig) (model.SessionID, error) {
	id := model.SessionID(uuid.NewString())
	if _, err := s.sessions.Create(id, cfg); err != nil {
		return "", err
	}
	return id, nil
}

// StopSession 停止会话并分离所有目标
func (s *Service) StopSession(id model.SessionID) error {
	if !s.sessions.Close(id) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// ListTargets 列出目标
func (s *Service) ListTargets(id model.SessionID) ([]model.TargetInfo, error) {
	ses, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ses.Manager.ListTargets(ctx)
}

// AttachTarget 附加目标
func (s *Service) AttachTarget(id model.SessionID, target model.TargetID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	return ses.Manager.AttachTarget(target)
}

// DetachTarget 分离目标
func (s *Service) DetachTarget(id model.SessionID, target model.TargetID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	return ses.Manager.DetachTarget(target)
}

// SubscribeEvents 订阅事件
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.Event, error) {
	ses, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ses.Events, nil
}

func (s *Service) get(id model.SessionID) (*session.Session, error) {
	ses, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ses, nil
}
