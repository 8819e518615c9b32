package api

import (
	"kioskguard/internal/logger"
	"kioskguard/internal/service"
	"kioskguard/pkg/model"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = service.ErrSessionNotFound

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// ListTargets 列出目标
	ListTargets(id model.SessionID) ([]model.TargetInfo, error)

	// AttachTarget 附加目标
	AttachTarget(id model.SessionID, target model.TargetID) error

	// DetachTarget 分离目标
	DetachTarget(id model.SessionID, target model.TargetID) error

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.Event, error)
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger) Service {
	return service.New(l)
}
