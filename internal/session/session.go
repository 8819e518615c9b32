package session

import (
	"time"

	"kioskguard/internal/cdp"
	"kioskguard/pkg/model"
)

// Session 一个 DevTools 端点上的业务会话
type Session struct {
	ID        model.SessionID
	Config    model.SessionConfig
	CreatedAt time.Time

	Manager *cdp.Manager
	Events  chan model.Event
}

// New 创建会话，事件容量未指定时使用 DefaultSettings
func New(id model.SessionID, cfg model.SessionConfig) *Session {
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = DefaultSettings.EventCapacity
	}
	return &Session{
		ID:        id,
		Config:    cfg,
		CreatedAt: time.Now(),
		Events:    make(chan model.Event, cfg.EventCapacity),
	}
}
