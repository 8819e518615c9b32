package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"kioskguard/internal/cdp"
	"kioskguard/internal/idle"
	"kioskguard/internal/logger"
	"kioskguard/pkg/model"

	"github.com/benbjohnson/clock"
)

var (
	ErrSessionExists   = errors.New("会话已存在")
	ErrMissingDevTools = errors.New("devToolsURL 不能为空")
)

// Defaults 会话配置未指定时采用的取值
type Defaults struct {
	IdleTimeout   time.Duration
	EventCapacity int
}

// DefaultSettings 默认会话取值
var DefaultSettings = Defaults{
	IdleTimeout:   idle.DefaultTimeout,
	EventCapacity: 128,
}

// Manager 全局会话管理器，负责补全配置并管理每个会话的 CDP 连接
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
	defaults Defaults
	clock    clock.Clock
	log      logger.Logger
}

// Option 管理器可选项
type Option func(m *Manager)

// WithDefaults 覆盖会话默认值，零值字段沿用 DefaultSettings
func WithDefaults(d Defaults) Option {
	return func(m *Manager) {
		if d.IdleTimeout > 0 {
			m.defaults.IdleTimeout = d.IdleTimeout
		}
		if d.EventCapacity > 0 {
			m.defaults.EventCapacity = d.EventCapacity
		}
	}
}

// WithClock 指定空闲计时使用的时钟
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger, opts ...Option) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	m := &Manager{
		sessions: make(map[model.SessionID]*Session),
		defaults: DefaultSettings,
		log:      l,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve 以默认值补全会话配置
func (m *Manager) Resolve(cfg model.SessionConfig) model.SessionConfig {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = m.defaults.IdleTimeout
	}
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = m.defaults.EventCapacity
	}
	return cfg
}

// Create 补全配置，创建会话及其 CDP 管理器并注册
func (m *Manager) Create(id model.SessionID, cfg model.SessionConfig) (*Session, error) {
	if cfg.DevToolsURL == "" {
		return nil, ErrMissingDevTools
	}
	cfg = m.Resolve(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	s := New(id, cfg)
	s.Manager = cdp.New(cdp.Config{
		Session:     id,
		DevToolsURL: cfg.DevToolsURL,
		IdleTimeout: cfg.IdleTimeout,
		Events:      s.Events,
		Clock:       m.clock,
		Logger:      m.log,
	})
	m.sessions[id] = s
	m.log.Info("创建业务会话", "sessionID", string(id), "devtools", cfg.DevToolsURL,
		"idleTimeout", cfg.IdleTimeout.String(), "eventCapacity", cfg.EventCapacity)
	return s, nil
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close 分离会话的全部目标并注销，会话不存在时返回 false
func (m *Manager) Close(id model.SessionID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}

	attached := 0
	if s.Manager != nil {
		attached = len(s.Manager.Attached())
		s.Manager.Close()
	}
	m.log.Info("销毁业务会话", "sessionID", string(id), "detached", attached)
	return true
}

// CloseAll 关闭所有会话
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		m.Close(s.ID)
	}
}

// List 按创建时间返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}
