package model

import "time"

type SessionID string
type TargetID string

type SessionConfig struct {
	DevToolsURL string        `json:"devToolsURL"`
	IdleTimeout time.Duration `json:"idleTimeout"`
	// EventCapacity 事件通道缓冲大小
	EventCapacity int `json:"eventCapacity"`
}

// 事件类型
const (
	EventAttached   = "attached"
	EventLoaded     = "loaded"
	EventRedirected = "redirected"
	EventKey        = "key"
	EventDetached   = "detached"
)

// Event 会话事件，按键事件只携带动作，不携带输入内容
type Event struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	URL       string    `json:"url,omitempty"`
	Path      string    `json:"path,omitempty"`
	InputID   string    `json:"inputID,omitempty"`
	Action    string    `json:"action,omitempty"`
	Panels    int       `json:"panels,omitempty"`
	Bound     int       `json:"bound,omitempty"`
	Idle      bool      `json:"idle,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type TargetInfo struct {
	ID       TargetID `json:"id"`
	Type     string   `json:"type"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Attached bool     `json:"attached"`
}
