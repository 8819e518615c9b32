package idle

import (
	"sync"
	"time"

	"kioskguard/internal/logger"
	"kioskguard/pkg/dom"

	"github.com/benbjohnson/clock"
)

const (
	// RedirectAttr body 上声明空闲跳转路径的属性
	RedirectAttr = "data-timeout-redirect"
	// DefaultTimeout 默认空闲超时
	DefaultTimeout = 20000 * time.Millisecond
)

// ActivityEvents 视为用户活动的事件类型
var ActivityEvents = []dom.EventType{
	dom.EventClick,
	dom.EventMouseMove,
	dom.EventKeyDown,
	dom.EventTouchStart,
	dom.EventTouchMove,
}

// Config 空闲看门狗配置，RedirectPath 为空表示未启用
type Config struct {
	RedirectPath string
	Timeout      time.Duration
}

// Enabled 是否配置了跳转路径
func (c Config) Enabled() bool { return c.RedirectPath != "" }

// ConfigFromDocument 从文档 body 属性读取配置
func ConfigFromDocument(doc dom.Document, timeout time.Duration) Config {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cfg := Config{Timeout: timeout}
	if doc == nil {
		return cfg
	}
	body := doc.Body()
	if body == nil {
		return cfg
	}
	cfg.RedirectPath, _ = body.Attr(RedirectAttr)
	return cfg
}

// State 看门狗状态
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRedirected
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateRedirected:
		return "redirected"
	default:
		return "idle"
	}
}

// Watchdog 单次倒计时的空闲看门狗
type Watchdog struct {
	mu      sync.Mutex
	cfg     Config
	nav     dom.Navigator
	clock   clock.Clock
	log     logger.Logger
	timer   *clock.Timer
	gen     uint64
	state   State
	removes []func()
	onFire  func(path string)
}

// Option 看门狗可选项
type Option func(w *Watchdog)

// WithClock 指定计时设施
func WithClock(c clock.Clock) Option {
	return func(w *Watchdog) { w.clock = c }
}

// WithLogger 指定日志
func WithLogger(l logger.Logger) Option {
	return func(w *Watchdog) { w.log = l }
}

// WithFireHook 跳转发生后的回调
func WithFireHook(fn func(path string)) Option {
	return func(w *Watchdog) { w.onFire = fn }
}

// New 创建看门狗
func New(cfg Config, nav dom.Navigator, opts ...Option) *Watchdog {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	w := &Watchdog{cfg: cfg, nav: nav}
	for _, opt := range opts {
		opt(w)
	}
	if w.clock == nil {
		w.clock = clock.New()
	}
	if w.log == nil {
		w.log = logger.NewNop()
	}
	return w
}

// Start 订阅活动事件并立即开始倒计时，返回释放函数。
// 未配置跳转路径、事件源或导航器缺失时不产生任何副作用。
func (w *Watchdog) Start(src dom.EventSource) (dispose func()) {
	if !w.cfg.Enabled() || src == nil || w.nav == nil {
		w.log.Debug("空闲看门狗未启用")
		return func() {}
	}

	removes := make([]func(), 0, len(ActivityEvents))
	for _, typ := range ActivityEvents {
		removes = append(removes, src.AddEventListener(typ, func(*dom.Event) {
			w.Reset()
		}, dom.ListenerOptions{Passive: true}))
	}

	w.mu.Lock()
	w.removes = append(w.removes, removes...)
	w.mu.Unlock()

	w.log.Debug("空闲看门狗已启动", "redirect", w.cfg.RedirectPath, "timeout", w.cfg.Timeout)
	w.Reset()
	return w.Dispose
}

// Reset 取消当前计时并重新开始。跳转后不再重新计时。
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRedirected || !w.cfg.Enabled() || w.nav == nil {
		return
	}
	w.stopLocked()
	w.gen++
	gen := w.gen
	w.timer = w.clock.AfterFunc(w.cfg.Timeout, func() { w.fire(gen) })
	w.state = StateArmed
}

// fire 计时到期，仅最新一次计时可以触发跳转
func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.state != StateArmed {
		w.mu.Unlock()
		return
	}
	w.state = StateRedirected
	w.timer = nil
	path := w.cfg.RedirectPath
	hook := w.onFire
	w.mu.Unlock()

	w.log.Info("空闲超时，执行跳转", "redirect", path)
	w.nav.Navigate(path)
	if hook != nil {
		hook(path)
	}
}

// Dispose 取消计时并移除所有监听
func (w *Watchdog) Dispose() {
	w.mu.Lock()
	removes := w.removes
	w.removes = nil
	w.stopLocked()
	w.gen++
	if w.state == StateArmed {
		w.state = StateIdle
	}
	w.mu.Unlock()

	for _, rm := range removes {
		rm()
	}
}

// State 当前状态
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Config 返回配置
func (w *Watchdog) Config() Config { return w.cfg }

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
