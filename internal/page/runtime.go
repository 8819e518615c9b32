package page

import (
	"sync"
	"time"

	"kioskguard/internal/idle"
	"kioskguard/internal/keypad"
	"kioskguard/internal/logger"
	"kioskguard/pkg/dom"

	"github.com/benbjohnson/clock"
)

// Options 页面运行时选项
type Options struct {
	IdleTimeout time.Duration
	Clock       clock.Clock
	Logger      logger.Logger

	// OnRedirect 空闲跳转发生后回调
	OnRedirect func(path string)
	// OnKey 键盘按键被分类后回调
	OnKey func(inputID string, action keypad.Action)
}

// Runtime 一次页面加载期间运行的组件集合
type Runtime struct {
	Idle   *idle.Watchdog
	Keypad *keypad.Controller

	once     sync.Once
	disposes []func()
}

// Load 在文档上独立初始化空闲看门狗与键盘控制器
func Load(doc dom.Document, nav dom.Navigator, opts Options) *Runtime {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}

	idleOpts := []idle.Option{idle.WithLogger(l)}
	if opts.Clock != nil {
		idleOpts = append(idleOpts, idle.WithClock(opts.Clock))
	}
	if opts.OnRedirect != nil {
		idleOpts = append(idleOpts, idle.WithFireHook(opts.OnRedirect))
	}

	keypadOpts := []keypad.Option{keypad.WithLogger(l)}
	if opts.OnKey != nil {
		onKey := opts.OnKey
		keypadOpts = append(keypadOpts, keypad.WithKeyHook(func(b *keypad.Binding, a keypad.Action) {
			onKey(b.InputID, a)
		}))
	}

	r := &Runtime{
		Idle:   idle.New(idle.ConfigFromDocument(doc, opts.IdleTimeout), nav, idleOpts...),
		Keypad: keypad.NewController(keypadOpts...),
	}
	r.disposes = append(r.disposes, r.Idle.Start(doc), r.Keypad.Start(doc))
	return r
}

// Close 释放两个组件，可重复调用
func (r *Runtime) Close() {
	r.once.Do(func() {
		for _, d := range r.disposes {
			d()
		}
	})
}
