package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kioskguard/internal/logger"
	"kioskguard/internal/page"
	"kioskguard/pkg/dom"
	"kioskguard/pkg/model"

	"github.com/benbjohnson/clock"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	cdppage "github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

var (
	ErrTargetNotFound = errors.New("目标不存在")
	ErrNotAttached    = errors.New("目标未附加")
)

// Config 管理器配置
type Config struct {
	Session     model.SessionID
	DevToolsURL string
	IdleTimeout time.Duration
	Events      chan model.Event
	Clock       clock.Clock
	Logger      logger.Logger
	// DialOptions 透传给 rpcc.DialContext，可替换传输层
	DialOptions []rpcc.DialOption
}

// Manager 管理一个 DevTools 端点下的所有已附加页面
type Manager struct {
	session     model.SessionID
	devtoolsURL string
	idleTimeout time.Duration
	events      chan model.Event
	clock       clock.Clock
	log         logger.Logger
	dialOpts    []rpcc.DialOption

	targetsMu sync.Mutex
	targets   map[model.TargetID]*targetSession
}

// targetSession 单个页面的连接与镜像
type targetSession struct {
	id     model.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func()

	// 以下字段仅在事件循环协程中访问
	tree *dom.Tree
	rt   *page.Runtime

	mu  sync.Mutex
	url string
}

// New 创建管理器
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Manager{
		session:     cfg.Session,
		devtoolsURL: cfg.DevToolsURL,
		idleTimeout: cfg.IdleTimeout,
		events:      cfg.Events,
		clock:       cfg.Clock,
		log:         cfg.Logger,
		dialOpts:    cfg.DialOptions,
		targets:     make(map[model.TargetID]*targetSession),
	}
}

// ListTargets 列出可附加的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取目标列表: %w", err)
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		id := model.TargetID(t.ID)
		_, attached := m.targets[id]
		out = append(out, model.TargetInfo{
			ID:       id,
			Type:     string(t.Type),
			URL:      t.URL,
			Title:    t.Title,
			Attached: attached,
		})
	}
	return out, nil
}

// AttachTarget 附加页面目标，target 为空时选择第一个页面
func (m *Manager) AttachTarget(target model.TargetID) error {
	ctx, cancel := context.WithCancel(context.Background())
	sel, err := m.findTarget(ctx, target)
	if err != nil {
		cancel()
		return err
	}
	id := model.TargetID(sel.ID)

	m.targetsMu.Lock()
	if _, ok := m.targets[id]; ok {
		m.targetsMu.Unlock()
		cancel()
		return nil
	}
	m.targetsMu.Unlock()

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL, m.dialOpts...)
	if err != nil {
		cancel()
		return fmt.Errorf("连接目标 %s: %w", id, err)
	}
	ts := &targetSession{
		id:     id,
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan func(), 256),
		url:    sel.URL,
	}
	if err := m.setup(ts); err != nil {
		cancel()
		_ = conn.Close()
		return err
	}

	m.targetsMu.Lock()
	m.targets[id] = ts
	m.targetsMu.Unlock()

	go m.loop(ts)
	ts.post(func() { m.reload(ts) })
	m.sendEvent(model.Event{Type: model.EventAttached, Target: id, URL: sel.URL})
	m.log.Info("附加目标", "target", string(id), "url", sel.URL)
	return nil
}

func (m *Manager) findTarget(ctx context.Context, target model.TargetID) (*devtool.Target, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取目标列表: %w", err)
	}
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if target == "" || model.TargetID(t.ID) == target {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
}

// setup 启用所需的 CDP 域并注入桥接脚本，然后开始消费事件流
func (m *Manager) setup(ts *targetSession) error {
	ctx := ts.ctx
	if err := ts.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("启用 Page 域: %w", err)
	}
	if err := ts.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("启用 Runtime 域: %w", err)
	}
	if err := ts.client.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(BindingName)); err != nil {
		return fmt.Errorf("注册绑定: %w", err)
	}
	if _, err := ts.client.Page.AddScriptToEvaluateOnNewDocument(ctx, cdppage.NewAddScriptToEvaluateOnNewDocumentArgs(bridgeScript)); err != nil {
		return fmt.Errorf("注入桥接脚本: %w", err)
	}
	// 当前文档已加载，需要立即执行一次
	if _, err := ts.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(bridgeScript)); err != nil {
		return fmt.Errorf("执行桥接脚本: %w", err)
	}

	bindings, err := ts.client.Runtime.BindingCalled(ctx)
	if err != nil {
		return fmt.Errorf("订阅绑定调用: %w", err)
	}
	loads, err := ts.client.Page.DOMContentEventFired(ctx)
	if err != nil {
		bindings.Close()
		return fmt.Errorf("订阅页面加载: %w", err)
	}

	go m.consumeBindings(ts, bindings)
	go m.consumeLoads(ts, loads)
	return nil
}

// DetachTarget 分离页面目标
func (m *Manager) DetachTarget(target model.TargetID) error {
	m.targetsMu.Lock()
	ts, ok := m.targets[target]
	if ok {
		delete(m.targets, target)
	}
	m.targetsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, target)
	}
	m.closeTargetSession(ts)
	m.sendEvent(model.Event{Type: model.EventDetached, Target: target})
	m.log.Info("分离目标", "target", string(target))
	return nil
}

// Close 分离所有目标
func (m *Manager) Close() {
	m.targetsMu.Lock()
	ids := make([]model.TargetID, 0, len(m.targets))
	for id := range m.targets {
		ids = append(ids, id)
	}
	m.targetsMu.Unlock()
	for _, id := range ids {
		_ = m.DetachTarget(id)
	}
}

// Attached 返回已附加的目标
func (m *Manager) Attached() []model.TargetID {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetID, 0, len(m.targets))
	for id := range m.targets {
		out = append(out, id)
	}
	return out
}

func (m *Manager) closeTargetSession(ts *targetSession) {
	// 在事件循环中释放运行时，循环随 ctx 取消退出
	done := make(chan struct{})
	if ts.post(func() {
		ts.closeRuntime()
		close(done)
	}) {
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	ts.cancel()
	if ts.conn != nil {
		if err := ts.conn.Close(); err != nil {
			m.log.Debug("关闭连接失败", "target", string(ts.id), "error", err)
		}
	}
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (m *Manager) sendEvent(evt model.Event) {
	if m.events == nil {
		return
	}
	evt.Session = m.session
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case m.events <- evt:
	default:
	}
}

// post 将任务投递到目标的事件循环，循环已退出时返回 false
func (ts *targetSession) post(fn func()) bool {
	select {
	case <-ts.ctx.Done():
		return false
	default:
	}
	select {
	case ts.tasks <- fn:
		return true
	case <-ts.ctx.Done():
		return false
	}
}

func (ts *targetSession) closeRuntime() {
	if ts.rt != nil {
		ts.rt.Close()
		ts.rt = nil
	}
	ts.tree = nil
}

func (ts *targetSession) currentURL() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.url
}

func (ts *targetSession) setURL(u string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.url = u
}
