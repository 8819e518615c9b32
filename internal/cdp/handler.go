package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kioskguard/internal/keypad"
	"kioskguard/internal/page"
	"kioskguard/pkg/dom"
	"kioskguard/pkg/model"

	cdpdom "github.com/mafredri/cdp/protocol/dom"
	cdppage "github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
)

const remoteCallTimeout = 2 * time.Second

// loop 单协程顺序执行目标的所有镜像操作
func (m *Manager) loop(ts *targetSession) {
	for {
		select {
		case <-ts.ctx.Done():
			ts.closeRuntime()
			return
		case fn := <-ts.tasks:
			fn()
		}
	}
}

// consumeBindings 接收桥接脚本上报的事件
func (m *Manager) consumeBindings(ts *targetSession, stream runtime.BindingCalledClient) {
	defer stream.Close()
	for {
		ev, err := stream.Recv()
		if err != nil {
			m.handleStreamClosed(ts, err)
			return
		}
		if ev.Name != BindingName {
			continue
		}
		msg, err := ParseMessage(ev.Payload)
		if err != nil {
			m.log.Debug("忽略桥接消息", "target", string(ts.id), "error", err)
			continue
		}
		ts.post(func() { m.deliver(ts, msg) })
	}
}

// consumeLoads 每次文档加载完成后重建镜像
func (m *Manager) consumeLoads(ts *targetSession, stream cdppage.DOMContentEventFiredClient) {
	defer stream.Close()
	for {
		if _, err := stream.Recv(); err != nil {
			m.handleStreamClosed(ts, err)
			return
		}
		ts.post(func() { m.reload(ts) })
	}
}

// handleStreamClosed 事件流中断时移除目标
func (m *Manager) handleStreamClosed(ts *targetSession, err error) {
	if ts.ctx.Err() != nil {
		return
	}
	m.log.Warn("事件流被中断，自动移除目标", "target", string(ts.id), "error", err)

	m.targetsMu.Lock()
	cur, ok := m.targets[ts.id]
	if ok && cur == ts {
		delete(m.targets, ts.id)
	}
	m.targetsMu.Unlock()

	if ok && cur == ts {
		go func() {
			m.closeTargetSession(ts)
			m.sendEvent(model.Event{Type: model.EventDetached, Target: ts.id, Error: err.Error()})
		}()
	}
}

// deliver 先以页面现状校正镜像再分发。镜像结构过期时重建一次，
// 仍不一致的面板点击被丢弃，避免按旧属性修改输入框。
func (m *Manager) deliver(ts *targetSession, msg Message) {
	if ts.tree == nil {
		return
	}
	if !Sync(ts.tree, msg) {
		m.log.Debug("镜像与页面结构不一致，重建镜像", "target", string(ts.id), "type", string(msg.Type))
		if !m.rebuild(ts) {
			return
		}
		if !Sync(ts.tree, msg) {
			m.log.Warn("重建后镜像仍不一致，丢弃点击", "target", string(ts.id))
			return
		}
	}
	Deliver(ts.tree, msg)
}

// reload 文档加载完成后重建镜像并上报
func (m *Manager) reload(ts *targetSession) {
	if !m.rebuild(ts) {
		return
	}
	tree := ts.tree
	panels := len(tree.QueryByClass(keypad.PanelClass))
	bound := len(ts.rt.Keypad.Bindings())
	idleOn := ts.rt.Idle.Config().Enabled()
	m.log.Debug("页面镜像已重建", "target", string(ts.id), "url", tree.URL, "panels", panels, "bound", bound, "idle", idleOn)
	m.sendEvent(model.Event{
		Type:   model.EventLoaded,
		Target: ts.id,
		URL:    tree.URL,
		Panels: panels,
		Bound:  bound,
		Idle:   idleOn,
	})
}

// rebuild 抓取文档快照并重新初始化页面组件
func (m *Manager) rebuild(ts *targetSession) bool {
	ts.closeRuntime()

	ctx, cancel := context.WithTimeout(ts.ctx, 5*time.Second)
	defer cancel()
	doc, err := ts.client.DOM.GetDocument(ctx, cdpdom.NewGetDocumentArgs().SetDepth(-1))
	if err != nil {
		m.log.Err(err, "获取文档快照失败", "target", string(ts.id))
		return false
	}

	tree := ToMirrorTree(&doc.Root)
	if tree.URL != "" {
		ts.setURL(tree.URL)
	}
	tree.SetHooks(&remoteHooks{m: m, ts: ts})

	ts.tree = tree
	ts.rt = page.Load(tree, &remoteNavigator{m: m, ts: ts}, page.Options{
		IdleTimeout: m.idleTimeout,
		Clock:       m.clock,
		Logger:      m.log,
		OnRedirect: func(path string) {
			m.sendEvent(model.Event{Type: model.EventRedirected, Target: ts.id, URL: ts.currentURL(), Path: path})
		},
		OnKey: func(inputID string, a keypad.Action) {
			m.sendEvent(model.Event{Type: model.EventKey, Target: ts.id, InputID: inputID, Action: a.String()})
		},
	})
	return true
}

// remoteNavigator 通过 Page.navigate 跳转
type remoteNavigator struct {
	m  *Manager
	ts *targetSession
}

func (n *remoteNavigator) Navigate(path string) {
	target := ResolveURL(n.ts.currentURL(), path)
	ctx, cancel := context.WithTimeout(n.ts.ctx, remoteCallTimeout)
	defer cancel()
	if _, err := n.ts.client.Page.Navigate(ctx, cdppage.NewNavigateArgs(target)); err != nil {
		n.m.log.Err(err, "页面跳转失败", "target", string(n.ts.id), "url", target)
		return
	}
	n.m.log.Info("页面跳转", "target", string(n.ts.id), "url", target)
}

// remoteHooks 将镜像中的值与焦点变化写回页面
type remoteHooks struct {
	m  *Manager
	ts *targetSession
}

const setValueFunction = `function (v) { this.value = v; }`

func (h *remoteHooks) OnValue(n *dom.Node, value string) {
	if n.Ref == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(h.ts.ctx, remoteCallTimeout)
	defer cancel()
	if err := h.setValue(ctx, cdpdom.NodeID(n.Ref), value); err != nil {
		h.m.log.Err(err, "写回输入值失败", "target", string(h.ts.id))
	}
}

func (h *remoteHooks) setValue(ctx context.Context, id cdpdom.NodeID, value string) error {
	resolved, err := h.ts.client.DOM.ResolveNode(ctx, cdpdom.NewResolveNodeArgs().SetNodeID(id))
	if err != nil {
		return fmt.Errorf("解析节点 %d: %w", id, err)
	}
	if resolved.Object.ObjectID == nil {
		return fmt.Errorf("节点 %d 无远程对象", id)
	}
	arg, err := json.Marshal(value)
	if err != nil {
		return err
	}
	args := runtime.NewCallFunctionOnArgs(setValueFunction).
		SetObjectID(*resolved.Object.ObjectID).
		SetArguments([]runtime.CallArgument{{Value: arg}})
	reply, err := h.ts.client.Runtime.CallFunctionOn(ctx, args)
	if err != nil {
		return err
	}
	if reply.ExceptionDetails != nil {
		return fmt.Errorf("设置输入值异常: %s", reply.ExceptionDetails.Text)
	}
	return nil
}

func (h *remoteHooks) OnFocus(n *dom.Node) {
	if n.Ref == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(h.ts.ctx, remoteCallTimeout)
	defer cancel()
	if err := h.ts.client.DOM.Focus(ctx, cdpdom.NewFocusArgs().SetNodeID(cdpdom.NodeID(n.Ref))); err != nil {
		h.m.log.Err(err, "设置焦点失败", "target", string(h.ts.id))
	}
}
