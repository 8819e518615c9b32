package dom

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Hooks 宿主对合成树写操作的观察者
type Hooks interface {
	OnValue(n *Node, value string)
	OnFocus(n *Node)
}

type listener struct {
	fn   Listener
	opts ListenerOptions
	// removed 可能在分发协程之外被置位
	removed atomic.Bool
}

// Tree 内存中的合成元素树，实现 Document
type Tree struct {
	mu        sync.RWMutex
	root      *Node
	listeners map[EventType][]*listener
	focused   *Node
	hooks     Hooks

	// URL 文档地址
	URL string
}

// Node 合成树中的元素，实现 Element 与 Input
type Node struct {
	tree      *Tree
	tag       string
	attrs     map[string]string
	parent    *Node
	children  []*Node
	value     string
	listeners map[EventType][]*listener

	// Ref 宿主侧节点标识（CDP 中为 NodeID），纯合成树中为 0
	Ref int64
}

var (
	_ Document = (*Tree)(nil)
	_ Input    = (*Node)(nil)
)

// NewTree 创建只包含 <html> 根元素的树
func NewTree() *Tree {
	t := &Tree{listeners: make(map[EventType][]*listener)}
	t.root = t.CreateElement("html", nil)
	return t
}

// SetHooks 设置写操作观察者
func (t *Tree) SetHooks(h Hooks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = h
}

// CreateElement 创建未挂载的元素，attrs 中的 value 作为初始值
func (t *Tree) CreateElement(tag string, attrs map[string]string) *Node {
	n := &Node{
		tree:  t,
		tag:   strings.ToLower(tag),
		attrs: make(map[string]string, len(attrs)),
	}
	for k, v := range attrs {
		n.attrs[strings.ToLower(k)] = v
	}
	n.value = n.attrs["value"]
	return n
}

// Root 返回 <html> 根元素
func (t *Tree) Root() *Node { return t.root }

// Body 返回根元素下第一个 <body>
func (t *Tree) Body() Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.root.children {
		if c.tag == "body" {
			return c
		}
	}
	return nil
}

// ElementByID 按文档顺序查找第一个 id 匹配的元素
func (t *Tree) ElementByID(id string) (Element, bool) {
	if id == "" {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var found *Node
	t.root.walk(func(n *Node) bool {
		if n.attrs["id"] == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// QueryByClass 按文档顺序返回所有带 class 的元素
func (t *Tree) QueryByClass(class string) []Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Element
	t.root.walk(func(n *Node) bool {
		if n.hasClass(class) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// AddEventListener 订阅文档级事件
func (t *Tree) AddEventListener(typ EventType, fn Listener, opts ListenerOptions) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := &listener{fn: fn, opts: opts}
	t.listeners[typ] = append(t.listeners[typ], l)
	return func() { t.removeListener(t.listeners, typ, l) }
}

// Listeners 返回文档级某类事件各监听器的订阅选项
func (t *Tree) Listeners(typ EventType) []ListenerOptions {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ListenerOptions, 0, len(t.listeners[typ]))
	for _, l := range t.listeners[typ] {
		out = append(out, l.opts)
	}
	return out
}

func (t *Tree) removeListener(set map[EventType][]*listener, typ EventType, l *listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.removed.Store(true)
	list := set[typ]
	for i := range list {
		if list[i] == l {
			set[typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch 以冒泡方式分发事件：目标 → 祖先 → 文档
func (t *Tree) Dispatch(typ EventType, target *Node) {
	ev := &Event{Type: typ}
	if target != nil {
		ev.Target = target
	}

	t.mu.RLock()
	type step struct {
		node *Node
		ls   []*listener
	}
	var steps []step
	for cur := target; cur != nil; cur = cur.parent {
		if ls := cur.listeners[typ]; len(ls) > 0 {
			steps = append(steps, step{node: cur, ls: append([]*listener(nil), ls...)})
		}
	}
	docLs := append([]*listener(nil), t.listeners[typ]...)
	t.mu.RUnlock()

	for _, s := range steps {
		ev.CurrentTarget = s.node
		for _, l := range s.ls {
			if !l.removed.Load() {
				l.fn(ev)
			}
		}
	}
	ev.CurrentTarget = nil
	for _, l := range docLs {
		if !l.removed.Load() {
			l.fn(ev)
		}
	}
}

// Focused 返回当前获得焦点的元素
func (t *Tree) Focused() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.focused
}

// NodeAt 按元素子节点下标路径定位节点，返回能解析到的最深节点以及是否完整解析
func (t *Tree) NodeAt(path []int) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := t.root
	for _, idx := range path {
		if idx < 0 || idx >= len(cur.children) {
			return cur, false
		}
		cur = cur.children[idx]
	}
	return cur, true
}

// Append 挂载子元素，返回自身以便链式构造
func (n *Node) Append(children ...*Node) *Node {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	for _, c := range children {
		c.parent = n
		c.tree = n.tree
		n.children = append(n.children, c)
	}
	return n
}

// Tag 小写标签名
func (n *Node) Tag() string { return n.tag }

// ID 返回 id 属性
func (n *Node) ID() string {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	return n.attrs["id"]
}

// Attr 返回属性值
func (n *Node) Attr(name string) (string, bool) {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	v, ok := n.attrs[strings.ToLower(name)]
	return v, ok
}

// SetAttr 设置属性
func (n *Node) SetAttr(name, value string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.attrs[strings.ToLower(name)] = value
}

// RemoveAttr 删除属性
func (n *Node) RemoveAttr(name string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	delete(n.attrs, strings.ToLower(name))
}

// HasClass 判断 class 列表是否包含 name
func (n *Node) HasClass(name string) bool {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	return n.hasClass(name)
}

func (n *Node) hasClass(name string) bool {
	for _, c := range strings.Fields(n.attrs["class"]) {
		if c == name {
			return true
		}
	}
	return false
}

// Parent 返回父元素
func (n *Node) Parent() Element {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// Children 返回子元素副本
func (n *Node) Children() []*Node {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	return append([]*Node(nil), n.children...)
}

// AddEventListener 订阅元素事件（冒泡阶段）
func (n *Node) AddEventListener(typ EventType, fn Listener, opts ListenerOptions) func() {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.listeners == nil {
		n.listeners = make(map[EventType][]*listener)
	}
	l := &listener{fn: fn, opts: opts}
	n.listeners[typ] = append(n.listeners[typ], l)
	return func() { n.tree.removeListener(n.listeners, typ, l) }
}

// Value 返回当前值
func (n *Node) Value() string {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	return n.value
}

// SetValue 写入值并通知宿主
func (n *Node) SetValue(v string) {
	n.tree.mu.Lock()
	n.value = v
	h := n.tree.hooks
	n.tree.mu.Unlock()
	if h != nil {
		h.OnValue(n, v)
	}
}

// SyncValue 由宿主同步值，不回写宿主
func (n *Node) SyncValue(v string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.value = v
}

// Focus 使元素获得焦点并通知宿主
func (n *Node) Focus() {
	n.tree.mu.Lock()
	n.tree.focused = n
	h := n.tree.hooks
	n.tree.mu.Unlock()
	if h != nil {
		h.OnFocus(n)
	}
}

// Path 返回从 <html> 到该元素的子元素下标路径
func (n *Node) Path() []int {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	var path []int
	for cur := n; cur.parent != nil; cur = cur.parent {
		for i, c := range cur.parent.children {
			if c == cur {
				path = append(path, i)
				break
			}
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// walk 先序遍历，fn 返回 false 时停止
func (n *Node) walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !c.walk(fn) {
			return false
		}
	}
	return true
}
