package keypad

import (
	"unicode/utf8"

	"kioskguard/internal/logger"
	"kioskguard/pkg/dom"
)

const (
	PanelClass  = "keypad"
	KeyClass    = "keypad-key"
	InputIDAttr = "data-input-id"
	KeyAttr     = "data-key"
	ActionAttr  = "data-action"

	// MaxLength 输入框最大字符数
	MaxLength = 6
)

// Action 按键分类结果
type Action int

const (
	ActionNone Action = iota
	ActionAppend
	ActionBack
	ActionClear
	// ActionUnknown 键按钮既无字符也无可识别动作
	ActionUnknown
)

func (a Action) String() string {
	switch a {
	case ActionAppend:
		return "append"
	case ActionBack:
		return "back"
	case ActionClear:
		return "clear"
	case ActionUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// Binding 键盘面板与输入框的绑定
type Binding struct {
	Panel     dom.Element
	Input     dom.Input
	InputID   string
	MaxLength int
}

// Controller 管理页面上所有键盘绑定
type Controller struct {
	log      logger.Logger
	bindings []*Binding
	removes  []func()
	onKey    func(b *Binding, a Action)
}

// Option 控制器可选项
type Option func(c *Controller)

// WithLogger 指定日志
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithKeyHook 每次按键被分类后的回调
func WithKeyHook(fn func(b *Binding, a Action)) Option {
	return func(c *Controller) { c.onKey = fn }
}

// NewController 创建控制器
func NewController(opts ...Option) *Controller {
	c := &Controller{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.NewNop()
	}
	return c
}

// Start 发现所有键盘面板并建立绑定，返回释放函数。
// 输入框无法解析的面板被跳过，不影响其他面板。
func (c *Controller) Start(doc dom.Document) (dispose func()) {
	if doc == nil {
		return func() {}
	}
	panels := doc.QueryByClass(PanelClass)
	if len(panels) == 0 {
		c.log.Debug("页面无键盘面板")
		return func() {}
	}

	for _, panel := range panels {
		inputID, _ := panel.Attr(InputIDAttr)
		el, ok := doc.ElementByID(inputID)
		if !ok {
			c.log.Debug("键盘绑定的输入框不存在，跳过", "inputID", inputID)
			continue
		}
		input, ok := el.(dom.Input)
		if !ok {
			c.log.Debug("键盘绑定的目标不可输入，跳过", "inputID", inputID)
			continue
		}

		b := &Binding{Panel: panel, Input: input, InputID: inputID, MaxLength: MaxLength}
		c.bindings = append(c.bindings, b)
		c.removes = append(c.removes, panel.AddEventListener(dom.EventClick, func(ev *dom.Event) {
			c.HandleClick(b, ev.Target)
		}, dom.ListenerOptions{}))
	}
	c.log.Debug("键盘绑定完成", "panels", len(panels), "bound", len(c.bindings))
	return c.Dispose
}

// Bindings 已建立的绑定
func (c *Controller) Bindings() []*Binding {
	return append([]*Binding(nil), c.bindings...)
}

// Dispose 移除所有面板监听
func (c *Controller) Dispose() {
	for _, rm := range c.removes {
		rm()
	}
	c.removes = nil
}

// HandleClick 处理面板内的一次点击，返回分类结果。
// 点击未落在键按钮上时不做任何修改。
func (c *Controller) HandleClick(b *Binding, target dom.Element) Action {
	if b == nil || target == nil || !dom.Contains(b.Panel, target) {
		return ActionNone
	}
	key := dom.Closest(target, b.Panel, dom.ByClass(KeyClass))
	if key == nil {
		return ActionNone
	}

	action, payload := Classify(key)
	old := b.Input.Value()
	if next := Apply(old, action, payload, b.MaxLength); next != old {
		b.Input.SetValue(next)
	}
	b.Input.Focus()

	if c.onKey != nil {
		c.onKey(b, action)
	}
	return action
}

// Classify 根据键按钮属性判定动作，字符优先于动作
func Classify(key dom.Element) (Action, string) {
	if payload, _ := key.Attr(KeyAttr); payload != "" {
		return ActionAppend, payload
	}
	action, _ := key.Attr(ActionAttr)
	switch action {
	case "back":
		return ActionBack, ""
	case "clear":
		return ActionClear, ""
	}
	return ActionUnknown, ""
}

// Apply 计算一次按键后的新值
func Apply(value string, action Action, payload string, max int) string {
	switch action {
	case ActionAppend:
		if utf8.RuneCountInString(value)+utf8.RuneCountInString(payload) > max {
			return value
		}
		return value + payload
	case ActionBack:
		if value == "" {
			return ""
		}
		_, size := utf8.DecodeLastRuneInString(value)
		return value[:len(value)-size]
	case ActionClear:
		return ""
	}
	return value
}
