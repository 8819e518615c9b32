package dom

// EventType 事件类型
type EventType string

const (
	EventClick      EventType = "click"
	EventMouseMove  EventType = "mousemove"
	EventKeyDown    EventType = "keydown"
	EventTouchStart EventType = "touchstart"
	EventTouchMove  EventType = "touchmove"
	EventInput      EventType = "input"
)

// Event 一次分发中的事件
type Event struct {
	Type   EventType
	Target Element
	// CurrentTarget 当前正在执行监听器的节点，文档级监听时为 nil
	CurrentTarget Element
}

// Listener 事件监听函数
type Listener func(ev *Event)

// ListenerOptions 订阅选项
type ListenerOptions struct {
	// Passive 监听器不会阻止默认行为
	Passive bool
}

// EventSource 可订阅事件的对象
type EventSource interface {
	// AddEventListener 订阅事件，返回取消订阅函数
	AddEventListener(typ EventType, fn Listener, opts ListenerOptions) (remove func())
}

// Element 元素树中的一个元素
type Element interface {
	EventSource
	ID() string
	Attr(name string) (string, bool)
	HasClass(name string) bool
	// Parent 返回父元素，根元素返回 nil
	Parent() Element
}

// Input 可编辑的文本输入元素
type Input interface {
	Element
	Value() string
	SetValue(v string)
	Focus()
}

// Document 文档，文档级事件源
type Document interface {
	EventSource
	// Body 返回承载页面配置属性的根元素，不存在时返回 nil
	Body() Element
	ElementByID(id string) (Element, bool)
	QueryByClass(class string) []Element
}

// Navigator 浏览上下文导航
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc 函数适配 Navigator
type NavigatorFunc func(path string)

// Navigate 实现 Navigator
func (f NavigatorFunc) Navigate(path string) { f(path) }
