package cdp

import (
	"errors"
	"fmt"
	"net/url"

	"kioskguard/internal/keypad"
	"kioskguard/pkg/dom"

	"github.com/tidwall/gjson"
)

// BindingName 页面中用于回传事件的 Runtime 绑定名
const BindingName = "kioskguardEmit"

// bridgeScript 在页面中以捕获阶段转发交互事件，路径为相对 <html> 的 children 下标。
// 键盘面板内的点击附带面板路径、键按钮的当前属性以及绑定输入框的当前值。
const bridgeScript = `(function () {
  if (window.__kioskguardBridge) return;
  window.__kioskguardBridge = true;
  var emit = window["` + BindingName + `"];
  if (typeof emit !== "function") return;

  function path(el) {
    var p = [];
    while (el && el.parentElement) {
      p.unshift(Array.prototype.indexOf.call(el.parentElement.children, el));
      el = el.parentElement;
    }
    return p;
  }

  function keypad(el, msg) {
    var panel = el.closest(".` + keypad.PanelClass + `");
    if (!panel) return;
    msg.panel = path(panel);
    var key = el.closest(".` + keypad.KeyClass + `");
    if (key && panel.contains(key)) {
      msg.key = {
        path: path(key),
        key: key.getAttribute("` + keypad.KeyAttr + `"),
        action: key.getAttribute("` + keypad.ActionAttr + `")
      };
    }
    var id = panel.getAttribute("` + keypad.InputIDAttr + `");
    var input = id ? document.getElementById(id) : null;
    if (input && "value" in input) msg.input = { id: id, value: String(input.value) };
  }

  ["click", "mousemove", "keydown", "touchstart", "touchmove", "input"].forEach(function (type) {
    document.addEventListener(type, function (e) {
      var el = e.target;
      if (el && el.nodeType !== 1) el = el.parentElement;
      var msg = { type: type, path: el ? path(el) : [] };
      if (type === "input" && el && "value" in el) msg.value = el.value;
      if (type === "click" && el) keypad(el, msg);
      emit(JSON.stringify(msg));
    }, { passive: true, capture: true });
  });
})();`

// Message 桥接脚本上报的一条事件
type Message struct {
	Type  dom.EventType
	Path  []int
	Value string

	// 以下字段仅在键盘面板内的点击中出现
	Panel []int
	Key   *KeyState
	Input *InputState
}

// KeyState 点击时键按钮在页面中的属性
type KeyState struct {
	Path      []int
	Key       string
	HasKey    bool
	Action    string
	HasAction bool
}

// InputState 点击时绑定输入框在页面中的值
type InputState struct {
	ID    string
	Value string
}

var errBadPayload = errors.New("无效的桥接消息")

var bridgedTypes = map[dom.EventType]bool{
	dom.EventClick:      true,
	dom.EventMouseMove:  true,
	dom.EventKeyDown:    true,
	dom.EventTouchStart: true,
	dom.EventTouchMove:  true,
	dom.EventInput:      true,
}

// ParseMessage 解析桥接消息
func ParseMessage(payload string) (Message, error) {
	if !gjson.Valid(payload) {
		return Message{}, errBadPayload
	}
	res := gjson.Parse(payload)
	msg := Message{Type: dom.EventType(res.Get("type").String())}
	if !bridgedTypes[msg.Type] {
		return Message{}, fmt.Errorf("%w: 未知事件类型 %q", errBadPayload, msg.Type)
	}
	var err error
	if msg.Path, err = parsePath(res.Get("path")); err != nil {
		return Message{}, err
	}
	msg.Value = res.Get("value").String()

	if panel := res.Get("panel"); panel.IsArray() {
		if msg.Panel, err = parsePath(panel); err != nil {
			return Message{}, err
		}
		if msg.Panel == nil {
			msg.Panel = []int{}
		}
	}
	if key := res.Get("key"); key.IsObject() {
		ks := &KeyState{}
		if ks.Path, err = parsePath(key.Get("path")); err != nil {
			return Message{}, err
		}
		ks.Key, ks.HasKey = stringField(key.Get("key"))
		ks.Action, ks.HasAction = stringField(key.Get("action"))
		msg.Key = ks
	}
	if input := res.Get("input"); input.IsObject() {
		msg.Input = &InputState{ID: input.Get("id").String(), Value: input.Get("value").String()}
	}
	if (msg.Key != nil || msg.Input != nil) && msg.Panel == nil {
		return Message{}, fmt.Errorf("%w: 缺少面板路径", errBadPayload)
	}
	return msg, nil
}

func parsePath(res gjson.Result) ([]int, error) {
	var path []int
	for _, idx := range res.Array() {
		if idx.Type != gjson.Number || idx.Int() < 0 {
			return nil, fmt.Errorf("%w: 路径下标 %s", errBadPayload, idx.Raw)
		}
		path = append(path, int(idx.Int()))
	}
	return path, nil
}

// stringField getAttribute 返回 null 表示属性不存在
func stringField(res gjson.Result) (string, bool) {
	if !res.Exists() || res.Type == gjson.Null {
		return "", false
	}
	return res.String(), true
}

// Sync 用消息携带的页面现状校正镜像：键按钮属性与绑定输入框的当前值。
// 镜像结构与页面不一致时返回 false，此时镜像保持不变。
func Sync(tree *dom.Tree, msg Message) bool {
	if msg.Panel == nil {
		return true
	}
	if _, exact := tree.NodeAt(msg.Path); !exact {
		return false
	}
	panel, exact := tree.NodeAt(msg.Panel)
	if !exact || !panel.HasClass(keypad.PanelClass) {
		return false
	}

	var key *dom.Node
	if msg.Key != nil {
		key, exact = tree.NodeAt(msg.Key.Path)
		if !exact || !key.HasClass(keypad.KeyClass) || !dom.Contains(panel, key) {
			return false
		}
	}

	var input *dom.Node
	if msg.Input != nil {
		if id, _ := panel.Attr(keypad.InputIDAttr); id != msg.Input.ID {
			return false
		}
		el, ok := tree.ElementByID(msg.Input.ID)
		if !ok {
			return false
		}
		if input, ok = el.(*dom.Node); !ok {
			return false
		}
	}

	if key != nil {
		syncAttr(key, keypad.KeyAttr, msg.Key.Key, msg.Key.HasKey)
		syncAttr(key, keypad.ActionAttr, msg.Key.Action, msg.Key.HasAction)
	}
	if input != nil {
		input.SyncValue(msg.Input.Value)
	}
	return true
}

func syncAttr(n *dom.Node, name, value string, present bool) {
	if present {
		n.SetAttr(name, value)
		return
	}
	n.RemoveAttr(name)
}

// Deliver 将消息分发到镜像树。input 事件先同步输入框的值。
// 路径无法完整解析时（页面结构已变化）以最深可解析节点为目标，活动事件仍然有效。
func Deliver(tree *dom.Tree, msg Message) {
	target, exact := tree.NodeAt(msg.Path)
	if msg.Type == dom.EventInput {
		if !exact {
			return
		}
		target.SyncValue(msg.Value)
	}
	tree.Dispatch(msg.Type, target)
}

// ResolveURL 以文档地址为基准解析跳转路径
func ResolveURL(base, path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Host == "" {
		return path
	}
	return b.ResolveReference(ref).String()
}
