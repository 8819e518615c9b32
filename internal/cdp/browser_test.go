package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"kioskguard/internal/idle"
	"kioskguard/internal/keypad"
	"kioskguard/pkg/model"

	"github.com/benbjohnson/clock"
	cdpdom "github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/rpcc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type browserCall struct {
	Method string
	Params json.RawMessage
}

// fakeBrowser 通过内存管道应答 CDP JSON-RPC 的页面端
type fakeBrowser struct {
	conn net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	mu    sync.Mutex
	calls []browserCall
	doc   *cdpdom.Node
}

func newFakeBrowser(t *testing.T, doc *cdpdom.Node) (*fakeBrowser, rpcc.DialOption) {
	t.Helper()
	server, client := net.Pipe()
	b := &fakeBrowser{conn: server, enc: json.NewEncoder(server), doc: doc}
	go b.serve()
	t.Cleanup(func() { _ = server.Close() })
	return b, rpcc.WithDialer(func(context.Context, string) (io.ReadWriteCloser, error) {
		return client, nil
	})
}

func (b *fakeBrowser) serve() {
	dec := json.NewDecoder(b.conn)
	for {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := dec.Decode(&req); err != nil {
			return
		}
		b.mu.Lock()
		b.calls = append(b.calls, browserCall{Method: req.Method, Params: req.Params})
		result := b.reply(req.Method, req.Params)
		b.mu.Unlock()
		if err := b.write(map[string]any{"id": req.ID, "result": result}); err != nil {
			return
		}
	}
}

func (b *fakeBrowser) reply(method string, params json.RawMessage) any {
	switch method {
	case "DOM.getDocument":
		return map[string]any{"root": b.doc}
	case "DOM.resolveNode":
		id := gjson.GetBytes(params, "nodeId").Int()
		return map[string]any{"object": map[string]any{"type": "object", "subtype": "node", "objectId": fmt.Sprintf("node-%d", id)}}
	case "Runtime.evaluate", "Runtime.callFunctionOn":
		return map[string]any{"result": map[string]any{"type": "undefined"}}
	case "Page.addScriptToEvaluateOnNewDocument":
		return map[string]any{"identifier": "1"}
	case "Page.navigate":
		return map[string]any{"frameId": "F1"}
	}
	return map[string]any{}
}

func (b *fakeBrowser) write(v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.enc.Encode(v)
}

// emit 推送一条 CDP 事件
func (b *fakeBrowser) emit(t *testing.T, method string, params any) {
	t.Helper()
	require.NoError(t, b.write(map[string]any{"method": method, "params": params}))
}

func (b *fakeBrowser) click(t *testing.T, payload string) {
	b.emit(t, "Runtime.bindingCalled", map[string]any{"name": BindingName, "payload": payload, "executionContextId": 1})
}

func (b *fakeBrowser) setDocument(doc *cdpdom.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = doc
}

func (b *fakeBrowser) snapshot() []browserCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]browserCall(nil), b.calls...)
}

func (b *fakeBrowser) count(method string) int {
	n := 0
	for _, c := range b.snapshot() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func indexOf(calls []browserCall, method string) int {
	for i, c := range calls {
		if c.Method == method {
			return i
		}
	}
	return -1
}

func waitEvent(t *testing.T, events <-chan model.Event, typ string) model.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("未收到事件 %s", typ)
			return model.Event{}
		}
	}
}

func attachFake(t *testing.T, doc *cdpdom.Node) (*fakeBrowser, *clock.Mock, chan model.Event) {
	t.Helper()
	srv := newDevToolsServer(t)
	browser, dial := newFakeBrowser(t, doc)
	events := make(chan model.Event, 64)
	mock := clock.NewMock()
	m := New(Config{
		Session:     "s1",
		DevToolsURL: srv.URL,
		IdleTimeout: 20 * time.Second,
		Events:      events,
		Clock:       mock,
		DialOptions: []rpcc.DialOption{dial},
	})
	require.NoError(t, m.AttachTarget("P2"))
	t.Cleanup(m.Close)

	loaded := waitEvent(t, events, model.EventLoaded)
	assert.Equal(t, "http://kiosk.local/ticket", loaded.URL)
	assert.Equal(t, 1, loaded.Panels)
	assert.Equal(t, 1, loaded.Bound)
	assert.True(t, loaded.Idle)
	return browser, mock, events
}

// shuffledDocument 重新渲染后的页面：键顺序改变并新增一个键，节点 ID 全部更换
func shuffledDocument() *cdpdom.Node {
	docURL := "http://kiosk.local/ticket"
	return &cdpdom.Node{
		NodeID:      21,
		NodeType:    nodeTypeDocument,
		NodeName:    "#document",
		DocumentURL: &docURL,
		Children: []cdpdom.Node{
			element(23, "html", nil,
				element(24, "head", nil),
				element(26, "body", []string{idle.RedirectAttr, "/"},
					element(28, "input", []string{"id", "ticket_code", "value", "12"}),
					element(29, "div", []string{"class", keypad.PanelClass, keypad.InputIDAttr, "ticket_code"},
						element(30, "button", []string{"class", keypad.KeyClass, keypad.KeyAttr, "2"}),
						element(32, "button", []string{"class", keypad.KeyClass, keypad.KeyAttr, "1"}),
						element(34, "button", []string{"class", keypad.KeyClass, keypad.KeyAttr, "9"}),
					),
				),
			),
		},
	}
}

func TestManager_KeypadClickWritesBackLiveValue(t *testing.T) {
	browser, _, events := attachFake(t, ticketDocument())

	// 快照中该键为 "1"、输入框为 "12"，页面现状为 "7" 与 "4"
	browser.click(t, `{"type":"click","path":[1,1,0],"panel":[1,1],`+
		`"key":{"path":[1,1,0],"key":"7","action":null},"input":{"id":"ticket_code","value":"4"}}`)

	key := waitEvent(t, events, model.EventKey)
	assert.Equal(t, "ticket_code", key.InputID)
	assert.Equal(t, "append", key.Action)

	require.Eventually(t, func() bool { return browser.count("DOM.focus") == 1 }, 2*time.Second, 10*time.Millisecond)
	calls := browser.snapshot()
	getDoc := indexOf(calls, "DOM.getDocument")
	resolve := indexOf(calls, "DOM.resolveNode")
	set := indexOf(calls, "Runtime.callFunctionOn")
	focus := indexOf(calls, "DOM.focus")
	require.True(t, getDoc >= 0 && resolve > getDoc && set > resolve && focus > set, "调用顺序 %v", calls)

	assert.Equal(t, int64(8), gjson.GetBytes(calls[resolve].Params, "nodeId").Int())
	assert.Equal(t, "node-8", gjson.GetBytes(calls[set].Params, "objectId").String())
	assert.Equal(t, setValueFunction, gjson.GetBytes(calls[set].Params, "functionDeclaration").String())
	assert.Equal(t, "47", gjson.GetBytes(calls[set].Params, "arguments.0.value").String())
	assert.Equal(t, int64(8), gjson.GetBytes(calls[focus].Params, "nodeId").Int())
}

func TestManager_KeypadClickRespectsLiveLength(t *testing.T) {
	browser, _, _ := attachFake(t, ticketDocument())

	browser.click(t, `{"type":"click","path":[1,1,0],"panel":[1,1],`+
		`"key":{"path":[1,1,0],"key":"1","action":null},"input":{"id":"ticket_code","value":"123456"}}`)

	require.Eventually(t, func() bool { return browser.count("DOM.focus") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, browser.count("Runtime.callFunctionOn"))
}

func TestManager_StaleMirrorIsRebuilt(t *testing.T) {
	browser, _, _ := attachFake(t, ticketDocument())
	browser.setDocument(shuffledDocument())

	browser.click(t, `{"type":"click","path":[1,1,2],"panel":[1,1],`+
		`"key":{"path":[1,1,2],"key":"9","action":null},"input":{"id":"ticket_code","value":"3"}}`)

	require.Eventually(t, func() bool { return browser.count("DOM.focus") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, browser.count("DOM.getDocument"))

	calls := browser.snapshot()
	set := indexOf(calls, "Runtime.callFunctionOn")
	require.GreaterOrEqual(t, set, 0)
	assert.Equal(t, "node-28", gjson.GetBytes(calls[set].Params, "objectId").String())
	assert.Equal(t, "39", gjson.GetBytes(calls[set].Params, "arguments.0.value").String())
}

func TestManager_UnresolvableClickDropped(t *testing.T) {
	browser, _, _ := attachFake(t, ticketDocument())

	browser.click(t, `{"type":"click","path":[1,1,7],"panel":[1,1],`+
		`"key":{"path":[1,1,7],"key":"5","action":null},"input":{"id":"ticket_code","value":""}}`)

	require.Eventually(t, func() bool { return browser.count("DOM.getDocument") == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return browser.count("Runtime.callFunctionOn") > 0 || browser.count("DOM.focus") > 0
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestManager_IdleTimeoutNavigates(t *testing.T) {
	browser, mock, events := attachFake(t, ticketDocument())

	mock.Add(19 * time.Second)
	assert.Never(t, func() bool { return browser.count("Page.navigate") > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	mock.Add(time.Second)
	redirected := waitEvent(t, events, model.EventRedirected)
	assert.Equal(t, "/", redirected.Path)

	require.Eventually(t, func() bool { return browser.count("Page.navigate") == 1 }, 2*time.Second, 10*time.Millisecond)
	calls := browser.snapshot()
	nav := indexOf(calls, "Page.navigate")
	assert.Equal(t, "http://kiosk.local/", gjson.GetBytes(calls[nav].Params, "url").String())

	mock.Add(time.Minute)
	assert.Never(t, func() bool { return browser.count("Page.navigate") > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}
