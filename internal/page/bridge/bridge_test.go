package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/John-Robertt/tscopy/internal/domain"
	"github.com/John-Robertt/tscopy/internal/page"
)

// fakeAgent 模拟浏览器端：按请求类型应答；推送消息记录到 pushed。
type fakeAgent struct {
	ws     *websocket.Conn
	top    float64
	pushed chan Message
	// 不应答的请求类型（用于超时测试）
	silent map[string]bool
}

func (a *fakeAgent) loop() {
	for {
		var m Message
		if err := a.ws.ReadJSON(&m); err != nil {
			return
		}
		switch m.Type {
		case TypeStatus, TypeOutput:
			a.pushed <- m
			continue
		}
		if a.silent[m.Type] {
			continue
		}
		r := Message{ID: m.ID, Type: TypeResult}
		switch m.Type {
		case TypeScrollBoxes:
			if m.Selector == `[role="list"]` {
				r.Boxes = []page.ScrollBox{{Ref: "1", Selector: m.Selector, Tag: "div", OverflowY: "auto", ScrollHeight: 2000, ClientHeight: 400}}
			}
		case TypeMetrics:
			r.Metrics = &page.Metrics{ScrollTop: a.top, ScrollHeight: 2000, ClientHeight: 400}
		case TypeScroll:
			if m.Ref != "1" {
				r.Error = "ref " + m.Ref + " not found"
			}
			a.top = m.Top
		case TypeSnapshot:
			r.HTML = `<html><body><div role="list"><div role="listitem">hi</div></div></body></html>`
		}
		if err := a.ws.WriteJSON(r); err != nil {
			return
		}
	}
}

func startPair(t *testing.T, timeout time.Duration, silent map[string]bool) (*Conn, *fakeAgent) {
	t.Helper()
	got := make(chan *Conn, 1)
	release := make(chan struct{})
	srv := NewServer(timeout, func(ctx context.Context, c *Conn) {
		got <- c
		select {
		case <-release:
		case <-c.Done():
		}
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		close(release)
		hs.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	a := &fakeAgent{ws: ws, pushed: make(chan Message, 8), silent: silent}
	go a.loop()

	select {
	case c := <-got:
		return c, a
	case <-time.After(2 * time.Second):
		t.Fatalf("服务端未建立会话")
	}
	return nil, nil
}

func TestConn_RequestsRoundTrip(t *testing.T) {
	c, _ := startPair(t, time.Second, nil)
	ctx := context.Background()

	cont, box, err := page.Locate(ctx, c, []string{`[data-tid="x"]`, `[role="list"]`})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if box.Ref != "1" {
		t.Fatalf("期望 ref=1，实际 %q", box.Ref)
	}
	if err := cont.SetScrollTop(ctx, 150); err != nil {
		t.Fatalf("SetScrollTop: %v", err)
	}
	m, err := cont.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.ScrollTop != 150 {
		t.Fatalf("期望 scrollTop=150，实际 %v", m.ScrollTop)
	}

	doc, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if n := doc.Find(`[role="listitem"]`).Length(); n != 1 {
		t.Fatalf("期望 1 个 listitem，实际 %d", n)
	}
}

func TestConn_RemoteErrorIsReported(t *testing.T) {
	c, _ := startPair(t, time.Second, nil)

	err := c.Container("9").SetScrollTop(context.Background(), 10)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("期望 RemoteError，实际 %v", err)
	}
	var pe *page.Error
	if !errors.As(err, &pe) || pe.Op != TypeScroll {
		t.Fatalf("期望 page.Error op=scroll，实际 %v", err)
	}
}

func TestConn_Timeout(t *testing.T) {
	c, _ := startPair(t, 50*time.Millisecond, map[string]bool{TypeSnapshot: true})

	_, err := c.Snapshot(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("期望 ErrTimeout，实际 %v", err)
	}
	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("超时后 pending 应被清理，实际 %d", n)
	}
}

func TestConn_PushesStatusAndOutput(t *testing.T) {
	c, a := startPair(t, time.Second, nil)

	c.Status("完了", domain.SeverityInfo)
	c.Output("A [0:01]\nhello")

	want := []Message{
		{Type: TypeStatus, Content: "完了", Severity: string(domain.SeverityInfo)},
		{Type: TypeOutput, Content: "A [0:01]\nhello"},
	}
	for i, w := range want {
		select {
		case m := <-a.pushed:
			if m.Type != w.Type || m.Content != w.Content || m.Severity != w.Severity {
				t.Fatalf("第 %d 条推送期望 %+v，实际 %+v", i, w, m)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("未收到第 %d 条推送", i)
		}
	}
}

func TestConn_EventsAndClose(t *testing.T) {
	c, a := startPair(t, time.Second, nil)

	if err := a.ws.WriteJSON(Message{Type: TypeStart}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case ev := <-c.Events():
		if ev.Type != TypeStart {
			t.Fatalf("期望 start 事件，实际 %q", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("未收到事件")
	}

	_ = a.ws.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("agent 断开后 Done 未关闭")
	}
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("关闭后请求期望 ErrClosed，实际 %v", err)
	}
}

func TestServer_AgentScript(t *testing.T) {
	hs := httptest.NewServer(NewServer(0, nil).Handler())
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/agent.js")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "javascript") {
		t.Fatalf("Content-Type 不正确：%q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(b), "scroll_boxes") {
		t.Fatalf("agent 脚本内容不完整")
	}
}
