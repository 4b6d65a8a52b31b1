package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gorilla/websocket"

	"github.com/John-Robertt/tscopy/internal/domain"
	"github.com/John-Robertt/tscopy/internal/page"
)

// 消息类型。
const (
	// server -> agent 请求（agent 必须以 TypeResult + 相同 ID 应答）
	TypeScrollBoxes = "scroll_boxes"
	TypeMetrics     = "metrics"
	TypeScroll      = "scroll"
	TypeSnapshot    = "snapshot"

	// server -> agent 推送（无需应答）
	TypeStatus = "status"
	TypeOutput = "output"

	// agent -> server
	TypeResult = "result"
	TypeHello  = "hello"
	TypeStart  = "start"
	TypeStop   = "stop"
)

const (
	DefaultTimeout = 10 * time.Second
	writeTimeout   = 5 * time.Second
	eventBuffer    = 16
)

var (
	ErrClosed  = errors.New("bridge: connection closed")
	ErrTimeout = errors.New("bridge: request timed out")
)

// Message 是 bridge 协议的唯一消息结构（JSON over WebSocket）。
type Message struct {
	ID       int64            `json:"id,omitempty"`
	Type     string           `json:"type"`
	Selector string           `json:"selector,omitempty"`
	Ref      string           `json:"ref,omitempty"`
	Top      float64          `json:"top"`
	Content  string           `json:"content,omitempty"`
	Severity string           `json:"severity,omitempty"`
	URL      string           `json:"url,omitempty"`
	Error    string           `json:"error,omitempty"`
	Boxes    []page.ScrollBox `json:"boxes,omitempty"`
	Metrics  *page.Metrics    `json:"metrics,omitempty"`
	HTML     string           `json:"html,omitempty"`
}

// RemoteError 是 agent 端执行请求失败时返回的错误文本。
type RemoteError struct {
	Type string
	Msg  string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("agent %s 失败：%s", e.Type, e.Msg) }

var _ page.Page = (*Conn)(nil)

// Conn 是一个已连接的浏览器 agent。
//
// 它同时是：
// - page.Page：收集循环通过它读取 DOM、滚动容器
// - 展示端：Status/Output 会推送到页面内的面板
//
// 约束：写操作串行化（gorilla/websocket 不允许并发写）；读只在 readLoop 中进行。
type Conn struct {
	ws      *websocket.Conn
	timeout time.Duration

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Message

	events chan Message

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Conn{
		ws:      ws,
		timeout: timeout,
		pending: make(map[int64]chan Message),
		events:  make(chan Message, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events 返回 agent 主动发出的事件（hello/start/stop）。
func (c *Conn) Events() <-chan Message { return c.events }

// Done 在连接关闭后被关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close 关闭连接；可重复调用。
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) readLoop() {
	for {
		var m Message
		if err := c.ws.ReadJSON(&m); err != nil {
			slog.Debug("bridge read ended", "err", err)
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		if m.Type == TypeResult {
			c.mu.Lock()
			ch := c.pending[m.ID]
			delete(c.pending, m.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- m
			}
			continue
		}
		select {
		case c.events <- m:
		default:
			slog.Warn("bridge event dropped", "type", m.Type)
		}
	}
}

func (c *Conn) send(m Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(m)
}

// call 发送请求并等待同 ID 的应答（单次超时 c.timeout）。
func (c *Conn) call(ctx context.Context, req Message) (Message, error) {
	select {
	case <-c.done:
		return Message{}, &page.Error{Op: req.Type, Err: c.closeErr}
	default:
	}

	ch := make(chan Message, 1)

	c.mu.Lock()
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	if err := c.send(req); err != nil {
		forget()
		select {
		case <-c.done:
			err = c.closeErr
		default:
		}
		return Message{}, &page.Error{Op: req.Type, Err: err}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case m := <-ch:
		if m.Error != "" {
			return Message{}, &page.Error{Op: req.Type, Err: &RemoteError{Type: req.Type, Msg: m.Error}}
		}
		return m, nil
	case <-ctx.Done():
		forget()
		return Message{}, &page.Error{Op: req.Type, Err: ctx.Err()}
	case <-timer.C:
		forget()
		return Message{}, &page.Error{Op: req.Type, Err: ErrTimeout}
	case <-c.done:
		return Message{}, &page.Error{Op: req.Type, Err: c.closeErr}
	}
}

func (c *Conn) ScrollBoxes(ctx context.Context, selector string) ([]page.ScrollBox, error) {
	m, err := c.call(ctx, Message{Type: TypeScrollBoxes, Selector: selector})
	if err != nil {
		return nil, err
	}
	return m.Boxes, nil
}

func (c *Conn) Container(ref string) page.Container {
	return &remoteContainer{c: c, ref: ref}
}

func (c *Conn) Snapshot(ctx context.Context) (*goquery.Document, error) {
	m, err := c.call(ctx, Message{Type: TypeSnapshot})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(m.HTML))
	if err != nil {
		return nil, &page.Error{Op: TypeSnapshot, Err: err}
	}
	return doc, nil
}

// Status 把状态推送到页面面板。写失败只记录日志（面板是旁路，不影响收集）。
func (c *Conn) Status(msg string, sev domain.Severity) {
	if err := c.send(Message{Type: TypeStatus, Content: msg, Severity: string(sev)}); err != nil {
		slog.Debug("bridge status push failed", "err", err)
	}
}

// Output 把当前格式化文本推送到页面面板。
func (c *Conn) Output(text string) {
	if err := c.send(Message{Type: TypeOutput, Content: text}); err != nil {
		slog.Debug("bridge output push failed", "err", err)
	}
}

type remoteContainer struct {
	c   *Conn
	ref string
}

func (r *remoteContainer) Metrics(ctx context.Context) (page.Metrics, error) {
	m, err := r.c.call(ctx, Message{Type: TypeMetrics, Ref: r.ref})
	if err != nil {
		return page.Metrics{}, err
	}
	if m.Metrics == nil {
		return page.Metrics{}, &page.Error{Op: TypeMetrics, Err: errors.New("agent 未返回 metrics")}
	}
	return *m.Metrics, nil
}

func (r *remoteContainer) SetScrollTop(ctx context.Context, top float64) error {
	_, err := r.c.call(ctx, Message{Type: TypeScroll, Ref: r.ref, Top: top})
	return err
}
