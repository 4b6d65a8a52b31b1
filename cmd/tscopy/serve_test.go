package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/John-Robertt/tscopy/internal/page/bridge"
)

func TestServeBridge_ServeFailureEndsSessions(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	started := make(chan struct{})
	ended := make(chan struct{})
	srv := bridge.NewServer(time.Second, func(ctx context.Context, c *bridge.Conn) {
		close(started)
		<-ctx.Done()
		close(ended)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- serveBridge(context.Background(), ln, srv.Handler()) }()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("会话未建立")
	}

	// 监听器被意外关闭：Serve 返回非 ErrServerClosed 的错误
	_ = ln.Close()

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve 失败后会话 ctx 应被取消")
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("期望 Serve 错误，实际 nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serveBridge 未返回")
	}
}

func TestServeBridge_ContextCancelShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- serveBridge(ctx, ln, bridge.NewServer(time.Second, nil).Handler()) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("正常关闭不应返回错误，实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serveBridge 未返回")
	}
}
