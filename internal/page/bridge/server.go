package bridge

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

//go:embed agent.js
var agentJS []byte

// AgentScript 返回注入到页面中的 agent 脚本。
func AgentScript() []byte { return agentJS }

// Session 处理一个已连接的 agent；返回即断开连接。
type Session func(ctx context.Context, c *Conn)

// Server 暴露两个端点：
// - GET /agent.js：浏览器侧 agent（书签或控制台注入）
// - GET /ws：agent 的 WebSocket 连接
type Server struct {
	Timeout time.Duration
	Session Session

	upgrader websocket.Upgrader
}

func NewServer(timeout time.Duration, session Session) *Server {
	return &Server{
		Timeout: timeout,
		Session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// agent 运行在任意会议页面的 origin 下；监听地址默认仅本机。
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent.js", s.handleAgent)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(agentJS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	c := newConn(ws, s.Timeout)
	defer c.Close()

	slog.Info("agent connected", "remote", r.RemoteAddr)
	if s.Session != nil {
		s.Session(r.Context(), c)
	} else {
		<-c.Done()
	}
	slog.Info("agent disconnected", "remote", r.RemoteAddr)
}
