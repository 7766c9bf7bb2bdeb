package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ContextHub-Chain/internal/stream"
)

const (
	// 写一帧的最长等待时间。
	wsWriteWait = 10 * time.Second
	// 等待对端 pong 的最长时间，超过视为连接失效。
	wsPongWait = 60 * time.Second
	// ping 发送周期，必须小于 wsPongWait。
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// 参考实现不做来源校验，生产部署应在网关层限制。
		return true
	},
}

// wsCommand 是客户端发来的订阅控制消息。
type wsCommand struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// symbolFilter 维护连接订阅的交易对集合。空集合表示接收全部更新。
type symbolFilter struct {
	mu      sync.RWMutex
	symbols map[string]struct{}
}

func (f *symbolFilter) set(symbols []string) {
	next := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol != "" {
			next[symbol] = struct{}{}
		}
	}
	f.mu.Lock()
	f.symbols = next
	f.mu.Unlock()
}

// wants 判断更新是否应推送给该连接。非行情事件总是推送。
func (f *symbolFilter) wants(update stream.Update) bool {
	if update.Kind != stream.KindPrice {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.symbols) == 0 {
		return true
	}
	_, ok := f.symbols[strings.ToUpper(update.Symbol)]
	return ok
}

// handleWS 将 HTTP 连接升级为 WebSocket，并把总线上的更新事件推送给客户端。
// 每个连接持有一个独立订阅，连接断开即取消订阅。客户端可以发送
// {"op":"subscribe","symbols":[...]} 只保留指定交易对的行情推送。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "推送通道未初始化", http.StatusServiceUnavailable)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("升级 WebSocket 连接失败", slog.Any("error", err))
		return
	}

	updates, cancel, err := s.bus.Subscribe(r.Context())
	if err != nil {
		s.log.Warn("订阅推送通道失败", slog.Any("error", err))
		_ = conn.Close()
		return
	}

	filter := &symbolFilter{}
	done := make(chan struct{})

	// 读协程处理订阅控制消息，同时维持 pong 超时以感知断开。
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd wsCommand
			if err := json.Unmarshal(message, &cmd); err != nil {
				continue
			}
			if strings.EqualFold(cmd.Op, "subscribe") {
				filter.set(cmd.Symbols)
			}
		}
	}()

	// 写循环在处理器内同步运行：处理器返回即意味着请求上下文取消，
	// 推送循环必须随连接存活。
	defer func() {
		cancel()
		_ = conn.Close()
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "总线已关闭"))
				return
			}
			if !filter.wants(update) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
