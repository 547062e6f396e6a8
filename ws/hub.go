package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ourlibrary/ourlibrary/client/bootstrap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Message 推送给界面外壳的事件
type Message struct {
	Type      string         `json:"type"`
	Step      bootstrap.Step `json:"step,omitempty"`
	Completed bool           `json:"completed,omitempty"`
	Message   string         `json:"message"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 把安装进度广播给所有已连接的 websocket 客户端，实现 bootstrap.Observer
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     CheckOrigin,
		},
		subs: make(map[*subscriber]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("websocket upgrade failed:", err)
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(sub)
	// 只读取控制帧，客户端断开时退出
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sub)
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for payload := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(sub)
			return
		}
	}
	sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
}

// Broadcast 向所有连接发送 payload，发送队列已满的连接跳过本条消息
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.send <- payload:
		default:
		}
	}
}

func (h *Hub) publish(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.Broadcast(payload)
}

func (h *Hub) OnProgress(e bootstrap.ProgressEvent) {
	h.publish(Message{Type: "progress", Step: e.Step, Completed: e.Completed, Message: e.Message})
}

func (h *Hub) OnLog(msg string) {
	h.publish(Message{Type: "log", Message: msg})
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 断开所有连接，之后的连接请求会被直接关闭
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.send)
	}
}
