package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type Hub struct {
	// 每个任务可以被多个连接订阅（多标签页、顾客与运营同时在看）
	jobs map[int64]map[*Client]struct{}
	mu   sync.RWMutex
}

type Client struct {
	Conn *websocket.Conn
	mu   sync.Mutex // 写锁，防止并发写入

	subs map[int64]struct{}
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		jobs: make(map[int64]map[*Client]struct{}),
	}
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		Conn: conn,
		subs: make(map[int64]struct{}),
	}
}

// Subscribe 将连接订阅到指定任务
func (h *Hub) Subscribe(client *Client, jobID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.jobs[jobID] == nil {
		h.jobs[jobID] = make(map[*Client]struct{})
	}
	h.jobs[jobID][client] = struct{}{}
	client.subs[jobID] = struct{}{}

	log.Printf("Job %d subscribed, subscribers: %d", jobID, len(h.jobs[jobID]))
}

// Unsubscribe 取消单个任务的订阅
func (h *Hub) Unsubscribe(client *Client, jobID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, jobID)
}

// Remove 连接断开时清理其全部订阅
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for jobID := range client.subs {
		h.unsubscribeLocked(client, jobID)
	}
}

func (h *Hub) unsubscribeLocked(client *Client, jobID int64) {
	if conns, ok := h.jobs[jobID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.jobs, jobID)
		}
	}
	delete(client.subs, jobID)
}

// Send 向单个连接发送消息
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// SendToJob 向订阅了该任务的所有连接发送消息
func (h *Hub) SendToJob(jobID int64, msg *Message) error {
	h.mu.RLock()
	conns, ok := h.jobs[jobID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	// 复制一份引用，避免长时间持锁
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(msg); err != nil {
			log.Printf("SendToJob write error for job %d: %v", jobID, err)
		}
	}
	return nil
}

// SubscriberCount 任务当前的订阅连接数
func (h *Hub) SubscriberCount(jobID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs[jobID])
}

// ConnectionCount 全部订阅关系数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.jobs {
		total += len(conns)
	}
	return total
}
