package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/print_go_server/internal/debounce"
	"github.com/qs3c/print_go_server/internal/model/dto"
	"github.com/qs3c/print_go_server/internal/pkg/ws"
	"github.com/qs3c/print_go_server/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境需要验证 Origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	hub        *ws.Hub
	jobService *service.JobService
}

func NewWebSocketHandler(hub *ws.Hub, jobService *service.JobService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		jobService: jobService,
	}
}

// clientMessage 客户端控制消息
type clientMessage struct {
	Type     string  `json:"type"` // subscribe / unsubscribe / update
	JobID    int64   `json:"job_id"`
	Quantity *int    `json:"quantity,omitempty"`
	Material *string `json:"material,omitempty"`
	Color    *string `json:"color,omitempty"`
}

// Handle WebSocket 连接处理。连接后客户端按任务订阅进度推送：
//
//	{"type": "subscribe", "job_id": 1}
//
// update 消息是带静默窗口的实时编辑通道：连续的编辑在窗口内合并，
// 只提交最后一版，提交结果带序号回推，过期结果直接丢弃：
//
//	{"type": "update", "job_id": 1, "quantity": 3}
//
// GET /api/v1/ws
func (h *WebSocketHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := ws.NewClient(conn)
	editors := make(map[int64]*debounce.Editor)

	go func() {
		defer func() {
			for _, editor := range editors {
				editor.Close()
			}
			h.hub.Remove(client)
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}

			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.JobID <= 0 {
				continue
			}

			switch msg.Type {
			case "subscribe":
				h.hub.Subscribe(client, msg.JobID)
			case "unsubscribe":
				h.hub.Unsubscribe(client, msg.JobID)
			case "update":
				editor, ok := editors[msg.JobID]
				if !ok {
					jobID := msg.JobID
					var e *debounce.Editor
					e = debounce.NewEditor(debounce.DefaultWindow, func(seq int64, patch *debounce.Patch) {
						h.flushEdit(client, e, jobID, seq, patch)
					})
					editor = e
					editors[jobID] = editor
				}
				editor.Push(&debounce.Patch{
					Quantity: msg.Quantity,
					Material: msg.Material,
					Color:    msg.Color,
				})
			}
		}
	}()
}

// flushEdit 静默窗口结束时提交合并后的编辑并回推结果。
// 提交期间又有新编辑发出时，本次结果已过期，不再回推。
func (h *WebSocketHandler) flushEdit(client *ws.Client, editor *debounce.Editor, jobID, seq int64, patch *debounce.Patch) {
	job, err := h.jobService.Update(jobID, &dto.UpdateJobRequest{
		Quantity: patch.Quantity,
		Material: patch.Material,
		Color:    patch.Color,
	})

	if !editor.Accept(seq) {
		return
	}

	if err != nil {
		client.Send(&ws.Message{
			Type: "update_error",
			Data: map[string]interface{}{
				"job_id":  jobID,
				"seq":     seq,
				"message": err.Error(),
			},
		})
		return
	}

	client.Send(&ws.Message{
		Type: "update_result",
		Data: map[string]interface{}{
			"job_id": jobID,
			"seq":    seq,
			"job":    job,
		},
	})
}
