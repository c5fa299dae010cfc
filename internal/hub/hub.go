package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/dto"
	"github.com/lucidbard/realityflow-2/internal/state"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 对象更新携带完整快照，留足余量
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "command"
	Client  *Client // 消息来源的客户端
	RawData []byte  // 仅用于 command（原始 WebSocket 消息）
}

// Hub 维护活跃客户端集合并协调消息处理。
// 它同时实现 state.EventSink：会话层的变更事件经 Publish
// 广播给房间内除发起连接之外的所有客户端。
type Hub struct {
	messageChan chan HubMessage

	// 客户端集合，按房间代码组织
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	// 会话层入口。Hub 先于 Tracker 构造（Tracker 需要 Hub 作为事件出口），
	// 所以通过 SetTracker 注入，Run 之前必须完成。
	tracker *state.Tracker
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub() *Hub {
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		rooms:       make(map[string]map[*Client]bool),
	}
}

// SetTracker 注入会话层入口，必须在 Run 之前调用一次。
func (h *Hub) SetTracker(tracker *state.Tracker) {
	if tracker == nil {
		panic("Tracker cannot be nil for Hub")
	}
	h.tracker = tracker
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	if h.tracker == nil {
		panic("Hub.Run called before SetTracker")
	}
	log.Info("Hub is running...")

	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerClient(msg.Client)
		case "unregister":
			h.unregisterClient(msg.Client)
		case "command":
			// 命令处理会进入会话层的锁，放到单独的 goroutine，
			// 避免单个房间的争用阻塞 Hub 主循环
			go h.handleClientCommand(msg)
		default:
			log.Warnf("Hub: Received unknown message type: %s", msg.Type)
		}
	}
	log.Info("Hub is shutting down...")
}

// Publish 实现 state.EventSink：把会话层事件广播给房间内的其他客户端。
// 发起变更的连接不会收到自己触发的事件。
func (h *Hub) Publish(ev state.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Error("Hub: Failed to marshal event for broadcast")
		return
	}
	h.broadcast(ev.RoomCode, payload, ev.ConnID)
}

// registerClient 处理客户端注册逻辑
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": client.RoomCode(),
		"user_id":   client.UserID(),
		"conn_id":   client.ConnID(),
		"action":    "registerClient",
	})

	// 先进会话层：房间不存在时注册直接失败，客户端不进广播集合
	err := h.tracker.JoinRoom(client.RoomCode(), client.UserID(), client.ConnID())
	if err != nil {
		logCtx.WithError(err).Warn("Hub: Failed to join room, closing client")
		reply := dto.Reply{Type: "error", Message: "room not found"}
		if payload, merr := json.Marshal(reply); merr == nil {
			client.enqueue(payload)
		}
		client.closeSend()
		return
	}

	h.roomsMu.Lock()
	if _, ok := h.rooms[client.RoomCode()]; !ok {
		h.rooms[client.RoomCode()] = make(map[*Client]bool)
		logCtx.Info("Client list created for new room")
	}
	h.rooms[client.RoomCode()][client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	// 异步发送初始场景同步给新客户端
	go h.sendInitialScene(client)
}

// unregisterClient 处理客户端注销逻辑
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": client.RoomCode(),
		"user_id":   client.UserID(),
		"conn_id":   client.ConnID(),
		"action":    "unregisterClient",
	})

	h.roomsMu.Lock()
	if roomClients, roomExists := h.rooms[client.RoomCode()]; roomExists {
		if _, clientExists := roomClients[client]; clientExists {
			delete(roomClients, client)
			logCtx.Debug("Client removed from room map")

			client.closeSend()

			if len(roomClients) == 0 {
				delete(h.rooms, client.RoomCode())
				logCtx.Info("Room empty, removed from Hub")
			}
		}
	}
	h.roomsMu.Unlock()

	// 会话层清理级联：离开房间并释放该连接持有的全部锁
	h.tracker.LogoutUser(client.UserID(), client.ConnID())
	logCtx.Info("Client unregistered from Hub")
}

// sendInitialScene 异步发送房间当前的完整场景给新连接的客户端
func (h *Hub) sendInitialScene(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": client.RoomCode(),
		"conn_id":   client.ConnID(),
		"operation": "sendInitialScene",
	})

	objects, err := h.tracker.Objects(client.RoomCode())
	if err != nil {
		logCtx.WithError(err).Error("Failed to read scene for initial sync")
		return
	}
	users, err := h.tracker.PresentUsers(client.RoomCode())
	if err != nil {
		logCtx.WithError(err).Error("Failed to read present users for initial sync")
		return
	}

	scene := dto.SceneDTO{
		Type:    "scene",
		Room:    client.RoomCode(),
		Objects: objects,
		Users:   users,
	}
	payload, err := json.Marshal(scene)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal initial scene")
		return
	}

	if client.enqueue(payload) {
		logCtx.WithField("object_count", len(objects)).Info("Initial scene sent to client channel")
	} else {
		logCtx.Warn("Client send channel full or closed when trying to send initial scene, message dropped")
	}
}

// handleClientCommand 处理客户端发送的对象操作命令
func (h *Hub) handleClientCommand(msg HubMessage) {
	client := msg.Client
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": client.RoomCode(),
		"user_id":   client.UserID(),
		"conn_id":   client.ConnID(),
		"operation": "handleClientCommand",
	})

	var cmd dto.Command
	if err := json.Unmarshal(msg.RawData, &cmd); err != nil {
		logCtx.WithError(err).Warn("Invalid command payload")
		client.reply(dto.Reply{Type: "error", Message: "invalid command payload"})
		return
	}
	logCtx = logCtx.WithField("op", cmd.Op)

	reply := h.dispatchCommand(client, cmd)
	if reply.Type == "error" {
		logCtx.WithField("message", reply.Message).Debug("Command rejected")
	} else {
		logCtx.Debug("Command processed")
	}
	client.reply(reply)
}

// dispatchCommand 把命令路由到会话层并把结果转换为应答。
// 变更成功后对房间其他客户端的广播由会话层事件（Publish）完成。
func (h *Hub) dispatchCommand(client *Client, cmd dto.Command) dto.Reply {
	roomCode := client.RoomCode()
	connID := client.ConnID()

	switch cmd.Op {
	case dto.OpObjectCreate:
		if cmd.Object == nil {
			return dto.Reply{Type: "error", Op: cmd.Op, Message: "object is required"}
		}
		created, err := h.tracker.CreateObject(roomCode, *cmd.Object, connID)
		if err != nil {
			return errorReply(cmd, err)
		}
		return dto.Reply{Type: "ack", Op: cmd.Op, ObjectID: created.ID, Object: &created}

	case dto.OpObjectRead:
		obj, err := h.tracker.ReadObject(roomCode, cmd.ObjectID, connID)
		if err != nil {
			return errorReply(cmd, err)
		}
		return dto.Reply{Type: "ack", Op: cmd.Op, ObjectID: obj.ID, Object: &obj}

	case dto.OpObjectUpdate:
		if cmd.Object == nil {
			return dto.Reply{Type: "error", Op: cmd.Op, Message: "object is required"}
		}
		updated, err := h.tracker.UpdateObject(roomCode, *cmd.Object, connID)
		if err != nil {
			return errorReply(cmd, err)
		}
		return dto.Reply{Type: "ack", Op: cmd.Op, ObjectID: updated.ID, Object: &updated}

	case dto.OpObjectDelete:
		if err := h.tracker.DeleteObject(roomCode, cmd.ObjectID, connID); err != nil {
			return errorReply(cmd, err)
		}
		return dto.Reply{Type: "ack", Op: cmd.Op, ObjectID: cmd.ObjectID}

	case dto.OpObjectCheckout:
		obj, err := h.tracker.CheckoutObject(roomCode, cmd.ObjectID, connID)
		if err != nil {
			return errorReply(cmd, err)
		}
		return dto.Reply{Type: "ack", Op: cmd.Op, ObjectID: obj.ID, Object: &obj}

	case dto.OpObjectCheckin:
		obj, err := h.tracker.CheckinObject(roomCode, cmd.ObjectID, connID)
		if err != nil {
			return errorReply(cmd, err)
		}
		return dto.Reply{Type: "ack", Op: cmd.Op, ObjectID: obj.ID, Object: &obj}

	case dto.OpRoomUsers:
		users, err := h.tracker.PresentUsers(roomCode)
		if err != nil {
			return errorReply(cmd, err)
		}
		return dto.Reply{Type: "ack", Op: cmd.Op, Users: users}

	default:
		return dto.Reply{Type: "error", Op: cmd.Op, Message: "unknown operation"}
	}
}

// errorReply 把会话层错误转换为客户端应答，锁冲突附带持有者信息。
func errorReply(cmd dto.Command, err error) dto.Reply {
	if holder, ok := state.IsLockConflict(err); ok {
		return dto.Reply{Type: "error", Op: cmd.Op, ObjectID: cmd.ObjectID, Message: err.Error(), Holder: holder}
	}
	if errors.Is(err, state.ErrObjectNotFound) || errors.Is(err, state.ErrRoomNotFound) ||
		errors.Is(err, state.ErrDuplicateObject) || errors.Is(err, state.ErrNotInRoom) {
		return dto.Reply{Type: "error", Op: cmd.Op, ObjectID: cmd.ObjectID, Message: err.Error()}
	}
	return dto.Reply{Type: "error", Op: cmd.Op, ObjectID: cmd.ObjectID, Message: "internal error"}
}

// broadcast 将消息发送给指定房间的所有客户端，排除 excludeConnID 对应的连接
func (h *Hub) broadcast(roomCode string, message []byte, excludeConnID string) {
	h.roomsMu.RLock()
	roomClients, ok := h.rooms[roomCode]
	clientsToSend := make([]*Client, 0, len(roomClients))
	if ok {
		for client := range roomClients {
			if client.ConnID() != excludeConnID {
				clientsToSend = append(clientsToSend, client)
			}
		}
	}
	h.roomsMu.RUnlock()

	if len(clientsToSend) == 0 {
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"room_code":       roomCode,
		"message_size":    len(message),
		"recipient_count": len(clientsToSend),
	})
	logCtx.Debug("Broadcasting message to clients")

	for _, client := range clientsToSend {
		// 非阻塞发送，避免单个慢客户端阻塞广播
		if !client.enqueue(message) {
			logCtx.WithField("receiver_conn_id", client.ConnID()).Warn("Client send channel full or closed during broadcast, skipping this client")
		}
	}
}

// QueueMessage 将消息放入 Hub 的处理队列（非阻塞）。
// 返回 true 表示消息成功入队，false 表示队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}
