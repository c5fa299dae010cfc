package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/dto"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// connID 在进程内唯一标识这条连接：同一用户的多台设备各有自己的 connID，
// 编辑锁和清理级联都以它为准。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	roomCode string
	userID   string
	connID   string
	send     chan []byte

	// send 的入队和关闭都走 sendMu 下的 enqueue/closeSend，
	// 断开与广播并发时不会向已关闭的通道发送
	sendMu sync.Mutex
	closed bool
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, roomCode, userID, connID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		roomCode: roomCode,
		userID:   userID,
		connID:   connID,
		send:     make(chan []byte, 256),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) RoomCode() string { return c.roomCode }
func (c *Client) UserID() string   { return c.userID }
func (c *Client) ConnID() string   { return c.connID }
func (c *Client) CloseConn()       { c.conn.Close() }

// enqueue 把消息放入发送队列，绝不阻塞。
// 队列已满或已关闭时返回 false，消息被丢弃。
func (c *Client) enqueue(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送队列，重复调用是 no-op。
// send 只在这里关闭，且与 enqueue 在同一把锁下串行化。
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// reply 把应答放入该客户端的发送队列（非阻塞）。
func (c *Client) reply(r dto.Reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		logrus.WithError(err).Error("Client: Failed to marshal reply")
		return
	}
	if !c.enqueue(payload) {
		logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode}).
			Warn("Client send channel full or closed, dropping reply")
	}
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的处理通道。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode}).
				Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode}).
			Info("ReadPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode})
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			logrus.WithFields(logrus.Fields{"conn_id": c.connID}).
				Debugf("Received non-text message type: %d", messageType)
			continue
		}

		commandMsg := HubMessage{
			Type:    "command",
			Client:  c,
			RawData: message,
		}
		select {
		case c.hub.messageChan <- commandMsg:
		default:
			logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode}).
				Warn("Hub message channel full, dropping client message")
		}
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode}).Info("WritePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭了（注销时）
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode}).
					WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithFields(logrus.Fields{"conn_id": c.connID, "room_code": c.roomCode}).
					WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}
