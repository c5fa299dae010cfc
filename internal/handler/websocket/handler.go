package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/hub"
	"github.com/lucidbard/realityflow-2/internal/repository"
	"github.com/lucidbard/realityflow-2/internal/state"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	tracker  *state.Tracker
	users    repository.UserRepository

	// 进程内单调递增，保证同一用户多条连接的 connID 互不相同
	connSeq uint64
}

// NewWebSocketHandler 创建 WebSocketHandler 实例
func NewWebSocketHandler(h *hub.Hub, tracker *state.Tracker, users repository.UserRepository) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if tracker == nil {
		panic("Tracker cannot be nil for WebSocketHandler")
	}
	if users == nil {
		panic("UserRepository cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// TODO: restrict origins before exposing this outside the LAN deployments
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
		tracker:  tracker,
		users:    users,
	}
}

// HandleConnection 处理 WebSocket 连接请求。
// URL 格式: /ws/room/{roomCode}
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	logCtx := logrus.WithField("handler", "websocket")

	// 1. 获取认证用户 ID（由 Auth 中间件设置）
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logCtx.Warn("WS Handler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logCtx.Error("WS Handler: User ID in context is not uint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// 2. 解析用户名：会话层以用户名作为在场标识
	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.WithField("user_id", userID).Warn("WS Handler: Authenticated user no longer exists")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Failed to look up user")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}
	logCtx = logCtx.WithFields(logrus.Fields{"user_id": userID, "username": user.Username})

	// 3. 验证房间存在（升级前返回干净的 HTTP 错误）
	roomCode := c.Param("roomCode")
	if roomCode == "" || !h.tracker.RoomExists(roomCode) {
		logCtx.WithField("room_code", roomCode).Warn("WS Handler: Room not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	logCtx = logCtx.WithField("room_code", roomCode)

	// 4. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了 HTTP 错误响应，这里只记录
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	// 5. 创建 Client 并排队注册
	connID := fmt.Sprintf("%s#%d", user.Username, atomic.AddUint64(&h.connSeq, 1))
	client := hub.NewClient(h.hub, conn, roomCode, user.Username, connID)

	registerMsg := hub.HubMessage{Type: "register", Client: client}
	if !h.hub.QueueMessage(registerMsg) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}

	client.Run()
	logCtx.WithField("conn_id", connID).Info("WS Handler: Client connected")
}
