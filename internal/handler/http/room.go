package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/state"
)

// RoomHandler 封装了与房间生命周期相关的 HTTP 处理逻辑。
// 加入房间走 WebSocket 握手，这里只管开、关和查询在场用户。
type RoomHandler struct {
	tracker *state.Tracker
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(tracker *state.Tracker) *RoomHandler {
	if tracker == nil {
		panic("Tracker cannot be nil for RoomHandler")
	}
	return &RoomHandler{tracker: tracker}
}

// OpenRoomRequest 定义开房间请求的结构体
type OpenRoomRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
}

// OpenRoomResponse 定义开房间成功的响应结构体
type OpenRoomResponse struct {
	Message  string `json:"message"`
	RoomCode string `json:"room_code"`
}

// OpenRoom 处理为项目开房间的请求
func (h *RoomHandler) OpenRoom(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req OpenRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.OpenRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: project_id is required")
		return
	}
	logCtx = logCtx.WithField("project_id", req.ProjectID)

	roomCode, err := h.tracker.CreateRoom(c.Request.Context(), req.ProjectID)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrDuplicateRoom):
			logCtx.Warn("Handler.OpenRoom: Room already open for project")
			ErrorResponse(c, http.StatusConflict, "Room already open for this project")
		case errors.Is(err, state.ErrProjectNotFound):
			logCtx.Warn("Handler.OpenRoom: Project not found")
			ErrorResponse(c, http.StatusNotFound, "Project not found")
		default:
			logCtx.WithError(err).Error("Handler.OpenRoom: Failed to open room")
			ErrorResponse(c, http.StatusInternalServerError, "Failed to open room")
		}
		return
	}

	logCtx.WithField("room_code", roomCode).Info("Handler.OpenRoom: Room opened")
	c.JSON(http.StatusOK, OpenRoomResponse{
		Message:  "Room opened successfully",
		RoomCode: roomCode,
	})
}

// RoomUsers 返回房间内在场用户列表
func (h *RoomHandler) RoomUsers(c *gin.Context) {
	roomCode := c.Param("roomCode")

	users, err := h.tracker.PresentUsers(roomCode)
	if err != nil {
		if errors.Is(err, state.ErrRoomNotFound) {
			ErrorResponse(c, http.StatusNotFound, "Room not found")
		} else {
			logrus.WithField("room_code", roomCode).WithError(err).Error("Handler.RoomUsers: Failed to list users")
			ErrorResponse(c, http.StatusInternalServerError, "Failed to list room users")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"room_code": roomCode, "users": users})
}

// CloseRoom 处理销毁房间的请求（驱逐全部连接，不触碰持久数据）
func (h *RoomHandler) CloseRoom(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}
	roomCode := c.Param("roomCode")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_code": roomCode})

	if err := h.tracker.DestroyRoom(roomCode); err != nil {
		if errors.Is(err, state.ErrRoomNotFound) {
			logCtx.Warn("Handler.CloseRoom: Room not found")
			ErrorResponse(c, http.StatusNotFound, "Room not found")
		} else {
			logCtx.WithError(err).Error("Handler.CloseRoom: Failed to close room")
			ErrorResponse(c, http.StatusInternalServerError, "Failed to close room")
		}
		return
	}

	logCtx.Info("Handler.CloseRoom: Room closed")
	c.JSON(http.StatusOK, gin.H{"message": "Room closed"})
}
