package http

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/state"
)

// ProjectHandler 封装了与项目管理相关的 HTTP 处理逻辑
type ProjectHandler struct {
	tracker *state.Tracker
}

// NewProjectHandler 创建 ProjectHandler 实例
func NewProjectHandler(tracker *state.Tracker) *ProjectHandler {
	if tracker == nil {
		panic("Tracker cannot be nil for ProjectHandler")
	}
	return &ProjectHandler{tracker: tracker}
}

// CreateProjectRequest 定义创建项目请求的结构体
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"max=500"`
	OpenRoom    bool   `json:"open_room"` // 创建后是否立即开房间
}

// CreateProjectResponse 定义创建项目成功的响应结构体
type CreateProjectResponse struct {
	Message   string `json:"message"`
	ProjectID string `json:"project_id"`
	RoomCode  string `json:"room_code,omitempty"`
}

// CreateProject 处理创建新项目的请求
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateProject: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: name is required")
		return
	}

	projectID, err := generateProjectID()
	if err != nil {
		logCtx.WithError(err).Error("Handler.CreateProject: Failed to generate project ID")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create project")
		return
	}

	project, err := h.tracker.CreateProject(domain.Project{
		ID:          projectID,
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
	})
	if err != nil {
		logCtx.WithError(err).Error("Handler.CreateProject: Failed to create project")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create project")
		return
	}
	logCtx = logCtx.WithField("project_id", project.ID)

	resp := CreateProjectResponse{
		Message:   "Project created successfully",
		ProjectID: project.ID,
	}
	if req.OpenRoom {
		roomCode, err := h.tracker.CreateRoomFromProject(project, nil)
		if err != nil {
			logCtx.WithError(err).Error("Handler.CreateProject: Project created but room open failed")
			ErrorResponse(c, http.StatusInternalServerError, "Project created but failed to open room")
			return
		}
		resp.RoomCode = roomCode
	}

	logCtx.Info("Handler.CreateProject: Project created successfully")
	c.JSON(http.StatusOK, resp)
}

// GetProjectResponse 定义读取项目的响应结构体
type GetProjectResponse struct {
	Project domain.Project       `json:"project"`
	Objects []domain.SceneObject `json:"objects"`
}

// GetProject 处理读取项目元数据和对象集合的请求
func (h *ProjectHandler) GetProject(c *gin.Context) {
	projectID := c.Param("projectId")
	logCtx := logrus.WithField("project_id", projectID)

	project, objects, err := h.tracker.OpenProject(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, state.ErrProjectNotFound) {
			logCtx.Warn("Handler.GetProject: Project not found")
			ErrorResponse(c, http.StatusNotFound, "Project not found")
		} else {
			logCtx.WithError(err).Error("Handler.GetProject: Failed to open project")
			ErrorResponse(c, http.StatusInternalServerError, "Failed to open project")
		}
		return
	}

	c.JSON(http.StatusOK, GetProjectResponse{Project: project, Objects: objects})
}

// DeleteProject 处理删除项目的请求：销毁活动房间并排入持久删除
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}
	projectID := c.Param("projectId")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "project_id": projectID})

	if err := h.tracker.DeleteProject(projectID); err != nil {
		logCtx.WithError(err).Error("Handler.DeleteProject: Failed to delete project")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to delete project")
		return
	}

	logCtx.Info("Handler.DeleteProject: Project deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
}

// authenticatedUserID 从 Gin 上下文取出 Auth 中间件写入的用户 ID。
// 取不到时已写好错误响应，调用方直接返回即可。
func authenticatedUserID(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.Warn("Handler: User ID not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Error("Handler: User ID in context is not uint")
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error processing user ID")
		return 0, false
	}
	return userID, true
}

// generateProjectID 生成项目标识
func generateProjectID() (string, error) {
	const letters = "0123456789abcdefghijklmnopqrstuvwxyz"
	const idLength = 16

	b := make([]byte, idLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}
