package writeback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/repository"
	"github.com/lucidbard/realityflow-2/internal/tasks"
)

// Handlers 实现写回任务的落库逻辑。
// 同一对象的任务可能乱序到达（重试、并发 worker）：仓库层的写序号
// 保护保证旧写入被跳过而不是覆盖新状态，所以乱序在这里是无害的。
type Handlers struct {
	projects repository.ProjectRepository
	objects  repository.ObjectRepository
}

// NewHandlers 创建写回任务处理器集合。
func NewHandlers(projects repository.ProjectRepository, objects repository.ObjectRepository) *Handlers {
	if projects == nil || objects == nil {
		panic("repositories cannot be nil for writeback Handlers")
	}
	return &Handlers{projects: projects, objects: objects}
}

// HandleObjectSave 处理对象创建/更新落库。
func (h *Handlers) HandleObjectSave(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ObjectSavePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// 载荷坏了重试也没用
		return fmt.Errorf("unmarshal object save payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"project_id": payload.Object.ProjectID,
		"object_id":  payload.Object.ID,
		"revision":   payload.Object.Revision,
	})

	err := h.objects.Save(ctx, &payload.Object)
	if err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			// 已有更新的版本落库，本任务过期，安全跳过
			logCtx.Debug("Writeback: stale object save skipped")
			return nil
		}
		logCtx.WithError(err).Warn("Writeback: object save failed, will retry")
		return fmt.Errorf("save object %s/%s: %w", payload.Object.ProjectID, payload.Object.ID, err)
	}
	logCtx.Debug("Writeback: object saved")
	return nil
}

// HandleObjectDelete 处理对象删除落库。
func (h *Handlers) HandleObjectDelete(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ObjectDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal object delete payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"project_id": payload.ProjectID,
		"object_id":  payload.ObjectID,
		"revision":   payload.Revision,
	})

	err := h.objects.Delete(ctx, payload.ProjectID, payload.ObjectID, payload.Revision)
	if err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			logCtx.Debug("Writeback: stale object delete skipped")
			return nil
		}
		logCtx.WithError(err).Warn("Writeback: object delete failed, will retry")
		return fmt.Errorf("delete object %s/%s: %w", payload.ProjectID, payload.ObjectID, err)
	}
	logCtx.Debug("Writeback: object deleted")
	return nil
}

// HandleProjectSave 处理项目元数据落库。
func (h *Handlers) HandleProjectSave(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ProjectSavePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal project save payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.projects.Save(ctx, &payload.Project); err != nil {
		logrus.WithField("project_id", payload.Project.ID).WithError(err).Warn("Writeback: project save failed, will retry")
		return fmt.Errorf("save project %s: %w", payload.Project.ID, err)
	}
	return nil
}

// HandleProjectDelete 处理项目级删除：先删对象，再删项目记录。
func (h *Handlers) HandleProjectDelete(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ProjectDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal project delete payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx := logrus.WithField("project_id", payload.ProjectID)

	if err := h.objects.DeleteByProject(ctx, payload.ProjectID); err != nil {
		logCtx.WithError(err).Warn("Writeback: project objects delete failed, will retry")
		return fmt.Errorf("delete objects of project %s: %w", payload.ProjectID, err)
	}
	if err := h.projects.Delete(ctx, payload.ProjectID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Warn("Writeback: project delete failed, will retry")
		return fmt.Errorf("delete project %s: %w", payload.ProjectID, err)
	}
	logCtx.Info("Writeback: project deleted")
	return nil
}
