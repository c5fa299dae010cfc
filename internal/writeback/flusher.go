package writeback

import (
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/tasks"
)

// AsynqFlusher 是 state.Flusher 的 asynq 实现：把缓存变更作为任务
// 排入 Redis 支撑的持久化队列，由写回 worker 异步落库并按退避重试。
//
// 入队失败只记录日志，绝不向发起变更的请求传播——缓存已经反映了变更，
// 对调用方而言操作已经成功。持续的入队失败属于运维告警路径的问题。
type AsynqFlusher struct {
	client *asynq.Client
}

// NewAsynqFlusher 创建写回入队器。
func NewAsynqFlusher(client *asynq.Client) *AsynqFlusher {
	if client == nil {
		panic("asynq client cannot be nil for AsynqFlusher")
	}
	return &AsynqFlusher{client: client}
}

func (f *AsynqFlusher) enqueue(task *asynq.Task, err error, fields logrus.Fields) {
	logCtx := logrus.WithFields(fields)
	if err != nil {
		logCtx.WithError(err).Error("Writeback: failed to build task payload")
		return
	}
	if _, err := f.client.Enqueue(task); err != nil {
		logCtx.WithError(err).Error("Writeback: failed to enqueue task")
		return
	}
	logCtx.WithField("task_type", task.Type()).Debug("Writeback task enqueued")
}

// SaveObject 排入对象创建/更新写回。
func (f *AsynqFlusher) SaveObject(obj domain.SceneObject) {
	task, err := tasks.NewObjectSaveTask(obj)
	f.enqueue(task, err, logrus.Fields{
		"project_id": obj.ProjectID,
		"object_id":  obj.ID,
		"revision":   obj.Revision,
	})
}

// DeleteObject 排入对象删除写回。
func (f *AsynqFlusher) DeleteObject(projectID, objectID string, revision uint64) {
	task, err := tasks.NewObjectDeleteTask(projectID, objectID, revision)
	f.enqueue(task, err, logrus.Fields{
		"project_id": projectID,
		"object_id":  objectID,
		"revision":   revision,
	})
}

// SaveProject 排入项目元数据写回。
func (f *AsynqFlusher) SaveProject(project domain.Project) {
	task, err := tasks.NewProjectSaveTask(project)
	f.enqueue(task, err, logrus.Fields{"project_id": project.ID})
}

// DeleteProject 排入项目级删除。
func (f *AsynqFlusher) DeleteProject(projectID string) {
	task, err := tasks.NewProjectDeleteTask(projectID)
	f.enqueue(task, err, logrus.Fields{"project_id": projectID})
}
