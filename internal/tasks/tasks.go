package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// 写回任务类型常量
const (
	TypeObjectSave    = "object:save"    // 对象创建/更新落库
	TypeObjectDelete  = "object:delete"  // 对象删除落库
	TypeProjectSave   = "project:save"   // 项目元数据落库
	TypeProjectDelete = "project:delete" // 项目级删除（项目 + 全部对象）
)

// 写回队列名称。对象写回走高优先级队列：它们是交互编辑的主路径。
const (
	QueueObjects  = "critical"
	QueueProjects = "default"
)

// ObjectSavePayload 是对象写回任务的数据。Object 内嵌完整快照，
// 其 Revision 字段让 worker 能拒绝乱序到达的旧写入。
type ObjectSavePayload struct {
	Object domain.SceneObject `json:"object"`
}

// ObjectDeletePayload 是对象删除任务的数据。
type ObjectDeletePayload struct {
	ProjectID string `json:"project_id"`
	ObjectID  string `json:"object_id"`
	Revision  uint64 `json:"revision"` // 缓存删除时刻的写序号
}

// ProjectSavePayload 是项目元数据写回任务的数据。
type ProjectSavePayload struct {
	Project domain.Project `json:"project"`
}

// ProjectDeletePayload 是项目级删除任务的数据。
type ProjectDeletePayload struct {
	ProjectID string `json:"project_id"`
}

// NewObjectSaveTask 创建对象写回任务。
func NewObjectSaveTask(obj domain.SceneObject) (*asynq.Task, error) {
	payload, err := json.Marshal(ObjectSavePayload{Object: obj})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeObjectSave, payload, asynq.Queue(QueueObjects), asynq.MaxRetry(10)), nil
}

// NewObjectDeleteTask 创建对象删除任务。
func NewObjectDeleteTask(projectID, objectID string, revision uint64) (*asynq.Task, error) {
	payload, err := json.Marshal(ObjectDeletePayload{ProjectID: projectID, ObjectID: objectID, Revision: revision})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeObjectDelete, payload, asynq.Queue(QueueObjects), asynq.MaxRetry(10)), nil
}

// NewProjectSaveTask 创建项目元数据写回任务。
func NewProjectSaveTask(project domain.Project) (*asynq.Task, error) {
	payload, err := json.Marshal(ProjectSavePayload{Project: project})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProjectSave, payload, asynq.Queue(QueueProjects), asynq.MaxRetry(10)), nil
}

// NewProjectDeleteTask 创建项目级删除任务。
func NewProjectDeleteTask(projectID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProjectDeletePayload{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProjectDelete, payload, asynq.Queue(QueueProjects), asynq.MaxRetry(10)), nil
}
