package repository

import (
	"context"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// ObjectRepository 定义了场景对象的持久化操作，键为 (projectID, objectID)。
//
// Save 和 Delete 都带写序号保护：缓存为每次变更分配单调递增的 Revision，
// 落库时只接受比已存版本新的写入。乱序到达的旧任务返回 ErrStaleWrite，
// 保证持久层永远不会用旧状态覆盖新状态。
type ObjectRepository interface {
	// FindByProject 返回项目的全部存活对象，按创建顺序排列。
	FindByProject(ctx context.Context, projectID string) ([]domain.SceneObject, error)

	// Save 创建或更新对象。若已存记录的 Revision 不比 obj.Revision 旧，
	// 返回 ErrStaleWrite 且不做任何修改。
	Save(ctx context.Context, obj *domain.SceneObject) error

	// Delete 软删除对象。revision 是缓存删除时刻的写序号，
	// 已存记录更新时返回 ErrStaleWrite。记录尚不存在时写入携带该
	// 写序号的墓碑行，保证迟到的旧版本保存无法复活对象。
	Delete(ctx context.Context, projectID, objectID string, revision uint64) error

	// DeleteByProject 删除项目的全部对象（项目级删除时使用）。
	DeleteByProject(ctx context.Context, projectID string) error
}
