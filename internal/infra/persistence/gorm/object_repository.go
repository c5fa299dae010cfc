package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/repository"
)

// GormObjectRepository 是 ObjectRepository 接口的 GORM 实现。
//
// 写序号保护：Save 和 Delete 都只接受比已存 revision 新的写入。
// 写回任务可能因重试或并发 worker 乱序到达，这里是保证
// "旧写入永远不会覆盖新状态"的最后一道防线。
type GormObjectRepository struct {
	db *gorm.DB
}

// NewGormObjectRepository 创建 GormObjectRepository 实例。
func NewGormObjectRepository(db *gorm.DB) *GormObjectRepository {
	if db == nil {
		panic("database connection cannot be nil for GormObjectRepository")
	}
	return &GormObjectRepository{db: db}
}

// FindByProject 实现按项目读取全部存活对象，按创建顺序返回。
func (r *GormObjectRepository) FindByProject(ctx context.Context, projectID string) ([]domain.SceneObject, error) {
	var objects []domain.SceneObject
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Find(&objects).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find objects of project '%s': %w", projectID, err)
	}
	return objects, nil
}

// Save 实现写序号保护的创建或更新。
// 先尝试更新 revision 更旧的已存行（包括软删除的行：更新的写回可以复活它），
// 没有可更新的行时再尝试创建。两条路都失败说明已有更新版本落库，返回 ErrStaleWrite。
func (r *GormObjectRepository) Save(ctx context.Context, obj *domain.SceneObject) error {
	res := r.db.WithContext(ctx).Unscoped().
		Model(&domain.SceneObject{}).
		Where("project_id = ? AND id = ? AND revision < ?", obj.ProjectID, obj.ID, obj.Revision).
		Select("*").
		Updates(obj)
	if res.Error != nil {
		return fmt.Errorf("gorm: update object %s/%s: %w", obj.ProjectID, obj.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// 没有行被更新：要么行不存在（创建），要么已存行版本更新（过期写入）
	var count int64
	err := r.db.WithContext(ctx).Unscoped().
		Model(&domain.SceneObject{}).
		Where("project_id = ? AND id = ?", obj.ProjectID, obj.ID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("gorm: count object %s/%s: %w", obj.ProjectID, obj.ID, err)
	}
	if count > 0 {
		return repository.ErrStaleWrite
	}

	err = r.db.WithContext(ctx).Create(obj).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 并发写入者抢先创建了这一行，对方的版本更新
			return repository.ErrStaleWrite
		}
		return fmt.Errorf("gorm: create object %s/%s: %w", obj.ProjectID, obj.ID, err)
	}
	return nil
}

// Delete 实现写序号保护的软删除。
// revision 一并写入被删的行，之后 revision 更旧的过期 Save 无法复活它。
// 行还不存在时（对象的创建任务可能还在重试队列里）写入墓碑行占住写序号：
// 迟到的创建/更新命中写序号保护，而不是把已删对象重新建出来。
func (r *GormObjectRepository) Delete(ctx context.Context, projectID, objectID string, revision uint64) error {
	res := r.db.WithContext(ctx).Unscoped().
		Model(&domain.SceneObject{}).
		Where("project_id = ? AND id = ? AND revision < ?", projectID, objectID, revision).
		Updates(map[string]interface{}{
			"deleted_at": time.Now(),
			"revision":   revision,
		})
	if res.Error != nil {
		return fmt.Errorf("gorm: delete object %s/%s: %w", projectID, objectID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	err := r.db.WithContext(ctx).Unscoped().
		Model(&domain.SceneObject{}).
		Where("project_id = ? AND id = ?", projectID, objectID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("gorm: count object %s/%s: %w", projectID, objectID, err)
	}
	if count > 0 {
		// 已存行的版本不比本删除旧，本任务过期
		return repository.ErrStaleWrite
	}

	err = r.db.WithContext(ctx).Create(deleteTombstone(projectID, objectID, revision)).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 并发写入者抢先创建了这一行，让任务重试走上面的条件更新
			return fmt.Errorf("gorm: tombstone conflict for object %s/%s: %w", projectID, objectID, err)
		}
		return fmt.Errorf("gorm: create tombstone for object %s/%s: %w", projectID, objectID, err)
	}
	return nil
}

// deleteTombstone 构造占位的已删除行：携带删除时刻的写序号和删除标记。
// 对象的创建任务落库晚于删除任务时，它的 revision 更旧，会被写序号保护拒绝。
func deleteTombstone(projectID, objectID string, revision uint64) *domain.SceneObject {
	return &domain.SceneObject{
		ProjectID: projectID,
		ID:        objectID,
		Revision:  revision,
		DeletedAt: gorm.DeletedAt{Time: time.Now(), Valid: true},
	}
}

// DeleteByProject 实现项目级硬删除（连同软删除的行一起清掉）。
func (r *GormObjectRepository) DeleteByProject(ctx context.Context, projectID string) error {
	err := r.db.WithContext(ctx).Unscoped().
		Where("project_id = ?", projectID).
		Delete(&domain.SceneObject{}).Error
	if err != nil {
		return fmt.Errorf("gorm: delete objects of project '%s': %w", projectID, err)
	}
	return nil
}
