package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/repository"
)

// GormProjectRepository 是 ProjectRepository 接口的 GORM 实现。
type GormProjectRepository struct {
	db *gorm.DB
}

// NewGormProjectRepository 创建 GormProjectRepository 实例。
func NewGormProjectRepository(db *gorm.DB) *GormProjectRepository {
	if db == nil {
		panic("database connection cannot be nil for GormProjectRepository")
	}
	return &GormProjectRepository{db: db}
}

// FindByID 实现根据项目 ID 查找项目。
func (r *GormProjectRepository) FindByID(ctx context.Context, id string) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrProjectNotFound
		}
		return nil, fmt.Errorf("gorm: find project by id '%s': %w", id, err)
	}
	return &project, nil
}

// Save 实现项目信息的创建或更新。
// 主键是外部提供的字符串 ID，GORM 的 Save 无法据此判断插入还是更新，
// 所以用 ON DUPLICATE KEY 的 upsert。
func (r *GormProjectRepository) Save(ctx context.Context, project *domain.Project) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(project).Error
	if err != nil {
		return fmt.Errorf("gorm: save project (id: %s): %w", project.ID, err)
	}
	return nil
}

// Delete 实现项目记录的删除。
func (r *GormProjectRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Project{})
	if res.Error != nil {
		return fmt.Errorf("gorm: delete project '%s': %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrProjectNotFound
	}
	return nil
}
