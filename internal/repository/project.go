package repository

import (
	"context"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// ProjectRepository 定义了项目记录的持久化操作（持久存储网关的项目部分）。
type ProjectRepository interface {
	// FindByID 根据项目 ID 查找项目。
	// 项目不存在时返回 ErrProjectNotFound。
	FindByID(ctx context.Context, id string) (*domain.Project, error)

	// Save 保存项目信息。已存在（基于 ID）则更新，否则创建。
	Save(ctx context.Context, project *domain.Project) error

	// Delete 删除项目记录。只删除项目本身，对象由调用方单独处理。
	Delete(ctx context.Context, id string) error
}
