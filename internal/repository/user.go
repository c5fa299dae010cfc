package repository

import (
	"context"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// UserRepository 定义了用户数据的存储和检索操作。
type UserRepository interface {
	// FindByID 根据用户 ID 查找用户，不存在时返回 ErrUserNotFound。
	FindByID(ctx context.Context, id uint) (*domain.User, error)

	// FindByUsername 根据用户名查找用户，不存在时返回 ErrUserNotFound。
	FindByUsername(ctx context.Context, username string) (*domain.User, error)

	// Save 保存用户信息。违反唯一约束时返回 ErrDuplicateEntry。
	Save(ctx context.Context, user *domain.User) error

	// Delete 删除用户记录，不存在时返回 ErrUserNotFound。
	Delete(ctx context.Context, id uint) error
}
