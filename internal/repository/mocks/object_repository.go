package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// ObjectRepository 是 repository.ObjectRepository 的 testify mock 实现。
type ObjectRepository struct {
	mock.Mock
}

func (m *ObjectRepository) FindByProject(ctx context.Context, projectID string) ([]domain.SceneObject, error) {
	args := m.Called(ctx, projectID)
	objects, _ := args.Get(0).([]domain.SceneObject)
	return objects, args.Error(1)
}

func (m *ObjectRepository) Save(ctx context.Context, obj *domain.SceneObject) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *ObjectRepository) Delete(ctx context.Context, projectID, objectID string, revision uint64) error {
	args := m.Called(ctx, projectID, objectID, revision)
	return args.Error(0)
}

func (m *ObjectRepository) DeleteByProject(ctx context.Context, projectID string) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}
