package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// ProjectRepository 是 repository.ProjectRepository 的 testify mock 实现。
type ProjectRepository struct {
	mock.Mock
}

func (m *ProjectRepository) FindByID(ctx context.Context, id string) (*domain.Project, error) {
	args := m.Called(ctx, id)
	project, _ := args.Get(0).(*domain.Project)
	return project, args.Error(1)
}

func (m *ProjectRepository) Save(ctx context.Context, project *domain.Project) error {
	args := m.Called(ctx, project)
	return args.Error(0)
}

func (m *ProjectRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
