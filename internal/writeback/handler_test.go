package writeback_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/repository"
	"github.com/lucidbard/realityflow-2/internal/repository/mocks"
	"github.com/lucidbard/realityflow-2/internal/tasks"
	"github.com/lucidbard/realityflow-2/internal/writeback"
)

func newHandlers(t *testing.T) (*writeback.Handlers, *mocks.ProjectRepository, *mocks.ObjectRepository) {
	t.Helper()
	projectRepo := new(mocks.ProjectRepository)
	objectRepo := new(mocks.ObjectRepository)
	return writeback.NewHandlers(projectRepo, objectRepo), projectRepo, objectRepo
}

func TestHandleObjectSave_Success(t *testing.T) {
	handlers, _, objectRepo := newHandlers(t)
	ctx := context.Background()

	obj := domain.SceneObject{ProjectID: "p1", ID: "o1", Kind: "mesh", Revision: 3}
	task, err := tasks.NewObjectSaveTask(obj)
	require.NoError(t, err)

	objectRepo.On("Save", ctx, mock.MatchedBy(func(o *domain.SceneObject) bool {
		return o.ProjectID == "p1" && o.ID == "o1" && o.Revision == 3
	})).Return(nil).Once()

	assert.NoError(t, handlers.HandleObjectSave(ctx, task))
	objectRepo.AssertExpectations(t)
}

func TestHandleObjectSave_StaleWriteIsSkipped(t *testing.T) {
	handlers, _, objectRepo := newHandlers(t)
	ctx := context.Background()

	task, err := tasks.NewObjectSaveTask(domain.SceneObject{ProjectID: "p1", ID: "o1", Revision: 2})
	require.NoError(t, err)

	objectRepo.On("Save", ctx, mock.Anything).Return(repository.ErrStaleWrite).Once()

	// 过期写入不是失败，任务不应重试
	assert.NoError(t, handlers.HandleObjectSave(ctx, task))
	objectRepo.AssertExpectations(t)
}

func TestHandleObjectSave_TransientErrorRetries(t *testing.T) {
	handlers, _, objectRepo := newHandlers(t)
	ctx := context.Background()

	task, err := tasks.NewObjectSaveTask(domain.SceneObject{ProjectID: "p1", ID: "o1", Revision: 1})
	require.NoError(t, err)

	dbErr := errors.New("connection refused")
	objectRepo.On("Save", ctx, mock.Anything).Return(dbErr).Once()

	err = handlers.HandleObjectSave(ctx, task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "瞬态错误应走重试路径")
}

func TestHandleObjectSave_BadPayloadSkipsRetry(t *testing.T) {
	handlers, _, _ := newHandlers(t)

	task := asynq.NewTask(tasks.TypeObjectSave, []byte("{not json"))
	err := handlers.HandleObjectSave(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "损坏的载荷重试没有意义")
}

func TestHandleObjectDelete_StaleWriteIsSkipped(t *testing.T) {
	handlers, _, objectRepo := newHandlers(t)
	ctx := context.Background()

	task, err := tasks.NewObjectDeleteTask("p1", "o1", 4)
	require.NoError(t, err)

	objectRepo.On("Delete", ctx, "p1", "o1", uint64(4)).Return(repository.ErrStaleWrite).Once()

	assert.NoError(t, handlers.HandleObjectDelete(ctx, task))
	objectRepo.AssertExpectations(t)
}

func TestHandleObjectDelete_Success(t *testing.T) {
	handlers, _, objectRepo := newHandlers(t)
	ctx := context.Background()

	task, err := tasks.NewObjectDeleteTask("p1", "o1", 4)
	require.NoError(t, err)

	objectRepo.On("Delete", ctx, "p1", "o1", uint64(4)).Return(nil).Once()

	assert.NoError(t, handlers.HandleObjectDelete(ctx, task))
	objectRepo.AssertExpectations(t)
}

func TestHandleProjectSave_Success(t *testing.T) {
	handlers, projectRepo, _ := newHandlers(t)
	ctx := context.Background()

	task, err := tasks.NewProjectSaveTask(domain.Project{ID: "p1", Name: "Scene"})
	require.NoError(t, err)

	projectRepo.On("Save", ctx, mock.MatchedBy(func(p *domain.Project) bool {
		return p.ID == "p1"
	})).Return(nil).Once()

	assert.NoError(t, handlers.HandleProjectSave(ctx, task))
	projectRepo.AssertExpectations(t)
}

func TestHandleProjectDelete_DeletesObjectsFirst(t *testing.T) {
	handlers, projectRepo, objectRepo := newHandlers(t)
	ctx := context.Background()

	task, err := tasks.NewProjectDeleteTask("p1")
	require.NoError(t, err)

	objectRepo.On("DeleteByProject", ctx, "p1").Return(nil).Once()
	projectRepo.On("Delete", ctx, "p1").Return(nil).Once()

	assert.NoError(t, handlers.HandleProjectDelete(ctx, task))
	objectRepo.AssertExpectations(t)
	projectRepo.AssertExpectations(t)
}

func TestHandleProjectDelete_MissingProjectTolerated(t *testing.T) {
	handlers, projectRepo, objectRepo := newHandlers(t)
	ctx := context.Background()

	task, err := tasks.NewProjectDeleteTask("p1")
	require.NoError(t, err)

	// 重试的删除任务可能发现项目已经没了
	objectRepo.On("DeleteByProject", ctx, "p1").Return(nil).Once()
	projectRepo.On("Delete", ctx, "p1").Return(repository.ErrNotFound).Once()

	assert.NoError(t, handlers.HandleProjectDelete(ctx, task))
}
