package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/repository"
	"github.com/lucidbard/realityflow-2/internal/repository/mocks"
)

type trackerFixture struct {
	tracker  *Tracker
	presence *Presence
	flusher  *recordingFlusher
	sink     *recordingSink
	users    *mocks.UserRepository
	projects *mocks.ProjectRepository
	objects  *mocks.ObjectRepository
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	f := &trackerFixture{
		presence: NewPresence(),
		flusher:  &recordingFlusher{},
		sink:     &recordingSink{},
		users:    new(mocks.UserRepository),
		projects: new(mocks.ProjectRepository),
		objects:  new(mocks.ObjectRepository),
	}
	registry := NewRegistry(f.projects, f.objects, f.presence, f.flusher, f.sink)
	f.tracker = NewTracker(registry, f.presence, f.users, f.projects, f.objects, f.flusher)
	return f
}

func TestTracker_CreateProject_EnqueuesWriteback(t *testing.T) {
	f := newTrackerFixture(t)

	project, err := f.tracker.CreateProject(testProject("p1"))
	require.NoError(t, err)
	assert.False(t, project.DateModified.IsZero())

	f.flusher.mu.Lock()
	saved := len(f.flusher.savedProjects)
	f.flusher.mu.Unlock()
	assert.Equal(t, 1, saved, "项目创建走异步写回")
}

func TestTracker_CreateProject_EmptyID(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateProject(domain.Project{})
	assert.Error(t, err)
}

func TestTracker_OpenProject(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	project := testProject("p1")
	objects := []domain.SceneObject{testObject("o1")}
	f.projects.On("FindByID", ctx, "p1").Return(&project, nil).Once()
	f.objects.On("FindByProject", ctx, "p1").Return(objects, nil).Once()

	gotProject, gotObjects, err := f.tracker.OpenProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", gotProject.ID)
	require.Len(t, gotObjects, 1)
	f.projects.AssertExpectations(t)
}

func TestTracker_OpenProject_NotFound(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	f.projects.On("FindByID", ctx, "missing").Return(nil, repository.ErrProjectNotFound).Once()

	_, _, err := f.tracker.OpenProject(ctx, "missing")
	assert.True(t, errors.Is(err, ErrProjectNotFound))
}

func TestTracker_DeleteProject_DestroysRoomAndEnqueuesDelete(t *testing.T) {
	f := newTrackerFixture(t)

	_, err := f.tracker.CreateRoomFromProject(testProject("p1"), nil)
	require.NoError(t, err)

	require.NoError(t, f.tracker.DeleteProject("p1"))
	assert.False(t, f.tracker.RoomExists("p1"))
	assert.Equal(t, []string{"p1"}, f.flusher.projectDeletes())
}

func TestTracker_DeleteProject_NoActiveRoom(t *testing.T) {
	f := newTrackerFixture(t)

	// 没有活动房间时删除同样成功
	require.NoError(t, f.tracker.DeleteProject("p1"))
	assert.Equal(t, []string{"p1"}, f.flusher.projectDeletes())
}

func TestTracker_JoinRoom_ImplicitLogin(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), nil)
	require.NoError(t, err)

	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c1"))
	assert.True(t, f.tracker.IsLoggedIn("alice"))

	users, err := f.tracker.PresentUsers("R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestTracker_JoinRoom_Unknown(t *testing.T) {
	f := newTrackerFixture(t)
	err := f.tracker.JoinRoom("nope", "alice", "c1")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
}

func TestTracker_JoinRoom_MovesConnBetweenRooms(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), nil)
	require.NoError(t, err)
	_, err = f.tracker.CreateRoomFromProject(testProject("R2"), nil)
	require.NoError(t, err)

	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c1"))
	require.NoError(t, f.tracker.JoinRoom("R2", "alice", "c1"))

	r1Users, err := f.tracker.PresentUsers("R1")
	require.NoError(t, err)
	assert.Empty(t, r1Users, "连接同一时刻至多出现在一个房间")

	r2Users, err := f.tracker.PresentUsers("R2")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, r2Users)
}

func TestTracker_LoginSecondDeviceJoinsCurrentRoom(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), nil)
	require.NoError(t, err)
	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c1"))

	// 第二台设备登录：自动加入 alice 已在的房间
	f.tracker.LoginUser("alice", "c2")

	room, ok := f.tracker.registry.FindRoom("R1")
	require.True(t, ok)
	assert.Len(t, room.connections(), 2)
}

func TestTracker_LogoutReleasesLocks(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), nil)
	require.NoError(t, err)
	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c1"))
	require.NoError(t, f.tracker.JoinRoom("R1", "bob", "c2"))

	_, err = f.tracker.CreateObject("R1", testObject("o1"), "c1")
	require.NoError(t, err)
	_, err = f.tracker.CheckoutObject("R1", "o1", "c1")
	require.NoError(t, err)

	// alice 断线：锁释放，bob 可以 checkout
	f.tracker.LogoutUser("alice", "c1")
	assert.False(t, f.tracker.IsLoggedIn("alice"))

	obj, err := f.tracker.CheckoutObject("R1", "o1", "c2")
	require.NoError(t, err)
	assert.Equal(t, "c2", obj.LockedBy)
}

func TestTracker_LeaveRoomKeepsLogin(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), nil)
	require.NoError(t, err)
	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c1"))

	require.NoError(t, f.tracker.LeaveRoom("R1", "alice", "c1"))
	assert.True(t, f.tracker.IsLoggedIn("alice"), "离开房间不等于登出")

	users, err := f.tracker.PresentUsers("R1")
	require.NoError(t, err)
	assert.Empty(t, users)
	_, inRoom := f.presence.RoomOf("alice", "c1")
	assert.False(t, inRoom)
}

func TestTracker_LogoutCleansUpRoomOfThatConnection(t *testing.T) {
	// alice 的两台设备分处两个房间：断开 c1 必须清理 c1 实际所在的房间
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateRoomFromProject(testProject("A"), nil)
	require.NoError(t, err)
	_, err = f.tracker.CreateRoomFromProject(testProject("B"), nil)
	require.NoError(t, err)

	require.NoError(t, f.tracker.JoinRoom("A", "alice", "c1"))
	require.NoError(t, f.tracker.JoinRoom("A", "alice", "c2"))

	_, err = f.tracker.CreateObject("A", testObject("o1"), "c1")
	require.NoError(t, err)
	_, err = f.tracker.CheckoutObject("A", "o1", "c1")
	require.NoError(t, err)

	// c2 切换到房间 B，c1 仍留在 A 并持有锁
	require.NoError(t, f.tracker.JoinRoom("B", "alice", "c2"))
	usersA, err := f.tracker.PresentUsers("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, usersA, "c1 还在 A 房间")

	f.tracker.LogoutUser("alice", "c1")

	roomA, ok := f.tracker.registry.FindRoom("A")
	require.True(t, ok)
	obj, err := roomA.Cache().ReadObject("o1")
	require.NoError(t, err)
	assert.Empty(t, obj.LockedBy, "断开的连接不允许在它所在的房间留下悬空的锁")
	assert.Empty(t, roomA.PresentUsers(), "alice 在 A 房间的最后一条连接已断开")

	usersB, err := f.tracker.PresentUsers("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, usersB, "B 房间的 c2 不受影响")
	assert.True(t, f.tracker.IsLoggedIn("alice"))
}

func TestTracker_TwoUserEditingScenario(t *testing.T) {
	// alice 和 bob 协作编辑同一对象的完整回合
	f := newTrackerFixture(t)
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), nil)
	require.NoError(t, err)
	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c1"))
	require.NoError(t, f.tracker.JoinRoom("R1", "bob", "c2"))

	created, err := f.tracker.CreateObject("R1", testObject("o1"), "c1")
	require.NoError(t, err)

	// alice checkout，bob 的写操作被拒绝
	_, err = f.tracker.CheckoutObject("R1", created.ID, "c1")
	require.NoError(t, err)
	_, err = f.tracker.CheckoutObject("R1", created.ID, "c2")
	holder, ok := IsLockConflict(err)
	require.True(t, ok)
	assert.Equal(t, "c1", holder)

	newState := testObject("o1")
	newState.X = 100
	_, err = f.tracker.UpdateObject("R1", newState, "c2")
	_, ok = IsLockConflict(err)
	require.True(t, ok)

	// alice 编辑并 checkin
	updated, err := f.tracker.UpdateObject("R1", newState, "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), updated.X)
	_, err = f.tracker.CheckinObject("R1", created.ID, "c1")
	require.NoError(t, err)

	// 现在 bob 可以接手
	obj, err := f.tracker.CheckoutObject("R1", created.ID, "c2")
	require.NoError(t, err)
	assert.Equal(t, "c2", obj.LockedBy)
	assert.Equal(t, float64(100), obj.X, "bob 看到 alice 的最终状态")
}

func TestTracker_ObjectsForInitialSync(t *testing.T) {
	f := newTrackerFixture(t)
	loaded := []domain.SceneObject{testObject("a"), testObject("b")}
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), loaded)
	require.NoError(t, err)

	objects, err := f.tracker.Objects("R1")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "a", objects[0].ID)
	assert.Equal(t, "b", objects[1].ID)
}

func TestTracker_CreateUser_Sync(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	user := &domain.User{Username: "alice"}
	f.users.On("Save", ctx, user).Return(nil).Once()

	require.NoError(t, f.tracker.CreateUser(ctx, user))
	f.users.AssertExpectations(t)
}

func TestTracker_DeleteUser_LogsOutAllConnections(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	_, err := f.tracker.CreateRoomFromProject(testProject("R1"), nil)
	require.NoError(t, err)
	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c1"))
	require.NoError(t, f.tracker.JoinRoom("R1", "alice", "c2"))

	user := &domain.User{ID: 7, Username: "alice"}
	f.users.On("FindByUsername", ctx, "alice").Return(user, nil).Once()
	f.users.On("Delete", ctx, uint(7)).Return(nil).Once()

	require.NoError(t, f.tracker.DeleteUser(ctx, "alice"))
	assert.False(t, f.tracker.IsLoggedIn("alice"))

	users, err := f.tracker.PresentUsers("R1")
	require.NoError(t, err)
	assert.Empty(t, users)
	f.users.AssertExpectations(t)
}
