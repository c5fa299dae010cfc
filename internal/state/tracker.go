package state

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/repository"
)

// Tracker 是会话层的统一入口（Session Facade）：
// 传输层和认证层完成各自的职责后，所有项目/用户/房间/对象操作都经由它
// 路由到正确的 Room / ProjectCache。除了分发和请求校验之外没有业务逻辑，
// 组件层的失败原样透传给调用方。
//
// 调用方提供的是已认证的用户标识和连接句柄，Tracker 不做任何凭证校验。
type Tracker struct {
	registry *Registry
	presence *Presence
	users    repository.UserRepository
	projects repository.ProjectRepository
	objects  repository.ObjectRepository
	flusher  Flusher
}

// NewTracker 创建 Session Facade。所有依赖必须非 nil。
func NewTracker(registry *Registry, presence *Presence, users repository.UserRepository, projects repository.ProjectRepository, objects repository.ObjectRepository, flusher Flusher) *Tracker {
	if registry == nil || presence == nil {
		panic("Registry and Presence cannot be nil for Tracker")
	}
	if users == nil || projects == nil || objects == nil {
		panic("repositories cannot be nil for Tracker")
	}
	if flusher == nil {
		panic("Flusher cannot be nil for Tracker")
	}
	return &Tracker{
		registry: registry,
		presence: presence,
		users:    users,
		projects: projects,
		objects:  objects,
		flusher:  flusher,
	}
}

// --- 项目操作 ---

// CreateProject 把新项目排入持久化写入并返回其最终形态。
// 持久化是异步的：方法返回时项目已可用于 CreateRoomFromProject，
// 但持久层可能尚未反映它。
func (t *Tracker) CreateProject(project domain.Project) (domain.Project, error) {
	if project.ID == "" {
		return domain.Project{}, ErrProjectNotFound
	}
	project.DateModified = time.Now()
	t.flusher.SaveProject(project)
	logrus.WithField("project_id", project.ID).Info("Project created")
	return project, nil
}

// OpenProject 从持久存储读取项目元数据和对象集合。
func (t *Tracker) OpenProject(ctx context.Context, projectID string) (domain.Project, []domain.SceneObject, error) {
	project, err := t.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Project{}, nil, ErrProjectNotFound
		}
		return domain.Project{}, nil, err
	}
	objects, err := t.objects.FindByProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	return *project, objects, nil
}

// DeleteProject 销毁项目的活动房间（如果有）并排入项目级持久删除。
// 这是唯一会从持久存储删除项目的路径：单纯的房间销毁不触碰持久数据。
func (t *Tracker) DeleteProject(projectID string) error {
	if err := t.registry.DestroyRoom(projectID); err != nil && !errors.Is(err, ErrRoomNotFound) {
		return err
	}
	t.flusher.DeleteProject(projectID)
	logrus.WithField("project_id", projectID).Info("Project deleted")
	return nil
}

// --- 用户操作 ---

// CreateUser 把用户写入持久存储。登录依赖用户记录存在，所以这里是同步写。
func (t *Tracker) CreateUser(ctx context.Context, user *domain.User) error {
	return t.users.Save(ctx, user)
}

// DeleteUser 先登出用户的全部连接，再删除用户记录。
func (t *Tracker) DeleteUser(ctx context.Context, username string) error {
	user, err := t.users.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	for _, connID := range t.presence.Connections(username) {
		t.LogoutUser(username, connID)
	}
	return t.users.Delete(ctx, user.ID)
}

// --- 会话操作 ---

// LoginUser 记录用户的一个新连接。
// 用户的其他设备已经在某个房间里时，新连接会被一并加入那个房间。
func (t *Tracker) LoginUser(userID, connID string) {
	roomCode := t.presence.Login(userID, connID)
	if roomCode == "" {
		return
	}
	if room, ok := t.registry.FindRoom(roomCode); ok {
		room.Join(userID, connID)
		t.presence.SetRoom(userID, connID, roomCode)
	}
}

// LogoutUser 移除用户的一个连接并触发清理级联：
// 该连接离开它自己所在的房间（释放它持有的所有锁）——
// 即使用户的其他设备此刻在别的房间，清理也发生在正确的房间里。
// 断开发生在请求处理中途也安全：清理与刚完成的变更在各自的锁下串行化。
func (t *Tracker) LogoutUser(userID, connID string) {
	roomCode, _ := t.presence.Logout(userID, connID)
	if roomCode == "" {
		return
	}
	if room, ok := t.registry.FindRoom(roomCode); ok {
		room.Leave(userID, connID)
	}
}

// IsLoggedIn 返回用户是否至少有一个活动连接。
func (t *Tracker) IsLoggedIn(userID string) bool {
	return t.presence.IsLoggedIn(userID)
}

// --- 房间操作 ---

// CreateRoom 为项目创建房间并返回房间代码。
func (t *Tracker) CreateRoom(ctx context.Context, projectID string) (string, error) {
	return t.registry.CreateRoom(ctx, projectID)
}

// CreateRoomFromProject 用已在手的项目数据创建房间（新建项目后立即开房间）。
func (t *Tracker) CreateRoomFromProject(project domain.Project, objects []domain.SceneObject) (string, error) {
	return t.registry.CreateRoomFromProject(project, objects)
}

// JoinRoom 把用户的连接加入房间。
// 连接此前在别的房间时先从那里离开：一个连接同一时刻至多出现在一个房间。
func (t *Tracker) JoinRoom(roomCode, userID, connID string) error {
	room, ok := t.registry.FindRoom(roomCode)
	if !ok {
		return ErrRoomNotFound
	}
	if prevCode, inRoom := t.presence.RoomOf(userID, connID); inRoom && prevCode != roomCode {
		if prev, found := t.registry.FindRoom(prevCode); found {
			prev.Leave(userID, connID)
		}
	}
	// 登录是加入房间的前置条件；未登录的连接在这里顺带登录
	t.presence.Login(userID, connID)
	room.Join(userID, connID)
	t.presence.SetRoom(userID, connID, roomCode)
	return nil
}

// LeaveRoom 把用户的连接从房间移除，连接回到"不在任何房间"状态。
func (t *Tracker) LeaveRoom(roomCode, userID, connID string) error {
	room, ok := t.registry.FindRoom(roomCode)
	if !ok {
		return ErrRoomNotFound
	}
	room.Leave(userID, connID)
	t.presence.Evict(userID, connID)
	return nil
}

// RoomExists 返回房间是否存在。
func (t *Tracker) RoomExists(roomCode string) bool {
	_, ok := t.registry.FindRoom(roomCode)
	return ok
}

// DestroyRoom 销毁房间（驱逐全部连接后从注册表移除）。
func (t *Tracker) DestroyRoom(roomCode string) error {
	return t.registry.DestroyRoom(roomCode)
}

// PresentUsers 返回房间内在场用户的标识集合。
func (t *Tracker) PresentUsers(roomCode string) ([]string, error) {
	room, ok := t.registry.FindRoom(roomCode)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.PresentUsers(), nil
}

// --- 对象操作：按房间代码路由到对应的 Room ---

func (t *Tracker) room(roomCode string) (*Room, error) {
	room, ok := t.registry.FindRoom(roomCode)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// CreateObject 在房间绑定的项目中创建对象。
func (t *Tracker) CreateObject(roomCode string, obj domain.SceneObject, connID string) (domain.SceneObject, error) {
	room, err := t.room(roomCode)
	if err != nil {
		return domain.SceneObject{}, err
	}
	return room.CreateObject(obj, connID)
}

// ReadObject 读取对象快照。
func (t *Tracker) ReadObject(roomCode, objectID, connID string) (domain.SceneObject, error) {
	room, err := t.room(roomCode)
	if err != nil {
		return domain.SceneObject{}, err
	}
	return room.ReadObject(objectID, connID)
}

// UpdateObject 更新对象的可变字段。
func (t *Tracker) UpdateObject(roomCode string, newState domain.SceneObject, connID string) (domain.SceneObject, error) {
	room, err := t.room(roomCode)
	if err != nil {
		return domain.SceneObject{}, err
	}
	return room.UpdateObject(newState, connID)
}

// DeleteObject 删除对象。
func (t *Tracker) DeleteObject(roomCode, objectID, connID string) error {
	room, err := t.room(roomCode)
	if err != nil {
		return err
	}
	return room.DeleteObject(objectID, connID)
}

// CheckoutObject 为连接获取对象的独占编辑锁。
func (t *Tracker) CheckoutObject(roomCode, objectID, connID string) (domain.SceneObject, error) {
	room, err := t.room(roomCode)
	if err != nil {
		return domain.SceneObject{}, err
	}
	return room.CheckoutObject(objectID, connID)
}

// CheckinObject 释放连接持有的对象锁。
func (t *Tracker) CheckinObject(roomCode, objectID, connID string) (domain.SceneObject, error) {
	room, err := t.room(roomCode)
	if err != nil {
		return domain.SceneObject{}, err
	}
	return room.CheckinObject(objectID, connID)
}

// Objects 返回房间项目的全部对象快照（新连接的初始场景同步用）。
func (t *Tracker) Objects(roomCode string) ([]domain.SceneObject, error) {
	room, err := t.room(roomCode)
	if err != nil {
		return nil, err
	}
	return room.Cache().Objects(), nil
}
