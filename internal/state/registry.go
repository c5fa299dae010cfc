package state

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/domain"
	"github.com/lucidbard/realityflow-2/internal/repository"
)

// Registry 是进程级的活动房间表，按房间代码索引。
// 它是被显式构造、有确定生命周期的实例：服务启动时创建，
// 由 Tracker 持有，进程关闭时随之丢弃——不存在包级共享状态。
//
// 锁序约定：Registry -> Room -> ProjectCache，只按这个方向获取，
// 而且 Registry 的锁在进入 Room 之前总是先释放。
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	projects repository.ProjectRepository
	objects  repository.ObjectRepository
	flusher  Flusher
	sink     EventSink
	presence *Presence
}

// NewRegistry 创建房间注册表。
func NewRegistry(projects repository.ProjectRepository, objects repository.ObjectRepository, presence *Presence, flusher Flusher, sink EventSink) *Registry {
	if projects == nil || objects == nil {
		panic("project and object repositories cannot be nil for Registry")
	}
	if presence == nil {
		panic("Presence cannot be nil for Registry")
	}
	if flusher == nil {
		panic("Flusher cannot be nil for Registry")
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		projects: projects,
		objects:  objects,
		flusher:  flusher,
		sink:     sink,
		presence: presence,
	}
}

// CreateRoom 从持久存储加载项目并为其创建房间。
// 房间代码策略：直接使用项目 ID，天然保证代码与项目一一对应。
// 该代码的房间已存在时返回 ErrDuplicateRoom；项目不存在时返回 ErrProjectNotFound。
func (g *Registry) CreateRoom(ctx context.Context, projectID string) (string, error) {
	code := projectID

	// 先用读锁做一次廉价检查，避免为重复请求白白访问持久层
	g.mu.RLock()
	_, exists := g.rooms[code]
	g.mu.RUnlock()
	if exists {
		return "", ErrDuplicateRoom
	}

	project, err := g.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrProjectNotFound
		}
		return "", err
	}
	objects, err := g.objects.FindByProject(ctx, projectID)
	if err != nil {
		return "", err
	}

	return g.attach(*project, objects)
}

// CreateRoomFromProject 用已在手的项目数据创建房间，跳过持久层加载。
// 刚创建、尚未写回完成的项目走这条路（持久层此刻可能还读不到它）。
func (g *Registry) CreateRoomFromProject(project domain.Project, objects []domain.SceneObject) (string, error) {
	return g.attach(project, objects)
}

func (g *Registry) attach(project domain.Project, objects []domain.SceneObject) (string, error) {
	code := project.ID
	cache := NewProjectCache(project, objects, g.flusher)
	room := newRoom(code, cache, g.sink)

	g.mu.Lock()
	if _, exists := g.rooms[code]; exists {
		g.mu.Unlock()
		return "", ErrDuplicateRoom
	}
	g.rooms[code] = room
	g.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room_code":    code,
		"project_id":   project.ID,
		"object_count": len(objects),
	}).Info("Room created")
	return code, nil
}

// FindRoom 按房间代码查找活动房间。
// 未找到是调用方必须检查的正常结果，不是异常。
func (g *Registry) FindRoom(code string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[code]
	return room, ok
}

// DestroyRoom 销毁房间：先把房间内每个连接驱逐到"不在任何房间"状态
// （离开级联会释放它们持有的锁），再把房间从注册表移除。
// 代码未知时返回 ErrRoomNotFound。
//
// 缓存的待写回任务已经在持久化队列里，由写回管线负责完成，
// 房间对象丢弃不影响它们。
func (g *Registry) DestroyRoom(code string) error {
	g.mu.Lock()
	room, ok := g.rooms[code]
	if !ok {
		g.mu.Unlock()
		return ErrRoomNotFound
	}
	delete(g.rooms, code)
	g.mu.Unlock()

	// 注册表锁已释放，之后才进入房间和缓存的锁范围
	for _, pair := range room.connections() {
		userID, connID := pair[0], pair[1]
		room.Leave(userID, connID)
		g.presence.Evict(userID, connID)
	}

	logrus.WithField("room_code", code).Info("Room destroyed")
	return nil
}

// Rooms 返回当前活动房间代码的快照（运维/调试用）。
func (g *Registry) Rooms() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.rooms))
	for code := range g.rooms {
		out = append(out, code)
	}
	return out
}
