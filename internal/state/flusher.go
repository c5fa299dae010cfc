package state

import "github.com/lucidbard/realityflow-2/internal/domain"

// Flusher 把缓存变更排入持久化写回队列。
//
// 缓存是会话期间的事实来源：这些方法只负责入队，必须立即返回，
// 不等待持久化完成，也不向调用方暴露失败——入队或落库失败由
// 写回管线自行记录并按退避重试（见 internal/writeback）。
type Flusher interface {
	// SaveObject 排入一次对象创建/更新写回。obj 是值拷贝，入队后不会再被缓存修改。
	SaveObject(obj domain.SceneObject)

	// DeleteObject 排入一次对象删除写回。revision 是缓存删除时刻分配的写序号。
	DeleteObject(projectID, objectID string, revision uint64)

	// SaveProject 排入一次项目元数据写回。
	SaveProject(project domain.Project)

	// DeleteProject 排入项目级删除（项目记录和其全部对象）。
	DeleteProject(projectID string)
}

// NopFlusher 丢弃所有写回请求，用于测试。
type NopFlusher struct{}

func (NopFlusher) SaveObject(domain.SceneObject) {}
func (NopFlusher) DeleteObject(string, string, uint64) {}
func (NopFlusher) SaveProject(domain.Project) {}
func (NopFlusher) DeleteProject(string) {}
