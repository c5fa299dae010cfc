package state

import (
	"sync"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// recordingFlusher 记录全部写回入队调用，供测试断言。
type recordingFlusher struct {
	mu              sync.Mutex
	savedObjects    []domain.SceneObject
	deletedObjects  []deletedObject
	savedProjects   []domain.Project
	deletedProjects []string
}

type deletedObject struct {
	projectID string
	objectID  string
	revision  uint64
}

func (f *recordingFlusher) SaveObject(obj domain.SceneObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedObjects = append(f.savedObjects, obj)
}

func (f *recordingFlusher) DeleteObject(projectID, objectID string, revision uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedObjects = append(f.deletedObjects, deletedObject{projectID, objectID, revision})
}

func (f *recordingFlusher) SaveProject(project domain.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedProjects = append(f.savedProjects, project)
}

func (f *recordingFlusher) DeleteProject(projectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedProjects = append(f.deletedProjects, projectID)
}

func (f *recordingFlusher) objectSaves() []domain.SceneObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SceneObject, len(f.savedObjects))
	copy(out, f.savedObjects)
	return out
}

func (f *recordingFlusher) objectDeletes() []deletedObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]deletedObject, len(f.deletedObjects))
	copy(out, f.deletedObjects)
	return out
}

func (f *recordingFlusher) projectDeletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletedProjects))
	copy(out, f.deletedProjects)
	return out
}

// recordingSink 记录全部发布的事件，供测试断言。
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func testProject(id string) domain.Project {
	return domain.Project{ID: id, Name: "Test Scene", OwnerID: 1}
}

func testObject(id string) domain.SceneObject {
	return domain.SceneObject{
		ID:   id,
		Kind: "mesh",
		Name: "cube-" + id,
		X:    1, Y: 2, Z: 3,
		QW: 1,
		SX: 1, SY: 1, SZ: 1,
	}
}
