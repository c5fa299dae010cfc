package state

import "sync"

// presenceEntry 是一个登录用户当前活动的窗口：每条活动连接和它所在的房间。
// 房间归属是连接级的：同一用户的两台设备可以打开不同的项目，
// 某条连接断开时，清理只发生在那条连接实际所在的房间。
// 这里没有任何持久状态，连接数归零的用户条目可以直接丢弃。
type presenceEntry struct {
	conns map[string]string // 连接 ID -> 房间代码（空串是"不在任何房间"的哨兵状态）
}

// Presence 跟踪哪些连接属于哪个登录用户，独立于任何具体房间。
// 一个用户可以同时持有多个客户端连接（同一项目开在两台设备上）。
type Presence struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
}

// NewPresence 创建空的在场注册表。
func NewPresence() *Presence {
	return &Presence{entries: make(map[string]*presenceEntry)}
}

// Login 记录用户的一个新连接。用户没有先前条目时创建之。
// 返回该用户已有连接所在的房间代码：非空时调用方应把新连接也加入那个房间。
func (p *Presence) Login(userID, connID string) (roomCode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	if !ok {
		entry = &presenceEntry{conns: make(map[string]string)}
		p.entries[userID] = entry
	}
	if _, present := entry.conns[connID]; !present {
		entry.conns[connID] = ""
	}
	for id, code := range entry.conns {
		if id != connID && code != "" {
			return code
		}
	}
	return ""
}

// Logout 移除用户的一个连接。
// 返回该连接此前所在的房间代码（调用方据此触发 Room.Leave 级联），
// 以及这是否是该用户的最后一个连接（条目随之丢弃，用户视为登出）。
func (p *Presence) Logout(userID, connID string) (roomCode string, last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	if !ok {
		return "", false
	}
	roomCode, present := entry.conns[connID]
	if !present {
		return "", false
	}
	delete(entry.conns, connID)
	if len(entry.conns) == 0 {
		delete(p.entries, userID)
		return roomCode, true
	}
	return roomCode, false
}

// IsLoggedIn 返回用户是否至少有一个活动连接。
func (p *Presence) IsLoggedIn(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	return ok && len(entry.conns) > 0
}

// SetRoom 记录连接当前所在的房间。连接未登记时返回 false。
func (p *Presence) SetRoom(userID, connID, roomCode string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	if !ok {
		return false
	}
	if _, present := entry.conns[connID]; !present {
		return false
	}
	entry.conns[connID] = roomCode
	return true
}

// RoomOf 返回连接当前所在的房间代码。
func (p *Presence) RoomOf(userID, connID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	if !ok {
		return "", false
	}
	roomCode := entry.conns[connID]
	if roomCode == "" {
		return "", false
	}
	return roomCode, true
}

// Evict 把连接移到"不在任何房间"的哨兵状态。
// 房间销毁时对房间内每条连接调用，保证没有连接还引用已销毁的房间。
func (p *Presence) Evict(userID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	if !ok {
		return
	}
	if _, present := entry.conns[connID]; present {
		entry.conns[connID] = ""
	}
}

// Connections 返回用户当前的活动连接 ID。
func (p *Presence) Connections(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(entry.conns))
	for connID := range entry.conns {
		out = append(out, connID)
	}
	return out
}
