package hub

import (
	"sync"
	"time"

	"github.com/elliotchance/orderedmap"
)

// Registry 维护两个同步更新的索引：
//   - subscribersByInbox: 收件箱 -> 按注册顺序排列的连接集合
//   - inboxByConnection:  连接 -> 收件箱
//
// 广播只需遍历单个收件箱的订阅者，移除连接通过反向索引 O(1) 定位。
type Registry struct {
	mu                 sync.RWMutex
	subscribersByInbox map[string]*orderedmap.OrderedMap
	inboxByConnection  map[string]string
	connections        map[string]*Connection
}

// NewRegistry 创建空的连接注册表
func NewRegistry() *Registry {
	return &Registry{
		subscribersByInbox: make(map[string]*orderedmap.OrderedMap),
		inboxByConnection:  make(map[string]string),
		connections:        make(map[string]*Connection),
	}
}

// Add 注册连接，返回该连接是否是收件箱当前唯一的订阅者
func (r *Registry) Add(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subscribersByInbox[conn.InboxID]
	if !ok {
		subs = orderedmap.NewOrderedMap()
		r.subscribersByInbox[conn.InboxID] = subs
	}
	subs.Set(conn.ID, conn)
	r.inboxByConnection[conn.ID] = conn.InboxID
	r.connections[conn.ID] = conn

	return subs.Len() == 1
}

// Remove 从两个索引中同时删除连接。订阅集合为空时整个条目被丢弃。
func (r *Registry) Remove(connID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) (*Connection, bool) {
	inboxID, ok := r.inboxByConnection[connID]
	if !ok {
		return nil, false
	}
	conn := r.connections[connID]

	delete(r.inboxByConnection, connID)
	delete(r.connections, connID)

	if subs, ok := r.subscribersByInbox[inboxID]; ok {
		subs.Delete(connID)
		if subs.Len() == 0 {
			delete(r.subscribersByInbox, inboxID)
		}
	}

	return conn, true
}

// Subscribers 按注册顺序返回收件箱的前 limit 个订阅者，以及订阅者总数。
// limit <= 0 表示不限制。
func (r *Registry) Subscribers(inboxID string, limit int) ([]*Connection, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.subscribersByInbox[inboxID]
	if !ok {
		return nil, 0
	}

	total := subs.Len()
	n := total
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*Connection, 0, n)
	for el := subs.Front(); el != nil && len(out) < n; el = el.Next() {
		out = append(out, el.Value.(*Connection))
	}
	return out, total
}

// RemoveInbox 删除收件箱的全部订阅者并返回它们
func (r *Registry) RemoveInbox(inboxID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subscribersByInbox[inboxID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, subs.Len())
	for el := subs.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Key.(string))
	}

	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := r.removeLocked(id); ok {
			out = append(out, conn)
		}
	}
	return out
}

// lookup 通过反向索引查询连接所属收件箱
func (r *Registry) lookup(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inboxID, ok := r.inboxByConnection[connID]
	return inboxID, ok
}

// contains 判断收件箱的订阅集合中是否包含该连接
func (r *Registry) contains(inboxID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.subscribersByInbox[inboxID]
	if !ok {
		return false
	}
	_, ok = subs.Get(connID)
	return ok
}

// Count 返回收件箱当前订阅者数量
func (r *Registry) Count(inboxID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if subs, ok := r.subscribersByInbox[inboxID]; ok {
		return subs.Len()
	}
	return 0
}

// Len 返回全部连接数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.inboxByConnection)
}

// InboxCount 返回有订阅者的收件箱数量
func (r *Registry) InboxCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribersByInbox)
}

// Older 返回创建时间早于 cutoff 的连接
func (r *Registry) Older(cutoff time.Time) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, conn := range r.connections {
		if conn.CreatedAt.Before(cutoff) {
			out = append(out, conn)
		}
	}
	return out
}

// All 返回全部连接
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	return out
}
