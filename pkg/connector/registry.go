package connector

import (
	"sync"

	"github.com/chenxilol/echohub/internal/metrics"
)

// registry 频道注册表，按注册名保存订阅，同时记录插入顺序用于重连时重新订阅
type registry struct {
	mu      sync.RWMutex
	entries map[string]Subscription
	order   []string
	factory func(name string) Subscription
}

func newRegistry(factory func(name string) Subscription) *registry {
	return &registry{
		entries: make(map[string]Subscription),
		factory: factory,
	}
}

// GetOrCreate 返回已有订阅，不存在时创建并立即发送订阅帧
// 同名多次调用总是返回同一个实例
func (r *registry) GetOrCreate(name string) Subscription {
	r.mu.RLock()
	sub, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return sub
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.entries[name]; ok {
		return sub
	}

	sub = r.factory(name)
	r.entries[name] = sub
	r.order = append(r.order, name)
	metrics.ChannelAdded()

	// 在锁内发送订阅帧，保证与重连时的重新订阅不会重复或遗漏
	sub.base().subscribe()
	return sub
}

// Leave 移除逻辑名对应的公共、私有、在线状态三个订阅，并为每个移除的订阅发送退订帧
// 返回移除的数量，没有匹配项时什么也不做
func (r *registry) Leave(logical string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, name := range DerivedNames(logical) {
		sub, ok := r.entries[name]
		if !ok {
			continue
		}
		delete(r.entries, name)
		r.dropOrder(name)
		metrics.ChannelRemoved()
		removed++

		sub.base().unsubscribe()
	}
	return removed
}

// Lookup 按注册名查找
func (r *registry) Lookup(name string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.entries[name]
	return sub, ok
}

// Each 按注册顺序遍历当前订阅的快照
func (r *registry) Each(fn func(Subscription)) {
	r.mu.RLock()
	subs := r.snapshot()
	r.mu.RUnlock()

	for _, sub := range subs {
		fn(sub)
	}
}

// Names 按注册顺序返回注册名
func (r *registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len 返回订阅数量
func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// locked 持有写锁执行fn，期间不会有订阅被创建或移除
func (r *registry) locked(fn func(subs []Subscription)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.snapshot())
}

func (r *registry) snapshot() []Subscription {
	subs := make([]Subscription, 0, len(r.order))
	for _, name := range r.order {
		subs = append(subs, r.entries[name])
	}
	return subs
}

func (r *registry) dropOrder(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
