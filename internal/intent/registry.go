package intent

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/domain"
)

var regLog = logrus.WithField("component", "intent_registry")

// Registry 意图注册表：提供「至多一次准入」语义。
//
// 上游重试、消息重复投递、进程重启后的重放，最终都收敛到这里：
// 同一个 intent_id 无论处于活跃/完成/失败哪种状态，再次 Register 都返回
// false 且不做任何改写。复合不变量（三个集合互斥）由单一互斥锁守护。
type Registry struct {
	mu        sync.Mutex
	active    map[string]*domain.OrderIntent
	completed map[string]struct{}
	failed    map[string]struct{}

	store Store // 可选：终态变更时落盘，重启后恢复
}

// Store 注册表快照存储（可选注入，nil 表示纯内存）。
type Store interface {
	Save(snap RegistrySnapshot) error
	Load() (RegistrySnapshot, error)
}

// RegistrySnapshot 注册表可持久化投影。
type RegistrySnapshot struct {
	Active    map[string]*domain.OrderIntent `json:"active"`
	Completed []string                       `json:"completed"`
	Failed    []string                       `json:"failed"`
}

// NewRegistry 创建注册表。store 可为 nil。
func NewRegistry(store Store) *Registry {
	return &Registry{
		active:    make(map[string]*domain.OrderIntent),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		store:     store,
	}
}

// Restore 从存储恢复（进程启动时调用一次）。
func (r *Registry) Restore() error {
	if r.store == nil {
		return nil
	}
	snap, err := r.store.Load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, it := range snap.Active {
		r.active[id] = it
	}
	for _, id := range snap.Completed {
		r.completed[id] = struct{}{}
	}
	for _, id := range snap.Failed {
		r.failed[id] = struct{}{}
	}
	regLog.Infof("📦 注册表已恢复: active=%d completed=%d failed=%d",
		len(r.active), len(r.completed), len(r.failed))
	return nil
}

// Register 注册意图。id 已知（任何状态）时返回 false 且不改写。
func (r *Registry) Register(i *domain.OrderIntent) (string, bool) {
	if err := i.Validate(); err != nil {
		regLog.Warnf("⚠️ 非法意图被拒绝注册: %v", err)
		return "", false
	}
	id := IntentID(i)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known(id) {
		regLog.Debugf("重复意图: id=%s strategy=%s symbol=%s", id, i.StrategyID, i.Symbol)
		return id, false
	}
	cp := *i
	r.active[id] = &cp
	return id, true
}

// Get 查询活跃意图。
func (r *Registry) Get(id string) (*domain.OrderIntent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.active[id]
	return i, ok
}

// MarkCompleted 将活跃意图移入完成集。未知/已终态的 id 返回 false。
func (r *Registry) MarkCompleted(id string) bool {
	return r.markTerminal(id, r.completedSet)
}

// MarkFailed 将活跃意图移入失败集。未知/已终态的 id 返回 false。
func (r *Registry) MarkFailed(id string) bool {
	return r.markTerminal(id, r.failedSet)
}

// ActiveIntents 返回全部非终态意图（按 id 排序，重启后对账用）。
func (r *Registry) ActiveIntents() []*domain.OrderIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*domain.OrderIntent, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.active[id])
	}
	return out
}

// IsTerminal id 是否已处于终态。
func (r *Registry) IsTerminal(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, c := r.completed[id]
	_, f := r.failed[id]
	return c || f
}

func (r *Registry) known(id string) bool {
	if _, ok := r.active[id]; ok {
		return true
	}
	if _, ok := r.completed[id]; ok {
		return true
	}
	_, ok := r.failed[id]
	return ok
}

func (r *Registry) completedSet() map[string]struct{} { return r.completed }
func (r *Registry) failedSet() map[string]struct{}    { return r.failed }

func (r *Registry) markTerminal(id string, set func() map[string]struct{}) bool {
	r.mu.Lock()
	if _, ok := r.active[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.active, id)
	set()[id] = struct{}{}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(snap); err != nil {
			// 落盘失败只记日志：内存状态仍是权威，不回滚终态变更
			regLog.Errorf("❌ 注册表落盘失败: id=%s err=%v", id, err)
		}
	}
	return true
}

func (r *Registry) snapshotLocked() RegistrySnapshot {
	snap := RegistrySnapshot{Active: make(map[string]*domain.OrderIntent, len(r.active))}
	for id, it := range r.active {
		cp := *it
		snap.Active[id] = &cp
	}
	for id := range r.completed {
		snap.Completed = append(snap.Completed, id)
	}
	for id := range r.failed {
		snap.Failed = append(snap.Failed, id)
	}
	sort.Strings(snap.Completed)
	sort.Strings(snap.Failed)
	return snap
}
