package shutdown

import (
	"context"
	"sync"

	"github.com/qtrade/riskcore/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context)

// Manager 优雅关闭管理器：按注册顺序的逆序执行回调。
// 风控进程的关闭顺序有讲究——先停新意图入口，再收尾执行层，最后关审计。
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
}

type namedHandler struct {
	name string
	fn   Handler
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 逆序执行所有关闭回调（阻塞调用）。
// ctx 应该带超时，避免无限等待。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("没有注册的关闭回调")
		return
	}
	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		select {
		case <-ctx.Done():
			logger.Warnf("关闭超时，剩余 %d 个回调未执行: %v", i+1, ctx.Err())
			return
		default:
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			cb.fn(ctx)
		}()
		select {
		case <-done:
			logger.Infof("关闭回调完成: %s", cb.name)
		case <-ctx.Done():
			logger.Warnf("关闭回调超时放弃: %s", cb.name)
			return
		}
	}
	logger.Info("所有关闭回调已完成")
}
