package sigchan

// Chan 是一个非阻塞的信号 channel：通知事件发生，不传递数据。
// tick 驱动与控制面之间用它解耦——控制面触发人工动作后 Emit，
// tick 循环在下一轮 select 中感知。
type Chan struct {
	c chan struct{}
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号（非阻塞，channel 满则丢弃）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}
