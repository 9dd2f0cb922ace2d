package notify

import (
	"errors"
	"sync"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Broker 多接收方分发
// 功能：将每条通知按注册顺序转交给全部接收方，单个接收方出错不影响其余接收方
type Broker struct {
	mtx   sync.RWMutex
	sinks []entity.INotificationSink
}

// NewBroker 创建分发器
func NewBroker(sinks ...entity.INotificationSink) *Broker {
	b := &Broker{}
	for _, s := range sinks {
		b.Register(s)
	}
	return b
}

// Register 注册接收方，nil被忽略
func (b *Broker) Register(sink entity.INotificationSink) {
	if sink == nil {
		return
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Len 接收方数量
func (b *Broker) Len() int {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return len(b.sinks)
}

func (b *Broker) OnSignal(lane string, phase entity.Phase, secondsRemaining int) error {
	return b.each(Notification{Kind: KindSignal, Lane: lane, Phase: phase, SecondsRemaining: secondsRemaining})
}

func (b *Broker) OnProgress(lane string, secondsRemaining int, allocated float64) error {
	return b.each(Notification{Kind: KindProgress, Lane: lane, SecondsRemaining: secondsRemaining, Allocated: allocated})
}

// each 依次转交
// 返回：全部接收方错误的合并，均成功时为nil
func (b *Broker) each(n Notification) error {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	var errs []error
	for _, s := range b.sinks {
		if err := n.deliver(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
