// 信号灯通知的接收方实现
// 日志输出、带缓冲的异步转发、多接收方分发与内存记录
package notify

import (
	"fmt"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Kind 通知类型
type Kind int

const (
	KindSignal   Kind = iota // OnSignal
	KindProgress             // OnProgress
)

// Notification 一条通知
type Notification struct {
	Kind             Kind
	Lane             string
	Phase            entity.Phase // 仅KindSignal
	SecondsRemaining int
	Allocated        float64 // 仅KindProgress
}

func (n Notification) String() string {
	if n.Kind == KindProgress {
		return fmt.Sprintf("progress(%s, %d/%.2f)", n.Lane, n.SecondsRemaining, n.Allocated)
	}
	return fmt.Sprintf("signal(%s, %s, %d)", n.Lane, n.Phase, n.SecondsRemaining)
}

// deliver 将通知转交给接收方
func (n Notification) deliver(sink entity.INotificationSink) error {
	if n.Kind == KindProgress {
		return sink.OnProgress(n.Lane, n.SecondsRemaining, n.Allocated)
	}
	return sink.OnSignal(n.Lane, n.Phase, n.SecondsRemaining)
}
