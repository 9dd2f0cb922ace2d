package notify

import (
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Recorder 内存通知记录
// 功能：按到达顺序记录全部通知，供状态查询与测试断言使用
type Recorder struct {
	mtx   sync.Mutex
	items []Notification
	hook  func(Notification)
}

// NewRecorder 创建通知记录
// 参数：hook-每条通知记录后在调用方协程中执行，可为nil
func NewRecorder(hook func(Notification)) *Recorder {
	return &Recorder{hook: hook}
}

func (r *Recorder) OnSignal(lane string, phase entity.Phase, secondsRemaining int) error {
	r.record(Notification{Kind: KindSignal, Lane: lane, Phase: phase, SecondsRemaining: secondsRemaining})
	return nil
}

func (r *Recorder) OnProgress(lane string, secondsRemaining int, allocated float64) error {
	r.record(Notification{Kind: KindProgress, Lane: lane, SecondsRemaining: secondsRemaining, Allocated: allocated})
	return nil
}

func (r *Recorder) record(n Notification) {
	r.mtx.Lock()
	r.items = append(r.items, n)
	r.mtx.Unlock()
	if r.hook != nil {
		r.hook(n)
	}
}

// Notifications 全部通知的副本
func (r *Recorder) Notifications() []Notification {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return slices.Clone(r.items)
}

// Signals 信号通知（不含黄闪）
func (r *Recorder) Signals() []Notification {
	return lo.Filter(r.Notifications(), func(n Notification, _ int) bool {
		return n.Kind == KindSignal && n.Phase != entity.PhaseBlinkOn && n.Phase != entity.PhaseBlinkOff
	})
}

// Blinks 黄闪通知
func (r *Recorder) Blinks() []Notification {
	return lo.Filter(r.Notifications(), func(n Notification, _ int) bool {
		return n.Phase == entity.PhaseBlinkOn || n.Phase == entity.PhaseBlinkOff
	})
}

// Progress 进度通知
func (r *Recorder) Progress() []Notification {
	return lo.Filter(r.Notifications(), func(n Notification, _ int) bool {
		return n.Kind == KindProgress
	})
}

// Last 最后一条通知
func (r *Recorder) Last() (Notification, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Len 通知数
func (r *Recorder) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.items)
}

// Reset 清空记录
func (r *Recorder) Reset() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.items = nil
}
