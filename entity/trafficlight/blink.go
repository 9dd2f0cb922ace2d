package trafficlight

import (
	"context"
	"sync"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Blinker 黄闪任务
// 功能：绿灯最后几秒内，按固定间隔交替发出blink_on/blink_off通知
// 说明：同一时刻最多一个黄闪任务；对同一车道重复Start不会启动第二个任务，
// Stop发出停止信号并等待任务退出，未运行时调用Stop无副作用
type Blinker struct {
	clock    clock.Clock
	interval time.Duration
	sink     entity.ISignalSink

	mtx    sync.Mutex
	lane   string             // 正在黄闪的车道
	cancel context.CancelFunc // 正在运行的任务的取消函数，nil表示未运行
	done   chan struct{}      // 任务退出后关闭
	starts int                // 已启动的任务数
}

// NewBlinker 创建黄闪任务管理器
// 参数：clk-时钟，interval-切换间隔，sink-信号通知接收方
func NewBlinker(clk clock.Clock, interval time.Duration, sink entity.ISignalSink) *Blinker {
	return &Blinker{
		clock:    clk,
		interval: interval,
		sink:     sink,
	}
}

// Start 为车道启动黄闪
// 功能：车道已在黄闪时直接返回；其他车道在黄闪时先停止旧任务
// 参数：ctx-父上下文，取消后任务自动退出；lane-车道名
// 返回：是否启动了新任务
func (b *Blinker) Start(ctx context.Context, lane string) bool {
	if b.interval <= 0 {
		return false
	}
	b.mtx.Lock()
	if b.cancel != nil && b.lane == lane {
		b.mtx.Unlock()
		return false
	}
	b.mtx.Unlock()
	b.Stop()

	b.mtx.Lock()
	defer b.mtx.Unlock()
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.lane = lane
	b.cancel = cancel
	b.done = done
	b.starts++
	go b.run(taskCtx, lane, done)
	log.Debugf("blink start for lane %s", lane)
	return true
}

// Stop 停止黄闪并等待任务退出
func (b *Blinker) Stop() {
	b.mtx.Lock()
	cancel, done, lane := b.cancel, b.done, b.lane
	b.cancel, b.done, b.lane = nil, nil, ""
	b.mtx.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Debugf("blink stop for lane %s", lane)
}

// Active 获取正在黄闪的车道
// 返回：车道名与是否正在黄闪
func (b *Blinker) Active() (string, bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.lane, b.cancel != nil
}

// Starts 已启动的黄闪任务数
func (b *Blinker) Starts() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.starts
}

func (b *Blinker) run(ctx context.Context, lane string, done chan struct{}) {
	defer close(done)
	on := true
	for ctx.Err() == nil {
		phase := entity.PhaseBlinkOn
		if !on {
			phase = entity.PhaseBlinkOff
		}
		if err := b.sink.OnSignal(lane, phase, 0); err != nil {
			log.Warnf("%v: blink %s for lane %s: %v", ErrSinkUnavailable, phase, lane, err)
		}
		on = !on
		if err := b.clock.Sleep(ctx, b.interval); err != nil {
			return
		}
	}
}
