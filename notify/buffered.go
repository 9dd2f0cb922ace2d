package notify

import (
	"errors"
	"flag"
	"sync"
	"sync/atomic"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

var (
	bufferSize = flag.Int("notify.buffer_size", 256, "异步通知缓冲区大小")

	ErrClosed = errors.New("notification sink closed")
)

// Buffered 带缓冲的异步通知接收方
// 功能：通知先进入有界队列，由单独的协程按顺序转交给下游接收方
// 说明：
//   - 调用方从不阻塞，队列满时丢弃通知并计数
//   - 下游出错只记录日志
//   - Close后不再接收通知，已入队的通知处理完后返回
type Buffered struct {
	sink    entity.INotificationSink
	queue   chan Notification
	dropped atomic.Int64
	wg      sync.WaitGroup

	mtx    sync.RWMutex
	closed bool
}

// NewBuffered 创建异步通知接收方并启动转发协程
// 参数：sink-下游接收方，size-队列长度，不大于0时使用-notify.buffer_size
func NewBuffered(sink entity.INotificationSink, size int) *Buffered {
	if size <= 0 {
		size = *bufferSize
	}
	b := &Buffered{
		sink:  sink,
		queue: make(chan Notification, size),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

func (b *Buffered) OnSignal(lane string, phase entity.Phase, secondsRemaining int) error {
	return b.enqueue(Notification{Kind: KindSignal, Lane: lane, Phase: phase, SecondsRemaining: secondsRemaining})
}

func (b *Buffered) OnProgress(lane string, secondsRemaining int, allocated float64) error {
	return b.enqueue(Notification{Kind: KindProgress, Lane: lane, SecondsRemaining: secondsRemaining, Allocated: allocated})
}

// Dropped 因队列满而丢弃的通知数
func (b *Buffered) Dropped() int64 {
	return b.dropped.Load()
}

// Close 停止接收并等待已入队通知处理完毕，可重复调用
func (b *Buffered) Close() {
	b.mtx.Lock()
	if b.closed {
		b.mtx.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mtx.Unlock()
	b.wg.Wait()
}

func (b *Buffered) enqueue(n Notification) error {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.queue <- n:
	default:
		if d := b.dropped.Add(1); d&(d-1) == 0 {
			log.Warnf("notification queue full, %d dropped so far", d)
		}
	}
	return nil
}

func (b *Buffered) loop() {
	defer b.wg.Done()
	for n := range b.queue {
		if err := n.deliver(b.sink); err != nil {
			log.Warnf("deliver %v: %v", n, err)
		}
	}
}
