package clock

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Clock 控制器时钟
// 功能：为倒计时与黄闪提供当前时间与可取消的等待
// 说明：倒计时每秒在Sleep处挂起一次，ctx取消后Sleep立即返回ctx.Err()
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Real 真实时钟
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Sleep 等待d时长
// 功能：基于time.Timer的可取消等待
// 返回：正常结束返回nil，ctx取消时返回ctx.Err()
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

// Scaled 加速时钟
// 功能：以speedup倍速推进时间，用于演示与需要真实并发时序的测试
// 说明：Sleep(d)实际等待d/speedup，Now()返回按倍速推算的时间
type Scaled struct {
	speedup float64
	start   time.Time
}

// NewScaled 创建加速时钟
// 参数：speedup-加速倍数，不大于0时按1处理
func NewScaled(speedup float64) *Scaled {
	if speedup <= 0 {
		speedup = 1
	}
	return &Scaled{speedup: speedup, start: time.Now()}
}

func (c *Scaled) Now() time.Time {
	elapsed := time.Since(c.start)
	return c.start.Add(time.Duration(float64(elapsed) * c.speedup))
}

func (c *Scaled) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, time.Duration(float64(d)/c.speedup))
}

// Virtual 虚拟时钟
// 功能：不真正等待的确定性时钟，Sleep直接推进内部时间
// 说明：用于单元测试与离线仿真，T为自创建以来经过的秒数
type Virtual struct {
	mtx   sync.Mutex
	start time.Time
	T     float64 // 当前时间（秒）
}

// NewVirtual 创建虚拟时钟
// 参数：start-起始时间
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{start: start}
}

func (c *Virtual) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.start.Add(time.Duration(c.T * float64(time.Second)))
}

// Sleep 推进虚拟时间
// 功能：先检查ctx是否已取消，再将时间推进d
// 说明：调用runtime.Gosched让出执行权，使并发的取消请求能被观察到
func (c *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mtx.Lock()
	c.T += d.Seconds()
	c.mtx.Unlock()
	runtime.Gosched()
	return nil
}

// Elapsed 获取经过的秒数
func (c *Virtual) Elapsed() float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.T
}

// String 获取时钟的字符串表示
// 功能：将经过的时间格式化为可读的字符串（HH:MM:SS）
func (c *Virtual) String() string {
	t := c.Elapsed()
	h := int(t / 3600)
	t -= float64(h * 3600)
	m := int(t / 60)
	t -= float64(m * 60)
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
