package trafficlight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

const (
	remainingEpsilon  = 1e-9 // 剩余时长不大于该值视为耗尽
	countdownEpsilon  = 1e-9 // 取整前补偿浮点误差，避免60.0被算成59.999...
	defaultIdleSecond = 1    // 一个周期没有放行任何车道时，下一周期前的等待秒数
)

var (
	ErrAlreadyRunning = errors.New("controller is already running")
)

// State 控制器状态
type State string

const (
	StateIdle       State = "idle"
	StateRoundStart State = "round_start"
	StateSelecting  State = "selecting"
	StateCounting   State = "counting"
	StateRoundCheck State = "round_check"
	StateCycleEnd   State = "cycle_end"
	StateStopped    State = "stopped"
)

// Options 控制器参数
type Options struct {
	TotalCycleTime      int           // 周期总时长（秒）
	WarningThreshold    int           // 剩余秒数不大于该值时为warning相位
	BlinkInterval       time.Duration // 黄闪切换间隔，0表示关闭黄闪
	EarlyRequerySeconds int           // 绿灯剩余该秒数时提前查询车辆数，0表示相位结束后查询
	Cycles              int           // Run最多运行的周期数，0表示不限
	IdleInterval        time.Duration // 空周期后的等待时长
}

// DefaultOptions 默认控制器参数
func DefaultOptions() Options {
	return Options{
		TotalCycleTime:   config.DefaultTotalCycleTime,
		WarningThreshold: config.DefaultWarningThreshold,
		BlinkInterval:    time.Duration(config.DefaultBlinkInterval * float64(time.Second)),
		IdleInterval:     defaultIdleSecond * time.Second,
	}
}

// OptionsFromConfig 由配置文件生成控制器参数
// 说明：single模式只运行一个周期
func OptionsFromConfig(c config.Control) Options {
	opts := DefaultOptions()
	opts.TotalCycleTime = c.TotalCycleTime
	opts.WarningThreshold = c.WarningThreshold
	opts.BlinkInterval = c.BlinkDuration()
	opts.EarlyRequerySeconds = c.EarlyRequerySeconds
	opts.Cycles = c.Cycles
	if c.Mode == config.ModeSingle {
		opts.Cycles = 1
	}
	return opts
}

// Status 控制器状态快照
type Status struct {
	State            State
	Cycle            int          // 已开始的周期数
	CycleID          string       // 当前周期ID
	Lane             string       // 当前绿灯车道
	Phase            entity.Phase // 当前相位
	SecondsRemaining int          // 当前相位剩余秒数
	Allocated        float64      // 当前绿灯分配时长
	Remaining        float64      // 本轮剩余可分配时长
	LastGreen        string       // 上一次获得绿灯的车道
	TotalCycleTime   int          // 当前生效的周期总时长
	PendingCycleTime int          // 下一周期开始时生效的周期总时长，0表示无
	Omitted          []string     // 当前被排除的车道
}

// CycleResult 一个周期的运行结果
type CycleResult struct {
	Cycle      int
	CycleID    string
	Served     []Decision // 按放行顺序
	Remaining  float64    // 周期结束时剩余的可分配时长
	Degenerate bool       // 是否因可选车道车辆数均为0而提前结束
}

// Lanes 本周期放行的车道（按放行顺序）
func (r CycleResult) Lanes() []string {
	return lo.Map(r.Served, func(d Decision, _ int) string { return d.Lane })
}

// Allocated 本周期分配的绿灯总时长
func (r CycleResult) Allocated() float64 {
	return lo.SumBy(r.Served, func(d Decision) float64 { return d.Allocated })
}

// Controller 信号周期控制器
// 功能：反复选择绿灯车道、计算时长并逐秒通知，直到本轮全部车道放行或时长耗尽
// 说明：
//   - 状态机：RoundStart -> Selecting -> Counting -> RoundCheck -> (Selecting | CycleEnd)
//   - remaining、lastGreen、omission只由驱动协程修改
//   - 周期总时长的修改先写入缓冲区，在下一周期开始时生效
type Controller struct {
	registry entity.ILaneRegistry
	sink     entity.INotificationSink
	history  entity.IHistorySink
	source   entity.ICountSource
	clock    clock.Clock
	opts     Options
	blinker  *Blinker

	// 驱动协程独占
	remaining float64
	lastGreen string
	omission  OmissionSet
	cycle     int
	cycleID   string

	pendingMtx       sync.Mutex
	pendingCycleTime int // 缓冲区

	statusMtx sync.RWMutex
	status    Status

	runMtx sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController 创建信号周期控制器
// 参数：
//   - registry: 车道注册表
//   - sink: 信号与进度通知接收方，nil表示不通知
//   - history: 历史记录输出，nil表示不记录
//   - source: 车辆数来源，nil表示不查询
//   - clk: 时钟
//   - opts: 控制参数
//
// 返回：控制器实例；参数不合法时返回ErrInvalidArgument
func NewController(
	registry entity.ILaneRegistry,
	sink entity.INotificationSink,
	history entity.IHistorySink,
	source entity.ICountSource,
	clk clock.Clock,
	opts Options,
) (*Controller, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("%w: empty lane registry", lane.ErrInvalidArgument)
	}
	if opts.TotalCycleTime <= 0 {
		return nil, fmt.Errorf("%w: total cycle time must be positive, got %d", lane.ErrInvalidArgument, opts.TotalCycleTime)
	}
	if opts.WarningThreshold < 0 || opts.BlinkInterval < 0 || opts.EarlyRequerySeconds < 0 || opts.Cycles < 0 {
		return nil, fmt.Errorf("%w: negative option in %+v", lane.ErrInvalidArgument, opts)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if sink == nil {
		sink = discard{}
	}
	c := &Controller{
		registry: registry,
		sink:     sink,
		history:  history,
		source:   source,
		clock:    clk,
		opts:     opts,
		blinker:  NewBlinker(clk, opts.BlinkInterval, sink),
	}
	c.status = Status{State: StateIdle, TotalCycleTime: opts.TotalCycleTime}
	return c, nil
}

// Blinker 获取控制器的黄闪任务
func (c *Controller) Blinker() *Blinker {
	return c.blinker
}

// SetTotalCycleTime 修改周期总时长
// 功能：写入缓冲区，在下一周期开始时生效，当前周期不受影响
// 返回：n<=0时返回ErrInvalidArgument
func (c *Controller) SetTotalCycleTime(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: total cycle time must be positive, got %d", lane.ErrInvalidArgument, n)
	}
	c.pendingMtx.Lock()
	c.pendingCycleTime = n
	c.pendingMtx.Unlock()
	c.updateStatus(func(s *Status) { s.PendingCycleTime = n })
	log.Infof("total cycle time will be %ds from next cycle", n)
	return nil
}

// Resume 以历史中最后一次绿灯车道恢复状态，使重启后该车道不会在第一轮首先获得绿灯
// 说明：只能在Run/RunCycle之前调用
func (c *Controller) Resume(lastGreen string) error {
	if !lo.Contains(c.registry.Names(), lastGreen) {
		return fmt.Errorf("%w: unknown lane %q", lane.ErrInvalidArgument, lastGreen)
	}
	c.lastGreen = lastGreen
	c.updateStatus(func(s *Status) { s.LastGreen = lastGreen })
	log.Infof("resume after last green lane %s", lastGreen)
	return nil
}

// Status 获取状态快照
func (c *Controller) Status() Status {
	c.statusMtx.RLock()
	defer c.statusMtx.RUnlock()
	s := c.status
	s.Omitted = append([]string(nil), c.status.Omitted...)
	return s
}

// RunCycle 运行一个周期
// 功能：从RoundStart运行到CycleEnd
// 返回：周期结果；ctx取消时返回ctx.Err()，此时正在进行的相位不计入结果，也不更新lastGreen
// 算法说明：
// 1. RoundStart：应用缓冲的周期总时长，以lastGreen初始化排除集合，remaining=周期总时长
// 2. Selecting：在最新快照上调用Allocate，无可选车道或退化时结束周期
// 3. Counting：逐秒通知，进入警示后启动黄闪，结束后停止黄闪并发出red
// 4. 记录历史、查询车辆数、remaining-=allocated、lastGreen=该车道
// 5. RoundCheck：remaining耗尽或全部车道已放行时结束周期，否则回到2
func (c *Controller) RunCycle(ctx context.Context) (CycleResult, error) {
	if err := ctx.Err(); err != nil {
		return CycleResult{}, err
	}
	c.roundStart()
	res := CycleResult{Cycle: c.cycle, CycleID: c.cycleID}
	for {
		c.setState(StateSelecting)
		d, err := Allocate(c.registry.Snapshot(), c.omission, c.remaining)
		if err != nil {
			switch {
			case errors.Is(err, ErrDegenerateRound):
				res.Degenerate = true
				log.Warnf("DegenerateRound: cycle %d ends after %d lanes, omitted %v", c.cycle, len(res.Served), c.omission.Omitted())
			case errors.Is(err, ErrNoActiveLanes):
				log.Infof("cycle %d: no active lanes", c.cycle)
			default:
				log.Errorf("cycle %d: allocation failed: %v", c.cycle, err)
			}
			break
		}
		log.Infof(
			"cycle %d: green for %s (%d vehicles of %d) %.2fs, remaining %.2fs",
			c.cycle, d.Lane, d.Count, d.ActiveTotal, d.Allocated, c.remaining,
		)
		requeried, err := c.countdown(ctx, d)
		if err != nil {
			c.updateStatus(func(s *Status) {
				s.State = StateStopped
				s.SecondsRemaining = 0
			})
			log.Infof("cycle %d: stopped during %s green: %v", c.cycle, d.Lane, err)
			return res, err
		}
		c.finishPhase(ctx, d, requeried)
		res.Served = append(res.Served, d)

		c.setState(StateRoundCheck)
		if c.remaining <= remainingEpsilon || d.RoundComplete {
			break
		}
	}
	res.Remaining = c.remaining
	c.setState(StateCycleEnd)
	log.Debugf("cycle %d end: served %v, allocated %.2fs", res.Cycle, res.Lanes(), res.Allocated())
	return res, nil
}

// Run 连续运行
// 功能：循环运行周期，直到ctx取消、调用Stop或达到Cycles
// 返回：因取消而结束时返回nil；已在运行时返回ErrAlreadyRunning
// 说明：一个周期没有放行任何车道时，等待IdleInterval并查询车辆数后再开始下一周期
func (c *Controller) Run(ctx context.Context) error {
	c.runMtx.Lock()
	if c.cancel != nil {
		c.runMtx.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.runMtx.Unlock()
	defer func() {
		cancel()
		c.runMtx.Lock()
		c.cancel, c.done = nil, nil
		c.runMtx.Unlock()
		c.setState(StateStopped)
		close(done)
	}()

	for i := 0; c.opts.Cycles == 0 || i < c.opts.Cycles; i++ {
		res, err := c.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(res.Served) == 0 {
			c.setState(StateIdle)
			if err := c.clock.Sleep(ctx, c.opts.IdleInterval); err != nil {
				return nil
			}
			c.poll(ctx)
		}
	}
	log.Infof("controller finished %d cycles", c.cycle)
	return nil
}

// Stop 停止Run
// 功能：取消正在运行的Run并等待其退出（包括黄闪任务），未运行时无副作用
func (c *Controller) Stop() {
	c.runMtx.Lock()
	cancel, done := c.cancel, c.done
	c.runMtx.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) roundStart() {
	c.setState(StateRoundStart)
	c.pendingMtx.Lock()
	if c.pendingCycleTime > 0 {
		c.opts.TotalCycleTime = c.pendingCycleTime
		c.pendingCycleTime = 0
	}
	c.pendingMtx.Unlock()

	c.cycle++
	c.cycleID = uuid.NewString()
	c.omission = NewOmissionSet(c.lastGreen)
	c.remaining = float64(c.opts.TotalCycleTime)
	c.updateStatus(func(s *Status) {
		s.Cycle = c.cycle
		s.CycleID = c.cycleID
		s.Remaining = c.remaining
		s.TotalCycleTime = c.opts.TotalCycleTime
		s.PendingCycleTime = 0
		s.Omitted = c.omission.Omitted()
		s.Lane, s.Phase, s.SecondsRemaining, s.Allocated = "", "", 0, 0
	})
}

// countdown 逐秒倒计时
// 返回：是否已在倒计时中查询过车辆数；ctx取消时返回ctx.Err()，不再发出red
func (c *Controller) countdown(ctx context.Context, d Decision) (requeried bool, err error) {
	c.updateStatus(func(s *Status) {
		s.State = StateCounting
		s.Lane = d.Lane
		s.Allocated = d.Allocated
	})
	defer c.blinker.Stop()

	n := int(math.Floor(d.Allocated + countdownEpsilon))
	for s := n; s >= 1; s-- {
		phase := entity.PhaseGreen
		if s <= c.opts.WarningThreshold {
			phase = entity.PhaseWarning
		}
		c.updateStatus(func(st *Status) {
			st.Phase = phase
			st.SecondsRemaining = s
		})
		if err := c.sink.OnSignal(d.Lane, phase, s); err != nil {
			log.Warnf("%v: signal %s %s %d: %v", ErrSinkUnavailable, d.Lane, phase, s, err)
		}
		if err := c.sink.OnProgress(d.Lane, s, d.Allocated); err != nil {
			log.Warnf("%v: progress %s %d: %v", ErrSinkUnavailable, d.Lane, s, err)
		}
		if phase == entity.PhaseWarning {
			c.blinker.Start(ctx, d.Lane)
		}
		if c.opts.EarlyRequerySeconds > 0 && s == c.opts.EarlyRequerySeconds {
			c.poll(ctx)
			requeried = true
		}
		if err := c.clock.Sleep(ctx, time.Second); err != nil {
			return requeried, err
		}
	}
	c.blinker.Stop()
	c.updateStatus(func(st *Status) {
		st.Phase = entity.PhaseRed
		st.SecondsRemaining = 0
	})
	if err := c.sink.OnSignal(d.Lane, entity.PhaseRed, 0); err != nil {
		log.Warnf("%v: signal %s red: %v", ErrSinkUnavailable, d.Lane, err)
	}
	return requeried, nil
}

// finishPhase 一个绿灯相位结束后的处理
func (c *Controller) finishPhase(ctx context.Context, d Decision, requeried bool) {
	if c.history != nil {
		r := entity.Record{
			Lane:      d.Lane,
			Allocated: d.Allocated,
			Timestamp: c.clock.Now(),
			CycleID:   c.cycleID,
		}
		if err := c.history.Append(ctx, r); err != nil {
			log.Warnf("%v: history append %+v: %v", ErrSinkUnavailable, r, err)
		}
	}
	if !requeried {
		c.poll(ctx)
	}
	c.remaining -= d.Allocated
	c.lastGreen = d.Lane
	c.omission = d.Next
	c.updateStatus(func(s *Status) {
		s.Remaining = c.remaining
		s.LastGreen = c.lastGreen
		s.Omitted = c.omission.Omitted()
	})
}

// poll 从车辆数来源查询并写入注册表
// 说明：未知车道被忽略，来源出错时保持原车辆数
func (c *Controller) poll(ctx context.Context) {
	if c.source == nil {
		return
	}
	counts, err := c.source.CurrentCounts(ctx)
	if err != nil {
		log.Warnf("poll counts failed: %v", err)
		return
	}
	names := c.registry.Names()
	known := lo.PickByKeys(counts, names)
	if len(known) < len(counts) {
		unknown := lo.Without(lo.Keys(counts), names...)
		log.Warnf("poll counts: ignore unknown lanes %v", unknown)
	}
	if len(known) == 0 {
		return
	}
	if err := c.registry.SetCounts(known); err != nil {
		log.Warnf("poll counts rejected: %v", err)
	}
}

func (c *Controller) setState(state State) {
	c.updateStatus(func(s *Status) { s.State = state })
}

func (c *Controller) updateStatus(f func(s *Status)) {
	c.statusMtx.Lock()
	defer c.statusMtx.Unlock()
	f(&c.status)
}

// discard 不做任何事的通知接收方
type discard struct{}

func (discard) OnSignal(string, entity.Phase, int) error { return nil }
func (discard) OnProgress(string, int, float64) error   { return nil }
