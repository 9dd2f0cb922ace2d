package trafficlight_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/notify"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// seconds 倒计时秒数
func seconds(allocated float64) int {
	return int(math.Floor(allocated + 1e-9))
}

// assertPhases 检查每个绿灯相位的信号通知：秒数严格递减，警示阈值内为warning，最后为red
func assertPhases(t *testing.T, signals []notify.Notification, served []trafficlight.Decision, warning int) {
	t.Helper()
	i := 0
	for _, d := range served {
		n := seconds(d.Allocated)
		for s := n; s >= 1; s-- {
			require.Less(t, i, len(signals))
			got := signals[i]
			assert.Equal(t, d.Lane, got.Lane)
			assert.Equal(t, s, got.SecondsRemaining)
			if s <= warning {
				assert.Equal(t, entity.PhaseWarning, got.Phase)
			} else {
				assert.Equal(t, entity.PhaseGreen, got.Phase)
			}
			i++
		}
		require.Less(t, i, len(signals))
		assert.Equal(t, notify.Notification{Kind: notify.KindSignal, Lane: d.Lane, Phase: entity.PhaseRed}, signals[i])
		i++
	}
	assert.Equal(t, len(signals), i)
}

func TestRunCycleScenarioA(t *testing.T) {
	f := newFixture(t, setup{counts: scenarioA()})
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Cycle)
	assert.NotEmpty(t, res.CycleID)
	assert.Equal(t, []string{"South", "North", "West", "East"}, res.Lanes())
	assert.InDelta(t, 57.142857, res.Served[0].Allocated, 1e-5)
	assert.InDelta(t, 120, res.Allocated(), 1e-9)
	assert.InDelta(t, 0, res.Remaining, 1e-9)
	assert.False(t, res.Degenerate)

	assertPhases(t, f.recorder.Signals(), res.Served, config.DefaultWarningThreshold)
	progress := f.recorder.Progress()
	require.NotEmpty(t, progress)
	assert.Equal(t, notify.Notification{
		Kind: notify.KindProgress, Lane: "South", SecondsRemaining: 57, Allocated: res.Served[0].Allocated,
	}, progress[0])

	// 每秒挂起一次
	total := 0
	for _, d := range res.Served {
		total += seconds(d.Allocated)
	}
	assert.Equal(t, float64(total), f.clock.Elapsed())
	assert.Len(t, progress, total)

	records := f.history.Records()
	require.Len(t, records, 4)
	elapsed := 0
	for i, r := range records {
		elapsed += seconds(res.Served[i].Allocated)
		assert.Equal(t, res.Served[i].Lane, r.Lane)
		assert.Equal(t, res.Served[i].Allocated, r.Allocated)
		assert.Equal(t, res.CycleID, r.CycleID)
		assert.Equal(t, start.Add(time.Duration(elapsed)*time.Second), r.Timestamp)
	}

	st := f.ctrl.Status()
	assert.Equal(t, trafficlight.StateCycleEnd, st.State)
	assert.Equal(t, "East", st.LastGreen)
	assert.Equal(t, []string{"East"}, st.Omitted)
	assert.Equal(t, entity.PhaseRed, st.Phase)
	assert.Equal(t, 120, st.TotalCycleTime)
}

func TestRunCycleFairnessAcrossCycles(t *testing.T) {
	f := newFixture(t, setup{counts: scenarioA()})
	var last string
	ids := make(map[string]bool)
	for cycle := 1; cycle <= 5; cycle++ {
		res, err := f.ctrl.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, cycle, res.Cycle)
		assert.ElementsMatch(t, laneNames, res.Lanes())
		assert.LessOrEqual(t, res.Allocated(), 120+1e-9)
		if last != "" {
			assert.NotEqual(t, last, res.Lanes()[0])
		}
		last = res.Lanes()[len(res.Lanes())-1]
		assert.False(t, ids[res.CycleID])
		ids[res.CycleID] = true
	}
}

func TestRunCycleAllZero(t *testing.T) {
	f := newFixture(t, setup{counts: map[string]int{}})
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Degenerate)
	assert.Empty(t, res.Served)
	assert.InDelta(t, 120, res.Remaining, 1e-9)
	assert.Zero(t, f.recorder.Len())
	assert.Empty(t, f.history.Records())
	assert.Zero(t, f.clock.Elapsed())
	assert.Empty(t, f.ctrl.Status().LastGreen)
}

func TestRunCycleTieFirstDeclared(t *testing.T) {
	f := newFixture(t, setup{names: []string{"A", "B"}, counts: map[string]int{"A": 10, "B": 10}})
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.Lanes())
	assert.InDelta(t, 60, res.Served[0].Allocated, 1e-9)
}

func TestRunCycleSingleLane(t *testing.T) {
	f := newFixture(t, setup{names: []string{"Only"}, counts: map[string]int{"Only": 8}})
	for cycle := 0; cycle < 3; cycle++ {
		res, err := f.ctrl.RunCycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"Only"}, res.Lanes())
		assert.InDelta(t, 120, res.Served[0].Allocated, 1e-9)
		assert.True(t, res.Served[0].RoundComplete)
	}
	assert.Equal(t, 360., f.clock.Elapsed())
}

func TestRunCycleDegenerateMidRound(t *testing.T) {
	// A放行后其余车道的车辆数清零
	source := &scriptedSource{script: []map[string]int{{"B": 0, "C": 0}}}
	f := newFixture(t, setup{
		names:  []string{"A", "B", "C"},
		counts: map[string]int{"A": 5, "B": 5},
		source: source,
	})
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Lanes())
	assert.True(t, res.Degenerate)
	assert.InDelta(t, 60, res.Served[0].Allocated, 1e-9)
	assert.InDelta(t, 60, res.Remaining, 1e-9)
	assert.Equal(t, "A", f.ctrl.Status().LastGreen)
}

func TestRunCycleExhaustsRemaining(t *testing.T) {
	f := newFixture(t, setup{names: []string{"A", "B", "C"}, counts: map[string]int{"A": 5}})
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Lanes())
	assert.False(t, res.Degenerate)
	assert.InDelta(t, 120, res.Served[0].Allocated, 1e-9)
	assert.InDelta(t, 0, res.Remaining, 1e-9)
}

func TestRunCycleUsesPolledCounts(t *testing.T) {
	source := &scriptedSource{script: []map[string]int{
		{"North": 1, "East": 30, "West": 2, "Ghost": 9},
		{"North": 1, "East": 30, "West": 2, "South": 4},
	}}
	f := newFixture(t, setup{counts: scenarioA(), source: source})
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"South", "East", "West", "North"}, res.Lanes())
	assert.Equal(t, 4, source.Calls())
	// 未知车道被忽略，其余车道被写入
	assert.Equal(t, map[string]int{"North": 1, "East": 30, "South": 4, "West": 2}, f.registry.Counts())
	// 第二次分配基于新车辆数：East 30/(1+30+2)
	assert.InDelta(t, (120-res.Served[0].Allocated)/33*30, res.Served[1].Allocated, 1e-9)
}

func TestRunCycleEarlyRequery(t *testing.T) {
	var f *fixture
	polledAt := make([]notify.Notification, 0)
	source := &scriptedSource{script: []map[string]int{scenarioA()}}
	source.onCall = func() {
		n, _ := f.recorder.Last()
		polledAt = append(polledAt, n)
	}
	f = newFixture(t, setup{counts: scenarioA(), source: source, opts: func(o *trafficlight.Options) {
		o.EarlyRequerySeconds = 5
	}})
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Served, 4)

	// 每个相位只查询一次，发生在剩余5秒时，相位结束后不再查询
	require.Len(t, polledAt, 4)
	for i, n := range polledAt {
		assert.Equal(t, notify.KindProgress, n.Kind)
		assert.Equal(t, res.Served[i].Lane, n.Lane)
		assert.Equal(t, 5, n.SecondsRemaining)
	}
}

func TestRunCycleEarlyRequeryShortPhase(t *testing.T) {
	source := &scriptedSource{script: []map[string]int{{"A": 1, "B": 1}}}
	f := newFixture(t, setup{
		names:  []string{"A", "B"},
		counts: map[string]int{"A": 1, "B": 1},
		source: source,
		opts: func(o *trafficlight.Options) {
			o.TotalCycleTime = 6
			o.EarlyRequerySeconds = 5
		},
	})
	_, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	// 3秒的相位到不了剩余5秒，改为相位结束后查询
	assert.Equal(t, 2, source.Calls())
}

func TestRunCycleSurvivesBrokenCollaborators(t *testing.T) {
	registry, err := lane.NewRegistry(laneNames, scenarioA())
	require.NoError(t, err)
	sink, hist := &brokenSink{}, &brokenHistory{}
	opts := trafficlight.DefaultOptions()
	opts.BlinkInterval = 0
	ctrl, err := trafficlight.NewController(registry, sink, hist, brokenSource{}, clock.NewVirtual(start), opts)
	require.NoError(t, err)

	res, err := ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Served, 4)
	assert.Equal(t, 4, hist.calls)
	assert.Greater(t, sink.calls, 200)
	assert.Equal(t, scenarioA(), registry.Counts())
}

func TestSetTotalCycleTimeAppliesNextCycle(t *testing.T) {
	var f *fixture
	changed := false
	f = newFixture(t, setup{counts: scenarioA(), hook: func(notify.Notification) {
		if !changed {
			changed = true
			require.NoError(t, f.ctrl.SetTotalCycleTime(60))
		}
	}})
	assert.ErrorIs(t, f.ctrl.SetTotalCycleTime(0), lane.ErrInvalidArgument)
	assert.ErrorIs(t, f.ctrl.SetTotalCycleTime(-3), lane.ErrInvalidArgument)

	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 120, res.Allocated(), 1e-9)
	st := f.ctrl.Status()
	assert.Equal(t, 120, st.TotalCycleTime)
	assert.Equal(t, 60, st.PendingCycleTime)

	res, err = f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 60, res.Allocated(), 1e-9)
	st = f.ctrl.Status()
	assert.Equal(t, 60, st.TotalCycleTime)
	assert.Zero(t, st.PendingCycleTime)
}

func TestCancelMidCountdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, setup{counts: scenarioA(), hook: func(n notify.Notification) {
		if n.Kind == notify.KindProgress && n.SecondsRemaining == 8 {
			cancel()
		}
	}})
	res, err := f.ctrl.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Served)

	last, ok := f.recorder.Last()
	require.True(t, ok)
	assert.Equal(t, notify.KindProgress, last.Kind)
	assert.Equal(t, "South", last.Lane)
	assert.Equal(t, 8, last.SecondsRemaining)
	assert.InDelta(t, 57.142857, last.Allocated, 1e-5)
	assert.Empty(t, redSignals(f.recorder.Signals()))
	assert.Empty(t, f.history.Records())
	// 正在进行的相位不计入
	st := f.ctrl.Status()
	assert.Equal(t, trafficlight.StateStopped, st.State)
	assert.Empty(t, st.LastGreen)
	assert.Equal(t, 57.-8, f.clock.Elapsed())

	_, err = f.ctrl.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func redSignals(signals []notify.Notification) []notify.Notification {
	red := make([]notify.Notification, 0)
	for _, n := range signals {
		if n.Phase == entity.PhaseRed {
			red = append(red, n)
		}
	}
	return red
}

func TestCancelJoinsBlinker(t *testing.T) {
	registry, err := lane.NewRegistry(laneNames, scenarioA())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := notify.NewRecorder(func(n notify.Notification) {
		if n.Kind == notify.KindProgress && n.SecondsRemaining == 8 {
			cancel()
		}
	})
	opts := trafficlight.DefaultOptions()
	opts.WarningThreshold = 10
	opts.BlinkInterval = 500 * time.Millisecond
	ctrl, err := trafficlight.NewController(registry, rec, nil, nil, clock.NewScaled(200), opts)
	require.NoError(t, err)

	began := time.Now()
	_, err = ctrl.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(began), 5*time.Second)

	_, active := ctrl.Blinker().Active()
	assert.False(t, active)
	assert.Equal(t, 1, ctrl.Blinker().Starts())
	assert.NotEmpty(t, rec.Blinks())

	n := rec.Len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, rec.Len())
	assert.Empty(t, redSignals(rec.Signals()))
}

func TestRunBoundedCycles(t *testing.T) {
	f := newFixture(t, setup{counts: scenarioA(), opts: func(o *trafficlight.Options) { o.Cycles = 3 }})
	require.NoError(t, f.ctrl.Run(context.Background()))
	st := f.ctrl.Status()
	assert.Equal(t, trafficlight.StateStopped, st.State)
	assert.Equal(t, 3, st.Cycle)
	assert.Len(t, f.history.Records(), 12)
}

func TestRunIdlesWhenNothingServed(t *testing.T) {
	source := &scriptedSource{script: []map[string]int{{}, scenarioA()}}
	f := newFixture(t, setup{counts: map[string]int{}, source: source, opts: func(o *trafficlight.Options) {
		o.Cycles = 3
	}})
	require.NoError(t, f.ctrl.Run(context.Background()))
	// 两个空周期各等待1秒并查询，第三个周期用上新车辆数
	assert.Len(t, f.history.Records(), 4)
	assert.GreaterOrEqual(t, source.Calls(), 3)
	assert.Equal(t, "South", f.history.Records()[0].Lane)
	assert.Equal(t, start.Add(2*time.Second+57*time.Second), f.history.Records()[0].Timestamp)
}

func TestRunStopsOnRequest(t *testing.T) {
	registry, err := lane.NewRegistry(laneNames, scenarioA())
	require.NoError(t, err)
	opts := trafficlight.DefaultOptions()
	opts.BlinkInterval = 0
	ctrl, err := trafficlight.NewController(registry, notify.NewRecorder(nil), nil, nil, clock.NewScaled(10000), opts)
	require.NoError(t, err)

	ctrl.Stop() // 未运行时无副作用
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	assert.Eventually(t, func() bool { return ctrl.Status().Cycle >= 1 }, 2*time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return ctrl.Run(context.Background()) == trafficlight.ErrAlreadyRunning
	}, time.Second, time.Millisecond)

	ctrl.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
	assert.Equal(t, trafficlight.StateStopped, ctrl.Status().State)
	ctrl.Stop()
}

func TestResume(t *testing.T) {
	f := newFixture(t, setup{counts: scenarioA()})
	assert.ErrorIs(t, f.ctrl.Resume("Nowhere"), lane.ErrInvalidArgument)
	require.NoError(t, f.ctrl.Resume("South"))
	assert.Equal(t, "South", f.ctrl.Status().LastGreen)
	res, err := f.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "North", res.Lanes()[0])
}

func TestNewControllerValidates(t *testing.T) {
	registry, err := lane.NewRegistry(laneNames, nil)
	require.NoError(t, err)
	opts := trafficlight.DefaultOptions()

	_, err = trafficlight.NewController(nil, nil, nil, nil, nil, opts)
	assert.ErrorIs(t, err, lane.ErrInvalidArgument)

	bad := opts
	bad.TotalCycleTime = 0
	_, err = trafficlight.NewController(registry, nil, nil, nil, nil, bad)
	assert.ErrorIs(t, err, lane.ErrInvalidArgument)

	bad = opts
	bad.WarningThreshold = -1
	_, err = trafficlight.NewController(registry, nil, nil, nil, nil, bad)
	assert.ErrorIs(t, err, lane.ErrInvalidArgument)

	ctrl, err := trafficlight.NewController(registry, nil, nil, nil, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, trafficlight.StateIdle, ctrl.Status().State)
}

func TestOptionsFromConfig(t *testing.T) {
	c := config.Default().Control
	c.EarlyRequerySeconds = 5
	c.Cycles = 7
	opts := trafficlight.OptionsFromConfig(c)
	assert.Equal(t, 120, opts.TotalCycleTime)
	assert.Equal(t, 5, opts.WarningThreshold)
	assert.Equal(t, 500*time.Millisecond, opts.BlinkInterval)
	assert.Equal(t, 5, opts.EarlyRequerySeconds)
	assert.Equal(t, 7, opts.Cycles)
	assert.Equal(t, time.Second, opts.IdleInterval)

	c.Mode = config.ModeSingle
	assert.Equal(t, 1, trafficlight.OptionsFromConfig(c).Cycles)
}
