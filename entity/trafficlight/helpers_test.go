package trafficlight_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/history"
	"github.com/tsinghua-fib-lab/agentsociety-signal/notify"
)

var (
	laneNames = []string{"North", "East", "South", "West"}
	start     = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
)

// fixture 一个完整装配的控制器
type fixture struct {
	registry *lane.Registry
	recorder *notify.Recorder
	history  *history.Memory
	clock    *clock.Virtual
	ctrl     *trafficlight.Controller
}

// setup 控制器装配参数，零值表示默认
type setup struct {
	names  []string // 默认为laneNames
	counts map[string]int
	source entity.ICountSource
	hook   func(notify.Notification)
	opts   func(o *trafficlight.Options)
}

// newFixture 创建使用虚拟时钟、关闭黄闪的控制器
func newFixture(t *testing.T, s setup) *fixture {
	t.Helper()
	if s.names == nil {
		s.names = laneNames
	}
	registry, err := lane.NewRegistry(s.names, s.counts)
	require.NoError(t, err)
	f := &fixture{
		registry: registry,
		recorder: notify.NewRecorder(s.hook),
		history:  history.NewMemory(0),
		clock:    clock.NewVirtual(start),
	}
	opts := trafficlight.DefaultOptions()
	opts.BlinkInterval = 0
	if s.opts != nil {
		s.opts(&opts)
	}
	f.ctrl, err = trafficlight.NewController(registry, f.recorder, f.history, s.source, f.clock, opts)
	require.NoError(t, err)
	return f
}

func scenarioA() map[string]int {
	return map[string]int{"North": 10, "East": 5, "South": 20, "West": 7}
}

// scriptedSource 依次返回预设的车辆数，用完后重复最后一个
type scriptedSource struct {
	mtx    sync.Mutex
	script []map[string]int
	calls  int
	onCall func()
}

func (s *scriptedSource) CurrentCounts(ctx context.Context) (map[string]int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.onCall != nil {
		s.onCall()
	}
	i := min(s.calls, len(s.script)-1)
	s.calls++
	return s.script[i], nil
}

func (s *scriptedSource) Calls() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.calls
}

type brokenSource struct{}

func (brokenSource) CurrentCounts(context.Context) (map[string]int, error) {
	return nil, errors.New("camera offline")
}

type brokenSink struct{ calls int }

func (b *brokenSink) OnSignal(string, entity.Phase, int) error {
	b.calls++
	return errors.New("display offline")
}

func (b *brokenSink) OnProgress(string, int, float64) error {
	b.calls++
	return errors.New("display offline")
}

type brokenHistory struct{ calls int }

func (b *brokenHistory) Append(context.Context, entity.Record) error {
	b.calls++
	return errors.New("disk full")
}
