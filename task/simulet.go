package task

import (
	"context"
	"flag"
	"sync"
	"time"
)

const (
	SelfName = "signal" // 本程序的服务名
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 60, "心跳日志间隔秒数，0表示关闭")
)

// heartbeat 心跳日志
// 功能：按固定间隔（控制器时钟）输出控制器状态与当前车辆数，直到ctx取消
func (t *Context) heartbeat(ctx context.Context) {
	if *heartBeatInterval <= 0 {
		return
	}
	interval := time.Duration(*heartBeatInterval) * time.Second
	for t.clock.Sleep(ctx, interval) == nil {
		st := t.controller.Status()
		log.Infof(
			"HEARTBEAT: cycle %d %s lane=%s phase=%s %ds remaining=%.2fs counts=%v",
			st.Cycle, st.State, st.Lane, st.Phase, st.SecondsRemaining, st.Remaining, t.registry.Counts(),
		)
	}
}

// Run 运行
// 功能：运行控制器直到ctx取消或完成配置的周期数，然后关闭全部组件
// 返回：控制器或RPC服务的异常退出错误
func (t *Context) Run(ctx context.Context) error {
	log.Infof("job %s: %s starts with lanes %v", t.job, SelfName, t.registry.Names())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.heartbeat(ctx)
	}()

	err := t.controller.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil {
		log.Errorf("controller exits: %v", err)
	} else {
		log.Infof("controller complete")
	}
	t.Close()
	return err
}
