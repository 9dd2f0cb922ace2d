package task

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/history"
	"github.com/tsinghua-fib-lab/agentsociety-signal/notify"
	"github.com/tsinghua-fib-lab/agentsociety-signal/sensor"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/input"
)

const (
	memoryHistorySize = 1000 // 内存中保留的历史记录条数
	shutdownTimeout   = 5 * time.Second
)

// waitForServerReady 等待服务器就绪
// 功能：通过HTTP请求检查服务器是否已经启动并可以响应
// 参数：addr-服务器地址，retryCount-重试次数，interval-重试间隔
// 返回：错误信息，如果服务器就绪则返回nil
// 算法说明：
// 1. 创建HTTP客户端，设置超时时间
// 2. 循环发送GET请求到指定地址
// 3. 如果请求成功，关闭响应体并返回nil
// 4. 如果请求失败，等待指定间隔后重试
// 5. 达到最大重试次数后返回错误
func waitForServerReady(addr string, retryCount int, interval time.Duration) error {
	client := &http.Client{
		Timeout: interval,
	}
	for range retryCount {
		resp, err := client.Get(addr)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("server `%v` did not become ready after %d retries", addr, retryCount)
}

// Context 信号控制任务上下文
// 功能：包含一次运行的全部组件，替代全局变量
// 说明：管理时钟、车道注册表、控制器、通知与历史输出、车辆数来源与RPC服务
type Context struct {
	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	config config.Config
	// 时钟
	clock clock.Clock

	// 车道注册表
	registry *lane.Registry
	// 信号周期控制器
	controller *trafficlight.Controller

	// 通知分发与异步缓冲
	broker   *notify.Broker
	buffered *notify.Buffered

	// 历史输出
	memory *history.Memory
	csv    *history.CSV
	mongo  *history.Mongo

	// 车辆数来源
	source   entity.ICountSource
	listener *sensor.Listener

	// RPC服务
	server  *http.Server
	rpcAddr string
	serveCh chan error

	// 启动时读入的数据
	initRes *input.Input
}

// NewContext 创建信号控制任务上下文
// 功能：按配置创建并连接全部组件
// 参数：
//   - ctx: 上下文，用于连接外部服务
//   - job: 任务名称
//   - c: 配置对象（已校验）
//   - extraSinks: 额外的通知接收方（如显示屏），与日志输出一起接收通知
//
// 返回：初始化完成的Context实例
// 算法说明：
// 1. 根据speedup选择真实时钟或加速时钟
// 2. 打开历史输出（CSV文件、MongoDB），读回上次运行的历史
// 3. 创建车道注册表，按配置选择车辆数来源（模拟、从机推送或注册表本身）
// 4. 创建控制器，以历史中最后一次绿灯车道恢复状态
// 5. 启动RPC服务（如果配置了监听地址）
func NewContext(ctx context.Context, job string, c config.Config, extraSinks ...entity.INotificationSink) (_ *Context, err error) {
	t := &Context{
		job:     job,
		config:  c,
		serveCh: make(chan error, 1),
	}
	defer func() {
		if err != nil {
			t.Close()
		}
	}()
	if c.Control.Speedup == 1 {
		t.clock = clock.Real{}
	} else {
		t.clock = clock.NewScaled(c.Control.Speedup)
	}

	// 历史输出
	if c.History.File != "" {
		if t.csv, err = history.OpenCSV(c.History.File); err != nil {
			return nil, err
		}
	}
	if c.History.Mongo != nil {
		if t.mongo, err = history.NewMongo(ctx, *c.History.Mongo); err != nil {
			return nil, err
		}
	}
	if t.initRes, err = input.Init(ctx, c, t.mongo); err != nil {
		log.Warnf("ignore history: %v", err)
		err = nil
	}
	t.memory = history.NewMemory(memoryHistorySize, t.initRes.Records...)
	historySinks := history.Multi{t.memory}
	if t.csv != nil {
		historySinks = append(historySinks, t.csv)
	}
	if t.mongo != nil {
		historySinks = append(historySinks, t.mongo)
	}

	// 车道与车辆数来源
	if t.registry, err = lane.NewRegistry(c.LaneNames(), c.InitialCounts()); err != nil {
		return nil, err
	}
	t.source = t.registry
	if c.Sensor.Listen != "" {
		if t.listener, err = sensor.Listen(c.Sensor.Listen, t.registry); err != nil {
			return nil, fmt.Errorf("listen for camera counts: %w", err)
		}
		t.source = t.listener
	}
	if c.Sensor.Simulate.Enable {
		t.source = sensor.NewSimulated(c.LaneNames(), c.Sensor.Simulate.MaxCount, c.Sensor.Simulate.Seed)
	}

	// 通知
	t.broker = notify.NewBroker(notify.NewLogging(nil))
	for _, s := range extraSinks {
		t.broker.Register(s)
	}
	t.buffered = notify.NewBuffered(t.broker, 0)

	// 控制器
	t.controller, err = trafficlight.NewController(
		t.registry, t.buffered, historySinks, t.source, t.clock,
		trafficlight.OptionsFromConfig(c.Control),
	)
	if err != nil {
		return nil, err
	}
	if last := t.initRes.LastGreen(c.LaneNames()); last != "" {
		if err = t.controller.Resume(last); err != nil {
			return nil, err
		}
	}

	// RPC服务
	if c.RPC.Listen != "" {
		if err = t.serve(c.RPC.Listen); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// serve 启动RPC服务并等待就绪
func (t *Context) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(trafficlight.NewSignalServiceHandler(
		trafficlight.NewService(t.registry, t.controller, t.memory, t.clock),
	))
	t.server = &http.Server{Handler: mux}
	t.rpcAddr = ln.Addr().String()
	go func() {
		err := t.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		t.serveCh <- err
	}()
	if err := waitForServerReady("http://"+t.rpcAddr, 10, 100*time.Millisecond); err != nil {
		return err
	}
	log.Infof("rpc serves %s on %s", trafficlight.ServiceName, t.rpcAddr)
	return nil
}

func (t *Context) Job() string {
	return t.job
}

func (t *Context) Clock() clock.Clock {
	return t.clock
}

func (t *Context) Registry() *lane.Registry {
	return t.registry
}

func (t *Context) Controller() *trafficlight.Controller {
	return t.controller
}

func (t *Context) History() *history.Memory {
	return t.memory
}

func (t *Context) GetInput() *input.Input {
	return t.initRes
}

// RPCAddr RPC服务实际监听地址，未启动时为空
func (t *Context) RPCAddr() string {
	return t.rpcAddr
}

// Close 关闭全部组件，可重复调用
// 说明：先停止控制器（等待黄闪任务退出），再依次关闭RPC服务、从机监听、通知缓冲与历史输出
func (t *Context) Close() {
	if t.closed.Swap(true) {
		return
	}
	if t.controller != nil {
		t.controller.Stop()
	}
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := t.server.Shutdown(ctx); err != nil {
			log.Warnf("rpc shutdown: %v", err)
		}
		cancel()
		if err := <-t.serveCh; err != nil {
			log.Warnf("rpc serve: %v", err)
		}
	}
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			log.Warnf("close camera listener: %v", err)
		}
	}
	if t.buffered != nil {
		t.buffered.Close()
		if d := t.buffered.Dropped(); d > 0 {
			log.Warnf("%d notifications dropped", d)
		}
	}
	if t.csv != nil {
		if err := t.csv.Close(); err != nil {
			log.Warnf("close history file: %v", err)
		}
	}
	if t.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := t.mongo.Close(ctx); err != nil {
			log.Warnf("close mongo: %v", err)
		}
		cancel()
	}
	log.Infof("job %s closed", t.job)
}
