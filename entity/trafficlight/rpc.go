package trafficlight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "signal.v1.SignalService"

	GetCountsProcedure    = "/" + ServiceName + "/GetCounts"
	SetCountsProcedure    = "/" + ServiceName + "/SetCounts"
	GetStatusProcedure    = "/" + ServiceName + "/GetStatus"
	SetCycleTimeProcedure = "/" + ServiceName + "/SetCycleTime"
	GetHistoryProcedure   = "/" + ServiceName + "/GetHistory"
	NowProcedure          = "/" + ServiceName + "/Now"
)

type (
	request  = connect.Request[structpb.Struct]
	response = connect.Response[structpb.Struct]
)

// Service 信号控制RPC服务
// 功能：以connect协议对外提供车辆数读写、状态查询、周期时长修改与历史查询
// 说明：请求与响应均为google.protobuf.Struct
type Service struct {
	registry   entity.ILaneRegistry
	controller *Controller
	history    entity.IHistoryReader
	clock      clock.Clock
}

// NewService 创建RPC服务
// 参数：history为nil时GetHistory返回空列表
func NewService(registry entity.ILaneRegistry, controller *Controller, history entity.IHistoryReader, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		registry:   registry,
		controller: controller,
		history:    history,
		clock:      clk,
	}
}

// NewSignalServiceHandler 构造RPC服务的HTTP处理器
// 返回：挂载路径与处理器
func NewSignalServiceHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetCountsProcedure, connect.NewUnaryHandler(GetCountsProcedure, s.GetCounts, opts...))
	mux.Handle(SetCountsProcedure, connect.NewUnaryHandler(SetCountsProcedure, s.SetCounts, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(SetCycleTimeProcedure, connect.NewUnaryHandler(SetCycleTimeProcedure, s.SetCycleTime, opts...))
	mux.Handle(GetHistoryProcedure, connect.NewUnaryHandler(GetHistoryProcedure, s.GetHistory, opts...))
	mux.Handle(NowProcedure, connect.NewUnaryHandler(NowProcedure, s.Now, opts...))
	return "/" + ServiceName + "/", mux
}

// GetCounts RPC接口：获取车辆数
// 功能：返回{counts: {车道名: 车辆数}, lanes: [车道名]}，lanes保持声明顺序
// 参数：in-可选字段lanes，只返回指定车道
// 说明：指定了不存在的车道时返回InvalidArgument
func (s *Service) GetCounts(ctx context.Context, in *request) (*response, error) {
	snap := s.registry.Snapshot()
	var names []string
	if v, ok := in.Msg.GetFields()["lanes"]; ok {
		var err error
		if names, err = stringList(v); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
	}
	byName := lo.KeyBy(snap, func(l entity.Lane) string { return l.Name })
	lanes, missing := utils.Find(byName, []entity.Lane(snap), names)
	if len(missing) > 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown lanes %v", missing))
	}
	return newResponse(map[string]any{
		"counts": lo.SliceToMap(lanes, func(l entity.Lane) (string, any) { return l.Name, l.Count }),
		"lanes":  lo.Map(lanes, func(l entity.Lane, _ int) any { return l.Name }),
	})
}

// SetCounts RPC接口：批量修改车辆数
// 参数：in-字段counts为{车道名: 非负整数}
// 说明：任一项不合法时整体不生效并返回InvalidArgument
func (s *Service) SetCounts(ctx context.Context, in *request) (*response, error) {
	v, ok := in.Msg.GetFields()["counts"]
	if !ok || v.GetStructValue() == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("counts is required"))
	}
	counts := make(map[string]int, len(v.GetStructValue().GetFields()))
	for name, c := range v.GetStructValue().GetFields() {
		n, err := intValue(c)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("lane %s: %w", name, err))
		}
		counts[name] = n
	}
	if err := s.registry.SetCounts(counts); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return newResponse(nil)
}

// GetStatus RPC接口：获取控制器状态
func (s *Service) GetStatus(ctx context.Context, in *request) (*response, error) {
	return newResponse(statusToMap(s.controller.Status()))
}

// SetCycleTime RPC接口：修改周期总时长，下一周期生效
// 参数：in-字段total_cycle_time为正整数
func (s *Service) SetCycleTime(ctx context.Context, in *request) (*response, error) {
	v, ok := in.Msg.GetFields()["total_cycle_time"]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("total_cycle_time is required"))
	}
	n, err := intValue(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := s.controller.SetTotalCycleTime(n); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return newResponse(nil)
}

// GetHistory RPC接口：获取绿灯分配历史
func (s *Service) GetHistory(ctx context.Context, in *request) (*response, error) {
	records := make([]any, 0)
	if s.history != nil {
		records = lo.Map(s.history.Records(), func(r entity.Record, _ int) any {
			return map[string]any{
				"lane":      r.Lane,
				"allocated": r.Allocated,
				"timestamp": r.Timestamp.Format(time.RFC3339Nano),
				"cycle_id":  r.CycleID,
			}
		})
	}
	return newResponse(map[string]any{"records": records})
}

// Now RPC接口：获取控制器时钟的当前时间
func (s *Service) Now(ctx context.Context, in *request) (*response, error) {
	return newResponse(map[string]any{"time": s.clock.Now().Format(time.RFC3339Nano)})
}

// Client 信号控制RPC客户端
type Client struct {
	getCounts    *connect.Client[structpb.Struct, structpb.Struct]
	setCounts    *connect.Client[structpb.Struct, structpb.Struct]
	getStatus    *connect.Client[structpb.Struct, structpb.Struct]
	setCycleTime *connect.Client[structpb.Struct, structpb.Struct]
	getHistory   *connect.Client[structpb.Struct, structpb.Struct]
	now          *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient 创建RPC客户端
// 参数：httpClient-HTTP客户端，baseURL-服务地址（如http://localhost:51102）
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	newClient := func(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	return &Client{
		getCounts:    newClient(GetCountsProcedure),
		setCounts:    newClient(SetCountsProcedure),
		getStatus:    newClient(GetStatusProcedure),
		setCycleTime: newClient(SetCycleTimeProcedure),
		getHistory:   newClient(GetHistoryProcedure),
		now:          newClient(NowProcedure),
	}
}

// GetCounts 获取车辆数
// 参数：lanes-只获取指定车道，为空则获取全部
func (c *Client) GetCounts(ctx context.Context, lanes ...string) (map[string]int, error) {
	req := map[string]any{}
	if len(lanes) > 0 {
		req["lanes"] = anyList(lanes)
	}
	res, err := call(ctx, c.getCounts, req)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for name, v := range res.GetFields()["counts"].GetStructValue().GetFields() {
		n, err := intValue(v)
		if err != nil {
			return nil, fmt.Errorf("lane %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

// SetCounts 批量修改车辆数
func (c *Client) SetCounts(ctx context.Context, counts map[string]int) error {
	_, err := call(ctx, c.setCounts, map[string]any{
		"counts": lo.MapValues(counts, func(n int, _ string) any { return n }),
	})
	return err
}

// GetStatus 获取控制器状态
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	res, err := call(ctx, c.getStatus, nil)
	if err != nil {
		return Status{}, err
	}
	return statusFromStruct(res), nil
}

// SetCycleTime 修改周期总时长
func (c *Client) SetCycleTime(ctx context.Context, n int) error {
	_, err := call(ctx, c.setCycleTime, map[string]any{"total_cycle_time": n})
	return err
}

// GetHistory 获取绿灯分配历史
func (c *Client) GetHistory(ctx context.Context) ([]entity.Record, error) {
	res, err := call(ctx, c.getHistory, nil)
	if err != nil {
		return nil, err
	}
	values := res.GetFields()["records"].GetListValue().GetValues()
	records := make([]entity.Record, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		t, err := time.Parse(time.RFC3339Nano, f["timestamp"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("bad record timestamp: %w", err)
		}
		records = append(records, entity.Record{
			Lane:      f["lane"].GetStringValue(),
			Allocated: f["allocated"].GetNumberValue(),
			Timestamp: t,
			CycleID:   f["cycle_id"].GetStringValue(),
		})
	}
	return records, nil
}

// Now 获取控制器时钟的当前时间
func (c *Client) Now(ctx context.Context) (time.Time, error) {
	res, err := call(ctx, c.now, nil)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, res.GetFields()["time"].GetStringValue())
}

func call(
	ctx context.Context, client *connect.Client[structpb.Struct, structpb.Struct], m map[string]any,
) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	res, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func newResponse(m map[string]any) (*response, error) {
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func statusToMap(s Status) map[string]any {
	return map[string]any{
		"state":              string(s.State),
		"cycle":              s.Cycle,
		"cycle_id":           s.CycleID,
		"lane":               s.Lane,
		"phase":              string(s.Phase),
		"seconds_remaining":  s.SecondsRemaining,
		"allocated":          s.Allocated,
		"remaining":          s.Remaining,
		"last_green":         s.LastGreen,
		"total_cycle_time":   s.TotalCycleTime,
		"pending_cycle_time": s.PendingCycleTime,
		"omitted":            anyList(s.Omitted),
	}
}

func statusFromStruct(m *structpb.Struct) Status {
	f := m.GetFields()
	omitted := lo.Map(f["omitted"].GetListValue().GetValues(), func(v *structpb.Value, _ int) string {
		return v.GetStringValue()
	})
	return Status{
		State:            State(f["state"].GetStringValue()),
		Cycle:            int(f["cycle"].GetNumberValue()),
		CycleID:          f["cycle_id"].GetStringValue(),
		Lane:             f["lane"].GetStringValue(),
		Phase:            entity.Phase(f["phase"].GetStringValue()),
		SecondsRemaining: int(f["seconds_remaining"].GetNumberValue()),
		Allocated:        f["allocated"].GetNumberValue(),
		Remaining:        f["remaining"].GetNumberValue(),
		LastGreen:        f["last_green"].GetStringValue(),
		TotalCycleTime:   int(f["total_cycle_time"].GetNumberValue()),
		PendingCycleTime: int(f["pending_cycle_time"].GetNumberValue()),
		Omitted:          omitted,
	}
}

func anyList(s []string) []any {
	return lo.Map(s, func(v string, _ int) any { return v })
}

func stringList(v *structpb.Value) ([]string, error) {
	l := v.GetListValue()
	if l == nil {
		return nil, errors.New("expect a list of lane names")
	}
	names := make([]string, 0, len(l.GetValues()))
	for _, item := range l.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.New("expect a list of lane names")
		}
		names = append(names, s.StringValue)
	}
	return names, nil
}

// intValue 将数值转为整数，非整数返回错误
func intValue(v *structpb.Value) (int, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.New("expect a number")
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, fmt.Errorf("expect an integer, got %v", n.NumberValue)
	}
	return int(n.NumberValue), nil
}
