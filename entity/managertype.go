package entity

import "context"

// 依赖倒置，表达信号控制器对外部协作者的接口需求

// entity/lane/registry.go的依赖倒置
type ILaneRegistry interface {
	Names() []string        // 车道名列表（声明顺序）
	Len() int               // 车道数
	Snapshot() LaneSnapshot // 当前车辆数快照

	// 修改单条车道车辆数，车道不存在或车辆数为负时返回错误
	SetCount(name string, n int) error
	// 批量修改车辆数，任一项不合法时整体不生效
	SetCounts(counts map[string]int) error
}

// 车辆数来源（传感器、模拟器、人工输入）
type ICountSource interface {
	CurrentCounts(ctx context.Context) (map[string]int, error)
}

// 信号灯状态通知
type ISignalSink interface {
	// secondsRemaining为当前相位剩余秒数，红灯与黄闪通知为0
	OnSignal(lane string, phase Phase, secondsRemaining int) error
}

// 绿灯进度通知
type IProgressSink interface {
	OnProgress(lane string, secondsRemaining int, allocated float64) error
}

// 通知接收方，需要非阻塞或自带缓冲，否则会拖慢倒计时
type INotificationSink interface {
	ISignalSink
	IProgressSink
}

// 绿灯分配历史输出（只追加）
type IHistorySink interface {
	Append(ctx context.Context, r Record) error
}

// 绿灯分配历史读取
type IHistoryReader interface {
	Records() []Record
}
