package entity

import (
	"time"

	"github.com/samber/lo"
)

// Lane 车道（路口进口方向）及其当前车辆数
type Lane struct {
	Name  string // 车道名，在路口内唯一
	Count int    // 当前车辆数，非负
}

// LaneSnapshot 车道车辆数快照
// 功能：按车道声明顺序保存的只读副本，分配算法只在快照上计算
// 说明：顺序即同车辆数时的优先顺序（先声明者优先）
type LaneSnapshot []Lane

// Names 车道名列表（保持声明顺序）
func (s LaneSnapshot) Names() []string {
	return lo.Map(s, func(l Lane, _ int) string { return l.Name })
}

// Count 获取车道车辆数
// 返回：车辆数与车道是否存在
func (s LaneSnapshot) Count(name string) (int, bool) {
	l, ok := lo.Find(s, func(l Lane) bool { return l.Name == name })
	return l.Count, ok
}

// Index 获取车道的声明序号，不存在返回-1
func (s LaneSnapshot) Index(name string) int {
	_, i, ok := lo.FindIndexOf(s, func(l Lane) bool { return l.Name == name })
	if !ok {
		return -1
	}
	return i
}

// Map 转换为车道名->车辆数映射
func (s LaneSnapshot) Map() map[string]int {
	return lo.SliceToMap(s, func(l Lane) (string, int) { return l.Name, l.Count })
}

// Phase 信号灯相位（通知中使用）
type Phase string

const (
	PhaseGreen    Phase = "green"     // 绿灯
	PhaseWarning  Phase = "warning"   // 绿灯最后几秒的警示
	PhaseRed      Phase = "red"       // 绿灯结束，转为红灯
	PhaseBlinkOn  Phase = "blink_on"  // 黄闪亮
	PhaseBlinkOff Phase = "blink_off" // 黄闪灭
)

// Record 绿灯分配历史记录
type Record struct {
	Lane      string    // 获得绿灯的车道
	Allocated float64   // 分配的绿灯时长（秒）
	Timestamp time.Time // 绿灯结束的时间
	CycleID   string    // 所属周期ID，可为空
}
