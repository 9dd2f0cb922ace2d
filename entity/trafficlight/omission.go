package trafficlight

import (
	"slices"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// OmissionSet 本轮排除集合
// 功能：记录本轮已获得绿灯的车道，以及上一轮最后获得绿灯的车道
// 说明：值类型，所有修改都返回新值，分配算法因此保持为纯函数
//   - served在一轮内单调增长，等于全部车道时重置为{winner}
//   - carry只在本轮尚未选出车道时生效，保证刚放行的车道不会连续两次获得绿灯
type OmissionSet struct {
	served []string // 本轮已获得绿灯的车道（按获得顺序）
	carry  string   // 上一轮最后获得绿灯的车道，没有则为空
}

// NewOmissionSet 以上一次绿灯车道作为种子创建排除集合
// 参数：last-上一次获得绿灯的车道，为空表示尚无
func NewOmissionSet(last string) OmissionSet {
	return OmissionSet{carry: last}
}

// Omitted 当前被排除的车道
// 返回：本轮已放行车道；本轮尚未放行任何车道时返回{carry}
func (o OmissionSet) Omitted() []string {
	if len(o.served) == 0 {
		if o.carry == "" {
			return nil
		}
		return []string{o.carry}
	}
	return slices.Clone(o.served)
}

// Served 本轮已获得绿灯的车道
func (o OmissionSet) Served() []string {
	return slices.Clone(o.served)
}

// Carry 上一轮最后获得绿灯的车道
func (o OmissionSet) Carry() string {
	return o.carry
}

// Contains 判断车道当前是否被排除
func (o OmissionSet) Contains(name string) bool {
	return lo.Contains(o.Omitted(), name)
}

// active 计算本次可选车道（保持声明顺序）
// 说明：只有carry一条车道可选时（单车道路口）不排除carry
func (o OmissionSet) active(snap entity.LaneSnapshot) entity.LaneSnapshot {
	active := lo.Filter(snap, func(l entity.Lane, _ int) bool {
		return !lo.Contains(o.served, l.Name)
	})
	if len(o.served) == 0 && o.carry != "" {
		withoutCarry := lo.Filter(active, func(l entity.Lane, _ int) bool {
			return l.Name != o.carry
		})
		if len(withoutCarry) > 0 {
			return withoutCarry
		}
	}
	return active
}

// add 记录winner获得绿灯
// 参数：winner-获得绿灯的车道，total-车道总数
// 返回：新的排除集合，以及本轮是否已放行全部车道
func (o OmissionSet) add(winner string, total int) (OmissionSet, bool) {
	served := append(slices.Clone(o.served), winner)
	if len(served) >= total {
		return OmissionSet{carry: winner}, true
	}
	return OmissionSet{served: served, carry: o.carry}, false
}
