// 按车辆数比例分配绿灯时长
// 每次在本轮尚未放行的车道中选出车辆数最多者，按其车辆数占比分得剩余周期时长
package trafficlight

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/container"
)

var (
	ErrNoActiveLanes   = errors.New("no active lanes in this round")
	ErrDegenerateRound = fmt.Errorf("%w: all active lanes report zero demand", ErrNoActiveLanes)
	ErrSinkUnavailable = errors.New("sink unavailable")
)

// Decision 一次绿灯分配结果
type Decision struct {
	Lane           string      // 获得绿灯的车道
	Count          int         // 该车道车辆数
	ActiveTotal    int         // 可选车道车辆总数
	TimePerVehicle float64     // 每辆车分得的秒数
	Allocated      float64     // 分配的绿灯时长（秒）
	Next           OmissionSet // 分配后的排除集合
	RoundComplete  bool        // 本轮是否已放行全部车道
}

// Allocate 选择下一条绿灯车道并计算时长
// 功能：纯函数，相同的快照、排除集合与剩余时间总是得到相同结果
// 参数：snap-车辆数快照，omission-当前排除集合，remaining-本轮剩余时长（秒）
// 返回：分配结果；没有可选车道返回ErrNoActiveLanes，可选车道车辆数均为0返回ErrDegenerateRound
// 算法说明：
// 1. 可选车道=快照中未被排除的车道
// 2. 计算可选车道车辆总数，为0时视为无可选车道
// 3. 将可选车道以负车辆数为优先级放入小顶堆，车辆数相同时先声明者优先
// 4. 每辆车时长=剩余时长/车辆总数，绿灯时长=每辆车时长*该车道车辆数
// 5. 将该车道加入排除集合，全部车道放行后排除集合重置为{该车道}
func Allocate(snap entity.LaneSnapshot, omission OmissionSet, remaining float64) (Decision, error) {
	if remaining <= 0 {
		return Decision{}, fmt.Errorf("%w: remaining time %v must be positive", lane.ErrInvalidArgument, remaining)
	}
	active := omission.active(snap)
	if len(active) == 0 {
		return Decision{}, ErrNoActiveLanes
	}
	total := lo.SumBy(active, func(l entity.Lane) int { return l.Count })
	if total == 0 {
		return Decision{}, ErrDegenerateRound
	}

	countHeap := container.NewPriorityQueue[entity.Lane]()
	for _, l := range active {
		countHeap.Push(l, -float64(l.Count)) // 小顶堆，车辆数越多越靠前
	}
	countHeap.Heapify()
	winner, _ := countHeap.HeapPop()

	timePerVehicle := remaining / float64(total)
	next, complete := omission.add(winner.Name, len(snap))
	return Decision{
		Lane:           winner.Name,
		Count:          winner.Count,
		ActiveTotal:    total,
		TimePerVehicle: timePerVehicle,
		Allocated:      timePerVehicle * float64(winner.Count),
		Next:           next,
		RoundComplete:  complete,
	}, nil
}
