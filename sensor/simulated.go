// 车辆数来源
// 模拟的随机车辆数，以及摄像头从机通过TCP推送车辆数的监听端与发送端
package sensor

import (
	"context"
	"slices"

	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
)

// Simulated 模拟车辆数来源
// 功能：每次查询时为每条车道生成[0, maxCount]内的随机车辆数
// 说明：相同种子得到相同的车辆数序列
type Simulated struct {
	names    []string
	maxCount int
	engine   *randengine.Engine
}

// NewSimulated 创建模拟车辆数来源
// 参数：names-车道名列表，maxCount-车辆数上限（包含），seed-随机数种子
func NewSimulated(names []string, maxCount int, seed uint64) *Simulated {
	return &Simulated{
		names:    slices.Clone(names),
		maxCount: maxCount,
		engine:   randengine.New(seed),
	}
}

func (s *Simulated) CurrentCounts(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(s.names))
	for _, name := range s.names {
		counts[name] = s.engine.IntRangeSafe(0, s.maxCount)
	}
	log.Debugf("simulated counts: %v", counts)
	return counts, nil
}
