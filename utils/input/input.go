package input

import (
	"context"
	"flag"
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/history"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

var (
	historyLimit = flag.Int64("input.history_limit", 1000, "启动时从MongoDB读取的最近历史记录条数")
)

// Input 启动时读入的数据
// 功能：保存上次运行留下的绿灯分配历史
type Input struct {
	Records []entity.Record // 按时间顺序
}

// LastGreen 历史中最后一次获得绿灯且仍在当前车道集合中的车道
// 返回：车道名，没有则为空
func (in *Input) LastGreen(names []string) string {
	if len(in.Records) == 0 {
		return ""
	}
	last := in.Records[len(in.Records)-1].Lane
	if !lo.Contains(names, last) {
		return ""
	}
	return last
}

// Init 读取历史数据
// 功能：根据配置读回上次运行的绿灯分配历史
// 参数：ctx-上下文，c-配置，mongo-已连接的MongoDB历史输出（未配置时为nil）
// 返回：读入的数据
// 算法说明：
// 1. 配置了历史文件时从文件读取，文件不存在视为没有历史
// 2. 文件中没有记录且配置了MongoDB时，从MongoDB读取最近-input.history_limit条
// 说明：读取失败只影响展示与恢复，返回错误由调用方决定是否继续
func Init(ctx context.Context, c config.Config, mongo *history.Mongo) (*Input, error) {
	res := &Input{Records: make([]entity.Record, 0)}
	if c.History.File != "" {
		records, err := history.LoadCSV(c.History.File)
		if err != nil {
			return res, fmt.Errorf("load history from %s: %w", c.History.File, err)
		}
		res.Records = append(res.Records, records...)
		log.Infof("load %d history records from %s", len(records), c.History.File)
	}
	if len(res.Records) == 0 && mongo != nil {
		records, err := mongo.Load(ctx, *historyLimit)
		if err != nil {
			return res, fmt.Errorf("load history from mongo: %w", err)
		}
		res.Records = append(res.Records, records...)
		log.Infof("load %d history records from mongo", len(records))
	}
	return res, nil
}
