package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"
)

const (
	DefaultTotalCycleTime   = 120
	DefaultWarningThreshold = 5
	DefaultBlinkInterval    = 0.5
	DefaultMaxCount         = 30
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// Default 默认配置
// 功能：返回只包含默认控制参数的配置，车道为空
func Default() Config {
	return Config{
		Control: Control{
			TotalCycleTime:   DefaultTotalCycleTime,
			WarningThreshold: DefaultWarningThreshold,
			BlinkInterval:    DefaultBlinkInterval,
			Mode:             ModeContinuous,
			Speedup:          1,
		},
		Sensor: Sensor{
			Simulate: Simulate{MaxCount: DefaultMaxCount},
		},
	}
}

// Load 解析YAML配置
// 功能：在默认配置的基础上严格解析YAML数据并校验
// 参数：data-YAML文件内容
// 返回：解析后的配置，解析或校验失败时返回错误
// 说明：使用UnmarshalStrict，未知字段视为错误
func Load(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate 校验配置
// 功能：检查车道与控制参数的合法性
// 返回：第一个不合法项对应的错误（包装ErrInvalidConfig）
func (c Config) Validate() error {
	if len(c.Lanes) == 0 {
		return fmt.Errorf("%w: no lanes", ErrInvalidConfig)
	}
	names := lo.Map(c.Lanes, func(l LaneConfig, _ int) string { return l.Name })
	if lo.Contains(names, "") {
		return fmt.Errorf("%w: empty lane name", ErrInvalidConfig)
	}
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return fmt.Errorf("%w: duplicated lanes %v", ErrInvalidConfig, dup)
	}
	for _, l := range c.Lanes {
		if l.Count < 0 {
			return fmt.Errorf("%w: lane %s has negative count %d", ErrInvalidConfig, l.Name, l.Count)
		}
	}
	ctl := c.Control
	if ctl.TotalCycleTime <= 0 {
		return fmt.Errorf("%w: total_cycle_time must be positive, got %d", ErrInvalidConfig, ctl.TotalCycleTime)
	}
	if ctl.WarningThreshold < 0 {
		return fmt.Errorf("%w: negative warning_threshold %d", ErrInvalidConfig, ctl.WarningThreshold)
	}
	if ctl.BlinkInterval < 0 {
		return fmt.Errorf("%w: negative blink_interval %v", ErrInvalidConfig, ctl.BlinkInterval)
	}
	if ctl.EarlyRequerySeconds < 0 {
		return fmt.Errorf("%w: negative early_requery_seconds %d", ErrInvalidConfig, ctl.EarlyRequerySeconds)
	}
	if ctl.Mode != ModeContinuous && ctl.Mode != ModeSingle {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, ctl.Mode)
	}
	if ctl.Cycles < 0 {
		return fmt.Errorf("%w: negative cycles %d", ErrInvalidConfig, ctl.Cycles)
	}
	if ctl.Speedup <= 0 {
		return fmt.Errorf("%w: speedup must be positive, got %v", ErrInvalidConfig, ctl.Speedup)
	}
	if c.Sensor.Simulate.Enable && c.Sensor.Simulate.MaxCount < 0 {
		return fmt.Errorf("%w: negative simulate.max_count %d", ErrInvalidConfig, c.Sensor.Simulate.MaxCount)
	}
	if m := c.History.Mongo; m != nil && (m.URI == "" || m.DB == "" || m.Col == "") {
		return fmt.Errorf("%w: history.mongo needs uri, db and col", ErrInvalidConfig)
	}
	return nil
}

// LaneNames 车道名列表（保持配置顺序）
func (c Config) LaneNames() []string {
	return lo.Map(c.Lanes, func(l LaneConfig, _ int) string { return l.Name })
}

// InitialCounts 初始车辆数
func (c Config) InitialCounts() map[string]int {
	return lo.SliceToMap(c.Lanes, func(l LaneConfig) (string, int) { return l.Name, l.Count })
}

// BlinkDuration 黄闪切换间隔
func (c Control) BlinkDuration() time.Duration {
	return time.Duration(c.BlinkInterval * float64(time.Second))
}
