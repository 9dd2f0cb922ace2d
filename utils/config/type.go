package config

// 运行模式
const (
	ModeContinuous = "continuous" // 连续运行，周期结束后立即开始下一周期
	ModeSingle     = "single"     // 单周期运行，用于确定性测试与调试
)

// LaneConfig 车道配置
// 功能：定义一条车道（路口进口方向）及其初始车辆数
type LaneConfig struct {
	Name  string `yaml:"name"`            // 车道名，在路口内唯一
	Count int    `yaml:"count,omitempty"` // 初始车辆数
}

// Control 信号周期控制配置
// 功能：定义周期总时长、黄闪提示、重新查询车辆数等控制参数
// 说明：时间单位均为秒
type Control struct {
	TotalCycleTime      int     `yaml:"total_cycle_time"`                // 一个周期可分配的总绿灯时长
	WarningThreshold    int     `yaml:"warning_threshold"`               // 剩余秒数不大于该值时进入警示（黄闪）
	BlinkInterval       float64 `yaml:"blink_interval"`                  // 黄闪切换间隔，0表示关闭黄闪
	EarlyRequerySeconds int     `yaml:"early_requery_seconds,omitempty"` // 绿灯剩余该秒数时提前查询车辆数，0表示相位结束后查询
	Mode                string  `yaml:"mode"`                            // 运行模式：continuous|single
	Cycles              int     `yaml:"cycles,omitempty"`                // 连续模式下最多运行的周期数，0表示不限
	Speedup             float64 `yaml:"speedup,omitempty"`               // 时钟加速倍数，1为实时
}

// MongoPath MongoDB输出位置
type MongoPath struct {
	URI string `yaml:"uri"` // MongoDB连接字符串
	DB  string `yaml:"db"`  // 数据库名
	Col string `yaml:"col"` // 集合名
}

// History 历史记录输出配置
// 功能：定义绿灯分配历史的输出位置，可同时输出到文件和MongoDB
type History struct {
	File  string     `yaml:"file,omitempty"`  // CSV文件路径，为空则不写文件
	Mongo *MongoPath `yaml:"mongo,omitempty"` // MongoDB输出，为空则不写数据库
}

// Simulate 模拟车辆数配置
type Simulate struct {
	Enable   bool   `yaml:"enable"`
	MaxCount int    `yaml:"max_count"` // 每条车道车辆数上限（包含）
	Seed     uint64 `yaml:"seed"`
}

// Sensor 车辆数来源配置
// 功能：定义摄像头从机推送车辆数的监听地址与模拟车辆数生成
type Sensor struct {
	Listen   string   `yaml:"listen,omitempty"` // 从机推送车辆数的TCP监听地址，为空则不监听
	Simulate Simulate `yaml:"simulate,omitempty"`
}

// RPC 控制服务配置
type RPC struct {
	Listen string `yaml:"listen,omitempty"` // connect RPC监听地址，为空则不启动
}

// Config YAML配置文件的根结构
// 功能：定义整个信号控制器的配置结构
type Config struct {
	Lanes   []LaneConfig `yaml:"lanes"`
	Control Control      `yaml:"control"`
	History History      `yaml:"history,omitempty"`
	Sensor  Sensor       `yaml:"sensor,omitempty"`
	RPC     RPC          `yaml:"rpc,omitempty"`
}
