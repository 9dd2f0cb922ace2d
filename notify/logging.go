package notify

import (
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Logging 日志通知接收方
// 说明：相位切换（绿灯开始、转红）以Info输出，逐秒倒计时与黄闪以Debug输出
type Logging struct {
	log *logrus.Entry
}

// NewLogging 创建日志通知接收方
// 参数：entry-日志输出，为nil时使用本包的logger
func NewLogging(entry *logrus.Entry) *Logging {
	if entry == nil {
		entry = log
	}
	return &Logging{log: entry}
}

func (l *Logging) OnSignal(lane string, phase entity.Phase, secondsRemaining int) error {
	switch phase {
	case entity.PhaseRed:
		l.log.Infof("%s: red", lane)
	case entity.PhaseBlinkOn, entity.PhaseBlinkOff:
		l.log.Debugf("%s: %s", lane, phase)
	default:
		l.log.Debugf("%s: %s %ds", lane, phase, secondsRemaining)
	}
	return nil
}

func (l *Logging) OnProgress(lane string, secondsRemaining int, allocated float64) error {
	if float64(secondsRemaining)+1 > allocated {
		l.log.Infof("%s: green for %.2fs", lane, allocated)
	}
	return nil
}
