package history

import (
	"context"
	"errors"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Multi 多输出
// 功能：将每条记录依次写入全部输出，单个输出失败不影响其余输出
type Multi []entity.IHistorySink

func (m Multi) Append(ctx context.Context, r entity.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
