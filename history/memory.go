package history

import (
	"context"
	"slices"
	"sync"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Memory 内存历史记录
// 功能：保存最近capacity条记录，供RPC查询与测试使用
type Memory struct {
	mtx      sync.RWMutex
	capacity int
	records  []entity.Record
}

// NewMemory 创建内存历史记录
// 参数：capacity-最多保存的记录数，不大于0表示不限；seed-初始记录（如从文件读回的历史）
func NewMemory(capacity int, seed ...entity.Record) *Memory {
	m := &Memory{capacity: capacity}
	for _, r := range seed {
		m.push(r)
	}
	return m
}

func (m *Memory) Append(ctx context.Context, r entity.Record) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.push(r)
	return nil
}

// Records 记录副本（按追加顺序）
func (m *Memory) Records() []entity.Record {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return slices.Clone(m.records)
}

// Last 最后一条记录
func (m *Memory) Last() (entity.Record, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if len(m.records) == 0 {
		return entity.Record{}, false
	}
	return m.records[len(m.records)-1], true
}

func (m *Memory) push(r entity.Record) {
	m.records = append(m.records, r)
	if m.capacity > 0 && len(m.records) > m.capacity {
		m.records = slices.Delete(m.records, 0, len(m.records)-m.capacity)
	}
}
